package usecases

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"
	"pospay.backend/internal/domain/entities"
	"pospay.backend/internal/domain/errors"
	domainRepos "pospay.backend/internal/domain/repositories"
	"pospay.backend/pkg/logger"
	"pospay.backend/pkg/payload"
	"pospay.backend/pkg/utils"
)

// PaymentRequestUsecase is the authority over payment request state. Every status
// change goes through the repository's compare-and-set.
type PaymentRequestUsecase struct {
	paymentRequestRepo domainRepos.PaymentRequestRepository
	uow                domainRepos.UnitOfWork
	ledger             domainRepos.LedgerService
	codec              *payload.Codec
	ttl                time.Duration
	now                func() time.Time
}

func NewPaymentRequestUsecase(
	paymentRequestRepo domainRepos.PaymentRequestRepository,
	uow domainRepos.UnitOfWork,
	ledger domainRepos.LedgerService,
	codec *payload.Codec,
	ttl time.Duration,
) *PaymentRequestUsecase {
	if ttl <= 0 {
		ttl = DefaultPaymentRequestTTL
	}
	return &PaymentRequestUsecase{
		paymentRequestRepo: paymentRequestRepo,
		uow:                uow,
		ledger:             ledger,
		codec:              codec,
		ttl:                ttl,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (uc *PaymentRequestUsecase) SetClock(now func() time.Time) {
	uc.now = now
}

type CreatePaymentRequestInput struct {
	MerchantID   uuid.UUID
	MerchantName string
	Amount       string
	Currency     string
	Note         string
}

type CreatePaymentRequestOutput struct {
	RequestID     string                 `json:"requestId"`
	Status        string                 `json:"status"`
	Amount        entities.Amount        `json:"amount"`
	Currency      entities.Currency      `json:"currency"`
	SignedPayload *payload.SignedPayload `json:"signedPayload"`
	QRText        string                 `json:"qrText"`
	ExpiresAt     time.Time              `json:"expiresAt"`
	ExpiresInSecs int                    `json:"expiresInSeconds"`
}

func (uc *PaymentRequestUsecase) CreatePaymentRequest(ctx context.Context, input CreatePaymentRequestInput) (*CreatePaymentRequestOutput, error) {
	if input.MerchantID == uuid.Nil {
		return nil, errors.Validation("merchant id is required")
	}
	amount, currency, note, appErr := validateCharge(input.Amount, input.Currency, input.Note)
	if appErr != nil {
		return nil, appErr
	}

	now := uc.now()
	request := &entities.PaymentRequest{
		ID:           utils.GenerateUUIDv7(),
		MerchantID:   input.MerchantID,
		MerchantName: input.MerchantName,
		Amount:       amount,
		Currency:     currency,
		Note:         note,
		Status:       entities.PaymentRequestStatusPending,
		ExpiresAt:    now.Add(uc.ttl),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	signed, err := uc.Sign(request)
	if err != nil {
		return nil, errors.InternalError(err)
	}
	qrText, err := payload.Marshal(signed, payload.TransportQR)
	if err != nil {
		return nil, errors.InternalError(err)
	}

	if err := uc.paymentRequestRepo.Create(ctx, request); err != nil {
		return nil, errors.InternalError(err)
	}

	requestsCreatedTotal.WithLabelValues(string(currency)).Inc()
	logger.Info(ctx, "Payment request created",
		zap.String("request_id", request.ID.String()),
		zap.String("merchant_id", request.MerchantID.String()),
		zap.String("amount", request.Amount.String()),
		zap.String("currency", string(request.Currency)),
	)

	return &CreatePaymentRequestOutput{
		RequestID:     request.ID.String(),
		Status:        string(request.Status),
		Amount:        request.Amount,
		Currency:      request.Currency,
		SignedPayload: signed,
		QRText:        qrText,
		ExpiresAt:     request.ExpiresAt,
		ExpiresInSecs: int(uc.ttl / time.Second),
	}, nil
}

// Sign builds the signed payload snapshot for a request.
func (uc *PaymentRequestUsecase) Sign(request *entities.PaymentRequest) (*payload.SignedPayload, error) {
	return uc.codec.Encode(payload.SignedPayload{
		RequestID:    request.ID,
		MerchantID:   request.MerchantID,
		MerchantName: request.MerchantName,
		Amount:       request.Amount.String(),
		Currency:     string(request.Currency),
		Note:         request.Note.String,
		ExpiresAt:    request.ExpiresAt.Unix(),
	})
}

// GetStatus returns the live request. A pending request past its expiry is
// expired before it is returned, so callers never see it as alive.
func (uc *PaymentRequestUsecase) GetStatus(ctx context.Context, requestID uuid.UUID) (*entities.PaymentRequest, error) {
	request, err := uc.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return uc.applyLazyExpiry(ctx, request, uc.now())
}

// Settle moves a pending, unexpired request to paid for payerID and credits the
// ledger in the same unit of work. Exactly one concurrent caller can win.
func (uc *PaymentRequestUsecase) Settle(ctx context.Context, requestID, payerID uuid.UUID) (*entities.PaymentRequest, error) {
	if payerID == uuid.Nil {
		return nil, errors.Validation("payer id is required")
	}

	now := uc.now()
	var settled *entities.PaymentRequest
	err := uc.uow.Do(ctx, func(txCtx context.Context) error {
		request, err := uc.load(txCtx, requestID)
		if err != nil {
			return err
		}
		if request.MerchantID == payerID {
			return errors.Validation("merchant cannot settle its own payment request")
		}
		if request.Status.IsTerminal() {
			return conflictFor(request.Status)
		}
		if !now.Before(request.ExpiresAt) {
			return errors.AlreadyExpired("payment request has expired")
		}

		settled, err = uc.paymentRequestRepo.CompareAndSetStatus(txCtx, entities.StatusTransition{
			RequestID:        request.ID,
			FromVersion:      request.Version,
			To:               entities.PaymentRequestStatusPaid,
			At:               now,
			PaidBy:           &payerID,
			RequireUnexpired: true,
		})
		if err != nil {
			return uc.resolveLostTransition(txCtx, request.ID, entities.PaymentRequestStatusPaid, now, err)
		}

		if err := uc.ledger.Credit(txCtx, domainRepos.CreditInstruction{
			RequestID:   settled.ID,
			MerchantID:  settled.MerchantID,
			PayerUserID: payerID,
			Amount:      settled.Amount,
			Currency:    settled.Currency,
			SettledAt:   now,
		}); err != nil {
			ledgerFailuresTotal.Inc()
			logger.Error(txCtx, "Ledger credit failed, rolling back settlement",
				zap.String("request_id", request.ID.String()), zap.Error(err))
			return errors.LedgerUnavailable(err)
		}
		return nil
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrExpired) {
			uc.expireIfOverdue(ctx, requestID, now)
		}
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(entities.PaymentRequestStatusPaid), "settle").Inc()
	logger.Info(ctx, "Payment request settled",
		zap.String("request_id", settled.ID.String()),
		zap.String("payer_id", payerID.String()),
	)
	return settled, nil
}

// Cancel moves a pending request to canceled on behalf of its owning merchant.
func (uc *PaymentRequestUsecase) Cancel(ctx context.Context, requestID, merchantID uuid.UUID) (*entities.PaymentRequest, error) {
	request, err := uc.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.MerchantID != merchantID {
		return nil, errors.NotOwner("payment request belongs to another merchant")
	}

	now := uc.now()
	request, err = uc.applyLazyExpiry(ctx, request, now)
	if err != nil {
		return nil, err
	}
	if request.Status.IsTerminal() {
		return nil, errors.AlreadyTerminal(fmt.Sprintf("payment request is already %s", request.Status))
	}

	canceled, err := uc.paymentRequestRepo.CompareAndSetStatus(ctx, entities.StatusTransition{
		RequestID:   request.ID,
		FromVersion: request.Version,
		To:          entities.PaymentRequestStatusCanceled,
		At:          now,
	})
	if err != nil {
		if !stderrors.Is(err, domainRepos.ErrStaleTransition) {
			return nil, errors.InternalError(err)
		}
		transitionConflictsTotal.WithLabelValues(string(entities.PaymentRequestStatusCanceled)).Inc()
		current, loadErr := uc.load(ctx, requestID)
		if loadErr != nil {
			return nil, loadErr
		}
		return nil, errors.AlreadyTerminal(fmt.Sprintf("payment request is already %s", current.Status))
	}

	transitionsTotal.WithLabelValues(string(entities.PaymentRequestStatusCanceled), "cancel").Inc()
	logger.Info(ctx, "Payment request canceled", zap.String("request_id", canceled.ID.String()))
	return canceled, nil
}

// ListPaymentRequests returns a merchant's requests, newest first.
func (uc *PaymentRequestUsecase) ListPaymentRequests(ctx context.Context, merchantID uuid.UUID, pagination utils.PaginationParams) ([]*entities.PaymentRequest, utils.PaginationMeta, error) {
	items, total, err := uc.paymentRequestRepo.GetByMerchantID(ctx, merchantID, pagination.Limit, pagination.CalculateOffset())
	if err != nil {
		return nil, utils.PaginationMeta{}, errors.InternalError(err)
	}

	now := uc.now()
	for i, item := range items {
		if !item.IsOverdue(now) {
			continue
		}
		live, err := uc.applyLazyExpiry(ctx, item, now)
		if err != nil {
			// the listing still answers; the sweep expires the row later
			logger.Warn(ctx, "Lazy expiry failed", zap.String("request_id", item.ID.String()), zap.Error(err))
			continue
		}
		items[i] = live
	}
	return items, utils.CalculateMeta(int64(total), pagination.Page, pagination.Limit), nil
}

// Resolve verifies a scanned payload and returns the live request it names. The
// payload's own amount and expiry are never trusted.
func (uc *PaymentRequestUsecase) Resolve(ctx context.Context, raw string) (*entities.PaymentRequest, error) {
	p, err := uc.codec.Decode(raw)
	if err != nil {
		return nil, payloadError(err)
	}

	request, err := uc.GetStatus(ctx, p.RequestID)
	if err != nil {
		return nil, err
	}
	if request.MerchantID != p.MerchantID {
		return nil, errors.InvalidSignature("payload does not match the payment request")
	}
	return request, nil
}

// ExpireDue expires up to limit overdue pending requests. Requests that another
// transition claimed first are counted as conflicts.
func (uc *PaymentRequestUsecase) ExpireDue(ctx context.Context, limit int) (expired, conflicts int, err error) {
	if limit <= 0 {
		limit = DefaultExpirySweepBatch
	}
	now := uc.now()

	due, err := uc.paymentRequestRepo.GetExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, 0, err
	}

	for _, request := range due {
		_, casErr := uc.paymentRequestRepo.CompareAndSetStatus(ctx, entities.StatusTransition{
			RequestID:   request.ID,
			FromVersion: request.Version,
			To:          entities.PaymentRequestStatusExpired,
			At:          now,
		})
		switch {
		case casErr == nil:
			expired++
			transitionsTotal.WithLabelValues(string(entities.PaymentRequestStatusExpired), "sweep").Inc()
		case stderrors.Is(casErr, domainRepos.ErrStaleTransition):
			conflicts++
			transitionConflictsTotal.WithLabelValues(string(entities.PaymentRequestStatusExpired)).Inc()
		default:
			return expired, conflicts, casErr
		}
	}
	return expired, conflicts, nil
}

// SigningKey returns the public verification key devices use offline.
func (uc *PaymentRequestUsecase) SigningKey() (jose.JSONWebKey, error) {
	return uc.codec.PublicJWK()
}

func (uc *PaymentRequestUsecase) load(ctx context.Context, requestID uuid.UUID) (*entities.PaymentRequest, error) {
	request, err := uc.paymentRequestRepo.GetByID(ctx, requestID)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			return nil, errors.NotFound("payment request not found")
		}
		return nil, errors.InternalError(err)
	}
	return request, nil
}

func (uc *PaymentRequestUsecase) applyLazyExpiry(ctx context.Context, request *entities.PaymentRequest, now time.Time) (*entities.PaymentRequest, error) {
	if !request.IsOverdue(now) {
		return request, nil
	}

	expired, err := uc.paymentRequestRepo.CompareAndSetStatus(ctx, entities.StatusTransition{
		RequestID:   request.ID,
		FromVersion: request.Version,
		To:          entities.PaymentRequestStatusExpired,
		At:          now,
	})
	if err == nil {
		transitionsTotal.WithLabelValues(string(entities.PaymentRequestStatusExpired), "read").Inc()
		return expired, nil
	}
	if !stderrors.Is(err, domainRepos.ErrStaleTransition) {
		return nil, errors.InternalError(err)
	}
	// Someone else moved it; report whatever committed.
	return uc.load(ctx, request.ID)
}

func (uc *PaymentRequestUsecase) expireIfOverdue(ctx context.Context, requestID uuid.UUID, now time.Time) {
	request, err := uc.load(ctx, requestID)
	if err != nil {
		return
	}
	if _, err := uc.applyLazyExpiry(ctx, request, now); err != nil {
		logger.Warn(ctx, "Lazy expiry failed", zap.String("request_id", requestID.String()), zap.Error(err))
	}
}

// resolveLostTransition maps a failed compare-and-set to the conflict the caller
// lost against.
func (uc *PaymentRequestUsecase) resolveLostTransition(ctx context.Context, requestID uuid.UUID, attempted entities.PaymentRequestStatus, now time.Time, casErr error) error {
	if !stderrors.Is(casErr, domainRepos.ErrStaleTransition) {
		return errors.InternalError(casErr)
	}
	transitionConflictsTotal.WithLabelValues(string(attempted)).Inc()

	current, err := uc.load(ctx, requestID)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return conflictFor(current.Status)
	}
	if !now.Before(current.ExpiresAt) {
		return errors.AlreadyExpired("payment request has expired")
	}
	return errors.AlreadySettled("payment request is being settled")
}

func conflictFor(status entities.PaymentRequestStatus) *errors.AppError {
	switch status {
	case entities.PaymentRequestStatusPaid:
		return errors.AlreadySettled("payment request is already paid")
	case entities.PaymentRequestStatusExpired:
		return errors.AlreadyExpired("payment request has expired")
	default:
		return errors.AlreadyTerminal(fmt.Sprintf("payment request is already %s", status))
	}
}

func payloadError(err error) *errors.AppError {
	if stderrors.Is(err, payload.ErrInvalidSignature) {
		return errors.InvalidSignature("payload signature is invalid")
	}
	return errors.MalformedPayload(err.Error())
}

func validateCharge(rawAmount, rawCurrency, rawNote string) (entities.Amount, entities.Currency, null.String, *errors.AppError) {
	amount, err := entities.ParseAmount(rawAmount)
	if err != nil {
		return 0, "", null.String{}, errors.Validation(err.Error())
	}
	if !amount.IsPositive() {
		return 0, "", null.String{}, errors.Validation("amount must be greater than zero")
	}

	currency, err := entities.ParseCurrency(rawCurrency)
	if err != nil {
		return 0, "", null.String{}, errors.Validation(err.Error())
	}

	note := strings.TrimSpace(rawNote)
	if utf8.RuneCountInString(note) > entities.MaxNoteLength {
		return 0, "", null.String{}, errors.Validation(fmt.Sprintf("note must be at most %d characters", entities.MaxNoteLength))
	}
	if note == "" {
		return amount, currency, null.String{}, nil
	}
	return amount, currency, null.StringFrom(note), nil
}
