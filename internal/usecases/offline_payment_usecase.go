package usecases

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"pospay.backend/internal/domain/entities"
	"pospay.backend/internal/domain/errors"
	domainRepos "pospay.backend/internal/domain/repositories"
	"pospay.backend/pkg/logger"
	"pospay.backend/pkg/utils"
)

// errLostReservation aborts the unit of work when another submission of the same
// job reserved the dedup row first.
var errLostReservation = stderrors.New("offline submission reserved by a concurrent request")

// OfflinePaymentUsecase reconciles payments a merchant device accepted while it was
// offline. The (merchant, job) pair is the idempotency boundary.
type OfflinePaymentUsecase struct {
	paymentRequestRepo domainRepos.PaymentRequestRepository
	submissionRepo     domainRepos.OfflineSubmissionRepository
	uow                domainRepos.UnitOfWork
	ledger             domainRepos.LedgerService
	ttl                time.Duration
	maxAge             time.Duration
	now                func() time.Time
}

func NewOfflinePaymentUsecase(
	paymentRequestRepo domainRepos.PaymentRequestRepository,
	submissionRepo domainRepos.OfflineSubmissionRepository,
	uow domainRepos.UnitOfWork,
	ledger domainRepos.LedgerService,
	ttl time.Duration,
	maxAge time.Duration,
) *OfflinePaymentUsecase {
	if ttl <= 0 {
		ttl = DefaultPaymentRequestTTL
	}
	if maxAge <= 0 {
		maxAge = DefaultOfflineIntentMaxAge
	}
	return &OfflinePaymentUsecase{
		paymentRequestRepo: paymentRequestRepo,
		submissionRepo:     submissionRepo,
		uow:                uow,
		ledger:             ledger,
		ttl:                ttl,
		maxAge:             maxAge,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (uc *OfflinePaymentUsecase) SetClock(now func() time.Time) {
	uc.now = now
}

type SubmitOfflinePaymentInput struct {
	MerchantID   uuid.UUID
	MerchantName string
	JobID        uuid.UUID
	JobType      string
	PayerUserID  uuid.UUID
	Amount       string
	Currency     string
	Note         string
	AcceptedAt   time.Time
}

// Submit creates and settles the request for an offline job exactly once. Replays
// of a known job return the stored outcome with Duplicate set.
func (uc *OfflinePaymentUsecase) Submit(ctx context.Context, in SubmitOfflinePaymentInput) (*entities.OfflineOutcome, error) {
	if in.MerchantID == uuid.Nil {
		return nil, errors.Validation("merchant id is required")
	}
	if in.JobID == uuid.Nil {
		return nil, errors.Validation("job id is required")
	}

	if outcome, err := uc.existingOutcome(ctx, in.MerchantID, in.JobID); err != nil || outcome != nil {
		return outcome, err
	}

	if in.JobType != "" && in.JobType != entities.JobTypePOSPayment {
		offlineSubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, errors.Validation("unsupported job type")
	}
	if in.PayerUserID == uuid.Nil {
		offlineSubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, errors.Validation("payer id is required")
	}
	if in.PayerUserID == in.MerchantID {
		offlineSubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, errors.Validation("merchant cannot pay itself")
	}
	amount, currency, note, appErr := validateCharge(in.Amount, in.Currency, in.Note)
	if appErr != nil {
		offlineSubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, appErr
	}

	now := uc.now()
	if in.AcceptedAt.IsZero() {
		offlineSubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, errors.Validation("acceptedAt is required")
	}
	if in.AcceptedAt.After(now.Add(offlineClockSkew)) {
		offlineSubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, errors.Validation("acceptedAt is in the future")
	}
	if now.Sub(in.AcceptedAt) > uc.maxAge {
		offlineSubmissionsTotal.WithLabelValues("expired").Inc()
		return nil, errors.AlreadyExpired("offline payment intent is too old to settle")
	}

	request := &entities.PaymentRequest{
		ID:           utils.GenerateUUIDv7(),
		MerchantID:   in.MerchantID,
		MerchantName: in.MerchantName,
		Amount:       amount,
		Currency:     currency,
		Note:         note,
		Status:       entities.PaymentRequestStatusPending,
		ExpiresAt:    now.Add(uc.ttl),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	submission := &entities.OfflineSubmission{
		ID:          utils.GenerateUUIDv7(),
		MerchantID:  in.MerchantID,
		JobID:       in.JobID,
		RequestID:   request.ID,
		PayerUserID: in.PayerUserID,
		Amount:      amount,
		Currency:    currency,
		Status:      entities.PaymentRequestStatusPaid,
		PaidAt:      now,
		CreatedAt:   now,
	}

	err := uc.uow.Do(ctx, func(txCtx context.Context) error {
		if err := uc.submissionRepo.Reserve(txCtx, submission); err != nil {
			if stderrors.Is(err, domainRepos.ErrDuplicateSubmission) {
				return errLostReservation
			}
			return errors.InternalError(err)
		}
		if err := uc.paymentRequestRepo.Create(txCtx, request); err != nil {
			return errors.InternalError(err)
		}
		if _, err := uc.paymentRequestRepo.CompareAndSetStatus(txCtx, entities.StatusTransition{
			RequestID:        request.ID,
			FromVersion:      request.Version,
			To:               entities.PaymentRequestStatusPaid,
			At:               now,
			PaidBy:           &in.PayerUserID,
			RequireUnexpired: true,
		}); err != nil {
			return errors.InternalError(err)
		}
		if err := uc.ledger.Credit(txCtx, domainRepos.CreditInstruction{
			RequestID:   request.ID,
			MerchantID:  in.MerchantID,
			PayerUserID: in.PayerUserID,
			Amount:      amount,
			Currency:    currency,
			SettledAt:   now,
		}); err != nil {
			ledgerFailuresTotal.Inc()
			return errors.LedgerUnavailable(err)
		}
		return nil
	})
	if err != nil {
		if stderrors.Is(err, errLostReservation) {
			outcome, loadErr := uc.existingOutcome(ctx, in.MerchantID, in.JobID)
			if loadErr == nil && outcome == nil {
				// the winner rolled back; the device retries
				return nil, errors.IdempotencyInProgress()
			}
			return outcome, loadErr
		}
		logger.Error(ctx, "Offline submission failed",
			zap.String("job_id", in.JobID.String()), zap.Error(err))
		return nil, err
	}

	offlineSubmissionsTotal.WithLabelValues("settled").Inc()
	transitionsTotal.WithLabelValues(string(entities.PaymentRequestStatusPaid), "offline").Inc()
	logger.Info(ctx, "Offline payment settled",
		zap.String("job_id", in.JobID.String()),
		zap.String("request_id", request.ID.String()),
		zap.String("amount", amount.String()),
	)
	return submission.Outcome(false), nil
}

// existingOutcome returns nil, nil when the job is unknown.
func (uc *OfflinePaymentUsecase) existingOutcome(ctx context.Context, merchantID, jobID uuid.UUID) (*entities.OfflineOutcome, error) {
	existing, err := uc.submissionRepo.GetByJob(ctx, merchantID, jobID)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.InternalError(err)
	}

	offlineSubmissionsTotal.WithLabelValues("duplicate").Inc()
	logger.Info(ctx, "Offline submission replayed",
		zap.String("job_id", jobID.String()),
		zap.String("request_id", existing.RequestID.String()),
	)
	return existing.Outcome(true), nil
}
