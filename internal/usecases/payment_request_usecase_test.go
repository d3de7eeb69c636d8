package usecases_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pospay.backend/internal/domain/entities"
	domainerrors "pospay.backend/internal/domain/errors"
	"pospay.backend/internal/domain/repositories"
	"pospay.backend/internal/usecases"
	"pospay.backend/pkg/logger"
	"pospay.backend/pkg/payload"
	"pospay.backend/pkg/utils"
)

type lifecycleFixture struct {
	uc     *usecases.PaymentRequestUsecase
	repo   *fakeRequestRepo
	ledger *countingLedger
	clock  *manualClock
	codec  *payload.Codec
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		repo:   newFakeRequestRepo(),
		ledger: &countingLedger{},
		clock:  newManualClock(),
		codec:  newTestCodec(t),
	}
	f.uc = usecases.NewPaymentRequestUsecase(f.repo, fakeUnitOfWork{}, f.ledger, f.codec, 300*time.Second)
	f.uc.SetClock(f.clock.Now)
	return f
}

func (f *lifecycleFixture) create(t *testing.T, merchantID uuid.UUID) uuid.UUID {
	t.Helper()
	out, err := f.uc.CreatePaymentRequest(context.Background(), usecases.CreatePaymentRequestInput{
		MerchantID:   merchantID,
		MerchantName: "Boutique Lakay",
		Amount:       "500",
		Currency:     "HTG",
	})
	require.NoError(t, err)
	return uuid.MustParse(out.RequestID)
}

func TestPaymentRequestUsecase_Create_Validation(t *testing.T) {
	pr := new(MockPaymentRequestRepository)
	uc := usecases.NewPaymentRequestUsecase(pr, new(MockUnitOfWork), new(MockLedgerService), newTestCodec(t), 0)

	cases := []usecases.CreatePaymentRequestInput{
		{MerchantID: uuid.Nil, Amount: "1", Currency: "HTG"},
		{MerchantID: uuid.New(), Amount: "0", Currency: "HTG"},
		{MerchantID: uuid.New(), Amount: "-5", Currency: "HTG"},
		{MerchantID: uuid.New(), Amount: "abc", Currency: "HTG"},
		{MerchantID: uuid.New(), Amount: "1.234", Currency: "HTG"},
		{MerchantID: uuid.New(), Amount: "10", Currency: "EUR"},
		{MerchantID: uuid.New(), Amount: "10", Currency: "HTG", Note: strings.Repeat("é", entities.MaxNoteLength+1)},
	}
	for _, in := range cases {
		_, err := uc.CreatePaymentRequest(context.Background(), in)
		assert.ErrorIs(t, err, domainerrors.ErrInvalidInput, "%+v", in)
	}
	pr.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPaymentRequestUsecase_Create_Success(t *testing.T) {
	pr := new(MockPaymentRequestRepository)
	codec := newTestCodec(t)
	clock := newManualClock()
	uc := usecases.NewPaymentRequestUsecase(pr, new(MockUnitOfWork), new(MockLedgerService), codec, 0)
	uc.SetClock(clock.Now)

	merchantID := uuid.New()
	var stored *entities.PaymentRequest
	pr.On("Create", mock.Anything, mock.AnythingOfType("*entities.PaymentRequest")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*entities.PaymentRequest) }).
		Return(nil).Once()

	out, err := uc.CreatePaymentRequest(context.Background(), usecases.CreatePaymentRequestInput{
		MerchantID:   merchantID,
		MerchantName: "Boutique Lakay",
		Amount:       "500",
		Currency:     "htg",
		Note:         "  2 sacs diri ",
	})
	require.NoError(t, err)
	pr.AssertExpectations(t)

	require.NotNil(t, stored)
	assert.Equal(t, entities.Amount(50000), stored.Amount)
	assert.Equal(t, entities.CurrencyHTG, stored.Currency)
	assert.Equal(t, "2 sacs diri", stored.Note.String)
	assert.Equal(t, entities.PaymentRequestStatusPending, stored.Status)
	assert.Equal(t, clock.Now().Add(usecases.DefaultPaymentRequestTTL), stored.ExpiresAt)

	assert.Equal(t, stored.ID.String(), out.RequestID)
	assert.Equal(t, 300, out.ExpiresInSecs)
	assert.True(t, strings.HasPrefix(out.QRText, payload.QRPrefix))

	decoded, err := codec.Decode(out.QRText)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, decoded.RequestID)
	assert.Equal(t, merchantID, decoded.MerchantID)
	assert.Equal(t, "500.00", decoded.Amount)
	assert.Equal(t, stored.ExpiresAt.Unix(), decoded.ExpiresAt)
}

func TestPaymentRequestUsecase_Create_RepoError(t *testing.T) {
	pr := new(MockPaymentRequestRepository)
	uc := usecases.NewPaymentRequestUsecase(pr, new(MockUnitOfWork), new(MockLedgerService), newTestCodec(t), 0)
	pr.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	_, err := uc.CreatePaymentRequest(context.Background(), usecases.CreatePaymentRequestInput{
		MerchantID: uuid.New(), Amount: "1", Currency: "USD",
	})
	appErr, ok := domainerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, domainerrors.CodeInternalError, appErr.Code)
}

// Create, poll pending, settle, poll paid.
func TestPaymentRequestUsecase_CreatePollSettle(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	merchantID, payerID := uuid.New(), uuid.New()

	id := f.create(t, merchantID)

	got, err := f.uc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentRequestStatusPending, got.Status)

	f.clock.Advance(30 * time.Second)
	settled, err := f.uc.Settle(ctx, id, payerID)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentRequestStatusPaid, settled.Status)

	got, err = f.uc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentRequestStatusPaid, got.Status)
	require.NotNil(t, got.PaidByUserID)
	assert.Equal(t, payerID, *got.PaidByUserID)
	assert.Equal(t, f.clock.Now(), got.PaidAt.Time)

	require.Equal(t, 1, f.ledger.count())
	credit := f.ledger.credits[0]
	assert.Equal(t, id, credit.RequestID)
	assert.Equal(t, merchantID, credit.MerchantID)
	assert.Equal(t, payerID, credit.PayerUserID)
	assert.Equal(t, entities.Amount(50000), credit.Amount)
}

// A request read after its TTL is expired, and a late settle fails.
func TestPaymentRequestUsecase_ExpiryOnReadAndLateSettle(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	id := f.create(t, uuid.New())
	f.clock.Advance(301 * time.Second)

	got, err := f.uc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentRequestStatusExpired, got.Status)

	_, err = f.uc.Settle(ctx, id, uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrExpired)
	assert.Equal(t, 0, f.ledger.count())
}

func TestPaymentRequestUsecase_LateSettleWithoutPriorRead(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	id := f.create(t, uuid.New())
	f.clock.Advance(300 * time.Second) // exactly at expiresAt

	_, err := f.uc.Settle(ctx, id, uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrExpired)

	row, err := f.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentRequestStatusPending, row.Status, "not yet overdue at expiresAt")

	f.clock.Advance(time.Second)
	_, err = f.uc.Settle(ctx, id, uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrExpired)

	row, err = f.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentRequestStatusExpired, row.Status)
}

// Concurrent settles have exactly one winner.
func TestPaymentRequestUsecase_ConcurrentSettleSingleWinner(t *testing.T) {
	for _, callers := range []int{2, 16} {
		f := newLifecycleFixture(t)
		id := f.create(t, uuid.New())

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   int
			conflicts int
			start     = make(chan struct{})
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.uc.Settle(context.Background(), id, uuid.New())
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case errors.Is(err, domainerrors.ErrAlreadySettled):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, winners, "callers=%d", callers)
		assert.Equal(t, callers-1, conflicts, "callers=%d", callers)
		assert.Equal(t, 1, f.ledger.count(), "ledger credited once")
	}
}

func TestPaymentRequestUsecase_TerminalStatesNeverMove(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	merchantID := uuid.New()

	paidID := f.create(t, merchantID)
	_, err := f.uc.Settle(ctx, paidID, uuid.New())
	require.NoError(t, err)

	canceledID := f.create(t, merchantID)
	_, err = f.uc.Cancel(ctx, canceledID, merchantID)
	require.NoError(t, err)

	expiredID := f.create(t, merchantID)
	f.clock.Advance(10 * time.Minute)
	_, err = f.uc.GetStatus(ctx, expiredID)
	require.NoError(t, err)

	want := map[uuid.UUID]entities.PaymentRequestStatus{
		paidID:     entities.PaymentRequestStatusPaid,
		canceledID: entities.PaymentRequestStatusCanceled,
		expiredID:  entities.PaymentRequestStatusExpired,
	}
	for id, status := range want {
		_, settleErr := f.uc.Settle(ctx, id, uuid.New())
		assert.Error(t, settleErr)
		_, cancelErr := f.uc.Cancel(ctx, id, merchantID)
		assert.ErrorIs(t, cancelErr, domainerrors.ErrAlreadyTerminal)

		got, err := f.uc.GetStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status)
	}

	expired, conflicts, err := f.uc.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Zero(t, conflicts)
	assert.Equal(t, 1, f.ledger.count())
}

func TestPaymentRequestUsecase_SettleErrorsByTerminalState(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	merchantID := uuid.New()

	paid := f.create(t, merchantID)
	_, err := f.uc.Settle(ctx, paid, uuid.New())
	require.NoError(t, err)
	_, err = f.uc.Settle(ctx, paid, uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrAlreadySettled)

	canceled := f.create(t, merchantID)
	_, err = f.uc.Cancel(ctx, canceled, merchantID)
	require.NoError(t, err)
	_, err = f.uc.Settle(ctx, canceled, uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrAlreadyTerminal)

	_, err = f.uc.Settle(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestPaymentRequestUsecase_SettleValidation(t *testing.T) {
	f := newLifecycleFixture(t)
	merchantID := uuid.New()
	id := f.create(t, merchantID)

	_, err := f.uc.Settle(context.Background(), id, uuid.Nil)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)

	_, err = f.uc.Settle(context.Background(), id, merchantID)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
}

func TestPaymentRequestUsecase_SettleLosesCompareAndSet(t *testing.T) {
	pr := new(MockPaymentRequestRepository)
	uow := new(MockUnitOfWork)
	uc := usecases.NewPaymentRequestUsecase(pr, uow, new(MockLedgerService), newTestCodec(t), 0)
	clock := newManualClock()
	uc.SetClock(clock.Now)

	id := uuid.New()
	pending := &entities.PaymentRequest{ID: id, MerchantID: uuid.New(), Status: entities.PaymentRequestStatusPending, ExpiresAt: clock.Now().Add(time.Minute)}
	paid := *pending
	paid.Status = entities.PaymentRequestStatusPaid
	paid.Version = 1

	uow.On("Do", mock.Anything, mock.Anything).Return(nil)
	pr.On("GetByID", mock.Anything, id).Return(pending, nil).Once()
	pr.On("CompareAndSetStatus", mock.Anything, mock.Anything).Return(nil, repositories.ErrStaleTransition).Once()
	pr.On("GetByID", mock.Anything, id).Return(&paid, nil).Once()

	_, err := uc.Settle(context.Background(), id, uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrAlreadySettled)
	pr.AssertExpectations(t)
}

func TestPaymentRequestUsecase_SettleLedgerFailure(t *testing.T) {
	pr := new(MockPaymentRequestRepository)
	ledger := new(MockLedgerService)
	uc := usecases.NewPaymentRequestUsecase(pr, fakeUnitOfWork{}, ledger, newTestCodec(t), 0)
	clock := newManualClock()
	uc.SetClock(clock.Now)

	id := uuid.New()
	pending := &entities.PaymentRequest{ID: id, MerchantID: uuid.New(), Amount: 100, Currency: entities.CurrencyUSD, Status: entities.PaymentRequestStatusPending, ExpiresAt: clock.Now().Add(time.Minute)}
	paid := *pending
	paid.Status = entities.PaymentRequestStatusPaid

	pr.On("GetByID", mock.Anything, id).Return(pending, nil).Once()
	pr.On("CompareAndSetStatus", mock.Anything, mock.MatchedBy(func(tr entities.StatusTransition) bool {
		return tr.To == entities.PaymentRequestStatusPaid && tr.RequireUnexpired && tr.PaidBy != nil
	})).Return(&paid, nil).Once()
	ledger.On("Credit", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Once()

	_, err := uc.Settle(context.Background(), id, uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrLedgerUnavailable)
	appErr, ok := domainerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, domainerrors.CodeLedgerUnavailable, appErr.Code)
}

func TestPaymentRequestUsecase_Cancel(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	merchantID := uuid.New()
	id := f.create(t, merchantID)

	_, err := f.uc.Cancel(ctx, id, uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrNotOwner)

	_, err = f.uc.Cancel(ctx, uuid.New(), merchantID)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	canceled, err := f.uc.Cancel(ctx, id, merchantID)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentRequestStatusCanceled, canceled.Status)
	assert.True(t, canceled.CanceledAt.Valid)

	_, err = f.uc.Cancel(ctx, id, merchantID)
	assert.ErrorIs(t, err, domainerrors.ErrAlreadyTerminal)
}

func TestPaymentRequestUsecase_CancelOverdueIsTerminal(t *testing.T) {
	f := newLifecycleFixture(t)
	merchantID := uuid.New()
	id := f.create(t, merchantID)
	f.clock.Advance(time.Hour)

	_, err := f.uc.Cancel(context.Background(), id, merchantID)
	assert.ErrorIs(t, err, domainerrors.ErrAlreadyTerminal)

	row, _ := f.repo.GetByID(context.Background(), id)
	assert.Equal(t, entities.PaymentRequestStatusExpired, row.Status)
}

// First committed transition wins: a settle that lands between the cancel's read
// and its compare-and-set makes the cancel fail.
func TestPaymentRequestUsecase_CancelLosesToSettle(t *testing.T) {
	pr := new(MockPaymentRequestRepository)
	uc := usecases.NewPaymentRequestUsecase(pr, fakeUnitOfWork{}, new(MockLedgerService), newTestCodec(t), 0)
	clock := newManualClock()
	uc.SetClock(clock.Now)

	id, merchantID := uuid.New(), uuid.New()
	pending := &entities.PaymentRequest{ID: id, MerchantID: merchantID, Status: entities.PaymentRequestStatusPending, ExpiresAt: clock.Now().Add(time.Minute)}
	paid := *pending
	paid.Status = entities.PaymentRequestStatusPaid

	pr.On("GetByID", mock.Anything, id).Return(pending, nil).Once()
	pr.On("CompareAndSetStatus", mock.Anything, mock.MatchedBy(func(tr entities.StatusTransition) bool {
		return tr.To == entities.PaymentRequestStatusCanceled
	})).Return(nil, repositories.ErrStaleTransition).Once()
	pr.On("GetByID", mock.Anything, id).Return(&paid, nil).Once()

	_, err := uc.Cancel(context.Background(), id, merchantID)
	assert.ErrorIs(t, err, domainerrors.ErrAlreadyTerminal)
	assert.NotErrorIs(t, err, domainerrors.ErrAlreadySettled)
	assert.ErrorContains(t, err, "already paid")
	pr.AssertExpectations(t)
}

func TestPaymentRequestUsecase_LazyExpiryLosesToSettle(t *testing.T) {
	pr := new(MockPaymentRequestRepository)
	uc := usecases.NewPaymentRequestUsecase(pr, fakeUnitOfWork{}, new(MockLedgerService), newTestCodec(t), 0)
	clock := newManualClock()
	uc.SetClock(clock.Now)

	id := uuid.New()
	stale := &entities.PaymentRequest{ID: id, Status: entities.PaymentRequestStatusPending, ExpiresAt: clock.Now().Add(-time.Second)}
	paid := *stale
	paid.Status = entities.PaymentRequestStatusPaid
	paid.Version = 1

	pr.On("GetByID", mock.Anything, id).Return(stale, nil).Once()
	pr.On("CompareAndSetStatus", mock.Anything, mock.Anything).Return(nil, repositories.ErrStaleTransition).Once()
	pr.On("GetByID", mock.Anything, id).Return(&paid, nil).Once()

	got, err := uc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentRequestStatusPaid, got.Status)
}

func TestPaymentRequestUsecase_ForcedTerminalStateIsReported(t *testing.T) {
	f := newLifecycleFixture(t)
	id := f.create(t, uuid.New())

	f.repo.forceStatus(id, entities.PaymentRequestStatusCanceled)
	f.clock.Advance(time.Hour)

	got, err := f.uc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentRequestStatusCanceled, got.Status)
}

func TestPaymentRequestUsecase_GetStatusNotFound(t *testing.T) {
	f := newLifecycleFixture(t)
	_, err := f.uc.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestPaymentRequestUsecase_ExpireDue(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	merchantID := uuid.New()

	a := f.create(t, merchantID)
	b := f.create(t, merchantID)
	f.clock.Advance(10 * time.Minute)
	fresh := f.create(t, merchantID)

	expired, conflicts, err := f.uc.ExpireDue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)
	assert.Zero(t, conflicts)

	for _, id := range []uuid.UUID{a, b} {
		row, _ := f.repo.GetByID(ctx, id)
		assert.Equal(t, entities.PaymentRequestStatusExpired, row.Status)
	}
	row, _ := f.repo.GetByID(ctx, fresh)
	assert.Equal(t, entities.PaymentRequestStatusPending, row.Status)
}

func TestPaymentRequestUsecase_ExpireDueCountsConflicts(t *testing.T) {
	pr := new(MockPaymentRequestRepository)
	uc := usecases.NewPaymentRequestUsecase(pr, fakeUnitOfWork{}, new(MockLedgerService), newTestCodec(t), 0)

	due := []*entities.PaymentRequest{{ID: uuid.New()}, {ID: uuid.New()}}
	pr.On("GetExpiredPending", mock.Anything, mock.Anything, 5).Return(due, nil).Once()
	pr.On("CompareAndSetStatus", mock.Anything, mock.MatchedBy(func(tr entities.StatusTransition) bool { return tr.RequestID == due[0].ID })).
		Return(&entities.PaymentRequest{}, nil).Once()
	pr.On("CompareAndSetStatus", mock.Anything, mock.MatchedBy(func(tr entities.StatusTransition) bool { return tr.RequestID == due[1].ID })).
		Return(nil, repositories.ErrStaleTransition).Once()

	expired, conflicts, err := uc.ExpireDue(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, conflicts)
}

func TestPaymentRequestUsecase_ExpireDueRepoError(t *testing.T) {
	pr := new(MockPaymentRequestRepository)
	uc := usecases.NewPaymentRequestUsecase(pr, fakeUnitOfWork{}, new(MockLedgerService), newTestCodec(t), 0)
	pr.On("GetExpiredPending", mock.Anything, mock.Anything, usecases.DefaultExpirySweepBatch).Return(nil, errors.New("db down")).Once()

	_, _, err := uc.ExpireDue(context.Background(), 0)
	assert.Error(t, err)
}

func TestPaymentRequestUsecase_ListAppliesLazyExpiry(t *testing.T) {
	f := newLifecycleFixture(t)
	merchantID := uuid.New()
	f.create(t, merchantID)
	f.create(t, merchantID)
	f.create(t, uuid.New())
	f.clock.Advance(time.Hour)

	items, meta, err := f.uc.ListPaymentRequests(context.Background(), merchantID, utils.GetPaginationParams(1, 10))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(2), meta.TotalCount)
	for _, item := range items {
		assert.Equal(t, entities.PaymentRequestStatusExpired, item.Status)
	}
}

func TestPaymentRequestUsecase_ListLogsFailedLazyExpiry(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	t.Cleanup(logger.Replace(zap.New(core)))

	pr := new(MockPaymentRequestRepository)
	uc := usecases.NewPaymentRequestUsecase(pr, fakeUnitOfWork{}, new(MockLedgerService), newTestCodec(t), 0)
	merchantID := uuid.New()
	overdue := &entities.PaymentRequest{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Amount:     500,
		Currency:   entities.CurrencyHTG,
		Status:     entities.PaymentRequestStatusPending,
		ExpiresAt:  time.Now().Add(-time.Minute),
	}
	pr.On("GetByMerchantID", mock.Anything, merchantID, 10, 0).Return([]*entities.PaymentRequest{overdue}, 1, nil).Once()
	pr.On("CompareAndSetStatus", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()

	items, _, err := uc.ListPaymentRequests(context.Background(), merchantID, utils.GetPaginationParams(1, 10))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, entities.PaymentRequestStatusPending, items[0].Status)

	entries := logs.FilterMessage("Lazy expiry failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, overdue.ID.String(), entries[0].ContextMap()["request_id"])
	assert.Contains(t, entries[0].ContextMap()["error"], "db down")
	pr.AssertExpectations(t)
}

func TestPaymentRequestUsecase_Resolve(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	out, err := f.uc.CreatePaymentRequest(ctx, usecases.CreatePaymentRequestInput{
		MerchantID: uuid.New(), Amount: "12.50", Currency: "USD",
	})
	require.NoError(t, err)

	live, err := f.uc.Resolve(ctx, out.QRText)
	require.NoError(t, err)
	assert.Equal(t, out.RequestID, live.ID.String())
	assert.Equal(t, entities.Amount(1250), live.Amount)

	tampered := *out.SignedPayload
	tampered.Amount = "0.01"
	raw, err := payload.Marshal(&tampered, payload.TransportNFC)
	require.NoError(t, err)
	_, err = f.uc.Resolve(ctx, raw)
	appErr, ok := domainerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, domainerrors.CodeInvalidSignature, appErr.Code)

	_, err = f.uc.Resolve(ctx, "not a payload")
	appErr, ok = domainerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, domainerrors.CodeMalformedPayload, appErr.Code)
}

func TestPaymentRequestUsecase_SigningKey(t *testing.T) {
	f := newLifecycleFixture(t)
	jwk, err := f.uc.SigningKey()
	require.NoError(t, err)
	assert.Equal(t, "test-key", jwk.KeyID)
}
