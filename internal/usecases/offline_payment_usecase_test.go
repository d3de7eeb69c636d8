package usecases_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"pospay.backend/internal/domain/entities"
	domainerrors "pospay.backend/internal/domain/errors"
	"pospay.backend/internal/domain/repositories"
	"pospay.backend/internal/infrastructure/models"
	infraRepos "pospay.backend/internal/infrastructure/repositories"
	"pospay.backend/internal/usecases"
)

type offlineFixture struct {
	uc      *usecases.OfflinePaymentUsecase
	reqRepo *fakeRequestRepo
	subRepo *fakeSubmissionRepo
	ledger  *countingLedger
	clock   *manualClock
}

func newOfflineFixture() *offlineFixture {
	f := &offlineFixture{
		reqRepo: newFakeRequestRepo(),
		subRepo: newFakeSubmissionRepo(),
		ledger:  &countingLedger{},
		clock:   newManualClock(),
	}
	f.uc = usecases.NewOfflinePaymentUsecase(f.reqRepo, f.subRepo, fakeUnitOfWork{}, f.ledger, 0, 0)
	f.uc.SetClock(f.clock.Now)
	return f
}

func (f *offlineFixture) input(merchantID, jobID uuid.UUID) usecases.SubmitOfflinePaymentInput {
	return usecases.SubmitOfflinePaymentInput{
		MerchantID:   merchantID,
		MerchantName: "Boutique Lakay",
		JobID:        jobID,
		JobType:      entities.JobTypePOSPayment,
		PayerUserID:  uuid.New(),
		Amount:       "250",
		Currency:     "HTG",
		AcceptedAt:   f.clock.Now().Add(-10 * time.Minute),
	}
}

func TestOfflinePaymentUsecase_SubmitSettles(t *testing.T) {
	f := newOfflineFixture()
	ctx := context.Background()
	in := f.input(uuid.New(), uuid.New())

	out, err := f.uc.Submit(ctx, in)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, in.JobID, out.JobID)
	assert.Equal(t, entities.PaymentRequestStatusPaid, out.Status)
	assert.Equal(t, entities.Amount(25000), out.Amount)
	assert.Equal(t, in.PayerUserID, out.PaidByUserID)

	request, err := f.reqRepo.GetByID(ctx, out.RequestID)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentRequestStatusPaid, request.Status)
	assert.Equal(t, in.MerchantID, request.MerchantID)
	require.NotNil(t, request.PaidByUserID)
	assert.Equal(t, in.PayerUserID, *request.PaidByUserID)

	assert.Equal(t, 1, f.ledger.count())
}

// Replaying a job never credits twice.
func TestOfflinePaymentUsecase_ReplayReturnsOriginalOutcome(t *testing.T) {
	f := newOfflineFixture()
	ctx := context.Background()
	in := f.input(uuid.New(), uuid.New())

	first, err := f.uc.Submit(ctx, in)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	replay := in
	replay.Amount = "999" // a replay is matched by job id alone
	second, err := f.uc.Submit(ctx, replay)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.RequestID, second.RequestID)
	assert.Equal(t, first.Amount, second.Amount)
	assert.Equal(t, first.PaidAt, second.PaidAt)
	assert.Equal(t, 1, f.ledger.count())
}

func TestOfflinePaymentUsecase_SameJobIDAcrossMerchants(t *testing.T) {
	f := newOfflineFixture()
	jobID := uuid.New()

	a, err := f.uc.Submit(context.Background(), f.input(uuid.New(), jobID))
	require.NoError(t, err)
	b, err := f.uc.Submit(context.Background(), f.input(uuid.New(), jobID))
	require.NoError(t, err)

	assert.False(t, b.Duplicate)
	assert.NotEqual(t, a.RequestID, b.RequestID)
	assert.Equal(t, 2, f.ledger.count())
}

func TestOfflinePaymentUsecase_ConcurrentReplaysCreditOnce(t *testing.T) {
	f := newOfflineFixture()
	in := f.input(uuid.New(), uuid.New())

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []*entities.OfflineOutcome
		start    = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := f.uc.Submit(context.Background(), in)
			if err != nil {
				assert.ErrorIs(t, err, domainerrors.ErrIdempotencyInProgress)
				return
			}
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	require.NotEmpty(t, outcomes)
	fresh := 0
	for _, out := range outcomes {
		if !out.Duplicate {
			fresh++
		}
		assert.Equal(t, outcomes[0].RequestID, out.RequestID)
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, f.ledger.count())
}

func TestOfflinePaymentUsecase_Validation(t *testing.T) {
	f := newOfflineFixture()
	merchantID := uuid.New()

	cases := map[string]func(in *usecases.SubmitOfflinePaymentInput){
		"missing merchant": func(in *usecases.SubmitOfflinePaymentInput) { in.MerchantID = uuid.Nil },
		"missing job":      func(in *usecases.SubmitOfflinePaymentInput) { in.JobID = uuid.Nil },
		"job type":         func(in *usecases.SubmitOfflinePaymentInput) { in.JobType = "refund" },
		"missing payer":    func(in *usecases.SubmitOfflinePaymentInput) { in.PayerUserID = uuid.Nil },
		"self pay":         func(in *usecases.SubmitOfflinePaymentInput) { in.PayerUserID = in.MerchantID },
		"zero amount":      func(in *usecases.SubmitOfflinePaymentInput) { in.Amount = "0" },
		"currency":         func(in *usecases.SubmitOfflinePaymentInput) { in.Currency = "EUR" },
		"missing accepted": func(in *usecases.SubmitOfflinePaymentInput) { in.AcceptedAt = time.Time{} },
		"future accepted":  func(in *usecases.SubmitOfflinePaymentInput) { in.AcceptedAt = f.clock.Now().Add(time.Hour) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := f.input(merchantID, uuid.New())
			mutate(&in)
			_, err := f.uc.Submit(context.Background(), in)
			assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
		})
	}
	assert.Zero(t, f.ledger.count())
}

func TestOfflinePaymentUsecase_TooOldIsExpired(t *testing.T) {
	f := newOfflineFixture()
	in := f.input(uuid.New(), uuid.New())
	in.AcceptedAt = f.clock.Now().Add(-usecases.DefaultOfflineIntentMaxAge - time.Minute)

	_, err := f.uc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, domainerrors.ErrExpired)
	assert.Zero(t, f.ledger.count())
}

func TestOfflinePaymentUsecase_SmallClockSkewAccepted(t *testing.T) {
	f := newOfflineFixture()
	in := f.input(uuid.New(), uuid.New())
	in.AcceptedAt = f.clock.Now().Add(time.Minute)

	_, err := f.uc.Submit(context.Background(), in)
	require.NoError(t, err)
}

func TestOfflinePaymentUsecase_LedgerFailure(t *testing.T) {
	f := newOfflineFixture()
	f.ledger.err = errors.New("connection refused")

	_, err := f.uc.Submit(context.Background(), f.input(uuid.New(), uuid.New()))
	assert.ErrorIs(t, err, domainerrors.ErrLedgerUnavailable)
}

// racingSubmissionRepo lets a competing submission commit between the caller's
// dedup read and its reservation.
type racingSubmissionRepo struct {
	*fakeSubmissionRepo
	winner *entities.OfflineSubmission
}

func (r *racingSubmissionRepo) Reserve(ctx context.Context, s *entities.OfflineSubmission) error {
	if r.winner != nil {
		_ = r.fakeSubmissionRepo.Reserve(ctx, r.winner)
	}
	return r.fakeSubmissionRepo.Reserve(ctx, s)
}

func TestOfflinePaymentUsecase_LostReservationReturnsWinner(t *testing.T) {
	clock := newManualClock()
	merchantID, jobID := uuid.New(), uuid.New()
	winner := &entities.OfflineSubmission{
		ID:          uuid.New(),
		MerchantID:  merchantID,
		JobID:       jobID,
		RequestID:   uuid.New(),
		PayerUserID: uuid.New(),
		Amount:      25000,
		Currency:    entities.CurrencyHTG,
		Status:      entities.PaymentRequestStatusPaid,
		PaidAt:      clock.Now(),
	}
	subRepo := &racingSubmissionRepo{fakeSubmissionRepo: newFakeSubmissionRepo(), winner: winner}
	ledger := &countingLedger{}
	uc := usecases.NewOfflinePaymentUsecase(newFakeRequestRepo(), subRepo, fakeUnitOfWork{}, ledger, 0, 0)
	uc.SetClock(clock.Now)

	f := &offlineFixture{clock: clock}
	out, err := uc.Submit(context.Background(), f.input(merchantID, jobID))
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, winner.RequestID, out.RequestID)
	assert.Zero(t, ledger.count())
}

// vanishingSubmissionRepo reports a duplicate whose row is never visible, as when
// the competing transaction rolls back.
type vanishingSubmissionRepo struct {
	*fakeSubmissionRepo
}

func (vanishingSubmissionRepo) Reserve(context.Context, *entities.OfflineSubmission) error {
	return repositories.ErrDuplicateSubmission
}

func TestOfflinePaymentUsecase_LostReservationToRolledBackWinner(t *testing.T) {
	f := newOfflineFixture()
	uc := usecases.NewOfflinePaymentUsecase(f.reqRepo, vanishingSubmissionRepo{newFakeSubmissionRepo()}, fakeUnitOfWork{}, f.ledger, 0, 0)
	uc.SetClock(f.clock.Now)

	_, err := uc.Submit(context.Background(), f.input(uuid.New(), uuid.New()))
	assert.ErrorIs(t, err, domainerrors.ErrIdempotencyInProgress)
}

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:usecases_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func TestOfflinePaymentUsecase_LedgerFailureRollsBackReservation(t *testing.T) {
	db := newSQLiteDB(t)
	reqRepo := infraRepos.NewPaymentRequestRepository(db)
	subRepo := infraRepos.NewOfflineSubmissionRepository(db)
	ledger := &countingLedger{err: errors.New("ledger down")}
	clock := newManualClock()

	uc := usecases.NewOfflinePaymentUsecase(reqRepo, subRepo, infraRepos.NewUnitOfWork(db), ledger, 0, 0)
	uc.SetClock(clock.Now)

	f := &offlineFixture{clock: clock}
	in := f.input(uuid.New(), uuid.New())

	_, err := uc.Submit(context.Background(), in)
	require.ErrorIs(t, err, domainerrors.ErrLedgerUnavailable)

	var requests int64
	require.NoError(t, db.Model(&models.PaymentRequest{}).Count(&requests).Error)
	assert.Zero(t, requests)

	ledger.err = nil
	out, err := uc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)

	again, err := uc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, out.RequestID, again.RequestID)
	assert.Equal(t, 1, ledger.count())
}
