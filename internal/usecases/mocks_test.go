package usecases_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pospay.backend/internal/domain/entities"
	domainerrors "pospay.backend/internal/domain/errors"
	"pospay.backend/internal/domain/repositories"
	"pospay.backend/pkg/payload"
)

// Mock UnitOfWork
type MockUnitOfWork struct {
	mock.Mock
}

func (m *MockUnitOfWork) Do(ctx context.Context, f func(context.Context) error) error {
	m.Called(ctx, f)
	return f(ctx)
}

// Mock PaymentRequestRepository
type MockPaymentRequestRepository struct {
	mock.Mock
}

func (m *MockPaymentRequestRepository) Create(ctx context.Context, request *entities.PaymentRequest) error {
	args := m.Called(ctx, request)
	return args.Error(0)
}

func (m *MockPaymentRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.PaymentRequest), args.Error(1)
}

func (m *MockPaymentRequestRepository) GetByMerchantID(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]*entities.PaymentRequest, int, error) {
	args := m.Called(ctx, merchantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*entities.PaymentRequest), args.Int(1), args.Error(2)
}

func (m *MockPaymentRequestRepository) CompareAndSetStatus(ctx context.Context, t entities.StatusTransition) (*entities.PaymentRequest, error) {
	args := m.Called(ctx, t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.PaymentRequest), args.Error(1)
}

func (m *MockPaymentRequestRepository) GetExpiredPending(ctx context.Context, now time.Time, limit int) ([]*entities.PaymentRequest, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.PaymentRequest), args.Error(1)
}

// Mock LedgerService
type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) Credit(ctx context.Context, in repositories.CreditInstruction) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

// fakeUnitOfWork runs fn directly.
type fakeUnitOfWork struct{}

func (fakeUnitOfWork) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// fakeRequestRepo is an in-memory store whose compare-and-set is serialized by a
// mutex, mirroring the conditional UPDATE of the SQL repository.
type fakeRequestRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]entities.PaymentRequest
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{rows: make(map[uuid.UUID]entities.PaymentRequest)}
}

func (r *fakeRequestRepo) Create(_ context.Context, request *entities.PaymentRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[request.ID] = *request
	return nil
}

func (r *fakeRequestRepo) GetByID(_ context.Context, id uuid.UUID) (*entities.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	return &row, nil
}

func (r *fakeRequestRepo) GetByMerchantID(_ context.Context, merchantID uuid.UUID, limit, offset int) ([]*entities.PaymentRequest, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.PaymentRequest
	for _, row := range r.rows {
		if row.MerchantID == merchantID {
			row := row
			out = append(out, &row)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return []*entities.PaymentRequest{}, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *fakeRequestRepo) CompareAndSetStatus(_ context.Context, t entities.StatusTransition) (*entities.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[t.RequestID]
	if !ok || row.Status != entities.PaymentRequestStatusPending || row.Version != t.FromVersion {
		return nil, repositories.ErrStaleTransition
	}
	if t.RequireUnexpired && !row.ExpiresAt.After(t.At) {
		return nil, repositories.ErrStaleTransition
	}
	row.Status = t.To
	row.Version++
	row.UpdatedAt = t.At
	switch t.To {
	case entities.PaymentRequestStatusPaid:
		payer := *t.PaidBy
		row.PaidByUserID = &payer
		row.PaidAt.SetValid(t.At)
	case entities.PaymentRequestStatusCanceled:
		row.CanceledAt.SetValid(t.At)
	}
	r.rows[t.RequestID] = row
	out := row
	return &out, nil
}

func (r *fakeRequestRepo) GetExpiredPending(_ context.Context, now time.Time, limit int) ([]*entities.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.PaymentRequest
	for _, row := range r.rows {
		if row.Status == entities.PaymentRequestStatusPending && row.ExpiresAt.Before(now) && len(out) < limit {
			row := row
			out = append(out, &row)
		}
	}
	return out, nil
}

// forceStatus overwrites a row without the compare-and-set, to stage races.
func (r *fakeRequestRepo) forceStatus(id uuid.UUID, status entities.PaymentRequestStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[id]
	row.Status = status
	row.Version++
	r.rows[id] = row
}

// fakeSubmissionRepo enforces the (merchant, job) uniqueness in memory.
type fakeSubmissionRepo struct {
	mu   sync.Mutex
	rows map[[2]uuid.UUID]entities.OfflineSubmission
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{rows: make(map[[2]uuid.UUID]entities.OfflineSubmission)}
}

func (r *fakeSubmissionRepo) Reserve(_ context.Context, s *entities.OfflineSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]uuid.UUID{s.MerchantID, s.JobID}
	if _, ok := r.rows[key]; ok {
		return repositories.ErrDuplicateSubmission
	}
	r.rows[key] = *s
	return nil
}

func (r *fakeSubmissionRepo) GetByJob(_ context.Context, merchantID, jobID uuid.UUID) (*entities.OfflineSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[[2]uuid.UUID{merchantID, jobID}]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	return &row, nil
}

// countingLedger records every credit.
type countingLedger struct {
	mu      sync.Mutex
	credits []repositories.CreditInstruction
	err     error
}

func (l *countingLedger) Credit(_ context.Context, in repositories.CreditInstruction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.credits = append(l.credits, in)
	return nil
}

func (l *countingLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.credits)
}

// manualClock is a settable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCodec(t *testing.T) *payload.Codec {
	t.Helper()
	codec, err := payload.NewCodec(ed25519.NewKeyFromSeed(bytes.Repeat([]byte{3}, ed25519.SeedSize)), "test-key")
	require.NoError(t, err)
	return codec
}
