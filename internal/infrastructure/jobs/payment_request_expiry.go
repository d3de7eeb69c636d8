package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
	"pospay.backend/pkg/logger"
)

const (
	DefaultExpiryInterval = 30 * time.Second
	DefaultExpiryBatch    = 100
)

// PaymentRequestExpirer expires overdue pending requests through the lifecycle
// manager's compare-and-set.
type PaymentRequestExpirer interface {
	ExpireDue(ctx context.Context, limit int) (expired, conflicts int, err error)
}

// PaymentRequestExpiryJob handles expiring payment requests
type PaymentRequestExpiryJob struct {
	expirer  PaymentRequestExpirer
	interval time.Duration
	batch    int
	stop     chan struct{}
}

func NewPaymentRequestExpiryJob(expirer PaymentRequestExpirer, interval time.Duration, batch int) *PaymentRequestExpiryJob {
	if interval <= 0 {
		interval = DefaultExpiryInterval
	}
	if batch <= 0 {
		batch = DefaultExpiryBatch
	}
	return &PaymentRequestExpiryJob{
		expirer:  expirer,
		interval: interval,
		batch:    batch,
		stop:     make(chan struct{}),
	}
}

func (j *PaymentRequestExpiryJob) Start(ctx context.Context) {
	logger.Info(ctx, "Starting payment request expiry job", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "Payment request expiry job stopped (context cancelled)")
			return
		case <-j.stop:
			logger.Info(ctx, "Payment request expiry job stopped")
			return
		case <-ticker.C:
			j.processExpiredRequests(ctx)
		}
	}
}

func (j *PaymentRequestExpiryJob) Stop() {
	close(j.stop)
}

// processExpiredRequests drains overdue requests batch by batch until a short
// batch signals nothing is left.
func (j *PaymentRequestExpiryJob) processExpiredRequests(ctx context.Context) {
	total := 0
	for {
		expired, conflicts, err := j.expirer.ExpireDue(ctx, j.batch)
		if err != nil {
			logger.Error(ctx, "Error expiring payment requests", zap.Error(err))
			return
		}
		total += expired
		if conflicts > 0 {
			logger.Debug(ctx, "Expiry lost to concurrent transitions", zap.Int("conflicts", conflicts))
		}
		if expired+conflicts < j.batch || ctx.Err() != nil {
			break
		}
	}

	if total > 0 {
		logger.Info(ctx, "Expired payment requests", zap.Int("count", total))
	}
}
