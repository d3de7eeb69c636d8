package offlinequeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Job is one persisted offline submission. Seq defines FIFO order.
type Job struct {
	Seq           int64     `gorm:"primaryKey;autoIncrement"`
	JobID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	JobType       string    `gorm:"type:varchar(32);not null"`
	Payload       []byte    `gorm:"not null"`
	AttemptCount  int       `gorm:"not null;default:0"`
	LastError     *string
	NextAttemptAt time.Time `gorm:"not null"`
	CreatedAt     time.Time
}

func (Job) TableName() string {
	return "offline_jobs"
}

// Store keeps queued jobs in a local SQLite database.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (or creates) the queue database at path.
func OpenStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	return NewStore(db)
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, fmt.Errorf("failed to migrate queue database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append persists job at the tail. It returns only after the insert committed.
func (s *Store) Append(ctx context.Context, job *Job) error {
	return s.db.WithContext(ctx).Create(job).Error
}

// Head returns the oldest job, or nil when the queue is empty.
func (s *Store) Head(ctx context.Context) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).Order("seq ASC").First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) Remove(ctx context.Context, jobID uuid.UUID) error {
	return s.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&Job{}).Error
}

// RecordFailure stores a failed attempt and the time of the next one.
func (s *Store) RecordFailure(ctx context.Context, jobID uuid.UUID, attempts int, lastErr string, next time.Time) error {
	return s.db.WithContext(ctx).Model(&Job{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"attempt_count":   attempts,
			"last_error":      lastErr,
			"next_attempt_at": next,
		}).Error
}

// ResetSchedule makes every job eligible immediately.
func (s *Store) ResetSchedule(ctx context.Context, now time.Time) error {
	return s.db.WithContext(ctx).Model(&Job{}).
		Where("next_attempt_at > ?", now).
		Update("next_attempt_at", now).Error
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Job{}).Count(&n).Error
	return n, err
}

// List returns queued jobs in FIFO order.
func (s *Store) List(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := s.db.WithContext(ctx).Order("seq ASC").Find(&jobs).Error
	return jobs, err
}
