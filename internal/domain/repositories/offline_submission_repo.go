package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"pospay.backend/internal/domain/entities"
)

// ErrDuplicateSubmission is returned by Reserve when (merchant, job) is already taken.
var ErrDuplicateSubmission = errors.New("offline submission already recorded")

// OfflineSubmissionRepository is the server-side dedup table for offline jobs.
type OfflineSubmissionRepository interface {
	// Reserve inserts the dedup row; the unique (merchant_id, job_id) constraint
	// makes concurrent replays of one job collide here.
	Reserve(ctx context.Context, submission *entities.OfflineSubmission) error
	GetByJob(ctx context.Context, merchantID, jobID uuid.UUID) (*entities.OfflineSubmission, error)
}
