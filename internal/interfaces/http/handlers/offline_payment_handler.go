package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"pospay.backend/internal/domain/entities"
	domainerrors "pospay.backend/internal/domain/errors"
	"pospay.backend/internal/interfaces/http/middleware"
	"pospay.backend/internal/interfaces/http/response"
	"pospay.backend/internal/usecases"
)

type OfflinePaymentService interface {
	Submit(ctx context.Context, in usecases.SubmitOfflinePaymentInput) (*entities.OfflineOutcome, error)
}

type OfflinePaymentHandler struct {
	usecase OfflinePaymentService
}

func NewOfflinePaymentHandler(usecase OfflinePaymentService) *OfflinePaymentHandler {
	return &OfflinePaymentHandler{usecase: usecase}
}

type SubmitOfflinePaymentRequest struct {
	JobID       string    `json:"jobId" binding:"required"`
	JobType     string    `json:"jobType"`
	PayerUserID string    `json:"payerUserId" binding:"required"`
	Amount      string    `json:"amount" binding:"required"`
	Currency    string    `json:"currency" binding:"required"`
	Note        string    `json:"note"`
	AcceptedAt  time.Time `json:"acceptedAt" binding:"required"`
}

// SubmitOfflinePayment reconciles a payment the merchant device accepted offline
// POST /api/v1/offline-payments
func (h *OfflinePaymentHandler) SubmitOfflinePayment(c *gin.Context) {
	merchantID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("unauthorized"))
		return
	}

	var req SubmitOfflinePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.Validation(err.Error()))
		return
	}

	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		response.Error(c, domainerrors.Validation("invalid job ID"))
		return
	}
	if key := c.GetHeader(middleware.IdempotencyHeader); key != "" && key != jobID.String() {
		response.Error(c, domainerrors.Validation("Idempotency-Key must match jobId"))
		return
	}
	payerID, err := uuid.Parse(req.PayerUserID)
	if err != nil {
		response.Error(c, domainerrors.Validation("invalid payer ID"))
		return
	}

	outcome, err := h.usecase.Submit(c.Request.Context(), usecases.SubmitOfflinePaymentInput{
		MerchantID:   merchantID,
		MerchantName: middleware.GetUserName(c),
		JobID:        jobID,
		JobType:      req.JobType,
		PayerUserID:  payerID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Note:         req.Note,
		AcceptedAt:   req.AcceptedAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusCreated
	if outcome.Duplicate {
		status = http.StatusOK
	}
	response.Success(c, status, outcome)
}
