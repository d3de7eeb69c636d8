package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
	"pospay.backend/internal/domain/entities"
	domainerrors "pospay.backend/internal/domain/errors"
	"pospay.backend/internal/interfaces/http/middleware"
	"pospay.backend/internal/interfaces/http/response"
	"pospay.backend/internal/usecases"
	"pospay.backend/pkg/utils"
)

type PaymentRequestService interface {
	CreatePaymentRequest(ctx context.Context, input usecases.CreatePaymentRequestInput) (*usecases.CreatePaymentRequestOutput, error)
	GetStatus(ctx context.Context, requestID uuid.UUID) (*entities.PaymentRequest, error)
	Settle(ctx context.Context, requestID, payerID uuid.UUID) (*entities.PaymentRequest, error)
	Cancel(ctx context.Context, requestID, merchantID uuid.UUID) (*entities.PaymentRequest, error)
	ListPaymentRequests(ctx context.Context, merchantID uuid.UUID, pagination utils.PaginationParams) ([]*entities.PaymentRequest, utils.PaginationMeta, error)
	Resolve(ctx context.Context, raw string) (*entities.PaymentRequest, error)
	SigningKey() (jose.JSONWebKey, error)
}

type PaymentRequestHandler struct {
	usecase PaymentRequestService
}

func NewPaymentRequestHandler(usecase PaymentRequestService) *PaymentRequestHandler {
	return &PaymentRequestHandler{usecase: usecase}
}

type CreatePaymentRequestRequest struct {
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency" binding:"required"`
	Note     string `json:"note"`
}

type ResolvePaymentRequestRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// CreatePaymentRequest creates a new payment request
// POST /api/v1/payment-requests
func (h *PaymentRequestHandler) CreatePaymentRequest(c *gin.Context) {
	merchantID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("unauthorized"))
		return
	}

	var req CreatePaymentRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.Validation(err.Error()))
		return
	}

	result, err := h.usecase.CreatePaymentRequest(c.Request.Context(), usecases.CreatePaymentRequestInput{
		MerchantID:   merchantID,
		MerchantName: middleware.GetUserName(c),
		Amount:       req.Amount,
		Currency:     req.Currency,
		Note:         req.Note,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// GetPaymentRequest returns the live status of a request
// GET /api/v1/payment-requests/:id
func (h *PaymentRequestHandler) GetPaymentRequest(c *gin.Context) {
	id, ok := parseRequestID(c)
	if !ok {
		return
	}

	request, err := h.usecase.GetStatus(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, request)
}

// ListPaymentRequests lists payment requests for the authenticated merchant
// GET /api/v1/payment-requests
func (h *PaymentRequestHandler) ListPaymentRequests(c *gin.Context) {
	merchantID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("unauthorized"))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(utils.DefaultPageLimit)))
	pagination := utils.GetPaginationParams(page, limit)

	requests, meta, err := h.usecase.ListPaymentRequests(c.Request.Context(), merchantID, pagination)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"requests":   requests,
		"pagination": meta,
	})
}

// SettlePaymentRequest pays a request on behalf of the authenticated payer
// POST /api/v1/payment-requests/:id/settle
func (h *PaymentRequestHandler) SettlePaymentRequest(c *gin.Context) {
	payerID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("unauthorized"))
		return
	}
	id, ok := parseRequestID(c)
	if !ok {
		return
	}

	request, err := h.usecase.Settle(c.Request.Context(), id, payerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, request)
}

// CancelPaymentRequest cancels a pending request owned by the merchant
// POST /api/v1/payment-requests/:id/cancel
func (h *PaymentRequestHandler) CancelPaymentRequest(c *gin.Context) {
	merchantID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("unauthorized"))
		return
	}
	id, ok := parseRequestID(c)
	if !ok {
		return
	}

	request, err := h.usecase.Cancel(c.Request.Context(), id, merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, request)
}

// ResolvePaymentRequest verifies a scanned payload and returns the live request
// POST /api/v1/payment-requests/resolve
func (h *PaymentRequestHandler) ResolvePaymentRequest(c *gin.Context) {
	var req ResolvePaymentRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.Validation(err.Error()))
		return
	}

	request, err := h.usecase.Resolve(c.Request.Context(), req.Payload)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, request)
}

// GetSigningKey publishes the payload verification key
// GET /api/v1/pos/signing-key
func (h *PaymentRequestHandler) GetSigningKey(c *gin.Context) {
	jwk, err := h.usecase.SigningKey()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	response.Success(c, http.StatusOK, jwk)
}

func parseRequestID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.Validation("invalid request ID"))
		return uuid.Nil, false
	}
	return id, true
}
