package withdrawal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/amplygigs/payments/internal/validation"
)

// Handler provides HTTP endpoints for withdrawals and bank accounts.
type Handler struct {
	service *Service
}

// NewHandler creates a new withdrawal handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the withdrawal routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/withdrawals", h.CreateWithdrawal)
	r.POST("/withdrawals/:id/initiate", h.InitiateWithdrawal)
	r.GET("/withdrawals/:id", h.GetWithdrawal)
	r.GET("/musicians/:id/withdrawals", h.ListWithdrawals)
	r.POST("/bank-accounts", h.CreateBankAccount)
	r.GET("/musicians/:id/bank-accounts", h.ListBankAccounts)
}

type createWithdrawalRequest struct {
	MusicianID    string `json:"musicianId"`
	Amount        string `json:"amount"`
	BankAccountID string `json:"bankAccountId"`
}

// CreateWithdrawal handles POST /v1/withdrawals
func (h *Handler) CreateWithdrawal(c *gin.Context) {
	var req createWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Request body could not be parsed")
		return
	}

	if errs := validation.Validate(
		validation.Required("musicianId", req.MusicianID),
		validation.Required("amount", req.Amount),
		validation.Required("bankAccountId", req.BankAccountID),
		validation.ValidID("musicianId", req.MusicianID),
		validation.ValidID("bankAccountId", req.BankAccountID),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	w, err := h.service.Create(c.Request.Context(), req.MusicianID, req.Amount, req.BankAccountID)
	if err != nil {
		switch {
		case errors.Is(err, ErrBankAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "bank_account_not_found",
				"message": "Bank account not found",
			})
		case errors.Is(err, ErrInvalidAmount):
			badRequest(c, "invalid_amount", "Amount must be a positive decimal")
		default:
			internalError(c, err)
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"withdrawal": w})
}

type initiateRequest struct {
	MusicianID string `json:"musicianId"`
}

// InitiateWithdrawal handles POST /v1/withdrawals/:id/initiate
func (h *Handler) InitiateWithdrawal(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Request body could not be parsed")
		return
	}
	if errs := validation.Validate(
		validation.Required("musicianId", req.MusicianID),
		validation.ValidID("musicianId", req.MusicianID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	w, err := h.service.Initiate(c.Request.Context(), c.Param("id"), req.MusicianID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Withdrawal not found",
			})
		case errors.Is(err, ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_state",
				"message": err.Error(),
			})
		case errors.Is(err, ErrInsufficientFunds):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":      "insufficient_funds",
				"message":    "Available balance does not cover this withdrawal",
				"withdrawal": w,
			})
		default:
			// Provider-side failure: the withdrawal is failed, funds untouched
			c.JSON(http.StatusBadGateway, gin.H{
				"error":      "payout_failed",
				"message":    "The payout provider rejected the transfer",
				"withdrawal": w,
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// GetWithdrawal handles GET /v1/withdrawals/:id
func (h *Handler) GetWithdrawal(c *gin.Context) {
	w, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Withdrawal not found",
			})
			return
		}
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// ListWithdrawals handles GET /v1/musicians/:id/withdrawals
func (h *Handler) ListWithdrawals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.service.ListByMusician(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": list, "count": len(list)})
}

type createBankAccountRequest struct {
	MusicianID    string `json:"musicianId"`
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
}

// CreateBankAccount handles POST /v1/bank-accounts
func (h *Handler) CreateBankAccount(c *gin.Context) {
	var req createBankAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Request body could not be parsed")
		return
	}

	if errs := validation.Validate(
		validation.Required("musicianId", req.MusicianID),
		validation.Required("accountName", req.AccountName),
		validation.Required("accountNumber", req.AccountNumber),
		validation.Required("bankCode", req.BankCode),
		validation.ValidID("musicianId", req.MusicianID),
		validation.ValidAccountNumber("accountNumber", req.AccountNumber),
		validation.ValidBankCode("bankCode", req.BankCode),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	a, err := h.service.RegisterBankAccount(c.Request.Context(),
		req.MusicianID, req.AccountName, req.AccountNumber, req.BankCode)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"bankAccount": a})
}

// ListBankAccounts handles GET /v1/musicians/:id/bank-accounts
func (h *Handler) ListBankAccounts(c *gin.Context) {
	list, err := h.service.ListBankAccounts(c.Request.Context(), c.Param("id"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bankAccounts": list, "count": len(list)})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": message})
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
