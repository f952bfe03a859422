package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	registrydomain "github.com/fylaro/finternet/internal/registry/domain"
)

type tokenizeRequest struct {
	ExternalID  string    `json:"external_id"`
	Issuer      string    `json:"issuer"`
	Debtor      string    `json:"debtor"`
	Industry    string    `json:"industry"`
	FaceValue   int64     `json:"face_value"`
	TotalShares int64     `json:"total_shares"`
	InterestBps int64     `json:"interest_bps"`
	CreditScore int       `json:"credit_score"`
	DueDate     time.Time `json:"due_date"`
}

type verifyRequest struct {
	Authentic  bool            `json:"authentic"`
	Confidence decimal.Decimal `json:"confidence"`
	FraudScore decimal.Decimal `json:"fraud_score"`
}

type transferSharesRequest struct {
	To     string `json:"to"`
	Shares int64  `json:"shares"`
}

// @Summary      Tokenize Invoice
// @Description  Registers an invoice and mints its full share supply to the issuer
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        request body tokenizeRequest true "Tokenize Request"
// @Success      200  {object}  registrydomain.Invoice
// @Router       /invoices [post]
func (s *Server) Tokenize(c *gin.Context) {
	var req tokenizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.registrySvc.Tokenize(c.Request.Context(), registrydomain.TokenizeRequest{
		ExternalID:  strings.TrimSpace(req.ExternalID),
		Issuer:      strings.TrimSpace(req.Issuer),
		Debtor:      strings.TrimSpace(req.Debtor),
		Industry:    strings.TrimSpace(req.Industry),
		FaceValue:   req.FaceValue,
		TotalShares: req.TotalShares,
		InterestBps: req.InterestBps,
		CreditScore: req.CreditScore,
		DueDate:     req.DueDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Verify Invoice
// @Description  Records the document verification outcome for an invoice
// @Tags         invoices
// @Param        id path string true "Invoice ID"
// @Router       /invoices/{id}/verify [post]
func (s *Server) VerifyInvoice(c *gin.Context) {
	invoiceID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.registrySvc.Verify(c.Request.Context(), actor(c), invoiceID, registrydomain.VerificationResult{
		Authentic:  req.Authentic,
		Confidence: req.Confidence,
		FraudScore: req.FraudScore,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Transfer Shares
// @Description  Moves invoice shares from the caller to another holder
// @Tags         invoices
// @Param        id path string true "Invoice ID"
// @Router       /invoices/{id}/transfers [post]
func (s *Server) TransferShares(c *gin.Context) {
	invoiceID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req transferSharesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from := actor(c)
	if from == "" {
		AbortWithError(c, newValidationError("actor", "missing_actor", "X-Actor header is required"))
		return
	}

	err := s.registrySvc.Transfer(c.Request.Context(), invoiceID, from, strings.TrimSpace(req.To), req.Shares)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Get Invoice
// @Tags         invoices
// @Param        id path string true "Invoice ID"
// @Router       /invoices/{id} [get]
func (s *Server) GetInvoice(c *gin.Context) {
	invoiceID, ok := parseID(c, "id")
	if !ok {
		return
	}

	resp, err := s.registrySvc.GetInvoice(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Get Invoice By External ID
// @Tags         invoices
// @Param        external_id path string true "External ID"
// @Router       /invoices/external/{external_id} [get]
func (s *Server) GetInvoiceByExternalID(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))
	if externalID == "" {
		AbortWithError(c, newValidationError("external_id", "required", "external id is required"))
		return
	}

	resp, err := s.registrySvc.GetByExternalID(c.Request.Context(), externalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      List Holders
// @Tags         invoices
// @Param        id path string true "Invoice ID"
// @Router       /invoices/{id}/holders [get]
func (s *Server) ListHolders(c *gin.Context) {
	invoiceID, ok := parseID(c, "id")
	if !ok {
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}

	holders, info, err := s.registrySvc.Holders(c.Request.Context(), invoiceID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": holders, "page": info})
}

// @Summary      Share Balance
// @Tags         invoices
// @Param        id path string true "Invoice ID"
// @Param        holder query string true "Holder"
// @Router       /invoices/{id}/balance [get]
func (s *Server) ShareBalance(c *gin.Context) {
	invoiceID, ok := parseID(c, "id")
	if !ok {
		return
	}
	holder := strings.TrimSpace(c.Query("holder"))
	if holder == "" {
		AbortWithError(c, newValidationError("holder", "required", "holder is required"))
		return
	}

	shares, err := s.registrySvc.BalanceOf(c.Request.Context(), invoiceID, holder)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"holder": holder, "shares": shares}})
}
