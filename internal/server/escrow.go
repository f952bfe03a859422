package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type escrowDepositRequest struct {
	InvoiceID int64 `json:"invoice_id,string"`
	Amount    int64 `json:"amount"`
}

// @Summary      Deposit Escrow
// @Description  Escrows at least the invoice's face value from the payer
// @Tags         escrows
// @Router       /escrows [post]
func (s *Server) DepositEscrow(c *gin.Context) {
	var req escrowDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payer := actor(c)
	if payer == "" {
		AbortWithError(c, newValidationError("actor", "missing_actor", "X-Actor header is required"))
		return
	}

	resp, err := s.escrowSvc.Deposit(c.Request.Context(), payer, snowflakeID(req.InvoiceID), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Release Escrow
// @Description  Pays the majority holder and marks the invoice paid
// @Tags         escrows
// @Param        invoice_id path string true "Invoice ID"
// @Router       /escrows/{invoice_id}/release [post]
func (s *Server) ReleaseEscrow(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	if err := s.escrowSvc.Release(c.Request.Context(), actor(c), invoiceID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Auto Release Escrow
// @Description  Release without a caller check once past due or timed out
// @Tags         escrows
// @Param        invoice_id path string true "Invoice ID"
// @Router       /escrows/{invoice_id}/auto-release [post]
func (s *Server) AutoReleaseEscrow(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	if err := s.escrowSvc.AutoRelease(c.Request.Context(), invoiceID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Refund Escrow
// @Description  Returns the deposit to the payer, dispute path
// @Tags         escrows
// @Param        invoice_id path string true "Invoice ID"
// @Router       /escrows/{invoice_id}/refund [post]
func (s *Server) RefundEscrow(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	if err := s.escrowSvc.Refund(c.Request.Context(), actor(c), invoiceID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Emergency Refund
// @Description  Payer self-service refund after twice the escrow timeout
// @Tags         escrows
// @Param        invoice_id path string true "Invoice ID"
// @Router       /escrows/{invoice_id}/emergency-refund [post]
func (s *Server) EmergencyRefundEscrow(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	if err := s.escrowSvc.EmergencyRefund(c.Request.Context(), actor(c), invoiceID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Get Escrow
// @Tags         escrows
// @Param        invoice_id path string true "Invoice ID"
// @Router       /escrows/{invoice_id} [get]
func (s *Server) GetEscrow(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	resp, err := s.escrowSvc.Get(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
