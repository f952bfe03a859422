package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	distributiondomain "github.com/fylaro/finternet/internal/distribution/domain"
	scheduledomain "github.com/fylaro/finternet/internal/schedule/domain"
)

type investorShareRequest struct {
	Account  string `json:"account"`
	ShareBps int64  `json:"share_bps"`
}

type createScheduleRequest struct {
	InvoiceID      int64                  `json:"invoice_id,string"`
	ExpectedAmount int64                  `json:"expected_amount"`
	DueDate        time.Time              `json:"due_date"`
	GraceDays      int                    `json:"grace_days"`
	Investors      []investorShareRequest `json:"investors"`
}

type recordPaymentRequest struct {
	Payer       string `json:"payer"`
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	ExternalRef string `json:"external_ref"`
}

type recordRecoveryRequest struct {
	Amount int64 `json:"amount"`
}

// @Summary      Create Payment Schedule
// @Description  Opens the expected-vs-received ledger for an invoice
// @Tags         schedules
// @Router       /schedules [post]
func (s *Server) CreateSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	investors := make([]distributiondomain.InvestorShare, 0, len(req.Investors))
	for _, inv := range req.Investors {
		investors = append(investors, distributiondomain.InvestorShare{
			Account:  strings.TrimSpace(inv.Account),
			ShareBps: inv.ShareBps,
		})
	}

	resp, err := s.scheduleSvc.CreateSchedule(c.Request.Context(), scheduledomain.CreateScheduleRequest{
		InvoiceID:      snowflakeID(req.InvoiceID),
		ExpectedAmount: req.ExpectedAmount,
		DueDate:        req.DueDate,
		GraceDays:      req.GraceDays,
		Investors:      investors,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Record Payment
// @Description  Applies a debtor payment; full coverage settles and distributes
// @Tags         schedules
// @Param        invoice_id path string true "Invoice ID"
// @Router       /schedules/{invoice_id}/payments [post]
func (s *Server) RecordPayment(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.scheduleSvc.RecordPayment(c.Request.Context(), scheduledomain.RecordPaymentRequest{
		InvoiceID:   invoiceID,
		Payer:       strings.TrimSpace(req.Payer),
		Amount:      req.Amount,
		Method:      strings.TrimSpace(req.Method),
		ExternalRef: strings.TrimSpace(req.ExternalRef),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Review Schedule
// @Description  Re-evaluates the schedule status against the clock
// @Tags         schedules
// @Param        invoice_id path string true "Invoice ID"
// @Router       /schedules/{invoice_id}/review [post]
func (s *Server) ReviewSchedule(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	status, err := s.scheduleSvc.UpdateStatus(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": status}})
}

// @Summary      Handle Default
// @Description  Moves an eligible overdue schedule into default
// @Tags         schedules
// @Param        invoice_id path string true "Invoice ID"
// @Router       /schedules/{invoice_id}/default [post]
func (s *Server) HandleDefault(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	if err := s.scheduleSvc.HandleDefault(c.Request.Context(), invoiceID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Record Recovery
// @Description  Distributes a partial recovery on a defaulted schedule
// @Tags         schedules
// @Param        invoice_id path string true "Invoice ID"
// @Router       /schedules/{invoice_id}/recoveries [post]
func (s *Server) RecordRecovery(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	var req recordRecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.scheduleSvc.RecordRecovery(c.Request.Context(), actor(c), invoiceID, req.Amount); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Get Schedule
// @Tags         schedules
// @Param        invoice_id path string true "Invoice ID"
// @Router       /schedules/{invoice_id} [get]
func (s *Server) GetSchedule(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	resp, err := s.scheduleSvc.GetByInvoice(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      List Investors
// @Tags         schedules
// @Param        invoice_id path string true "Invoice ID"
// @Router       /schedules/{invoice_id}/investors [get]
func (s *Server) ListInvestors(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	schedule, err := s.scheduleSvc.GetByInvoice(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	investors, err := s.scheduleSvc.Investors(c.Request.Context(), schedule.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": investors})
}

// @Summary      List Payments
// @Tags         schedules
// @Param        invoice_id path string true "Invoice ID"
// @Router       /schedules/{invoice_id}/payments [get]
func (s *Server) ListPayments(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}

	payments, info, err := s.scheduleSvc.ListPayments(c.Request.Context(), invoiceID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments, "page": info})
}

// @Summary      Retry Owed Distributions
// @Description  Re-attempts distribution rows recorded as owed
// @Tags         distributions
// @Param        invoice_id path string true "Invoice ID"
// @Router       /schedules/{invoice_id}/distributions/retry [post]
func (s *Server) RetryOwedDistributions(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	schedule, err := s.scheduleSvc.GetByInvoice(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	paid, err := s.distributionSvc.RetryOwed(c.Request.Context(), actor(c), schedule.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"paid": paid}})
}

// @Summary      List Distributions
// @Tags         distributions
// @Param        id path string true "Invoice ID"
// @Router       /invoices/{id}/distributions [get]
func (s *Server) ListDistributions(c *gin.Context) {
	invoiceID, ok := parseID(c, "id")
	if !ok {
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}

	rows, info, err := s.distributionSvc.ListByInvoice(c.Request.Context(), invoiceID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows, "page": info})
}
