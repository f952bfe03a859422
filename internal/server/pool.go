package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	pooldomain "github.com/fylaro/finternet/internal/pool/domain"
)

type poolDepositRequest struct {
	Amount int64 `json:"amount"`
}

type poolWithdrawRequest struct {
	Shares int64 `json:"shares"`
}

type financeInvoiceRequest struct {
	InvoiceID int64 `json:"invoice_id,string"`
	Amount    int64 `json:"amount"`
}

type poolRepaymentRequest struct {
	Payer  string `json:"payer"`
	Amount int64  `json:"amount"`
}

type createStrategyRequest struct {
	Name                string `json:"name"`
	RiskLevel           int    `json:"risk_level"`
	MinCreditScore      int    `json:"min_credit_score"`
	MaxInterestBps      int64  `json:"max_interest_bps"`
	MaxDurationDays     int    `json:"max_duration_days"`
	TargetAllocationBps int64  `json:"target_allocation_bps"`
}

type setStrategyActiveRequest struct {
	Active bool `json:"active"`
}

// @Summary      Pool Deposit
// @Description  Converts assets into pool-shares at the current ratio
// @Tags         pool
// @Router       /pool/deposits [post]
func (s *Server) PoolDeposit(c *gin.Context) {
	var req poolDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account := actor(c)
	if account == "" {
		AbortWithError(c, newValidationError("actor", "missing_actor", "X-Actor header is required"))
		return
	}

	resp, err := s.poolSvc.Deposit(c.Request.Context(), account, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Pool Withdraw
// @Description  Burns pool-shares back into assets
// @Tags         pool
// @Router       /pool/withdrawals [post]
func (s *Server) PoolWithdraw(c *gin.Context) {
	var req poolWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account := actor(c)
	if account == "" {
		AbortWithError(c, newValidationError("actor", "missing_actor", "X-Actor header is required"))
		return
	}

	payout, err := s.poolSvc.Withdraw(c.Request.Context(), account, req.Shares)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"payout": payout}})
}

// @Summary      Claim Pool Rewards
// @Tags         pool
// @Router       /pool/rewards/claim [post]
func (s *Server) ClaimPoolRewards(c *gin.Context) {
	account := actor(c)
	if account == "" {
		AbortWithError(c, newValidationError("actor", "missing_actor", "X-Actor header is required"))
		return
	}

	payout, err := s.poolSvc.ClaimRewards(c.Request.Context(), account)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"payout": payout}})
}

// @Summary      Finance Invoice
// @Description  Routes an invoice to the best matching strategy and advances the principal
// @Tags         pool
// @Router       /pool/financings [post]
func (s *Server) FinanceInvoice(c *gin.Context) {
	var req financeInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.poolSvc.FinanceInvoice(c.Request.Context(), snowflakeID(req.InvoiceID), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Record Pool Repayment
// @Description  Folds a debtor payment on a pool-financed invoice into the pool's books
// @Tags         pool
// @Param        invoice_id path string true "Invoice ID"
// @Router       /pool/financings/{invoice_id}/repayments [post]
func (s *Server) RecordPoolRepayment(c *gin.Context) {
	invoiceID, ok := parseID(c, "invoice_id")
	if !ok {
		return
	}

	var req poolRepaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.poolSvc.RecordRepayment(c.Request.Context(), invoiceID, strings.TrimSpace(req.Payer), req.Amount); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Create Strategy
// @Tags         pool
// @Router       /pool/strategies [post]
func (s *Server) CreateStrategy(c *gin.Context) {
	var req createStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.poolSvc.CreateStrategy(c.Request.Context(), actor(c), pooldomain.CreateStrategyRequest{
		Name:                strings.TrimSpace(req.Name),
		RiskLevel:           req.RiskLevel,
		MinCreditScore:      req.MinCreditScore,
		MaxInterestBps:      req.MaxInterestBps,
		MaxDurationDays:     req.MaxDurationDays,
		TargetAllocationBps: req.TargetAllocationBps,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Set Strategy Active
// @Tags         pool
// @Param        id path string true "Strategy ID"
// @Router       /pool/strategies/{id}/active [post]
func (s *Server) SetStrategyActive(c *gin.Context) {
	strategyID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req setStrategyActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.poolSvc.SetStrategyActive(c.Request.Context(), actor(c), strategyID, req.Active); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Get Pool
// @Tags         pool
// @Router       /pool [get]
func (s *Server) GetPool(c *gin.Context) {
	resp, err := s.poolSvc.GetPool(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Get Pool Position
// @Tags         pool
// @Param        account path string true "Account"
// @Router       /pool/positions/{account} [get]
func (s *Server) GetPoolPosition(c *gin.Context) {
	account := strings.TrimSpace(c.Param("account"))
	if account == "" {
		AbortWithError(c, newValidationError("account", "required", "account is required"))
		return
	}

	resp, err := s.poolSvc.GetPosition(c.Request.Context(), account)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Pending Pool Rewards
// @Tags         pool
// @Param        account path string true "Account"
// @Router       /pool/positions/{account}/rewards [get]
func (s *Server) PendingPoolRewards(c *gin.Context) {
	account := strings.TrimSpace(c.Param("account"))
	if account == "" {
		AbortWithError(c, newValidationError("account", "required", "account is required"))
		return
	}

	pending, err := s.poolSvc.PendingRewards(c.Request.Context(), account)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"pending": pending}})
}

// @Summary      List Strategies
// @Tags         pool
// @Router       /pool/strategies [get]
func (s *Server) ListStrategies(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	strategies, info, err := s.poolSvc.ListStrategies(c.Request.Context(), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": strategies, "page": info})
}

// @Summary      List Pool Flows
// @Tags         pool
// @Param        account query string true "Account"
// @Router       /pool/flows [get]
func (s *Server) ListPoolFlows(c *gin.Context) {
	account := strings.TrimSpace(c.Query("account"))
	if account == "" {
		AbortWithError(c, newValidationError("account", "required", "account is required"))
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}

	flows, info, err := s.poolSvc.ListFlows(c.Request.Context(), account, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": flows, "page": info})
}
