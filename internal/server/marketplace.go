package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type createListingRequest struct {
	InvoiceID    int64 `json:"invoice_id,string"`
	Price        int64 `json:"price"`
	DurationDays int   `json:"duration_days"`
}

type buyListingRequest struct {
	Payment int64 `json:"payment"`
}

type placeBidRequest struct {
	Amount int64 `json:"amount"`
}

// @Summary      Create Listing
// @Description  Lists the seller's entire holding of an invoice at a fixed price
// @Tags         marketplace
// @Router       /listings [post]
func (s *Server) CreateListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	seller := actor(c)
	if seller == "" {
		AbortWithError(c, newValidationError("actor", "missing_actor", "X-Actor header is required"))
		return
	}

	duration := time.Duration(req.DurationDays) * 24 * time.Hour
	resp, err := s.marketSvc.ListForSale(c.Request.Context(), seller, snowflakeID(req.InvoiceID), req.Price, duration)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Buy Listing
// @Tags         marketplace
// @Param        id path string true "Listing ID"
// @Router       /listings/{id}/buy [post]
func (s *Server) BuyListing(c *gin.Context) {
	listingID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req buyListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.marketSvc.BuyListing(c.Request.Context(), actor(c), listingID, req.Payment); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Cancel Listing
// @Tags         marketplace
// @Param        id path string true "Listing ID"
// @Router       /listings/{id}/cancel [post]
func (s *Server) CancelListing(c *gin.Context) {
	listingID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := s.marketSvc.CancelListing(c.Request.Context(), actor(c), listingID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Get Listing
// @Tags         marketplace
// @Param        id path string true "Listing ID"
// @Router       /listings/{id} [get]
func (s *Server) GetListing(c *gin.Context) {
	listingID, ok := parseID(c, "id")
	if !ok {
		return
	}

	resp, err := s.marketSvc.GetListing(c.Request.Context(), listingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Active Listing
// @Tags         marketplace
// @Param        id path string true "Invoice ID"
// @Router       /invoices/{id}/listing [get]
func (s *Server) ActiveListing(c *gin.Context) {
	invoiceID, ok := parseID(c, "id")
	if !ok {
		return
	}

	resp, err := s.marketSvc.ActiveListing(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Place Bid
// @Description  Places a bid on an invoice's shares, refunding the outbid highest
// @Tags         marketplace
// @Param        id path string true "Invoice ID"
// @Router       /invoices/{id}/bids [post]
func (s *Server) PlaceBid(c *gin.Context) {
	invoiceID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	bidder := actor(c)
	if bidder == "" {
		AbortWithError(c, newValidationError("actor", "missing_actor", "X-Actor header is required"))
		return
	}

	resp, err := s.marketSvc.PlaceBid(c.Request.Context(), bidder, invoiceID, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Accept Bid
// @Description  Sells the caller's holding to the current highest bidder
// @Tags         marketplace
// @Param        id path string true "Invoice ID"
// @Router       /invoices/{id}/bids/accept [post]
func (s *Server) AcceptBid(c *gin.Context) {
	invoiceID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := s.marketSvc.AcceptBid(c.Request.Context(), actor(c), invoiceID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Withdraw Bid
// @Tags         marketplace
// @Param        id path string true "Bid ID"
// @Router       /bids/{id}/withdraw [post]
func (s *Server) WithdrawBid(c *gin.Context) {
	bidID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := s.marketSvc.WithdrawBid(c.Request.Context(), actor(c), bidID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Highest Bid
// @Tags         marketplace
// @Param        id path string true "Invoice ID"
// @Router       /invoices/{id}/bids/highest [get]
func (s *Server) HighestBid(c *gin.Context) {
	invoiceID, ok := parseID(c, "id")
	if !ok {
		return
	}

	resp, err := s.marketSvc.HighestBid(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      List Bids
// @Tags         marketplace
// @Param        id path string true "Invoice ID"
// @Router       /invoices/{id}/bids [get]
func (s *Server) ListBids(c *gin.Context) {
	invoiceID, ok := parseID(c, "id")
	if !ok {
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}

	bids, info, err := s.marketSvc.ListBids(c.Request.Context(), invoiceID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": bids, "page": info})
}
