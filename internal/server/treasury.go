package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type fundRequest struct {
	Owner  string `json:"owner"`
	Amount int64  `json:"amount"`
}

// @Summary      Fund Account
// @Description  Credits an internal account from the external payment rail
// @Tags         treasury
// @Router       /treasury/fund [post]
func (s *Server) FundAccount(c *gin.Context) {
	var req fundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.treasurySvc.Fund(c.Request.Context(), actor(c), strings.TrimSpace(req.Owner), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      Account Balance
// @Tags         treasury
// @Param        owner path string true "Account Owner"
// @Router       /accounts/{owner}/balance [get]
func (s *Server) AccountBalance(c *gin.Context) {
	owner := strings.TrimSpace(c.Param("owner"))
	if owner == "" {
		AbortWithError(c, newValidationError("owner", "required", "owner is required"))
		return
	}

	balance, err := s.treasurySvc.Balance(c.Request.Context(), owner)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"owner": owner, "balance": balance}})
}

// @Summary      List Transfers
// @Tags         treasury
// @Param        owner path string true "Account Owner"
// @Router       /accounts/{owner}/transfers [get]
func (s *Server) ListTransfers(c *gin.Context) {
	owner := strings.TrimSpace(c.Param("owner"))
	if owner == "" {
		AbortWithError(c, newValidationError("owner", "required", "owner is required"))
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}

	transfers, info, err := s.treasurySvc.ListTransfers(c.Request.Context(), owner, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transfers, "page": info})
}
