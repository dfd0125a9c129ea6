package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

type methodRequest struct {
	Method models.PaymentMethod `json:"method" binding:"required"`
}

type cashRequest struct {
	Tendered int64 `json:"tendered" binding:"required,min=1"`
}

// PlaceOrder registers a table order and opens its payment session.
func (tc *TerminalController) PlaceOrder(c *gin.Context) {
	var req models.OrderDetails
	if !bind(c, &req) {
		return
	}
	snap, err := tc.Terminal.PlaceOrder(c.Request.Context(), req)
	respond(c, snap, err)
}

func (tc *TerminalController) Checkout(c *gin.Context) {
	snap, err := tc.Terminal.Checkout(c.Request.Context())
	respond(c, snap, err)
}

func (tc *TerminalController) SelectMethod(c *gin.Context) {
	var req methodRequest
	if !bind(c, &req) {
		return
	}
	snap, err := tc.Terminal.SelectMethod(c.Request.Context(), req.Method)
	respond(c, snap, err)
}

func (tc *TerminalController) SubmitCash(c *gin.Context) {
	var req cashRequest
	if !bind(c, &req) {
		return
	}
	receipt, err := tc.Terminal.SubmitCash(c.Request.Context(), req.Tendered)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt, "terminal": tc.Terminal.Snapshot()})
}

func (tc *TerminalController) Cancel(c *gin.Context) {
	snap, err := tc.Terminal.Cancel(c.Request.Context())
	respond(c, snap, err)
}

// Acknowledge dismisses an expired or cancelled QR session.
func (tc *TerminalController) Acknowledge(c *gin.Context) {
	snap, err := tc.Terminal.Acknowledge()
	respond(c, snap, err)
}

func (tc *TerminalController) QueryStatus(c *gin.Context) {
	snap, err := tc.Terminal.QueryStatus(c.Request.Context())
	respond(c, snap, err)
}
