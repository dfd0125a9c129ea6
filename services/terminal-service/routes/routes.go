package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/controllers"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/display"
)

func RegisterTerminalRoutes(r *gin.Engine, tc *controllers.TerminalController, hub *display.Hub) {
	api := r.Group("/api/v1")
	api.GET("/state", tc.GetState)

	cart := api.Group("/cart")
	cart.POST("/items", tc.AddItem)
	cart.DELETE("/items/:product_id", tc.RemoveItem)
	cart.PATCH("/items/:product_id/qty", tc.ChangeQty)
	cart.PUT("/lines/:line/units/:unit", tc.SetUnitToppings)
	cart.DELETE("", tc.ClearCart)

	api.GET("/member", tc.LookupMember)
	api.POST("/member", tc.RegisterMember)
	api.DELETE("/member", tc.ClearMember)
	api.PUT("/points", tc.SetPoints)
	api.POST("/points/add", tc.AddPoints)
	api.DELETE("/points", tc.ResetPoints)

	api.POST("/orders", tc.PlaceOrder)
	api.POST("/checkout", tc.Checkout)

	payment := api.Group("/payment")
	payment.POST("/method", tc.SelectMethod)
	payment.POST("/cash", tc.SubmitCash)
	payment.POST("/cancel", tc.Cancel)
	payment.POST("/ack", tc.Acknowledge)
	payment.POST("/status", tc.QueryStatus)

	api.GET("/display/ws", hub.Serve)
	api.GET("/display/state", tc.DisplayState)
}

// RegisterWebhookRoutes mounts the Stripe webhook. It is left out when card
// payments are not configured.
func RegisterWebhookRoutes(r *gin.Engine, wc *controllers.WebhookController) {
	r.POST("/api/v1/webhooks/stripe", wc.StripeWebhook)
}

func RegisterOpsRoutes(r *gin.Engine, metrics http.Handler) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics))
}
