package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"gorm.io/gorm"

	"github.com/suPer8Hu/commerce-chat/internal/chat"
	"github.com/suPer8Hu/commerce-chat/internal/common"
	"github.com/suPer8Hu/commerce-chat/internal/config"
	"github.com/suPer8Hu/commerce-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/commerce-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/commerce-chat/internal/metrics"
	"github.com/suPer8Hu/commerce-chat/internal/notify"
)

// NewRouter builds the HTTP API. limitStore may be nil (in-memory limits);
// without notifier the Zalo admin routes are not mounted.
func NewRouter(db *gorm.DB, cfg config.Config, svc *chat.Service, notifier *notify.Service, limitStore limiter.Store) (*gin.Engine, error) {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, svc, notifier)

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	rateLimit, err := middleware.RateLimit(middleware.RateLimitConfig{Rate: cfg.RateLimit, Store: limitStore})
	if err != nil {
		return nil, err
	}

	// chatbot (bearer token optional)
	bot := r.Group("/chatbot")
	bot.Use(middleware.OptionalAuth(cfg.JWTSecret))
	bot.POST("/messages", rateLimit, h.SendChatMessage)
	bot.POST("/messages/async", rateLimit, h.SendChatMessageAsync)
	bot.GET("/jobs/:id", h.GetChatJob)

	conv := bot.Group("/conversations/:id")
	conv.GET("/messages", h.ListChatMessages)
	conv.GET("/cart", h.GetCart)
	conv.PATCH("/cart/items", h.UpdateCartItem)
	conv.DELETE("/cart/items/:product_id", h.RemoveCartItem)
	conv.DELETE("/cart", h.ClearCart)

	r.POST("/webhooks/zalo", middleware.ZaloSignature(cfg.ZaloWebhookSecret), h.ZaloWebhook)

	if notifier != nil && cfg.AdminAPIKey != "" {
		admin := r.Group("/admin/zalo", middleware.AdminKey(cfg.AdminAPIKey))
		admin.POST("/consents", h.SaveZaloConsent)
		admin.POST("/zns/orders/:order_number", h.SendOrderZNS)
		admin.GET("/zns/logs", h.ListZNSLogs)
	}
	return r, nil
}
