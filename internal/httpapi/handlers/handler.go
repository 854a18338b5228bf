package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/commerce-chat/internal/chat"
	"github.com/suPer8Hu/commerce-chat/internal/common"
	"github.com/suPer8Hu/commerce-chat/internal/config"
	"github.com/suPer8Hu/commerce-chat/internal/notify"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Notify  *notify.Service
}

func NewHandler(db *gorm.DB, cfg config.Config, svc *chat.Service, n *notify.Service) *Handler {
	return &Handler{DB: db, Cfg: cfg, ChatSvc: svc, Notify: n}
}

// Ping reports liveness and database reachability.
func (h *Handler) Ping(c *gin.Context) {
	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "database unavailable")
		return
	}
	common.OK(c, gin.H{"pong": true, "db": "ok"})
}
