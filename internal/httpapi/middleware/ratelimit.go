package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/suPer8Hu/commerce-chat/internal/common"
)

const storePrefix = "commerce_chat:limiter"

type RateLimitConfig struct {
	// Rate uses limiter's format, e.g. "60-M" or "5-S".
	Rate  string
	Store limiter.Store
}

func NewMemoryStore() limiter.Store {
	return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: storePrefix})
}

func NewRedisStore(client *redis.Client) (limiter.Store, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: storePrefix})
	if err != nil {
		return nil, errors.Wrap(err, "redis limiter store")
	}
	return store, nil
}

// RateLimit limits requests per client IP.
func RateLimit(cfg RateLimitConfig) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		return nil, errors.Wrapf(err, "parse rate %q", cfg.Rate)
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	return mgin.NewMiddleware(limiter.New(store, rate),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			common.Fail(c, http.StatusTooManyRequests, 42901, "too many requests")
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			// fail open
			log.WithError(err).Warn("rate limiter unavailable")
			c.Next()
		}),
	), nil
}
