package webhook

import (
	"context"
	"net/http"
	"time"

	"cvg-connector/pkg/logger"
	"cvg-connector/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const authorizationHeader = "Authorization"
const jsonMediaType = "application/json"

const ctxEventKey = "cvg_event"

// ValidateRequest is the ordered validation gate shared by every webhook
// endpoint: bearer auth, then content type, then body contract. The first
// failing step wins and nothing past the gate runs, so a rejected request
// never reaches the engine or the gateway.
func ValidateRequest(token string) gin.HandlerFunc {
	expected := "Bearer " + token
	return func(c *gin.Context) {
		if c.GetHeader(authorizationHeader) != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bot token is invalid"})
			return
		}

		if c.ContentType() != jsonMediaType {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "content-type is not supported, use application/json"})
			return
		}

		ev, err := ParseEvent(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.Set(ctxEventKey, ev)
		c.Next()
	}
}

// eventFrom pulls the validated event stashed by ValidateRequest.
func eventFrom(c *gin.Context) *Event {
	if v, ok := c.Get(ctxEventKey); ok {
		if ev, ok := v.(*Event); ok {
			return ev
		}
	}
	return nil
}

// InflightCap limits concurrent webhook handling per dialog when redis is
// configured, shielding the engine from event floods on a single call. Must
// run after ValidateRequest. The session endpoint is left uncapped so a new
// dialog can always start.
func InflightCap(rdb *redis.Client, limit int, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ev := eventFrom(c)
		if ev == nil || ev.DialogID == "" {
			c.Next()
			return
		}

		key := "cvg:inflight:" + ev.DialogID
		ok, err := utils.AcquireInflightSlot(c.Request.Context(), rdb, key, limit, ttl)
		if err != nil {
			// The cap is a guard rail, not a correctness requirement.
			logger.FromGin(c).Warn("in-flight cap check failed, letting request through", "err", err)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent events for dialog"})
			return
		}
		defer func() {
			releaseCtx := context.WithoutCancel(c.Request.Context())
			if err := utils.ReleaseInflightSlot(releaseCtx, rdb, key); err != nil {
				logger.FromGin(c).Warn("in-flight slot release failed", "err", err)
			}
		}()

		c.Next()
	}
}
