package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"

	"ticketing/utils"
)

type HealthHandler struct {
	redis redis.UniversalClient
}

func NewHealthHandler(redisClient redis.UniversalClient) *HealthHandler {
	return &HealthHandler{redis: redisClient}
}

func (h *HealthHandler) Check(e *core.RequestEvent) error {
	if err := utils.RedisHealthCheck(h.redis); err != nil {
		return e.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
