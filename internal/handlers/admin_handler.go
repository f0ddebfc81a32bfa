package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticketing/models"
)

type OutboxViewer interface {
	CountPending(ctx context.Context) (int, error)
	Recent(ctx context.Context, limit int) ([]models.OutboxEvent, error)
}

type AdminHandler struct {
	outbox OutboxViewer
}

func NewAdminHandler(outbox OutboxViewer) *AdminHandler {
	return &AdminHandler{outbox: outbox}
}

// GetOutboxDashboard - Pending count and the latest entries of the event log
func (h *AdminHandler) GetOutboxDashboard(e *core.RequestEvent) error {
	if e.Auth == nil || !e.Auth.IsSuperuser() {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}
	ctx := e.Request.Context()

	limit := 50
	if raw := e.Request.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return apis.NewBadRequestError("Invalid limit", nil)
		}
		limit = min(n, 500)
	}

	pending, err := h.outbox.CountPending(ctx)
	if err != nil {
		return apiError(err)
	}

	recent, err := h.outbox.Recent(ctx, limit)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"pending": pending,
		"recent":  recent,
	})
}
