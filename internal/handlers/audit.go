package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/feedguard/internal/services"
	"github.com/charlesng35/feedguard/pkg/errors"
	"github.com/charlesng35/feedguard/pkg/response"
)

// AuditHandler lets a user review the security events recorded against their account.
type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/audit/me
func (h *AuditHandler) Mine(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	if h.svc == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 50)
	if page <= 0 {
		page = 1
	}
	if per <= 0 || per > 200 {
		per = 50
	}

	filters := services.AuditFilters{
		UserID: userID,
		Action: c.Query("action"),
		Result: c.Query("result"),
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filters.Since = &t
		}
	}

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{Page: page, PerPage: per, Total: int(total)})
}
