package handlers

import (
	stdErrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/feedguard/internal/quota"
	"github.com/charlesng35/feedguard/internal/services"
	"github.com/charlesng35/feedguard/pkg/errors"
	"github.com/charlesng35/feedguard/pkg/response"
)

// ActionHandler exposes quota-limited user actions.
type ActionHandler struct {
	service *services.InteractionService
}

// NewActionHandler constructs an ActionHandler.
func NewActionHandler(service *services.InteractionService) *ActionHandler {
	return &ActionHandler{service: service}
}

type performActionRequest struct {
	TargetID string `json:"target_id" validate:"required,opaqueid"`
	Body     string `json:"body" validate:"max=2000"`
}

// Perform records an action after reserving a slot of the caller's daily quota.
func (h *ActionHandler) Perform(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	action, err := quota.ParseAction(c.Param("action"))
	if err != nil {
		response.Error(c, errors.NewBadRequest("unknown action"))
		return
	}

	var req performActionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.Perform(requestContext(c), services.PerformInput{
		UserID:   userID,
		Action:   action,
		TargetID: req.TargetID,
		Body:     req.Body,
		Meta:     requestMeta(c),
	})
	if err != nil {
		if stdErrors.Is(err, errors.ErrQuotaExceeded) && result != nil {
			response.ErrorWithData(c, err, result.Quota)
			return
		}
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// Quota reports the caller's remaining allowance for an action without consuming it.
func (h *ActionHandler) Quota(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	action, err := quota.ParseAction(c.Param("action"))
	if err != nil {
		response.Error(c, errors.NewBadRequest("unknown action"))
		return
	}

	decision, err := h.service.QuotaStatus(requestContext(c), userID, action, requestMeta(c))
	if err != nil {
		response.ErrorWithData(c, err, decision)
		return
	}
	response.Success(c, http.StatusOK, decision)
}
