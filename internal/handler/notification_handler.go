package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/concours-api/internal/dto"
	"github.com/noah-isme/concours-api/internal/models"
	appErrors "github.com/noah-isme/concours-api/pkg/errors"
	"github.com/noah-isme/concours-api/pkg/response"
)

type notificationService interface {
	List(ctx context.Context, kind models.RecipientKind, recipientID string, query dto.NotificationQuery) (*dto.NotificationListResponse, error)
	MarkRead(ctx context.Context, id string, kind models.RecipientKind, recipientID string) error
}

// NotificationHandler serves the inbox of the authenticated candidate or of the admin team.
type NotificationHandler struct {
	service    notificationService
	candidates candidateResolver
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(service notificationService, candidates candidateResolver) *NotificationHandler {
	return &NotificationHandler{service: service, candidates: candidates}
}

// List godoc
// @Summary List inbox notifications
// @Tags Notifications
// @Produce json
// @Param unread query bool false "Only unread entries"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	kind, recipientID, ok := h.inbox(c)
	if !ok {
		return
	}
	var query dto.NotificationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	result, err := h.service.List(c.Request.Context(), kind, recipientID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result.Items, &result.Pagination)
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags Notifications
// @Param id path string true "Notification ID"
// @Success 204
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	kind, recipientID, ok := h.inbox(c)
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), c.Param("id"), kind, recipientID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *NotificationHandler) inbox(c *gin.Context) (models.RecipientKind, string, bool) {
	claims, ok := requireClaims(c)
	if !ok {
		return "", "", false
	}
	if claims.Role.IsAdmin() {
		return models.RecipientAdmin, models.AdminInbox, true
	}
	_, candidateID, ok := resolveCandidate(c, h.candidates)
	if !ok {
		return "", "", false
	}
	return models.RecipientCandidate, candidateID, true
}
