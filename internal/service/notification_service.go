package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/concours-api/internal/dto"
	"github.com/noah-isme/concours-api/internal/models"
	appErrors "github.com/noah-isme/concours-api/pkg/errors"
	"github.com/noah-isme/concours-api/pkg/jobs"
	"github.com/noah-isme/concours-api/pkg/mailer"
)

type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id string, kind models.RecipientKind, recipientID string) error
}

type candidateLookup interface {
	GetByID(ctx context.Context, id string) (*models.Candidate, error)
}

type notificationMetrics interface {
	RecordNotificationFailure(event, channel string)
}

// NotificationService stores inbox entries and queues the matching emails.
type NotificationService struct {
	repo        notificationStore
	candidates  candidateLookup
	emails      jobEnqueuer
	adminEmails []string
	metrics     notificationMetrics
	logger      *zap.Logger
}

// NewNotificationService constructs the service. emails may be nil when email delivery is disabled.
func NewNotificationService(repo notificationStore, candidates candidateLookup, emails jobEnqueuer, adminEmails []string, metrics notificationMetrics, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:        repo,
		candidates:  candidates,
		emails:      emails,
		adminEmails: adminEmails,
		metrics:     metrics,
		logger:      logger,
	}
}

// Notify records one inbox entry for the recipient and queues its emails. Email failures
// are logged and never returned.
func (s *NotificationService) Notify(ctx context.Context, kind models.RecipientKind, recipientID string, event models.EventType, payload map[string]interface{}) error {
	title, body := renderNotification(event, payload)
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	notification := &models.Notification{
		RecipientKind: kind,
		RecipientID:   recipientID,
		EventType:     event,
		Title:         title,
		Body:          body,
		Payload:       raw,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		s.recordFailure(event, "inbox")
		return fmt.Errorf("store notification: %w", err)
	}
	s.queueEmails(ctx, notification)
	return nil
}

// List returns a page of the recipient's inbox.
func (s *NotificationService) List(ctx context.Context, kind models.RecipientKind, recipientID string, query dto.NotificationQuery) (*dto.NotificationListResponse, error) {
	page, size := normalizePage(query.Page, query.PageSize)
	if kind == models.RecipientAdmin {
		recipientID = ""
	}
	items, total, err := s.repo.List(ctx, models.NotificationFilter{
		RecipientKind: kind,
		RecipientID:   recipientID,
		UnreadOnly:    query.UnreadOnly,
		Limit:         size,
		Offset:        (page - 1) * size,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	return &dto.NotificationListResponse{
		Items:      items,
		Pagination: models.Pagination{Page: page, PageSize: size, TotalCount: total},
	}, nil
}

// MarkRead marks an inbox entry as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string, kind models.RecipientKind, recipientID string) error {
	if kind == models.RecipientAdmin {
		recipientID = ""
	}
	if err := s.repo.MarkRead(ctx, id, kind, recipientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update notification")
	}
	return nil
}

func (s *NotificationService) queueEmails(ctx context.Context, notification *models.Notification) {
	if s.emails == nil {
		return
	}
	for _, to := range s.emailRecipients(ctx, notification) {
		job := jobs.Job{
			ID:   uuid.NewString(),
			Type: jobs.TypeSendEmail,
			Payload: mailer.Message{
				To:      to,
				Subject: notification.Title,
				Body:    notification.Body,
			},
		}
		if err := s.emails.Enqueue(job); err != nil {
			s.recordFailure(notification.EventType, "email")
			s.logger.Warn("failed to queue notification email",
				zap.String("event", string(notification.EventType)),
				zap.String("notification_id", notification.ID),
				zap.Error(err),
			)
		}
	}
}

func (s *NotificationService) emailRecipients(ctx context.Context, notification *models.Notification) []string {
	if notification.RecipientKind == models.RecipientAdmin {
		return s.adminEmails
	}
	if s.candidates == nil {
		return nil
	}
	candidate, err := s.candidates.GetByID(ctx, notification.RecipientID)
	if err != nil {
		s.recordFailure(notification.EventType, "email")
		s.logger.Warn("failed to resolve candidate email", zap.String("candidate_id", notification.RecipientID), zap.Error(err))
		return nil
	}
	if candidate.Email == "" {
		return nil
	}
	return []string{candidate.Email}
}

func (s *NotificationService) recordFailure(event models.EventType, channel string) {
	if s.metrics != nil {
		s.metrics.RecordNotificationFailure(string(event), channel)
	}
}

func renderNotification(event models.EventType, payload map[string]interface{}) (string, string) {
	label, _ := payload["label"].(string)
	switch event {
	case models.EventDocumentSubmitted:
		return "Nouveau document à valider", fmt.Sprintf("Le document « %s » a été déposé et attend une validation.", label)
	case models.EventDocumentResubmitted:
		return "Document remplacé", fmt.Sprintf("Le document « %s » a été remplacé et attend une nouvelle validation.", label)
	case models.EventDocumentValidated:
		return "Document validé", fmt.Sprintf("Votre document « %s » a été validé.", label)
	case models.EventDocumentRejected:
		comment, _ := payload["comment"].(string)
		return "Document rejeté", fmt.Sprintf("Votre document « %s » a été rejeté. Motif : %s", label, comment)
	case models.EventCandidateDocumentsComplete:
		return "Dossier complet", "Tous vos documents ont été validés. Votre dossier passe à l'étape suivante."
	default:
		return string(event), ""
	}
}

// EmailJobHandler delivers queued notification emails.
func EmailJobHandler(sender mailer.Sender, logger *zap.Logger) jobs.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(mailer.Message)
		if !ok {
			logger.Error("unexpected email payload", zap.String("job_id", job.ID))
			return nil
		}
		return sender.Send(ctx, msg)
	}
}
