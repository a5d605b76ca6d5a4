package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/concours-api/internal/models"
)

type candidateStatusStore interface {
	AdvanceStatus(ctx context.Context, id string, from, to models.ApplicationStatus) error
}

// CandidateStatusService moves candidates forward once all their documents are accepted.
type CandidateStatusService struct {
	repo     candidateStatusStore
	notifier documentNotifier
	audit    auditLogger
	logger   *zap.Logger
}

// NewCandidateStatusService constructs the service.
func NewCandidateStatusService(repo candidateStatusStore, notifier documentNotifier, audit auditLogger, logger *zap.Logger) *CandidateStatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandidateStatusService{repo: repo, notifier: notifier, audit: audit, logger: logger}
}

// HandleDocumentsComplete advances DOCUMENTS_PENDING candidates to DOCUMENTS_VALIDATED.
// Replays for an already advanced candidate are ignored.
func (s *CandidateStatusService) HandleDocumentsComplete(ctx context.Context, event models.DomainEvent) error {
	if event.Type != models.EventCandidateDocumentsComplete {
		return nil
	}
	err := s.repo.AdvanceStatus(ctx, event.CandidateID, models.ApplicationStatusDocumentsPending, models.ApplicationStatusDocumentsValidated)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Info("candidate status already advanced", zap.String("candidate_id", event.CandidateID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("advance candidate %s: %w", event.CandidateID, err)
	}

	if s.audit != nil {
		resourceID := event.CandidateID
		entry := &models.AuditLog{
			Action:     models.AuditActionCandidateAdvance,
			Resource:   "candidate",
			ResourceID: &resourceID,
			OldValues:  []byte(`{"applicationStatus":"DOCUMENTS_PENDING"}`),
			NewValues:  []byte(`{"applicationStatus":"DOCUMENTS_VALIDATED"}`),
		}
		if event.ActorID != "" {
			actor := event.ActorID
			entry.UserID = &actor
		}
		if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
			s.logger.Warn("failed to write audit log", zap.String("candidate_id", event.CandidateID), zap.Error(err))
		}
	}
	if s.notifier != nil {
		payload := map[string]interface{}{"candidateId": event.CandidateID, "concoursId": event.ConcoursID}
		if err := s.notifier.Notify(ctx, models.RecipientCandidate, event.CandidateID, models.EventCandidateDocumentsComplete, payload); err != nil {
			s.logger.Warn("failed to notify", zap.String("event", string(event.Type)), zap.String("candidate_id", event.CandidateID), zap.Error(err))
		}
	}
	s.logger.Info("candidate documents validated", zap.String("candidate_id", event.CandidateID))
	return nil
}
