package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/concours-api/internal/models"
	appErrors "github.com/noah-isme/concours-api/pkg/errors"
)

// DefaultMaxDocumentsPerCandidate caps how many documents one candidate may hold.
const DefaultMaxDocumentsPerCandidate = 6

// Transition describes an allowed status change and the event it fires.
type Transition struct {
	From        models.DocumentStatus
	To          models.DocumentStatus
	Event       models.EventType
	AuditAction string
}

// DocumentRules decides which document transitions are allowed. It never touches storage.
type DocumentRules struct {
	maxPerCandidate int
}

// NewDocumentRules builds the rules engine. A non-positive cap falls back to the default.
func NewDocumentRules(maxPerCandidate int) DocumentRules {
	if maxPerCandidate <= 0 {
		maxPerCandidate = DefaultMaxDocumentsPerCandidate
	}
	return DocumentRules{maxPerCandidate: maxPerCandidate}
}

// MaxPerCandidate returns the configured cap.
func (r DocumentRules) MaxPerCandidate() int {
	return r.maxPerCandidate
}

// CanCreate checks the cap and label uniqueness against the candidate's current documents.
func (r DocumentRules) CanCreate(existing []models.Document, label string) (Transition, error) {
	key := normalizeLabel(label)
	if key == "" {
		return Transition{}, appErrors.Clone(appErrors.ErrValidation, "label is required")
	}
	if len(existing) >= r.maxPerCandidate {
		return Transition{}, appErrors.Clone(appErrors.ErrLimitExceeded, fmt.Sprintf("a candidate may hold at most %d documents", r.maxPerCandidate))
	}
	for _, doc := range existing {
		if normalizeLabel(doc.Label) == key {
			return Transition{}, appErrors.Clone(appErrors.ErrDuplicateLabel, fmt.Sprintf("a document labelled %q already exists", strings.TrimSpace(label)))
		}
	}
	return Transition{
		To:          models.DocumentStatusPending,
		Event:       models.EventDocumentSubmitted,
		AuditAction: models.AuditActionDocumentUpload,
	}, nil
}

// CanReplace allows the owner to swap the file of a pending or rejected document.
func (r DocumentRules) CanReplace(doc *models.Document, candidateID string) (Transition, error) {
	if doc == nil {
		return Transition{}, appErrors.ErrNotFound
	}
	if doc.CandidateID != candidateID {
		return Transition{}, appErrors.Clone(appErrors.ErrForbidden, "document belongs to another candidate")
	}
	switch doc.Status {
	case models.DocumentStatusPending, models.DocumentStatusRejected:
	default:
		return Transition{}, appErrors.Clone(appErrors.ErrInvalidState, "a validated document cannot be replaced")
	}
	return Transition{
		From:        doc.Status,
		To:          models.DocumentStatusPending,
		Event:       models.EventDocumentResubmitted,
		AuditAction: models.AuditActionDocumentReplace,
	}, nil
}

// CanDelete allows the owner to withdraw a pending or rejected document.
func (r DocumentRules) CanDelete(doc *models.Document, candidateID string) (Transition, error) {
	if doc == nil {
		return Transition{}, appErrors.ErrNotFound
	}
	if doc.CandidateID != candidateID {
		return Transition{}, appErrors.Clone(appErrors.ErrForbidden, "document belongs to another candidate")
	}
	switch doc.Status {
	case models.DocumentStatusPending, models.DocumentStatusRejected:
	default:
		return Transition{}, appErrors.Clone(appErrors.ErrInvalidState, "a validated document cannot be deleted")
	}
	return Transition{From: doc.Status, AuditAction: models.AuditActionDocumentDelete}, nil
}

// CanValidate allows review only from pending.
func (r DocumentRules) CanValidate(doc *models.Document) (Transition, error) {
	if doc == nil {
		return Transition{}, appErrors.ErrNotFound
	}
	if doc.Status != models.DocumentStatusPending {
		return Transition{}, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("document is %s, only pending documents can be validated", doc.Status))
	}
	return Transition{
		From:        doc.Status,
		To:          models.DocumentStatusValidated,
		Event:       models.EventDocumentValidated,
		AuditAction: models.AuditActionDocumentValidate,
	}, nil
}

// CanReject allows review only from pending and requires a non-blank comment.
func (r DocumentRules) CanReject(doc *models.Document, comment string) (Transition, error) {
	if strings.TrimSpace(comment) == "" {
		return Transition{}, appErrors.ErrMissingComment
	}
	if doc == nil {
		return Transition{}, appErrors.ErrNotFound
	}
	if doc.Status != models.DocumentStatusPending {
		return Transition{}, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("document is %s, only pending documents can be rejected", doc.Status))
	}
	return Transition{
		From:        doc.Status,
		To:          models.DocumentStatusRejected,
		Event:       models.EventDocumentRejected,
		AuditAction: models.AuditActionDocumentReject,
	}, nil
}

// AllValidated reports whether docs is non-empty and every document is validated.
func AllValidated(docs []models.Document) bool {
	if len(docs) == 0 {
		return false
	}
	for _, doc := range docs {
		if doc.Status != models.DocumentStatusValidated {
			return false
		}
	}
	return true
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
