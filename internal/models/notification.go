package models

import (
	"encoding/json"
	"time"
)

// RecipientKind identifies which inbox a notification lands in.
type RecipientKind string

const (
	RecipientCandidate RecipientKind = "candidate"
	RecipientAdmin     RecipientKind = "admin"
)

// AdminInbox is the recipient id of the shared admin review inbox.
const AdminInbox = "admins"

// EventType names the outbound domain events of the document workflow.
type EventType string

const (
	EventDocumentSubmitted          EventType = "document.submitted"
	EventDocumentResubmitted        EventType = "document.resubmitted"
	EventDocumentValidated          EventType = "document.validated"
	EventDocumentRejected           EventType = "document.rejected"
	EventCandidateDocumentsComplete EventType = "candidate.documents_complete"
)

// Notification is a stored inbox entry.
type Notification struct {
	ID            string          `db:"id" json:"id"`
	RecipientKind RecipientKind   `db:"recipient_kind" json:"recipientKind"`
	RecipientID   string          `db:"recipient_id" json:"recipientId"`
	EventType     EventType       `db:"event_type" json:"eventType"`
	Title         string          `db:"title" json:"title"`
	Body          string          `db:"body" json:"body"`
	Payload       json.RawMessage `db:"payload" json:"payload,omitempty"`
	ReadAt        *time.Time      `db:"read_at" json:"readAt,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}

// NotificationFilter constrains inbox listings.
type NotificationFilter struct {
	RecipientKind RecipientKind
	RecipientID   string
	UnreadOnly    bool
	Limit         int
	Offset        int
}

// DomainEvent is published to the event stream and in-process subscribers.
type DomainEvent struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	CandidateID string                 `json:"candidateId"`
	DocumentID  string                 `json:"documentId,omitempty"`
	ConcoursID  string                 `json:"concoursId,omitempty"`
	ActorID     string                 `json:"actorId,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	OccurredAt  time.Time              `json:"occurredAt"`
}
