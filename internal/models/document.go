package models

import (
	"strings"
	"time"
)

// DocumentStatus captures the review state of a submitted document.
type DocumentStatus string

const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusValidated DocumentStatus = "validated"
	DocumentStatusRejected  DocumentStatus = "rejected"
)

// documentStatusAliases maps legacy spellings onto the canonical statuses.
var documentStatusAliases = map[string]DocumentStatus{
	"pending":    DocumentStatusPending,
	"en_attente": DocumentStatusPending,
	"en attente": DocumentStatusPending,
	"attente":    DocumentStatusPending,
	"validated":  DocumentStatusValidated,
	"valid":      DocumentStatusValidated,
	"valide":     DocumentStatusValidated,
	"validé":     DocumentStatusValidated,
	"approved":   DocumentStatusValidated,
	"rejected":   DocumentStatusRejected,
	"rejete":     DocumentStatusRejected,
	"rejeté":     DocumentStatusRejected,
	"refuse":     DocumentStatusRejected,
	"refusé":     DocumentStatusRejected,
}

// ParseDocumentStatus normalises user supplied status strings. The boolean is false for
// anything outside the known vocabulary.
func ParseDocumentStatus(raw string) (DocumentStatus, bool) {
	status, ok := documentStatusAliases[strings.ToLower(strings.TrimSpace(raw))]
	return status, ok
}

// DocumentKind classifies the stored file.
type DocumentKind string

const (
	DocumentKindPDF   DocumentKind = "pdf"
	DocumentKindImage DocumentKind = "image"
)

// Document is one supporting file submitted by a candidate.
type Document struct {
	ID            string         `db:"id" json:"id"`
	CandidateID   string         `db:"candidate_id" json:"candidateId"`
	ConcoursID    string         `db:"concours_id" json:"concoursId"`
	Label         string         `db:"label" json:"label"`
	Kind          DocumentKind   `db:"kind" json:"kind"`
	BlobRef       string         `db:"blob_ref" json:"-"`
	FileName      string         `db:"file_name" json:"fileName"`
	MimeType      string         `db:"mime_type" json:"mimeType"`
	SizeBytes     int64          `db:"size_bytes" json:"sizeBytes"`
	Status        DocumentStatus `db:"status" json:"status"`
	ReviewComment *string        `db:"review_comment" json:"reviewComment,omitempty"`
	ReviewedBy    *string        `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time     `db:"reviewed_at" json:"reviewedAt,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updatedAt"`
}

// Dossier links a document to its owning candidate and concours.
type Dossier struct {
	ID          string    `db:"id" json:"id"`
	DocumentID  string    `db:"document_id" json:"documentId"`
	CandidateID string    `db:"candidate_id" json:"candidateId"`
	ConcoursID  string    `db:"concours_id" json:"concoursId"`
	Nipcan      string    `db:"nipcan" json:"nipcan"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// DocumentFilter narrows review queue listings.
type DocumentFilter struct {
	Status      DocumentStatus
	ConcoursID  string
	CandidateID string
	Limit       int
	Offset      int
}

// CatalogEntry describes one document type of the mandatory catalog.
type CatalogEntry struct {
	Label    string       `json:"label"`
	Kind     DocumentKind `json:"kind"`
	Required bool         `json:"required"`
}

// CompletenessReport summarises which required documents are still missing.
type CompletenessReport struct {
	Missing    []CatalogEntry `json:"missing"`
	AllPresent bool           `json:"allPresent"`
}
