package models

import "time"

// ApplicationStatus tracks where a candidate stands in the registration pipeline.
type ApplicationStatus string

const (
	ApplicationStatusDocumentsPending   ApplicationStatus = "DOCUMENTS_PENDING"
	ApplicationStatusDocumentsValidated ApplicationStatus = "DOCUMENTS_VALIDATED"
)

// Candidate is the applicant record documents hang off.
type Candidate struct {
	ID                string            `db:"id" json:"id"`
	UserID            string            `db:"user_id" json:"userId"`
	Nipcan            string            `db:"nipcan" json:"nipcan"`
	Email             string            `db:"email" json:"email"`
	FullName          string            `db:"full_name" json:"fullName"`
	ApplicationStatus ApplicationStatus `db:"application_status" json:"applicationStatus"`
	CreatedAt         time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updatedAt"`
}
