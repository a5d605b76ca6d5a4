package dto

import (
	"time"

	"github.com/noah-isme/concours-api/internal/models"
)

// UploadDocumentRequest carries the form fields sent alongside a new file.
type UploadDocumentRequest struct {
	ConcoursID string `form:"concoursId" json:"concoursId" validate:"required,max=64"`
	Label      string `form:"label" json:"label" validate:"required,max=120"`
}

// ReviewDocumentRequest is the admin decision body. Comment is mandatory for rejections.
type ReviewDocumentRequest struct {
	Comment string `json:"comment" validate:"max=2000"`
}

// CandidateDocumentsResponse lists a candidate's documents with the completeness check.
type CandidateDocumentsResponse struct {
	CandidateID  string                    `json:"candidateId"`
	Documents    []models.Document         `json:"documents"`
	Completeness models.CompletenessReport `json:"completeness"`
	Limit        int                       `json:"limit"`
}

// DocumentReviewQuery is the admin review queue filter as received on the query string.
type DocumentReviewQuery struct {
	Status     string `form:"status"`
	ConcoursID string `form:"concoursId"`
	Page       int    `form:"page"`
	PageSize   int    `form:"pageSize"`
}

// DocumentListResponse is a page of the admin review queue.
type DocumentListResponse struct {
	Items      []models.Document `json:"items"`
	Pagination models.Pagination `json:"pagination"`
}

// DownloadURLResponse returns a signed, expiring download link.
type DownloadURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NotificationQuery filters the caller's inbox.
type NotificationQuery struct {
	UnreadOnly bool `form:"unread"`
	Page       int  `form:"page"`
	PageSize   int  `form:"pageSize"`
}

// NotificationListResponse is a page of inbox entries.
type NotificationListResponse struct {
	Items      []models.Notification `json:"items"`
	Pagination models.Pagination     `json:"pagination"`
}
