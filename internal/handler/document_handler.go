package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/concours-api/internal/dto"
	"github.com/noah-isme/concours-api/internal/models"
	"github.com/noah-isme/concours-api/internal/service"
	appErrors "github.com/noah-isme/concours-api/pkg/errors"
	"github.com/noah-isme/concours-api/pkg/response"
)

type documentService interface {
	ResolveCandidateID(ctx context.Context, actor *models.JWTClaims) (string, error)
	Upload(ctx context.Context, candidateID string, req dto.UploadDocumentRequest, upload service.DocumentUpload) (*models.Document, error)
	Replace(ctx context.Context, documentID, candidateID string, upload service.DocumentUpload) (*models.Document, error)
	Delete(ctx context.Context, documentID, candidateID string) error
	ListForCandidate(ctx context.Context, candidateID string) (*dto.CandidateDocumentsResponse, error)
	Catalog() []models.CatalogEntry
	Validate(ctx context.Context, documentID, adminID, comment string) (*models.Document, error)
	Reject(ctx context.Context, documentID, adminID, comment string) (*models.Document, error)
	ListForReview(ctx context.Context, query dto.DocumentReviewQuery) (*dto.DocumentListResponse, error)
	Download(ctx context.Context, documentID string, actor *models.JWTClaims) (*service.DocumentDownload, error)
	DownloadURL(ctx context.Context, documentID string, actor *models.JWTClaims) (*dto.DownloadURLResponse, error)
	DownloadWithToken(ctx context.Context, documentID, token string) (*service.DocumentDownload, error)
}

// multipartOverhead leaves room for the form fields around the file part.
const multipartOverhead = 1 << 20

// DocumentHandler exposes the candidate and admin document endpoints.
type DocumentHandler struct {
	service     documentService
	maxFileSize int64
}

// NewDocumentHandler constructs the handler. maxFileSize bounds how much of a file part is buffered.
func NewDocumentHandler(service documentService, maxFileSize int64) *DocumentHandler {
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}
	return &DocumentHandler{service: service, maxFileSize: maxFileSize}
}

// Upload godoc
// @Summary Submit a new document
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param concoursId formData string true "Concours ID"
// @Param label formData string true "Document label"
// @Param file formData file true "PDF, JPG or PNG file"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /candidates/me/documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	candidateID, ok := h.currentCandidate(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)
	var req dto.UploadDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, h.bindError(err, "invalid document payload"))
		return
	}
	upload, err := h.readUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	doc, err := h.service.Upload(c.Request.Context(), candidateID, req, upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// ListMine godoc
// @Summary List my documents with the mandatory document check
// @Tags Documents
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /candidates/me/documents [get]
func (h *DocumentHandler) ListMine(c *gin.Context) {
	candidateID, ok := h.currentCandidate(c)
	if !ok {
		return
	}
	result, err := h.service.ListForCandidate(c.Request.Context(), candidateID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Catalog godoc
// @Summary Mandatory document catalog
// @Tags Documents
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /documents/catalog [get]
func (h *DocumentHandler) Catalog(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.Catalog(), nil)
}

// Replace godoc
// @Summary Replace the file of a pending or rejected document
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Document ID"
// @Param file formData file true "PDF, JPG or PNG file"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /candidates/me/documents/{id}/file [put]
func (h *DocumentHandler) Replace(c *gin.Context) {
	candidateID, ok := h.currentCandidate(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)
	upload, err := h.readUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	doc, err := h.service.Replace(c.Request.Context(), c.Param("id"), candidateID, upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Delete godoc
// @Summary Withdraw a pending or rejected document
// @Tags Documents
// @Param id path string true "Document ID"
// @Success 204
// @Router /candidates/me/documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	candidateID, ok := h.currentCandidate(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), candidateID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ReviewQueue godoc
// @Summary Admin review queue
// @Tags Admin Documents
// @Produce json
// @Param status query string false "pending, validated or rejected (legacy spellings accepted)"
// @Param concoursId query string false "Concours filter"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/documents [get]
func (h *DocumentHandler) ReviewQueue(c *gin.Context) {
	var query dto.DocumentReviewQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	result, err := h.service.ListForReview(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result.Items, &result.Pagination)
}

// CandidateDocuments godoc
// @Summary List a candidate's documents
// @Tags Admin Documents
// @Produce json
// @Param id path string true "Candidate ID"
// @Success 200 {object} response.Envelope
// @Router /admin/candidates/{id}/documents [get]
func (h *DocumentHandler) CandidateDocuments(c *gin.Context) {
	result, err := h.service.ListForCandidate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Validate godoc
// @Summary Validate a pending document
// @Tags Admin Documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body dto.ReviewDocumentRequest false "Optional comment"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/documents/{id}/validate [post]
func (h *DocumentHandler) Validate(c *gin.Context) {
	h.review(c, h.service.Validate)
}

// Reject godoc
// @Summary Reject a pending document
// @Tags Admin Documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body dto.ReviewDocumentRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/documents/{id}/reject [post]
func (h *DocumentHandler) Reject(c *gin.Context) {
	h.review(c, h.service.Reject)
}

func (h *DocumentHandler) review(c *gin.Context, decide func(ctx context.Context, documentID, adminID, comment string) (*models.Document, error)) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.ReviewDocumentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
			return
		}
	}
	doc, err := decide(c.Request.Context(), c.Param("id"), claims.UserID, req.Comment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// DownloadURL godoc
// @Summary Issue a signed download link
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/download-url [get]
func (h *DocumentHandler) DownloadURL(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	result, err := h.service.DownloadURL(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download godoc
// @Summary Download a document with a signed token or a bearer token
// @Tags Documents
// @Produce octet-stream
// @Param id path string true "Document ID"
// @Param token query string false "Signed token"
// @Success 200 {file} binary
// @Router /documents/{id}/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	var (
		result *service.DocumentDownload
		err    error
	)
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		result, err = h.service.DownloadWithToken(c.Request.Context(), c.Param("id"), token)
	} else {
		claims := claimsFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "token or bearer authentication required"))
			return
		}
		result, err = h.service.Download(c.Request.Context(), c.Param("id"), claims)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Document.FileName, result.Document.MimeType, result.Data)
}

func (h *DocumentHandler) currentCandidate(c *gin.Context) (string, bool) {
	_, candidateID, ok := resolveCandidate(c, h.service)
	return candidateID, ok
}

func (h *DocumentHandler) readUpload(c *gin.Context) (service.DocumentUpload, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return service.DocumentUpload{}, h.bindError(err, "file is required")
	}
	if fileHeader.Size > h.maxFileSize {
		return service.DocumentUpload{}, appErrors.Clone(appErrors.ErrFileTooLarge, fmt.Sprintf("file exceeds %d bytes limit", h.maxFileSize))
	}
	src, err := fileHeader.Open()
	if err != nil {
		return service.DocumentUpload{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxFileSize+1))
	if err != nil {
		return service.DocumentUpload{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file")
	}
	return service.DocumentUpload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (h *DocumentHandler) bindError(err error, message string) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return appErrors.Clone(appErrors.ErrFileTooLarge, fmt.Sprintf("file exceeds %d bytes limit", h.maxFileSize))
	}
	return appErrors.Clone(appErrors.ErrValidation, message)
}
