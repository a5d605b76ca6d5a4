package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/concours-api/internal/dto"
	"github.com/noah-isme/concours-api/internal/models"
	"github.com/noah-isme/concours-api/internal/repository"
	appErrors "github.com/noah-isme/concours-api/pkg/errors"
	"github.com/noah-isme/concours-api/pkg/jobs"
	applog "github.com/noah-isme/concours-api/pkg/logger"
	"github.com/noah-isme/concours-api/pkg/storage"
)

type documentStore interface {
	WithinTx(ctx context.Context, fn func(tx repository.DocumentTx) error) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	ListByCandidate(ctx context.Context, candidateID string) ([]models.Document, error)
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error)
}

type candidateReader interface {
	GetByID(ctx context.Context, id string) (*models.Candidate, error)
	GetByUserID(ctx context.Context, userID string) (*models.Candidate, error)
}

type blobStore interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

type pdfInspector interface {
	PageCount(data []byte) (int, error)
}

type documentNotifier interface {
	Notify(ctx context.Context, kind models.RecipientKind, recipientID string, event models.EventType, payload map[string]interface{}) error
}

type domainEventPublisher interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type downloadSigner interface {
	Generate(documentID, actorID string) (string, time.Time, error)
	Parse(token string) (documentID, actorID string, err error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type documentMetrics interface {
	RecordTransition(event string, err error)
	ObserveBlobOperation(operation string, duration time.Duration, err error)
}

type noopDocumentMetrics struct{}

func (noopDocumentMetrics) RecordTransition(string, error) {}

func (noopDocumentMetrics) ObserveBlobOperation(string, time.Duration, error) {}

var acceptedExtensions = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

var acceptedContentTypes = map[string]struct{}{
	"application/pdf":          {},
	"image/jpeg":               {},
	"image/jpg":                {},
	"image/png":                {},
	"application/octet-stream": {},
}

// DocumentServiceConfig tunes limits and collaborator timeouts.
type DocumentServiceConfig struct {
	MaxFileSize     int64
	MaxPerCandidate int
	BlobTimeout     time.Duration
	NotifyTimeout   time.Duration
	APIPrefix       string
}

// DocumentUpload is a fully buffered file received from a candidate.
type DocumentUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// DocumentDownload bundles stored bytes with their metadata.
type DocumentDownload struct {
	Document *models.Document
	Data     []byte
}

// BlobCleanupPayload is queued when a blob could not be removed synchronously.
type BlobCleanupPayload struct {
	Ref    string
	Reason string
}

// DocumentService runs the candidate document workflow: submission, review, replacement and withdrawal.
type DocumentService struct {
	repo       documentStore
	candidates candidateReader
	blobs      blobStore
	notifier   documentNotifier
	events     domainEventPublisher
	catalog    *DocumentCatalog
	rules      DocumentRules
	pdf        pdfInspector
	cleanup    jobEnqueuer
	signer     downloadSigner
	audit      auditLogger
	metrics    documentMetrics
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        DocumentServiceConfig
	now        func() time.Time
}

// DocumentServiceOption configures optional collaborators.
type DocumentServiceOption func(*DocumentService)

// WithDocumentPDFInspector rejects PDFs the inspector cannot parse.
func WithDocumentPDFInspector(inspector pdfInspector) DocumentServiceOption {
	return func(s *DocumentService) { s.pdf = inspector }
}

// WithDocumentCleanupQueue defers failed blob deletions to a background queue.
func WithDocumentCleanupQueue(queue jobEnqueuer) DocumentServiceOption {
	return func(s *DocumentService) { s.cleanup = queue }
}

// WithDocumentSigner enables signed download links.
func WithDocumentSigner(signer downloadSigner) DocumentServiceOption {
	return func(s *DocumentService) { s.signer = signer }
}

// WithDocumentAudit records an audit row per successful transition.
func WithDocumentAudit(audit auditLogger) DocumentServiceOption {
	return func(s *DocumentService) { s.audit = audit }
}

// WithDocumentMetrics wires Prometheus counters.
func WithDocumentMetrics(metrics documentMetrics) DocumentServiceOption {
	return func(s *DocumentService) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithDocumentValidator overrides the request validator.
func WithDocumentValidator(v *validator.Validate) DocumentServiceOption {
	return func(s *DocumentService) {
		if v != nil {
			s.validator = v
		}
	}
}

// NewDocumentService constructs the service with defaults.
func NewDocumentService(repo documentStore, candidates candidateReader, blobs blobStore, notifier documentNotifier, events domainEventPublisher, catalog *DocumentCatalog, logger *zap.Logger, cfg DocumentServiceConfig, opts ...DocumentServiceOption) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if catalog == nil {
		catalog = NewDocumentCatalog(nil)
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.BlobTimeout <= 0 {
		cfg.BlobTimeout = 15 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	svc := &DocumentService{
		repo:       repo,
		candidates: candidates,
		blobs:      blobs,
		notifier:   notifier,
		events:     events,
		catalog:    catalog,
		rules:      NewDocumentRules(cfg.MaxPerCandidate),
		metrics:    noopDocumentMetrics{},
		validator:  validator.New(),
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ResolveCandidateID returns the candidate profile of the authenticated user.
func (s *DocumentService) ResolveCandidateID(ctx context.Context, actor *models.JWTClaims) (string, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}
	if actor.CandidateID != "" {
		return actor.CandidateID, nil
	}
	if s.candidates == nil {
		return "", appErrors.Clone(appErrors.ErrForbidden, "no candidate profile for this account")
	}
	candidate, err := s.candidates.GetByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrForbidden, "no candidate profile for this account")
		}
		return "", s.storageError(err, "failed to resolve candidate")
	}
	return candidate.ID, nil
}

// Upload stores a new document for the candidate. The blob is written first and removed again
// if the record cannot be committed.
func (s *DocumentService) Upload(ctx context.Context, candidateID string, req dto.UploadDocumentRequest, upload DocumentUpload) (doc *models.Document, err error) {
	defer func() { s.metrics.RecordTransition(string(models.EventDocumentSubmitted), err) }()

	req.Label = strings.TrimSpace(req.Label)
	req.ConcoursID = strings.TrimSpace(req.ConcoursID)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	kind, mimeType, err := s.inspect(req.Label, upload)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.ListByCandidate(ctx, candidateID)
	if err != nil {
		return nil, s.storageError(err, "failed to load candidate documents")
	}
	if _, err := s.rules.CanCreate(existing, req.Label); err != nil {
		return nil, err
	}

	ref, err := s.putBlob(ctx, upload.Data, mimeType)
	if err != nil {
		return nil, err
	}

	var (
		candidate  *models.Candidate
		transition Transition
	)
	err = s.repo.WithinTx(ctx, func(tx repository.DocumentTx) error {
		var txErr error
		candidate, txErr = tx.LockCandidate(ctx, candidateID)
		if txErr != nil {
			return txErr
		}
		current, txErr := tx.ListByCandidate(ctx, candidateID)
		if txErr != nil {
			return txErr
		}
		transition, txErr = s.rules.CanCreate(current, req.Label)
		if txErr != nil {
			return txErr
		}
		doc = &models.Document{
			ID:          uuid.NewString(),
			CandidateID: candidateID,
			ConcoursID:  req.ConcoursID,
			Label:       req.Label,
			Kind:        kind,
			BlobRef:     ref,
			FileName:    filepath.Base(upload.Filename),
			MimeType:    mimeType,
			SizeBytes:   int64(len(upload.Data)),
			Status:      transition.To,
			CreatedAt:   s.now(),
		}
		if txErr = tx.Create(ctx, doc); txErr != nil {
			return txErr
		}
		return tx.CreateDossier(ctx, &models.Dossier{
			DocumentID:  doc.ID,
			CandidateID: candidateID,
			ConcoursID:  req.ConcoursID,
			Nipcan:      candidate.Nipcan,
		})
	})
	if err != nil {
		s.discardBlob(ctx, ref, "upload rolled back")
		return nil, s.translateError(err, "failed to store document")
	}

	s.afterTransition(ctx, transition, doc, candidate.UserID, nil)
	return doc, nil
}

// Replace swaps the file of a pending or rejected document and sends it back to review.
func (s *DocumentService) Replace(ctx context.Context, documentID, candidateID string, upload DocumentUpload) (doc *models.Document, err error) {
	defer func() { s.metrics.RecordTransition(string(models.EventDocumentResubmitted), err) }()

	current, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.rules.CanReplace(current, candidateID); err != nil {
		return nil, err
	}
	kind, mimeType, err := s.inspect(current.Label, upload)
	if err != nil {
		return nil, err
	}

	newRef, err := s.putBlob(ctx, upload.Data, mimeType)
	if err != nil {
		return nil, err
	}

	var (
		candidate  *models.Candidate
		transition Transition
		oldRef     string
		previous   models.Document
	)
	err = s.repo.WithinTx(ctx, func(tx repository.DocumentTx) error {
		var txErr error
		candidate, txErr = tx.LockCandidate(ctx, candidateID)
		if txErr != nil {
			return txErr
		}
		doc, txErr = tx.GetForUpdate(ctx, documentID)
		if txErr != nil {
			return txErr
		}
		transition, txErr = s.rules.CanReplace(doc, candidateID)
		if txErr != nil {
			return txErr
		}
		previous = *doc
		oldRef = doc.BlobRef
		doc.Kind = kind
		doc.BlobRef = newRef
		doc.FileName = filepath.Base(upload.Filename)
		doc.MimeType = mimeType
		doc.SizeBytes = int64(len(upload.Data))
		doc.Status = transition.To
		doc.ReviewComment = nil
		doc.ReviewedBy = nil
		doc.ReviewedAt = nil
		return tx.Update(ctx, doc)
	})
	if err != nil {
		s.discardBlob(ctx, newRef, "replace rolled back")
		return nil, s.translateError(err, "failed to replace document")
	}

	s.discardBlob(ctx, oldRef, "superseded by replacement")
	s.afterTransition(ctx, transition, doc, candidate.UserID, &previous)
	return doc, nil
}

// Delete withdraws a pending or rejected document: dossier link, record, then blob.
func (s *DocumentService) Delete(ctx context.Context, documentID, candidateID string) (err error) {
	defer func() { s.metrics.RecordTransition("document.deleted", err) }()

	var (
		candidate  *models.Candidate
		doc        *models.Document
		transition Transition
	)
	err = s.repo.WithinTx(ctx, func(tx repository.DocumentTx) error {
		var txErr error
		candidate, txErr = tx.LockCandidate(ctx, candidateID)
		if txErr != nil {
			return txErr
		}
		doc, txErr = tx.GetForUpdate(ctx, documentID)
		if txErr != nil {
			return txErr
		}
		transition, txErr = s.rules.CanDelete(doc, candidateID)
		if txErr != nil {
			return txErr
		}
		if txErr = tx.DeleteDossierByDocument(ctx, documentID); txErr != nil {
			return txErr
		}
		return tx.Delete(ctx, documentID)
	})
	if err != nil {
		return s.translateError(err, "failed to delete document")
	}

	s.discardBlob(ctx, doc.BlobRef, "document deleted")
	s.recordAudit(ctx, candidate.UserID, transition.AuditAction, doc, doc, nil)
	return nil
}

// ListForCandidate returns the candidate's documents and the mandatory document check.
func (s *DocumentService) ListForCandidate(ctx context.Context, candidateID string) (*dto.CandidateDocumentsResponse, error) {
	if s.candidates != nil {
		if _, err := s.candidates.GetByID(ctx, candidateID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "candidate not found")
			}
			return nil, s.storageError(err, "failed to load candidate")
		}
	}
	docs, err := s.repo.ListByCandidate(ctx, candidateID)
	if err != nil {
		return nil, s.storageError(err, "failed to list documents")
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return &dto.CandidateDocumentsResponse{
		CandidateID:  candidateID,
		Documents:    docs,
		Completeness: s.catalog.Completeness(docs),
		Limit:        s.rules.MaxPerCandidate(),
	}, nil
}

// Catalog returns the mandatory document catalog.
func (s *DocumentService) Catalog() []models.CatalogEntry {
	return s.catalog.Entries()
}

// Validate accepts a pending document. When it completes the candidate's file the
// candidate.documents_complete event is published once.
func (s *DocumentService) Validate(ctx context.Context, documentID, adminID, comment string) (*models.Document, error) {
	return s.review(ctx, documentID, adminID, comment, false)
}

// Reject refuses a pending document with a mandatory reason.
func (s *DocumentService) Reject(ctx context.Context, documentID, adminID, comment string) (*models.Document, error) {
	if strings.TrimSpace(comment) == "" {
		s.metrics.RecordTransition(string(models.EventDocumentRejected), appErrors.ErrMissingComment)
		return nil, appErrors.ErrMissingComment
	}
	return s.review(ctx, documentID, adminID, comment, true)
}

func (s *DocumentService) review(ctx context.Context, documentID, adminID, comment string, reject bool) (doc *models.Document, err error) {
	event := models.EventDocumentValidated
	if reject {
		event = models.EventDocumentRejected
	}
	defer func() { s.metrics.RecordTransition(string(event), err) }()

	comment = strings.TrimSpace(comment)
	if err := s.validator.Struct(dto.ReviewDocumentRequest{Comment: comment}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	current, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}

	var (
		candidate  *models.Candidate
		transition Transition
		previous   models.Document
		complete   bool
	)
	err = s.repo.WithinTx(ctx, func(tx repository.DocumentTx) error {
		var txErr error
		candidate, txErr = tx.LockCandidate(ctx, current.CandidateID)
		if txErr != nil {
			return txErr
		}
		doc, txErr = tx.GetForUpdate(ctx, documentID)
		if txErr != nil {
			return txErr
		}
		if reject {
			transition, txErr = s.rules.CanReject(doc, comment)
		} else {
			transition, txErr = s.rules.CanValidate(doc)
		}
		if txErr != nil {
			return txErr
		}
		previous = *doc
		reviewedAt := s.now()
		reviewer := adminID
		doc.Status = transition.To
		doc.ReviewedBy = &reviewer
		doc.ReviewedAt = &reviewedAt
		doc.ReviewComment = nil
		if comment != "" {
			text := comment
			doc.ReviewComment = &text
		}
		if txErr = tx.Update(ctx, doc); txErr != nil {
			return txErr
		}
		if reject || candidate.ApplicationStatus == models.ApplicationStatusDocumentsValidated {
			return nil
		}
		docs, txErr := tx.ListByCandidate(ctx, doc.CandidateID)
		if txErr != nil {
			return txErr
		}
		// The dossier is complete only when nothing is outstanding and every required catalog
		// document has been uploaded; validating a partial set does not advance the candidate.
		complete = AllValidated(docs) && s.catalog.Completeness(docs).AllPresent
		return nil
	})
	if err != nil {
		return nil, s.translateError(err, "failed to review document")
	}

	s.afterTransition(ctx, transition, doc, adminID, &previous)
	if complete {
		s.publish(ctx, models.DomainEvent{
			Type:        models.EventCandidateDocumentsComplete,
			CandidateID: doc.CandidateID,
			ConcoursID:  doc.ConcoursID,
			ActorID:     adminID,
			Payload:     map[string]interface{}{"nipcan": candidate.Nipcan},
		})
	}
	return doc, nil
}

// ListForReview pages through documents for admins. Status accepts legacy spellings and
// defaults to pending.
func (s *DocumentService) ListForReview(ctx context.Context, query dto.DocumentReviewQuery) (*dto.DocumentListResponse, error) {
	status := models.DocumentStatusPending
	if strings.TrimSpace(query.Status) != "" {
		parsed, ok := models.ParseDocumentStatus(query.Status)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", query.Status))
		}
		status = parsed
	}
	page, size := normalizePage(query.Page, query.PageSize)
	items, total, err := s.repo.List(ctx, models.DocumentFilter{
		Status:     status,
		ConcoursID: strings.TrimSpace(query.ConcoursID),
		Limit:      size,
		Offset:     (page - 1) * size,
	})
	if err != nil {
		return nil, s.storageError(err, "failed to list documents")
	}
	if items == nil {
		items = []models.Document{}
	}
	return &dto.DocumentListResponse{
		Items:      items,
		Pagination: models.Pagination{Page: page, PageSize: size, TotalCount: total},
	}, nil
}

// Download returns the stored file to its owner or to an admin.
func (s *DocumentService) Download(ctx context.Context, documentID string, actor *models.JWTClaims) (*DocumentDownload, error) {
	doc, err := s.authorizedDocument(ctx, documentID, actor)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, doc)
}

// DownloadURL issues a signed link for the actor.
func (s *DocumentService) DownloadURL(ctx context.Context, documentID string, actor *models.JWTClaims) (*dto.DownloadURLResponse, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	doc, err := s.authorizedDocument(ctx, documentID, actor)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(doc.ID, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return &dto.DownloadURLResponse{
		URL:       fmt.Sprintf("%s/documents/%s/download?token=%s", base, doc.ID, token),
		ExpiresAt: expiresAt,
	}, nil
}

// DownloadWithToken serves a file for a previously issued signed link.
func (s *DocumentService) DownloadWithToken(ctx context.Context, documentID, token string) (*DocumentDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	tokenDocID, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if tokenDocID != documentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	doc, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, doc)
}

func (s *DocumentService) authorizedDocument(ctx context.Context, documentID string, actor *models.JWTClaims) (*models.Document, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	doc, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if actor.Role.IsAdmin() {
		return doc, nil
	}
	candidateID, err := s.ResolveCandidateID(ctx, actor)
	if err != nil {
		return nil, err
	}
	if candidateID != doc.CandidateID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "document belongs to another candidate")
	}
	return doc, nil
}

func (s *DocumentService) fetch(ctx context.Context, doc *models.Document) (*DocumentDownload, error) {
	blobCtx, cancel := context.WithTimeout(ctx, s.cfg.BlobTimeout)
	defer cancel()
	start := time.Now()
	data, err := s.blobs.Get(blobCtx, doc.BlobRef)
	s.metrics.ObserveBlobOperation("get", time.Since(start), err)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("document blob missing", zap.String("document_id", doc.ID), zap.String("blob_ref", doc.BlobRef))
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document file not found")
		}
		return nil, appErrors.Storage(err)
	}
	return &DocumentDownload{Document: doc, Data: data}, nil
}

func (s *DocumentService) load(ctx context.Context, documentID string) (*models.Document, error) {
	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, s.storageError(err, "failed to load document")
	}
	return doc, nil
}

// inspect enforces size, extension, sniffed content and PDF readability, returning the kind and
// canonical MIME type.
func (s *DocumentService) inspect(label string, upload DocumentUpload) (models.DocumentKind, string, error) {
	if len(upload.Data) == 0 {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if int64(len(upload.Data)) > s.cfg.MaxFileSize {
		return "", "", appErrors.Clone(appErrors.ErrFileTooLarge, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(upload.Filename), "."))
	expected, ok := acceptedExtensions[ext]
	if !ok {
		return "", "", appErrors.Clone(appErrors.ErrInvalidFileType, "only pdf, jpg, jpeg and png files are accepted")
	}
	if declared := mediaType(upload.ContentType); declared != "" {
		if _, ok := acceptedContentTypes[declared]; !ok {
			return "", "", appErrors.Clone(appErrors.ErrInvalidFileType, fmt.Sprintf("content type %s is not accepted", declared))
		}
	}
	if !mimetype.Detect(upload.Data).Is(expected) {
		return "", "", appErrors.Clone(appErrors.ErrInvalidFileType, "file content does not match its extension")
	}

	kind := models.DocumentKindImage
	if expected == "application/pdf" {
		kind = models.DocumentKindPDF
		if s.pdf != nil {
			if _, err := s.pdf.PageCount(upload.Data); err != nil {
				return "", "", appErrors.Wrap(err, appErrors.ErrInvalidFileType.Code, appErrors.ErrInvalidFileType.Status, "pdf file could not be read")
			}
		}
	}
	if entry, ok := s.catalog.Lookup(label); ok && entry.Kind != "" && entry.Kind != kind {
		return "", "", appErrors.Clone(appErrors.ErrInvalidFileType, fmt.Sprintf("%s must be provided as %s", entry.Label, entry.Kind))
	}
	return kind, expected, nil
}

func (s *DocumentService) putBlob(ctx context.Context, data []byte, contentType string) (string, error) {
	blobCtx, cancel := context.WithTimeout(ctx, s.cfg.BlobTimeout)
	defer cancel()
	start := time.Now()
	ref, err := s.blobs.Put(blobCtx, data, contentType)
	s.metrics.ObserveBlobOperation("put", time.Since(start), err)
	if err != nil {
		s.log(ctx).Error("blob upload failed", zap.Error(err))
		return "", appErrors.Storage(err)
	}
	return ref, nil
}

// discardBlob deletes ref outside the request lifetime, handing failures to the cleanup queue.
func (s *DocumentService) discardBlob(ctx context.Context, ref, reason string) {
	if ref == "" {
		return
	}
	blobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BlobTimeout)
	defer cancel()
	start := time.Now()
	err := s.blobs.Delete(blobCtx, ref)
	s.metrics.ObserveBlobOperation("delete", time.Since(start), err)
	if err == nil {
		return
	}
	s.log(ctx).Warn("blob delete failed", zap.String("blob_ref", ref), zap.String("reason", reason), zap.Error(err))
	if s.cleanup == nil {
		return
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobs.TypeBlobCleanup,
		Payload: BlobCleanupPayload{Ref: ref, Reason: reason},
	}
	if qErr := s.cleanup.Enqueue(job); qErr != nil {
		s.log(ctx).Error("failed to schedule blob cleanup", zap.String("blob_ref", ref), zap.Error(qErr))
	}
}

// afterTransition performs the post-commit side effects: audit row, one notification, one event.
func (s *DocumentService) afterTransition(ctx context.Context, transition Transition, doc *models.Document, actorID string, previous *models.Document) {
	s.recordAudit(ctx, actorID, transition.AuditAction, doc, previous, doc)

	payload := map[string]interface{}{
		"documentId":  doc.ID,
		"candidateId": doc.CandidateID,
		"concoursId":  doc.ConcoursID,
		"label":       doc.Label,
		"status":      string(doc.Status),
	}
	if doc.ReviewComment != nil {
		payload["comment"] = *doc.ReviewComment
	}

	s.notify(ctx, models.RecipientCandidate, doc.CandidateID, transition.Event, payload)
	s.publish(ctx, models.DomainEvent{
		Type:        transition.Event,
		CandidateID: doc.CandidateID,
		DocumentID:  doc.ID,
		ConcoursID:  doc.ConcoursID,
		ActorID:     actorID,
		Payload:     payload,
	})
}

func (s *DocumentService) notify(ctx context.Context, kind models.RecipientKind, recipientID string, event models.EventType, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(notifyCtx, kind, recipientID, event, payload); err != nil {
		s.log(ctx).Warn("failed to notify",
			zap.String("event", string(event)),
			zap.String("recipient_kind", string(kind)),
			zap.String("recipient_id", recipientID),
			zap.Error(err),
		)
	}
}

func (s *DocumentService) publish(ctx context.Context, event models.DomainEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.events.Publish(publishCtx, event); err != nil {
		s.log(ctx).Warn("failed to publish event",
			zap.String("event", string(event.Type)),
			zap.String("candidate_id", event.CandidateID),
			zap.String("document_id", event.DocumentID),
			zap.Error(err),
		)
	}
}

func (s *DocumentService) recordAudit(ctx context.Context, actorID, action string, doc, before, after *models.Document) {
	if s.audit == nil || action == "" {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "document",
		ResourceID: &doc.ID,
		OldValues:  auditSnapshot(before),
		NewValues:  auditSnapshot(after),
	}
	if actorID != "" {
		actor := actorID
		entry.UserID = &actor
	}
	if err := s.audit.CreateAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		s.log(ctx).Warn("failed to write audit log", zap.String("action", action), zap.String("document_id", doc.ID), zap.Error(err))
	}
}

func (s *DocumentService) log(ctx context.Context) *zap.Logger {
	return applog.WithContext(ctx, s.logger)
}

// storageError logs a failed repository call and reports it as a retryable storage failure.
func (s *DocumentService) storageError(err error, message string) error {
	s.logger.Error(message, zap.Error(err))
	return appErrors.Storage(err)
}

func (s *DocumentService) translateError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "candidate or document not found")
	case errors.Is(err, repository.ErrDuplicateLabel):
		return appErrors.Clone(appErrors.ErrDuplicateLabel, "a document with this label already exists")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return appErrors.Storage(err)
	default:
		return s.storageError(err, message)
	}
}

func auditSnapshot(doc *models.Document) []byte {
	if doc == nil {
		return nil
	}
	snapshot := map[string]interface{}{
		"label":    doc.Label,
		"status":   doc.Status,
		"fileName": doc.FileName,
		"blobRef":  doc.BlobRef,
	}
	if doc.ReviewComment != nil {
		snapshot["reviewComment"] = *doc.ReviewComment
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil
	}
	return raw
}

func mediaType(contentType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
}

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

// BlobCleanupHandler deletes blobs queued by failed synchronous deletions.
func BlobCleanupHandler(blobs blobStore, timeout time.Duration, logger *zap.Logger) jobs.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(BlobCleanupPayload)
		if !ok {
			logger.Error("unexpected cleanup payload", zap.String("job_id", job.ID))
			return nil
		}
		blobCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := blobs.Delete(blobCtx, payload.Ref); err != nil {
			return fmt.Errorf("cleanup blob %s: %w", payload.Ref, err)
		}
		logger.Info("superseded blob removed", zap.String("blob_ref", payload.Ref), zap.String("reason", payload.Reason))
		return nil
	}
}
