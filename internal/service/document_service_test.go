package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/concours-api/internal/dto"
	"github.com/noah-isme/concours-api/internal/models"
	"github.com/noah-isme/concours-api/internal/repository"
	"github.com/noah-isme/concours-api/pkg/config"
	appErrors "github.com/noah-isme/concours-api/pkg/errors"
	"github.com/noah-isme/concours-api/pkg/jobs"
)

var (
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00\x90wS\xde")
)

// memoryDocumentStore serialises transactions with one lock and restores a snapshot on error.
type memoryDocumentStore struct {
	txMu       sync.Mutex
	mu         sync.Mutex
	candidates map[string]models.Candidate
	documents  map[string]models.Document
	dossiers   map[string]models.Dossier
	failCommit error
	listErr    error
}

func newMemoryDocumentStore(candidates ...models.Candidate) *memoryDocumentStore {
	store := &memoryDocumentStore{
		candidates: make(map[string]models.Candidate),
		documents:  make(map[string]models.Document),
		dossiers:   make(map[string]models.Dossier),
	}
	for _, c := range candidates {
		store.candidates[c.ID] = c
	}
	return store
}

func (m *memoryDocumentStore) WithinTx(ctx context.Context, fn func(tx repository.DocumentTx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	docs := make(map[string]models.Document, len(m.documents))
	for k, v := range m.documents {
		docs[k] = v
	}
	dossiers := make(map[string]models.Dossier, len(m.dossiers))
	for k, v := range m.dossiers {
		dossiers[k] = v
	}
	m.mu.Unlock()

	err := fn(memoryDocumentTx{store: m})
	if err == nil {
		err = m.failCommit
	}
	if err != nil {
		m.mu.Lock()
		m.documents = docs
		m.dossiers = dossiers
		m.mu.Unlock()
	}
	return err
}

func (m *memoryDocumentStore) GetByID(ctx context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &doc, nil
}

func (m *memoryDocumentStore) ListByCandidate(ctx context.Context, candidateID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listLocked(candidateID), nil
}

func (m *memoryDocumentStore) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, doc := range m.documents {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.ConcoursID != "" && doc.ConcoursID != filter.ConcoursID {
			continue
		}
		out = append(out, doc)
	}
	return out, len(out), nil
}

func (m *memoryDocumentStore) listLocked(candidateID string) []models.Document {
	var out []models.Document
	for _, doc := range m.documents {
		if doc.CandidateID == candidateID {
			out = append(out, doc)
		}
	}
	return out
}

func (m *memoryDocumentStore) dossierCount(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, d := range m.dossiers {
		if d.DocumentID == documentID {
			count++
		}
	}
	return count
}

type memoryDocumentTx struct {
	store *memoryDocumentStore
}

func (t memoryDocumentTx) LockCandidate(ctx context.Context, candidateID string) (*models.Candidate, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	c, ok := t.store.candidates[candidateID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (t memoryDocumentTx) GetForUpdate(ctx context.Context, documentID string) (*models.Document, error) {
	return t.store.GetByID(ctx, documentID)
}

func (t memoryDocumentTx) ListByCandidate(ctx context.Context, candidateID string) ([]models.Document, error) {
	return t.store.ListByCandidate(ctx, candidateID)
}

func (t memoryDocumentTx) Create(ctx context.Context, document *models.Document) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, existing := range t.store.listLocked(document.CandidateID) {
		if normalizeLabel(existing.Label) == normalizeLabel(document.Label) {
			return repository.ErrDuplicateLabel
		}
	}
	document.UpdatedAt = document.CreatedAt
	t.store.documents[document.ID] = *document
	return nil
}

func (t memoryDocumentTx) Update(ctx context.Context, document *models.Document) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.documents[document.ID]; !ok {
		return sql.ErrNoRows
	}
	t.store.documents[document.ID] = *document
	return nil
}

func (t memoryDocumentTx) Delete(ctx context.Context, documentID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.documents[documentID]; !ok {
		return sql.ErrNoRows
	}
	delete(t.store.documents, documentID)
	return nil
}

func (t memoryDocumentTx) CreateDossier(ctx context.Context, dossier *models.Dossier) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	dossier.ID = fmt.Sprintf("dossier-%d", len(t.store.dossiers)+1)
	t.store.dossiers[dossier.ID] = *dossier
	return nil
}

func (t memoryDocumentTx) DeleteDossierByDocument(ctx context.Context, documentID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, d := range t.store.dossiers {
		if d.DocumentID == documentID {
			delete(t.store.dossiers, id)
		}
	}
	return nil
}

type memoryBlobStore struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	seq       int
	putErr    error
	deleteErr error
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{blobs: make(map[string][]byte)}
}

func (b *memoryBlobStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return "", b.putErr
	}
	b.seq++
	ref := fmt.Sprintf("blob-%d", b.seq)
	b.blobs[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (b *memoryBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[ref]
	if !ok {
		return nil, errors.New("missing blob")
	}
	return data, nil
}

func (b *memoryBlobStore) Delete(ctx context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.blobs, ref)
	return nil
}

func (b *memoryBlobStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

type notifyCall struct {
	kind      models.RecipientKind
	recipient string
	event     models.EventType
	payload   map[string]interface{}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, kind models.RecipientKind, recipientID string, event models.EventType, payload map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{kind: kind, recipient: recipientID, event: event, payload: payload})
	return n.err
}

func (n *recordingNotifier) events() []models.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.EventType, 0, len(n.calls))
	for _, c := range n.calls {
		out = append(out, c.event)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(eventType models.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type documentFixture struct {
	store     *memoryDocumentStore
	blobs     *memoryBlobStore
	notifier  *recordingNotifier
	publisher *recordingPublisher
	cleanup   *recordingQueue
	audit     *recordingAudit
	svc       *DocumentService
}

func newDocumentFixture(t *testing.T) *documentFixture {
	t.Helper()
	return newDocumentFixtureWithCatalog(t, NewDocumentCatalog([]models.CatalogEntry{
		{Label: "Acte de naissance", Kind: models.DocumentKindPDF, Required: true},
		{Label: "Photo d'identité", Kind: models.DocumentKindImage, Required: true},
		{Label: "Attestation de handicap", Kind: models.DocumentKindPDF},
	}))
}

func newDocumentFixtureWithCatalog(t *testing.T, catalog *DocumentCatalog) *documentFixture {
	t.Helper()
	fx := &documentFixture{
		store: newMemoryDocumentStore(
			models.Candidate{ID: "cand-1", UserID: "user-1", Nipcan: "NIP-001", Email: "ada@example.com", ApplicationStatus: models.ApplicationStatusDocumentsPending},
			models.Candidate{ID: "cand-2", UserID: "user-2", Nipcan: "NIP-002", ApplicationStatus: models.ApplicationStatusDocumentsPending},
		),
		blobs:     newMemoryBlobStore(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		cleanup:   &recordingQueue{},
		audit:     &recordingAudit{},
	}
	fx.svc = NewDocumentService(fx.store, candidateStoreStub{store: fx.store}, fx.blobs, fx.notifier, fx.publisher, catalog, nil,
		DocumentServiceConfig{MaxFileSize: 1024, MaxPerCandidate: 6},
		WithDocumentCleanupQueue(fx.cleanup),
		WithDocumentAudit(fx.audit),
	)
	return fx
}

func (fx *documentFixture) upload(t *testing.T, candidateID, label string) *models.Document {
	t.Helper()
	doc, err := fx.svc.Upload(context.Background(), candidateID, dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: label}, pdfUpload())
	require.NoError(t, err)
	return doc
}

type candidateStoreStub struct {
	store *memoryDocumentStore
}

func (c candidateStoreStub) GetByID(ctx context.Context, id string) (*models.Candidate, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	candidate, ok := c.store.candidates[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &candidate, nil
}

func (c candidateStoreStub) GetByUserID(ctx context.Context, userID string) (*models.Candidate, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	for _, candidate := range c.store.candidates {
		if candidate.UserID == userID {
			found := candidate
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func pdfUpload() DocumentUpload {
	return DocumentUpload{Filename: "scan.pdf", ContentType: "application/pdf", Data: pdfBytes}
}

func pngUpload() DocumentUpload {
	return DocumentUpload{Filename: "photo.png", ContentType: "image/png", Data: pngBytes}
}

func requireCode(t *testing.T, err error, target *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, appErrors.Is(err, target), "expected %s, got %v", target.Code, err)
}

func TestDocumentServiceUploadCreatesPendingDocumentAndDossier(t *testing.T) {
	fx := newDocumentFixture(t)

	doc := fx.upload(t, "cand-1", "  Acte de naissance ")

	assert.Equal(t, models.DocumentStatusPending, doc.Status)
	assert.Equal(t, "Acte de naissance", doc.Label)
	assert.Equal(t, models.DocumentKindPDF, doc.Kind)
	assert.Equal(t, "application/pdf", doc.MimeType)
	assert.Equal(t, 1, fx.store.dossierCount(doc.ID))
	assert.Equal(t, 1, fx.blobs.count())
	assert.Equal(t, []models.EventType{models.EventDocumentSubmitted}, fx.notifier.events())
	assert.Equal(t, models.RecipientCandidate, fx.notifier.calls[0].kind)
	assert.Equal(t, "cand-1", fx.notifier.calls[0].recipient)
	assert.Equal(t, 1, fx.publisher.count(models.EventDocumentSubmitted))
	assert.Equal(t, []string{models.AuditActionDocumentUpload}, fx.audit.actions())
}

func TestDocumentServiceUploadRejectsInvalidFiles(t *testing.T) {
	fx := newDocumentFixture(t)
	req := dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: "Diplôme"}

	cases := map[string]struct {
		upload DocumentUpload
		want   *appErrors.Error
	}{
		"extension":    {upload: DocumentUpload{Filename: "cv.docx", Data: pdfBytes}, want: appErrors.ErrInvalidFileType},
		"content type": {upload: DocumentUpload{Filename: "scan.pdf", ContentType: "text/html", Data: pdfBytes}, want: appErrors.ErrInvalidFileType},
		"sniffed":      {upload: DocumentUpload{Filename: "scan.pdf", Data: []byte("plain text pretending")}, want: appErrors.ErrInvalidFileType},
		"too large":    {upload: DocumentUpload{Filename: "scan.pdf", Data: make([]byte, 2048)}, want: appErrors.ErrFileTooLarge},
		"empty":        {upload: DocumentUpload{Filename: "scan.pdf"}, want: appErrors.ErrValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fx.svc.Upload(context.Background(), "cand-1", req, tc.upload)
			requireCode(t, err, tc.want)
		})
	}
	assert.Zero(t, fx.blobs.count())
	assert.Empty(t, fx.notifier.events())
}

func TestDocumentServiceUploadEnforcesCatalogKind(t *testing.T) {
	fx := newDocumentFixture(t)

	_, err := fx.svc.Upload(context.Background(), "cand-1", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: "photo d'identité"}, pdfUpload())
	requireCode(t, err, appErrors.ErrInvalidFileType)

	doc, err := fx.svc.Upload(context.Background(), "cand-1", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: "photo d'identité"}, pngUpload())
	require.NoError(t, err)
	assert.Equal(t, models.DocumentKindImage, doc.Kind)
}

func TestDocumentServiceUploadDuplicateLabelIsCaseInsensitive(t *testing.T) {
	fx := newDocumentFixture(t)
	fx.upload(t, "cand-1", "Diplôme")

	_, err := fx.svc.Upload(context.Background(), "cand-1", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: " DIPLÔME "}, pdfUpload())
	requireCode(t, err, appErrors.ErrDuplicateLabel)

	fx.upload(t, "cand-2", "Diplôme")
}

func TestDocumentServiceUploadUnknownCandidate(t *testing.T) {
	fx := newDocumentFixture(t)

	_, err := fx.svc.Upload(context.Background(), "ghost", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: "Diplôme"}, pdfUpload())
	requireCode(t, err, appErrors.ErrNotFound)
	assert.Zero(t, fx.blobs.count(), "compensating delete removes the orphan blob")
}

func TestDocumentServiceUploadRollsBackBlobOnCommitFailure(t *testing.T) {
	fx := newDocumentFixture(t)
	fx.store.failCommit = errors.New("connection reset")

	_, err := fx.svc.Upload(context.Background(), "cand-1", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: "Diplôme"}, pdfUpload())
	requireCode(t, err, appErrors.ErrStorageFailure)
	assert.Zero(t, fx.blobs.count())
	docs, _ := fx.store.ListByCandidate(context.Background(), "cand-1")
	assert.Empty(t, docs)
	assert.Empty(t, fx.notifier.events())
}

func TestDocumentServiceUploadStorageFailure(t *testing.T) {
	fx := newDocumentFixture(t)
	fx.blobs.putErr = errors.New("azure unavailable")

	_, err := fx.svc.Upload(context.Background(), "cand-1", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: "Diplôme"}, pdfUpload())
	requireCode(t, err, appErrors.ErrStorageFailure)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrStorageFailure.Message, appErr.Message)
}

// The sixth upload succeeds and the seventh hits the cap.
func TestDocumentServiceCapAtSix(t *testing.T) {
	fx := newDocumentFixture(t)
	for i := 1; i <= 6; i++ {
		fx.upload(t, "cand-1", fmt.Sprintf("Doc %d", i))
	}

	_, err := fx.svc.Upload(context.Background(), "cand-1", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: "Doc 7"}, pdfUpload())
	requireCode(t, err, appErrors.ErrLimitExceeded)
	assert.Equal(t, 6, fx.blobs.count())
}

func TestDocumentServiceCapUnderConcurrency(t *testing.T) {
	fx := newDocumentFixture(t)
	for i := 1; i <= 5; i++ {
		fx.upload(t, "cand-1", fmt.Sprintf("Doc %d", i))
	}

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		limited   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fx.svc.Upload(context.Background(), "cand-1", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: fmt.Sprintf("Extra %d", i)}, pdfUpload())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if appErrors.Is(err, appErrors.ErrLimitExceeded) {
				limited++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, limited)
	docs, _ := fx.store.ListByCandidate(context.Background(), "cand-1")
	assert.Len(t, docs, 6)
	assert.Equal(t, 6, fx.blobs.count(), "losing uploads remove their blobs")
}

// Reject then replace returns to pending with the review cleared.
func TestDocumentServiceRejectThenReplace(t *testing.T) {
	fx := newDocumentFixture(t)
	doc := fx.upload(t, "cand-1", "Acte de naissance")
	oldRef := doc.BlobRef

	rejected, err := fx.svc.Reject(context.Background(), doc.ID, "admin-1", "illisible")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusRejected, rejected.Status)
	require.NotNil(t, rejected.ReviewComment)
	assert.Equal(t, "illisible", *rejected.ReviewComment)
	assert.Equal(t, "admin-1", *rejected.ReviewedBy)

	replaced, err := fx.svc.Replace(context.Background(), doc.ID, "cand-1", pdfUpload())
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusPending, replaced.Status)
	assert.Nil(t, replaced.ReviewComment)
	assert.Nil(t, replaced.ReviewedBy)
	assert.Nil(t, replaced.ReviewedAt)
	assert.NotEqual(t, oldRef, replaced.BlobRef)
	assert.Equal(t, 1, fx.blobs.count(), "superseded blob is removed")

	assert.Equal(t, []models.EventType{
		models.EventDocumentSubmitted,
		models.EventDocumentRejected,
		models.EventDocumentResubmitted,
	}, fx.notifier.events())
	assert.Equal(t, models.RecipientCandidate, fx.notifier.calls[1].kind)
	assert.Equal(t, "illisible", fx.notifier.calls[1].payload["comment"])
	assert.Equal(t, models.RecipientCandidate, fx.notifier.calls[2].kind)
	assert.Equal(t, "cand-1", fx.notifier.calls[2].recipient)
}

func TestDocumentServiceReplaceQueuesCleanupWhenDeleteFails(t *testing.T) {
	fx := newDocumentFixture(t)
	doc := fx.upload(t, "cand-1", "Acte de naissance")
	fx.blobs.deleteErr = errors.New("timeout")

	_, err := fx.svc.Replace(context.Background(), doc.ID, "cand-1", pdfUpload())
	require.NoError(t, err)

	require.Len(t, fx.cleanup.jobs, 1)
	job := fx.cleanup.jobs[0]
	assert.Equal(t, jobs.TypeBlobCleanup, job.Type)
	assert.Equal(t, doc.BlobRef, job.Payload.(BlobCleanupPayload).Ref)
}

// Validated documents are frozen for the candidate.
func TestDocumentServiceValidatedDocumentIsImmutable(t *testing.T) {
	fx := newDocumentFixture(t)
	doc := fx.upload(t, "cand-1", "Acte de naissance")
	_, err := fx.svc.Validate(context.Background(), doc.ID, "admin-1", "")
	require.NoError(t, err)

	_, err = fx.svc.Replace(context.Background(), doc.ID, "cand-1", pdfUpload())
	requireCode(t, err, appErrors.ErrInvalidState)

	err = fx.svc.Delete(context.Background(), doc.ID, "cand-1")
	requireCode(t, err, appErrors.ErrInvalidState)

	stored, err := fx.store.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusValidated, stored.Status)
	assert.Equal(t, doc.BlobRef, stored.BlobRef)
}

func TestDocumentServiceReviewOnlyFromPending(t *testing.T) {
	fx := newDocumentFixture(t)
	doc := fx.upload(t, "cand-1", "Acte de naissance")
	_, err := fx.svc.Reject(context.Background(), doc.ID, "admin-1", "flou")
	require.NoError(t, err)

	_, err = fx.svc.Validate(context.Background(), doc.ID, "admin-1", "")
	requireCode(t, err, appErrors.ErrInvalidState)
	_, err = fx.svc.Reject(context.Background(), doc.ID, "admin-1", "encore")
	requireCode(t, err, appErrors.ErrInvalidState)

	_, err = fx.svc.Validate(context.Background(), "missing", "admin-1", "")
	requireCode(t, err, appErrors.ErrNotFound)
}

// A blank reject comment changes nothing.
func TestDocumentServiceRejectRequiresComment(t *testing.T) {
	fx := newDocumentFixture(t)
	doc := fx.upload(t, "cand-1", "Acte de naissance")

	_, err := fx.svc.Reject(context.Background(), doc.ID, "admin-1", "   ")
	requireCode(t, err, appErrors.ErrMissingComment)

	stored, _ := fx.store.GetByID(context.Background(), doc.ID)
	assert.Equal(t, models.DocumentStatusPending, stored.Status)
	assert.Len(t, fx.notifier.events(), 1)
}

// The last validation completes the dossier exactly once.
func TestDocumentServiceCompletenessEventFiresOnce(t *testing.T) {
	fx := newDocumentFixture(t)
	birth := fx.upload(t, "cand-1", "Acte de naissance")
	photo, err := fx.svc.Upload(context.Background(), "cand-1", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: "Photo d'identité"}, pngUpload())
	require.NoError(t, err)

	_, err = fx.svc.Validate(context.Background(), birth.ID, "admin-1", "")
	require.NoError(t, err)
	assert.Zero(t, fx.publisher.count(models.EventCandidateDocumentsComplete))

	_, err = fx.svc.Validate(context.Background(), photo.ID, "admin-1", "ok")
	require.NoError(t, err)
	assert.Equal(t, 1, fx.publisher.count(models.EventCandidateDocumentsComplete))

	fx.publisher.mu.Lock()
	var complete models.DomainEvent
	for _, e := range fx.publisher.events {
		if e.Type == models.EventCandidateDocumentsComplete {
			complete = e
		}
	}
	fx.publisher.mu.Unlock()
	assert.Equal(t, "cand-1", complete.CandidateID)
	assert.Equal(t, "NIP-001", complete.Payload["nipcan"])
}

func TestDocumentServiceCompletenessRequiresCatalog(t *testing.T) {
	fx := newDocumentFixture(t)
	birth := fx.upload(t, "cand-1", "Acte de naissance")

	_, err := fx.svc.Validate(context.Background(), birth.ID, "admin-1", "")
	require.NoError(t, err)
	assert.Zero(t, fx.publisher.count(models.EventCandidateDocumentsComplete), "photo still missing")
}

func TestDocumentServiceCompletenessConcurrentValidation(t *testing.T) {
	fx := newDocumentFixture(t)
	birth := fx.upload(t, "cand-1", "Acte de naissance")
	photo, err := fx.svc.Upload(context.Background(), "cand-1", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: "Photo d'identité"}, pngUpload())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []string{birth.ID, photo.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := fx.svc.Validate(context.Background(), id, "admin-1", "")
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, fx.publisher.count(models.EventCandidateDocumentsComplete))
}

func TestDocumentServiceSkipsCompletenessForAdvancedCandidate(t *testing.T) {
	fx := newDocumentFixture(t)
	birth := fx.upload(t, "cand-1", "Acte de naissance")
	photo, err := fx.svc.Upload(context.Background(), "cand-1", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: "Photo d'identité"}, pngUpload())
	require.NoError(t, err)
	fx.store.mu.Lock()
	c := fx.store.candidates["cand-1"]
	c.ApplicationStatus = models.ApplicationStatusDocumentsValidated
	fx.store.candidates["cand-1"] = c
	fx.store.mu.Unlock()

	_, err = fx.svc.Validate(context.Background(), birth.ID, "admin-1", "")
	require.NoError(t, err)
	_, err = fx.svc.Validate(context.Background(), photo.ID, "admin-1", "")
	require.NoError(t, err)
	assert.Zero(t, fx.publisher.count(models.EventCandidateDocumentsComplete))
}

func TestDocumentServiceDeleteRemovesDossierDocumentAndBlob(t *testing.T) {
	fx := newDocumentFixture(t)
	doc := fx.upload(t, "cand-1", "Acte de naissance")

	err := fx.svc.Delete(context.Background(), doc.ID, "cand-2")
	requireCode(t, err, appErrors.ErrForbidden)

	require.NoError(t, fx.svc.Delete(context.Background(), doc.ID, "cand-1"))
	_, err = fx.store.GetByID(context.Background(), doc.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.Zero(t, fx.store.dossierCount(doc.ID))
	assert.Zero(t, fx.blobs.count())
	assert.Equal(t, []models.EventType{models.EventDocumentSubmitted}, fx.notifier.events())
	assert.Contains(t, fx.audit.actions(), models.AuditActionDocumentDelete)
}

func TestDocumentServiceReplaceByOtherCandidateForbidden(t *testing.T) {
	fx := newDocumentFixture(t)
	doc := fx.upload(t, "cand-1", "Acte de naissance")

	_, err := fx.svc.Replace(context.Background(), doc.ID, "cand-2", pdfUpload())
	requireCode(t, err, appErrors.ErrForbidden)
	assert.Equal(t, 1, fx.blobs.count())
}

func TestDocumentServiceNotifierFailureDoesNotRollBack(t *testing.T) {
	fx := newDocumentFixture(t)
	fx.notifier.err = errors.New("smtp down")

	doc := fx.upload(t, "cand-1", "Acte de naissance")
	stored, err := fx.store.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusPending, stored.Status)
}

func TestDocumentServiceListForCandidateReportsCompleteness(t *testing.T) {
	fx := newDocumentFixture(t)
	fx.upload(t, "cand-1", "acte de naissance")

	resp, err := fx.svc.ListForCandidate(context.Background(), "cand-1")
	require.NoError(t, err)
	assert.Len(t, resp.Documents, 1)
	assert.Equal(t, 6, resp.Limit)
	assert.False(t, resp.Completeness.AllPresent)
	require.Len(t, resp.Completeness.Missing, 1)
	assert.Equal(t, "Photo d'identité", resp.Completeness.Missing[0].Label)

	_, err = fx.svc.ListForCandidate(context.Background(), "ghost")
	requireCode(t, err, appErrors.ErrNotFound)
}

func TestDocumentServiceFirstUploadLeavesDefaultCatalogIncomplete(t *testing.T) {
	entries, err := config.ParseCatalog("")
	require.NoError(t, err)
	fx := newDocumentFixtureWithCatalog(t, CatalogFromConfig(entries))

	doc := fx.upload(t, "cand-1", "Acte de naissance")
	assert.Equal(t, models.DocumentStatusPending, doc.Status)

	resp, err := fx.svc.ListForCandidate(context.Background(), "cand-1")
	require.NoError(t, err)
	assert.False(t, resp.Completeness.AllPresent)
	missing := make([]string, 0, len(resp.Completeness.Missing))
	for _, entry := range resp.Completeness.Missing {
		missing = append(missing, entry.Label)
	}
	assert.ElementsMatch(t, []string{"Diplôme du baccalauréat", "Photo d'identité", "Pièce d'identité"}, missing)
}

func TestDocumentServiceRepositoryFailureIsRetryable(t *testing.T) {
	fx := newDocumentFixture(t)
	fx.store.listErr = errors.New("connection refused")

	_, err := fx.svc.ListForCandidate(context.Background(), "cand-1")
	requireCode(t, err, appErrors.ErrStorageFailure)
	assert.Equal(t, appErrors.ErrStorageFailure.Message, appErrors.FromError(err).Message)

	_, err = fx.svc.Upload(context.Background(), "cand-1", dto.UploadDocumentRequest{ConcoursID: "conc-1", Label: "Diplôme"}, pdfUpload())
	requireCode(t, err, appErrors.ErrStorageFailure)
	assert.Zero(t, fx.blobs.count())
}

func TestDocumentServiceListForReviewNormalisesStatus(t *testing.T) {
	fx := newDocumentFixture(t)
	doc := fx.upload(t, "cand-1", "Acte de naissance")
	fx.upload(t, "cand-1", "Diplôme")
	_, err := fx.svc.Validate(context.Background(), doc.ID, "admin-1", "")
	require.NoError(t, err)

	resp, err := fx.svc.ListForReview(context.Background(), dto.DocumentReviewQuery{Status: "Validé"})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, doc.ID, resp.Items[0].ID)

	resp, err = fx.svc.ListForReview(context.Background(), dto.DocumentReviewQuery{})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 1)
	assert.Equal(t, 1, resp.Pagination.Page)
	assert.Equal(t, 20, resp.Pagination.PageSize)

	_, err = fx.svc.ListForReview(context.Background(), dto.DocumentReviewQuery{Status: "archived"})
	requireCode(t, err, appErrors.ErrValidation)
}

func TestDocumentServiceDownloadAuthorisation(t *testing.T) {
	fx := newDocumentFixture(t)
	doc := fx.upload(t, "cand-1", "Acte de naissance")

	owner := &models.JWTClaims{UserID: "user-1", Role: models.RoleCandidate}
	got, err := fx.svc.Download(context.Background(), doc.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, got.Data)

	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	_, err = fx.svc.Download(context.Background(), doc.ID, admin)
	require.NoError(t, err)

	stranger := &models.JWTClaims{UserID: "user-2", Role: models.RoleCandidate}
	_, err = fx.svc.Download(context.Background(), doc.ID, stranger)
	requireCode(t, err, appErrors.ErrForbidden)

	orphan := &models.JWTClaims{UserID: "nobody", Role: models.RoleCandidate}
	_, err = fx.svc.Download(context.Background(), doc.ID, orphan)
	requireCode(t, err, appErrors.ErrForbidden)
}

type signerStub struct {
	docID string
	err   error
}

func (s signerStub) Generate(documentID, actorID string) (string, time.Time, error) {
	return "tok-" + documentID, time.Unix(1700000000, 0), nil
}

func (s signerStub) Parse(token string) (string, string, error) {
	return s.docID, "user-1", s.err
}

func TestDocumentServiceSignedDownload(t *testing.T) {
	fx := newDocumentFixture(t)
	doc := fx.upload(t, "cand-1", "Acte de naissance")
	WithDocumentSigner(signerStub{docID: doc.ID})(fx.svc)

	resp, err := fx.svc.DownloadURL(context.Background(), doc.ID, &models.JWTClaims{UserID: "user-1", Role: models.RoleCandidate})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/documents/"+doc.ID+"/download?token=tok-"+doc.ID, resp.URL)

	got, err := fx.svc.DownloadWithToken(context.Background(), doc.ID, "tok")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.Document.ID)

	_, err = fx.svc.DownloadWithToken(context.Background(), "other", "tok")
	requireCode(t, err, appErrors.ErrForbidden)

	WithDocumentSigner(signerStub{err: errors.New("expired")})(fx.svc)
	_, err = fx.svc.DownloadWithToken(context.Background(), doc.ID, "tok")
	requireCode(t, err, appErrors.ErrForbidden)
}

func TestBlobCleanupHandler(t *testing.T) {
	blobs := newMemoryBlobStore()
	ref, err := blobs.Put(context.Background(), []byte("x"), "application/pdf")
	require.NoError(t, err)
	handler := BlobCleanupHandler(blobs, time.Second, nil)

	require.NoError(t, handler(context.Background(), jobs.Job{Payload: BlobCleanupPayload{Ref: ref}}))
	assert.Zero(t, blobs.count())

	blobs.deleteErr = errors.New("still down")
	assert.Error(t, handler(context.Background(), jobs.Job{Payload: BlobCleanupPayload{Ref: ref}}))
	assert.NoError(t, handler(context.Background(), jobs.Job{Payload: "garbage"}))
}

func TestResolveCandidateID(t *testing.T) {
	fx := newDocumentFixture(t)

	id, err := fx.svc.ResolveCandidateID(context.Background(), &models.JWTClaims{UserID: "user-2"})
	require.NoError(t, err)
	assert.Equal(t, "cand-2", id)

	id, err = fx.svc.ResolveCandidateID(context.Background(), &models.JWTClaims{UserID: "x", CandidateID: "cand-9"})
	require.NoError(t, err)
	assert.Equal(t, "cand-9", id)

	_, err = fx.svc.ResolveCandidateID(context.Background(), nil)
	requireCode(t, err, appErrors.ErrUnauthorized)
}
