package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/concours-api/internal/models"
)

// ErrDuplicateLabel is returned when the per-candidate label index rejects an insert.
var ErrDuplicateLabel = errors.New("duplicate document label")

const documentLabelIndex = "documents_candidate_label_uq"

const documentColumns = `id, candidate_id, concours_id, label, kind, blob_ref, file_name, mime_type, size_bytes,
	status, review_comment, reviewed_by, reviewed_at, created_at, updated_at`

// DocumentTx is the unit of work handed to WithinTx callbacks. Every call runs on the
// same database transaction.
type DocumentTx interface {
	LockCandidate(ctx context.Context, candidateID string) (*models.Candidate, error)
	GetForUpdate(ctx context.Context, documentID string) (*models.Document, error)
	ListByCandidate(ctx context.Context, candidateID string) ([]models.Document, error)
	Create(ctx context.Context, document *models.Document) error
	Update(ctx context.Context, document *models.Document) error
	Delete(ctx context.Context, documentID string) error
	CreateDossier(ctx context.Context, dossier *models.Dossier) error
	DeleteDossierByDocument(ctx context.Context, documentID string) error
}

// DocumentRepository persists documents and their dossier links.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// WithinTx runs fn inside a single transaction, committing when fn returns nil.
func (r *DocumentRepository) WithinTx(ctx context.Context, fn func(tx DocumentTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin document transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&documentTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit document transaction: %w", err)
	}
	return nil
}

// GetByID fetches a document by identifier.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	var document models.Document
	if err := r.db.GetContext(ctx, &document, query, id); err != nil {
		return nil, err
	}
	return &document, nil
}

// ListByCandidate returns the candidate's documents oldest first.
func (r *DocumentRepository) ListByCandidate(ctx context.Context, candidateID string) ([]models.Document, error) {
	return listByCandidate(ctx, r.db, candidateID)
}

// List returns documents matching filter (most recently updated first) and the total count.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	where := strings.Builder{}
	where.WriteString(" WHERE 1=1")
	args := []interface{}{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&where, " AND status = $%d", len(args))
	}
	if filter.ConcoursID != "" {
		args = append(args, filter.ConcoursID)
		fmt.Fprintf(&where, " AND concours_id = $%d", len(args))
	}
	if filter.CandidateID != "" {
		args = append(args, filter.CandidateID)
		fmt.Fprintf(&where, " AND candidate_id = $%d", len(args))
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM documents"+where.String(), args...); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := "SELECT " + documentColumns + " FROM documents" + where.String() +
		fmt.Sprintf(" ORDER BY updated_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var documents []models.Document
	if err := r.db.SelectContext(ctx, &documents, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return documents, total, nil
}

type documentTx struct {
	tx *sqlx.Tx
}

func (t *documentTx) LockCandidate(ctx context.Context, candidateID string) (*models.Candidate, error) {
	const query = `SELECT id, user_id, nipcan, email, full_name, application_status, created_at, updated_at
	FROM candidates WHERE id = $1 FOR UPDATE`
	var candidate models.Candidate
	if err := t.tx.GetContext(ctx, &candidate, query, candidateID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock candidate: %w", err)
	}
	return &candidate, nil
}

func (t *documentTx) GetForUpdate(ctx context.Context, documentID string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 FOR UPDATE`
	var document models.Document
	if err := t.tx.GetContext(ctx, &document, query, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock document: %w", err)
	}
	return &document, nil
}

func (t *documentTx) ListByCandidate(ctx context.Context, candidateID string) ([]models.Document, error) {
	return listByCandidate(ctx, t.tx, candidateID)
}

func (t *documentTx) Create(ctx context.Context, document *models.Document) error {
	if document.ID == "" {
		document.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if document.CreatedAt.IsZero() {
		document.CreatedAt = now
	}
	document.UpdatedAt = document.CreatedAt
	if document.Status == "" {
		document.Status = models.DocumentStatusPending
	}
	const query = `INSERT INTO documents
	(id, candidate_id, concours_id, label, kind, blob_ref, file_name, mime_type, size_bytes, status, review_comment, reviewed_by, reviewed_at, created_at, updated_at)
	VALUES (:id, :candidate_id, :concours_id, :label, :kind, :blob_ref, :file_name, :mime_type, :size_bytes, :status, :review_comment, :reviewed_by, :reviewed_at, :created_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, document); err != nil {
		if isUniqueViolation(err, documentLabelIndex) {
			return ErrDuplicateLabel
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (t *documentTx) Update(ctx context.Context, document *models.Document) error {
	document.UpdatedAt = time.Now().UTC()
	const query = `UPDATE documents SET kind = :kind, blob_ref = :blob_ref, file_name = :file_name, mime_type = :mime_type,
	size_bytes = :size_bytes, status = :status, review_comment = :review_comment, reviewed_by = :reviewed_by,
	reviewed_at = :reviewed_at, updated_at = :updated_at
	WHERE id = :id`
	result, err := t.tx.NamedExecContext(ctx, query, document)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (t *documentTx) Delete(ctx context.Context, documentID string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (t *documentTx) CreateDossier(ctx context.Context, dossier *models.Dossier) error {
	if dossier.ID == "" {
		dossier.ID = uuid.NewString()
	}
	if dossier.CreatedAt.IsZero() {
		dossier.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO dossiers (id, document_id, candidate_id, concours_id, nipcan, created_at)
	VALUES (:id, :document_id, :candidate_id, :concours_id, :nipcan, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, dossier); err != nil {
		return fmt.Errorf("create dossier: %w", err)
	}
	return nil
}

func (t *documentTx) DeleteDossierByDocument(ctx context.Context, documentID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM dossiers WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete dossier: %w", err)
	}
	return nil
}

func listByCandidate(ctx context.Context, q sqlx.QueryerContext, candidateID string) ([]models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE candidate_id = $1 ORDER BY created_at ASC, id ASC`
	var documents []models.Document
	if err := sqlx.SelectContext(ctx, q, &documents, query, candidateID); err != nil {
		return nil, fmt.Errorf("list candidate documents: %w", err)
	}
	return documents, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}
