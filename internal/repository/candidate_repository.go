package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/concours-api/internal/models"
)

const candidateColumns = `id, user_id, nipcan, email, full_name, application_status, created_at, updated_at`

// CandidateRepository reads candidates and advances their application status.
type CandidateRepository struct {
	db *sqlx.DB
}

// NewCandidateRepository constructs the repository.
func NewCandidateRepository(db *sqlx.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

// GetByID fetches a candidate by identifier.
func (r *CandidateRepository) GetByID(ctx context.Context, id string) (*models.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates WHERE id = $1`
	var candidate models.Candidate
	if err := r.db.GetContext(ctx, &candidate, query, id); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// GetByUserID resolves the candidate owned by an authenticated user.
func (r *CandidateRepository) GetByUserID(ctx context.Context, userID string) (*models.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM candidates WHERE user_id = $1`
	var candidate models.Candidate
	if err := r.db.GetContext(ctx, &candidate, query, userID); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// AdvanceStatus moves a candidate from one application status to the next. It returns
// sql.ErrNoRows when the candidate is not in the expected status.
func (r *CandidateRepository) AdvanceStatus(ctx context.Context, id string, from, to models.ApplicationStatus) error {
	const query = `UPDATE candidates SET application_status = $1, updated_at = $2
	WHERE id = $3 AND application_status = $4`
	result, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("advance candidate status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance candidate status rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
