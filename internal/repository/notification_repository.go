package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/concours-api/internal/models"
)

// NotificationRepository stores inbox notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification row.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	if len(notification.Payload) == 0 {
		notification.Payload = []byte("{}")
	}
	const query = `INSERT INTO notifications (id, recipient_kind, recipient_id, event_type, title, body, payload, read_at, created_at)
	VALUES (:id, :recipient_kind, :recipient_id, :event_type, :title, :body, :payload, :read_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// List returns inbox entries newest first together with the total count.
// An empty RecipientID on the admin inbox lists the shared admin queue.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := strings.Builder{}
	where.WriteString(" WHERE recipient_kind = $1")
	args := []interface{}{filter.RecipientKind}
	if filter.RecipientID != "" {
		args = append(args, filter.RecipientID)
		fmt.Fprintf(&where, " AND recipient_id = $%d", len(args))
	}
	if filter.UnreadOnly {
		where.WriteString(" AND read_at IS NULL")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM notifications"+where.String(), args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, recipient_kind, recipient_id, event_type, title, body, payload, read_at, created_at FROM notifications` +
		where.String() + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, filter.Offset)

	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return items, total, nil
}

// MarkRead stamps read_at on a notification owned by the given inbox.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string, kind models.RecipientKind, recipientID string) error {
	query := `UPDATE notifications SET read_at = COALESCE(read_at, $1) WHERE id = $2 AND recipient_kind = $3`
	args := []interface{}{time.Now().UTC(), id, kind}
	if recipientID != "" {
		query += " AND recipient_id = $4"
		args = append(args, recipientID)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
