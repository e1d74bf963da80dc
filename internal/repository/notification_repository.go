package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumina-health/portalsync/internal/realtime"
	"github.com/lumina-health/portalsync/pkg/logger"
)

// NotificationRepository handles notification row access. After a
// confirmed insert it publishes a row-change event so other clients of
// the same user pick the row up without polling.
type NotificationRepository struct {
	db        *pgxpool.Pool
	publisher realtime.Publisher
	log       *logger.Logger
}

// NewNotificationRepository creates a new notification repository.
// publisher may be nil when no realtime fan-out is wanted.
func NewNotificationRepository(db *pgxpool.Pool, publisher realtime.Publisher, log *logger.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, publisher: publisher, log: log}
}

const notificationColumns = `id, user_id, title, message, notification_type, priority,
	   is_read, action_url, metadata, created_at`

func scanNotification(row interface{ Scan(dest ...any) error }) (*Notification, error) {
	n := &Notification{}
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Title,
		&n.Message,
		&n.NotificationType,
		&n.Priority,
		&n.IsRead,
		&n.ActionURL,
		&n.Metadata,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ListRecent retrieves the most recent notifications for a user,
// newest first
func (r *NotificationRepository) ListRecent(ctx context.Context, userID string, limit int) ([]Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, translate(err, "failed to list notifications")
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, translate(err, "failed to scan notification")
		}
		notifications = append(notifications, *n)
	}

	return notifications, rows.Err()
}

// CountUnread counts a user's unread notifications server-side,
// independent of any cached list
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = false`

	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, translate(err, "failed to count unread notifications")
	}

	return count, nil
}

// MarkRead flips a single notification to read
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	query := `UPDATE notifications SET is_read = true WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return translate(err, fmt.Sprintf("failed to mark notification %s read", id))
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError("notification", id)
	}

	return nil
}

// MarkAllRead flips every unread notification belonging to the user
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	query := `UPDATE notifications SET is_read = true WHERE user_id = $1 AND is_read = false`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return translate(err, "failed to mark all notifications read")
	}

	return nil
}

// Delete removes a notification row
func (r *NotificationRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM notifications WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return translate(err, fmt.Sprintf("failed to delete notification %s", id))
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError("notification", id)
	}

	return nil
}

// Insert creates a notification row, minting the ID client-side, and
// publishes the insert to the realtime channel. Publish failure is
// logged but does not fail the write.
func (r *NotificationRepository) Insert(ctx context.Context, n *Notification) error {
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO notifications (
			id, user_id, title, message, notification_type, priority,
			is_read, action_url, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Exec(ctx, query,
		n.ID, n.UserID, n.Title, n.Message, n.NotificationType, n.Priority,
		n.IsRead, n.ActionURL, n.Metadata, n.CreatedAt,
	)
	if err != nil {
		return translate(err, "failed to create notification")
	}

	if r.publisher != nil {
		row, err := json.Marshal(n)
		if err == nil {
			err = r.publisher.Publish("notifications", n.UserID, realtime.ChangeEvent{
				Table: "notifications",
				Type:  realtime.ChangeInsert,
				Row:   row,
			})
		}
		if err != nil {
			r.log.Warn().Err(err).Str("notification_id", n.ID).Msg("Failed to publish notification insert")
		}
	}

	return nil
}
