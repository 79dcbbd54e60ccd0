package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	NotificationInfo  = "info"
	NotificationWarn  = "warn"
	NotificationError = "error"
)

// CreateNotification queues a user-visible event for the org. The insert
// fires the notify_org_event trigger, which the bus listener fans out.
func (s *Store) CreateNotification(ctx context.Context, orgID, typ, title, message, relatedID string) (*Notification, error) {
	n := &Notification{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Type:      typ,
		Title:     title,
		Message:   message,
		RelatedID: relatedID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, org_id, type, title, message, related_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), false, $7)`,
		n.ID, n.OrgID, n.Type, n.Title, n.Message, n.RelatedID, n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns the newest notifications for an org.
func (s *Store) ListNotifications(ctx context.Context, orgID string, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, type, title, message, COALESCE(related_id, ''), is_read, created_at
		FROM notifications WHERE org_id = $1
		ORDER BY created_at DESC LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.OrgID, &n.Type, &n.Title, &n.Message,
			&n.RelatedID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// UnreadNotificationCount counts unread rows for badge rendering.
func (s *Store) UnreadNotificationCount(ctx context.Context, orgID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE org_id = $1 AND is_read = false`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// MarkNotificationRead flags one notification.
func (s *Store) MarkNotificationRead(ctx context.Context, orgID, notificationID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = true WHERE id = $1 AND org_id = $2`,
		notificationID, orgID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return requireRow(res, "notification not found")
}

// MarkAllNotificationsRead flags every unread notification for the org.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, orgID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = true WHERE org_id = $1 AND is_read = false`, orgID)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

// RecordTxEvent appends a provider-call rollup row used by dashboards.
func (s *Store) RecordTxEvent(ctx context.Context, orgID string, success bool, latencyMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tx_events (id, org_id, success, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		uuid.NewString(), orgID, success, latencyMs)
	if err != nil {
		return fmt.Errorf("record tx event: %w", err)
	}
	return nil
}

// TxEventStats aggregates success/failure counts and average latency since
// the cutoff.
func (s *Store) TxEventStats(ctx context.Context, orgID string, since time.Time) (total, failed int, avgLatencyMs float64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT success),
		       COALESCE(AVG(latency_ms), 0)
		FROM tx_events WHERE org_id = $1 AND created_at >= $2`,
		orgID, since).Scan(&total, &failed, &avgLatencyMs)
	if err != nil {
		err = fmt.Errorf("tx event stats: %w", err)
	}
	return
}
