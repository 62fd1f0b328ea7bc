package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

var _ ports.NotificationRepository = (*NotificationRepository)(nil)

func NewNotificationRepository(pool *pgxpool.Pool) ports.NotificationRepository {
	return &NotificationRepository{pool: pool}
}

const notificationSelect = `
	SELECT n.id, n.seq, n.recipient_id, n.related_entity_type, n.related_entity_id,
	       n.title, n.content, n.is_read, n.created_at,
	       s.id, s.full_name, s.avatar_url
	FROM notifications n
	LEFT JOIN users s ON s.id = n.sender_id`

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n            domain.Notification
		entityType   string
		entityID     pgtype.Text
		senderID     pgtype.UUID
		senderName   pgtype.Text
		senderAvatar pgtype.Text
	)
	err := row.Scan(&n.ID, &n.Seq, &n.RecipientID, &entityType, &entityID,
		&n.Title, &n.Content, &n.IsRead, &n.CreatedAt,
		&senderID, &senderName, &senderAvatar)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotificationNotFound
		}
		return nil, err
	}

	n.RelatedEntityType = domain.RelatedEntityType(entityType)
	n.RelatedEntityID = fromText(entityID)
	if senderID.Valid {
		n.Sender = &domain.UserInfo{
			ID:        senderID.Bytes,
			FullName:  fromText(senderName),
			AvatarURL: fromText(senderAvatar),
		}
	}
	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	defer rows.Close()
	out := make([]*domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Create inserts the notification and re-reads it so the caller gets the
// assigned seq and the sender projection.
func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	var senderID uuid.UUID
	if n.Sender != nil {
		senderID = n.Sender.ID
	}

	q := GetDBTX(ctx, r.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO notifications
			(id, recipient_id, sender_id, related_entity_type, related_entity_id, title, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.RecipientID, toUUID(senderID), string(n.RelatedEntityType), toText(n.RelatedEntityID),
		n.Title, n.Content, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return r.GetByID(ctx, n.ID)
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	q := GetDBTX(ctx, r.pool)
	return scanNotification(q.QueryRow(ctx, notificationSelect+` WHERE n.id = $1`, id))
}

func (r *NotificationRepository) ListByRecipient(ctx context.Context, params ports.ListNotificationsParams) ([]*domain.Notification, error) {
	q := GetDBTX(ctx, r.pool)
	rows, err := q.Query(ctx, notificationSelect+`
		WHERE n.recipient_id = $1
		ORDER BY n.seq DESC
		LIMIT $2 OFFSET $3`, params.RecipientID, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return collectNotifications(rows)
}

func (r *NotificationRepository) ListAfterSeq(ctx context.Context, recipientID uuid.UUID, afterSeq int64, limit int) ([]*domain.Notification, error) {
	q := GetDBTX(ctx, r.pool)
	rows, err := q.Query(ctx, notificationSelect+`
		WHERE n.recipient_id = $1 AND n.seq > $2
		ORDER BY n.seq ASC
		LIMIT $3`, recipientID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications after seq: %w", err)
	}
	return collectNotifications(rows)
}

func (r *NotificationRepository) MaxSeq(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	q := GetDBTX(ctx, r.pool)
	var seq int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM notifications WHERE recipient_id = $1`, recipientID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max notification seq: %w", err)
	}
	return seq, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, recipientID, id uuid.UUID) (*domain.Notification, error) {
	q := GetDBTX(ctx, r.pool)
	tag, err := q.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperrors.ErrNotificationNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *NotificationRepository) MarkManyRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return []uuid.UUID{}, nil
	}

	q := GetDBTX(ctx, r.pool)
	rows, err := q.Query(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE recipient_id = $1 AND id = ANY($2::uuid[])
		RETURNING id`, recipientID, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("mark notifications read: %w", err)
	}
	defer rows.Close()

	updated := make([]uuid.UUID, 0, len(ids))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		updated = append(updated, id)
	}
	return updated, rows.Err()
}
