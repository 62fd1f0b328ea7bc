package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

var _ ports.MessageRepository = (*MessageRepository)(nil)

func NewMessageRepository(pool *pgxpool.Pool) ports.MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageColumns = `id, chat_id, sender_id, text, image_url, is_read, created_at`

func scanMessage(row pgx.Row) (*domain.ChatMessage, error) {
	var (
		m        domain.ChatMessage
		text     pgtype.Text
		imageURL pgtype.Text
	)
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &text, &imageURL, &m.IsRead, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Text = fromText(text)
	m.ImageURL = fromText(imageURL)
	return &m, nil
}

func (r *MessageRepository) Create(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	q := GetDBTX(ctx, r.pool)
	row := q.QueryRow(ctx, `
		INSERT INTO chat_messages (id, chat_id, sender_id, text, image_url, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+messageColumns,
		msg.ID, msg.ChatID, msg.SenderID, toText(msg.Text), toText(msg.ImageURL), msg.IsRead, msg.CreatedAt,
	)
	created, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return created, nil
}

func (r *MessageRepository) ListByChat(ctx context.Context, chatID uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	q := GetDBTX(ctx, r.pool)
	rows, err := q.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM chat_messages
			WHERE chat_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*domain.ChatMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *MessageRepository) MarkReadBy(ctx context.Context, chatID, readerID uuid.UUID) (int64, error) {
	q := GetDBTX(ctx, r.pool)
	tag, err := q.Exec(ctx, `
		UPDATE chat_messages SET is_read = TRUE
		WHERE chat_id = $1 AND sender_id <> $2 AND NOT is_read`, chatID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}
