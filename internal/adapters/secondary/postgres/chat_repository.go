package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

type ChatRepository struct {
	pool *pgxpool.Pool
}

var _ ports.ChatRepository = (*ChatRepository)(nil)

func NewChatRepository(pool *pgxpool.Pool) ports.ChatRepository {
	return &ChatRepository{pool: pool}
}

// CreateOrGet relies on the unique participant pair. The no-op update makes
// RETURNING yield the existing row, and xmax = 0 only holds for fresh inserts.
func (r *ChatRepository) CreateOrGet(ctx context.Context, chat *domain.Chat) (*domain.Chat, bool, error) {
	a, b := domain.OrderedPair(chat.ParticipantA, chat.ParticipantB)

	q := GetDBTX(ctx, r.pool)
	row := q.QueryRow(ctx, `
		INSERT INTO chats (id, participant_a, participant_b, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (participant_a, participant_b)
		DO UPDATE SET participant_a = EXCLUDED.participant_a
		RETURNING id, participant_a, participant_b, created_at, (xmax = 0) AS inserted`,
		chat.ID, a, b, chat.CreatedAt,
	)

	var (
		out      domain.Chat
		inserted bool
	)
	if err := row.Scan(&out.ID, &out.ParticipantA, &out.ParticipantB, &out.CreatedAt, &inserted); err != nil {
		return nil, false, fmt.Errorf("create or get chat: %w", err)
	}
	return &out, inserted, nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Chat, error) {
	q := GetDBTX(ctx, r.pool)

	var c domain.Chat
	err := q.QueryRow(ctx,
		`SELECT id, participant_a, participant_b, created_at FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrChatNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListByParticipant returns the user's chats, most recently active first,
// each with its latest message and the number of unread messages addressed to the user.
func (r *ChatRepository) ListByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Chat, error) {
	q := GetDBTX(ctx, r.pool)
	rows, err := q.Query(ctx, `
		SELECT c.id, c.participant_a, c.participant_b, c.created_at,
		       lm.id, lm.sender_id, lm.text, lm.image_url, lm.is_read, lm.created_at,
		       (SELECT COUNT(*) FROM chat_messages um
		         WHERE um.chat_id = c.id AND um.sender_id <> $1 AND NOT um.is_read) AS unread
		FROM chats c
		LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, m.text, m.image_url, m.is_read, m.created_at
			FROM chat_messages m
			WHERE m.chat_id = c.id
			ORDER BY m.created_at DESC
			LIMIT 1
		) lm ON TRUE
		WHERE c.participant_a = $1 OR c.participant_b = $1
		ORDER BY c.last_activity_at DESC, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]*domain.Chat, 0)
	for rows.Next() {
		var (
			c         domain.Chat
			msgID     pgtype.UUID
			senderID  pgtype.UUID
			text      pgtype.Text
			imageURL  pgtype.Text
			isRead    pgtype.Bool
			createdAt pgtype.Timestamptz
			unread    int64
		)
		if err := rows.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt,
			&msgID, &senderID, &text, &imageURL, &isRead, &createdAt, &unread); err != nil {
			return nil, err
		}
		if msgID.Valid {
			c.LastMessage = &domain.ChatMessage{
				ID:        msgID.Bytes,
				ChatID:    c.ID,
				SenderID:  senderID.Bytes,
				Text:      fromText(text),
				ImageURL:  fromText(imageURL),
				IsRead:    isRead.Bool,
				CreatedAt: createdAt.Time,
			}
		}
		c.UnreadCount = int(unread)
		chats = append(chats, &c)
	}
	return chats, rows.Err()
}

func (r *ChatRepository) Touch(ctx context.Context, chatID uuid.UUID, at time.Time) error {
	q := GetDBTX(ctx, r.pool)
	tag, err := q.Exec(ctx,
		`UPDATE chats SET last_activity_at = GREATEST(last_activity_at, $2) WHERE id = $1`, chatID, at)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrChatNotFound
	}
	return nil
}
