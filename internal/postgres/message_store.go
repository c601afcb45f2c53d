package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cwrk-planet/chat-core/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageStore — msglog.Store поверх Postgres. Keyset-пагинация по id:
// ULID сортируется лексикографически, отдельный (created_at, id)
// курсор не нужен.
type MessageStore struct {
	db *pgxpool.Pool
}

func NewMessageStore(db *pgxpool.Pool) *MessageStore {
	return &MessageStore{db: db}
}

// Migrate создаёт таблицу лога, если её нет.
func (s *MessageStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS room_messages (
			id         TEXT PRIMARY KEY,
			room_id    TEXT NOT NULL,
			author_id  TEXT NOT NULL,
			body       JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			status     INT NOT NULL DEFAULT 0,
			reactions  JSONB NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS room_messages_room_id_id ON room_messages (room_id, id);
	`)
	if err != nil {
		return fmt.Errorf("migrate room_messages: %w", err)
	}
	return nil
}

func (s *MessageStore) Append(ctx context.Context, msg *domain.Message) error {
	body, reactions, err := marshalParts(msg)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO room_messages (id, room_id, author_id, body, created_at, status, reactions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.RoomID, msg.AuthorID, body, msg.CreatedAt, int(msg.Status), reactions)
	return err
}

func (s *MessageStore) Update(ctx context.Context, msg *domain.Message) error {
	_, reactions, err := marshalParts(msg)
	if err != nil {
		return err
	}
	cmd, err := s.db.Exec(ctx, `
		UPDATE room_messages SET status = $2, reactions = $3 WHERE id = $1`,
		msg.ID, int(msg.Status), reactions)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (s *MessageStore) Get(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, room_id, author_id, body, created_at, status, reactions
		FROM room_messages WHERE id = $1`, messageID)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (s *MessageStore) ListAfter(ctx context.Context, roomID, sinceID string, limit int) ([]domain.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, room_id, author_id, body, created_at, status, reactions
		FROM room_messages
		WHERE room_id = $1 AND ($2 = '' OR id > $2)
		ORDER BY id ASC
		LIMIT $3`, roomID, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (s *MessageStore) ListRecent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, room_id, author_id, body, created_at, status, reactions
		FROM (
			SELECT id, room_id, author_id, body, created_at, status, reactions
			FROM room_messages
			WHERE room_id = $1
			ORDER BY id DESC
			LIMIT $2
		) tail
		ORDER BY id ASC`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]domain.Message, error) {
	var out []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var (
		m         domain.Message
		status    int
		body      []byte
		reactions []byte
	)
	if err := row.Scan(&m.ID, &m.RoomID, &m.AuthorID, &body, &m.CreatedAt, &status, &reactions); err != nil {
		return nil, err
	}
	m.Status = domain.MessageStatus(status)
	if err := json.Unmarshal(body, &m.Body); err != nil {
		return nil, fmt.Errorf("unmarshal body of %s: %w", m.ID, err)
	}
	if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
		return nil, fmt.Errorf("unmarshal reactions of %s: %w", m.ID, err)
	}
	return &m, nil
}

func marshalParts(msg *domain.Message) (body, reactions []byte, err error) {
	body, err = json.Marshal(msg.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal body: %w", err)
	}
	r := msg.Reactions
	if r == nil {
		r = map[string][]string{}
	}
	reactions, err = json.Marshal(r)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal reactions: %w", err)
	}
	return body, reactions, nil
}
