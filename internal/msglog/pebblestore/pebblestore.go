// Package pebblestore — msglog.Store на встраиваемом Pebble. Ключи
// сообщений несут ULID, поэтому порядок итерации по префиксу комнаты
// совпадает с порядком лога.
package pebblestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/chat-core/internal/domain"

	"github.com/cockroachdb/pebble"
)

// Схема ключей:
//
//	room:<roomID>:msg:<ulid> -> message JSON
//	msgid:<ulid>             -> roomID (индекс для Get/Update)
type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble.Open %s: %w", path, err)
	}
	slog.Info("pebble opened", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func roomKey(roomID, msgID string) []byte {
	return []byte("room:" + roomID + ":msg:" + msgID)
}

func idKey(msgID string) []byte {
	return []byte("msgid:" + msgID)
}

func roomPrefix(roomID string) []byte {
	return []byte("room:" + roomID + ":msg:")
}

func (s *Store) Append(_ context.Context, msg *domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(roomKey(msg.RoomID, msg.ID), data, nil); err != nil {
		return err
	}
	if err := batch.Set(idKey(msg.ID), []byte(msg.RoomID), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) Update(ctx context.Context, msg *domain.Message) error {
	cur, err := s.Get(ctx, msg.ID)
	if err != nil {
		return err
	}
	cur.Status = msg.Status
	cur.Reactions = msg.Clone().Reactions

	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.db.Set(roomKey(cur.RoomID, cur.ID), data, pebble.Sync)
}

func (s *Store) Get(_ context.Context, messageID string) (*domain.Message, error) {
	roomVal, closer, err := s.db.Get(idKey(messageID))
	if err == pebble.ErrNotFound {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	roomID := string(roomVal)
	_ = closer.Close()

	data, closer, err := s.db.Get(roomKey(roomID, messageID))
	if err == pebble.ErrNotFound {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message %s: %w", messageID, err)
	}
	return &msg, nil
}

func (s *Store) ListAfter(_ context.Context, roomID, sinceID string, limit int) ([]domain.Message, error) {
	prefix := roomPrefix(roomID)
	lower := prefix
	if sinceID != "" {
		// строго после sinceID: нижняя граница — ключ sinceID + 0x00
		lower = append(roomKey(roomID, sinceID), 0x00)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]domain.Message, 0, limit)
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		var msg domain.Message
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal at %q: %w", iter.Key(), err)
		}
		out = append(out, msg)
	}
	return out, iter.Error()
}

func (s *Store) ListRecent(_ context.Context, roomID string, limit int) ([]domain.Message, error) {
	prefix := roomPrefix(roomID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	// идём с конца и разворачиваем
	out := make([]domain.Message, 0, limit)
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var msg domain.Message
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal at %q: %w", iter.Key(), err)
		}
		out = append(out, msg)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, iter.Error()
}

// upperBound — префикс с последним байтом +1 (эксклюзивная верхняя
// граница итерации).
func upperBound(prefix []byte) []byte {
	ub := append([]byte(nil), prefix...)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil
}
