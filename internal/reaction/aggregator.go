// Package reaction — toggle-семантика реакций и их свёртка. Тонкая
// view/mutator прослойка над Message Log, отдельного хранилища нет.
package reaction

import (
	"context"
	"sort"

	"github.com/cwrk-planet/chat-core/internal/domain"
	"github.com/cwrk-planet/chat-core/internal/msglog"
)

type Aggregator struct {
	log *msglog.Log
}

func NewAggregator(log *msglog.Log) *Aggregator {
	return &Aggregator{log: log}
}

// Toggle: если (identity, emoji) уже есть — убрать, иначе добавить.
// Конкурирующие toggle по одному сообщению сериализует координатор
// локом его комнаты; сам по себе Mutate лока не держит. Возвращает
// результирующий набор реакций сообщения.
func (a *Aggregator) Toggle(ctx context.Context, messageID, identityID, emoji string) (map[string][]string, error) {
	msg, err := a.log.Mutate(ctx, messageID, func(m *domain.Message) error {
		toggle(m, identityID, emoji)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if msg.Reactions == nil {
		return map[string][]string{}, nil
	}
	return msg.Reactions, nil
}

func toggle(m *domain.Message, identityID, emoji string) {
	if m.HasReaction(identityID, emoji) {
		ids := m.Reactions[emoji]
		keep := make([]string, 0, len(ids)-1)
		for _, id := range ids {
			if id != identityID {
				keep = append(keep, id)
			}
		}
		if len(keep) == 0 {
			delete(m.Reactions, emoji)
			if len(m.Reactions) == 0 {
				m.Reactions = nil
			}
		} else {
			m.Reactions[emoji] = keep
		}
		return
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], identityID)
}

// Summary — свёртка по одному emoji для конкретного зрителя.
type Summary struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	Reacted bool   `json:"reacted"` // включён ли сам viewer
}

// Summarize — чистая производная, без побочных эффектов. Порядок —
// по emoji, детерминированный.
func Summarize(m *domain.Message, viewerID string) []Summary {
	out := make([]Summary, 0, len(m.Reactions))
	for emoji, ids := range m.Reactions {
		s := Summary{Emoji: emoji, Count: len(ids)}
		for _, id := range ids {
			if id == viewerID {
				s.Reacted = true
				break
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Emoji < out[j].Emoji })
	return out
}
