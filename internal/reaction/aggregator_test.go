package reaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-core/internal/domain"
	"github.com/cwrk-planet/chat-core/internal/msglog"
	"github.com/cwrk-planet/chat-core/internal/msglog/memstore"
)

func newAgg(t *testing.T) (*Aggregator, *domain.Message, *msglog.Log) {
	t.Helper()
	log := msglog.New(memstore.New())
	msg, err := log.Append(context.Background(), "general", "u1", domain.Body{Text: "hi"})
	require.NoError(t, err)
	return NewAggregator(log), msg, log
}

func TestTogglePairIsNoop(t *testing.T) {
	a, msg, log := newAgg(t)
	ctx := context.Background()

	got, err := a.Toggle(ctx, msg.ID, "u2", "👍")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"👍": {"u2"}}, got)

	// второй toggle той же пары снимает реакцию полностью
	got, err = a.Toggle(ctx, msg.ID, "u2", "👍")
	require.NoError(t, err)
	assert.Empty(t, got)

	stored, err := log.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Reactions)
}

func TestToggleIndependentPairs(t *testing.T) {
	a, msg, _ := newAgg(t)
	ctx := context.Background()

	_, err := a.Toggle(ctx, msg.ID, "u2", "👍")
	require.NoError(t, err)
	_, err = a.Toggle(ctx, msg.ID, "u3", "👍")
	require.NoError(t, err)
	got, err := a.Toggle(ctx, msg.ID, "u2", "🔥")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"👍": {"u2", "u3"},
		"🔥": {"u2"},
	}, got)

	// снятие одной пары не трогает остальные
	got, err = a.Toggle(ctx, msg.ID, "u2", "👍")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"👍": {"u3"},
		"🔥": {"u2"},
	}, got)
}

func TestToggleMissingMessage(t *testing.T) {
	a, _, _ := newAgg(t)

	_, err := a.Toggle(context.Background(), "01AAAAAAAAAAAAAAAAAAAAAAA9", "u2", "👍")
	require.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestSummarize(t *testing.T) {
	m := &domain.Message{Reactions: map[string][]string{
		"🔥": {"u1"},
		"👍": {"u2", "u3"},
	}}

	got := Summarize(m, "u3")
	require.Len(t, got, 2)
	// порядок детерминирован: по emoji
	assert.Equal(t, Summary{Emoji: "👍", Count: 2, Reacted: true}, got[0])
	assert.Equal(t, Summary{Emoji: "🔥", Count: 1, Reacted: false}, got[1])

	assert.Empty(t, Summarize(&domain.Message{}, "u1"))
}
