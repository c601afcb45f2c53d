package pebblestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-core/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ULID-ы в тестах рукописные: важен только лексикографический порядок.
func testMsg(roomID, id string) *domain.Message {
	return &domain.Message{
		ID:        id,
		RoomID:    roomID,
		AuthorID:  "u1",
		Body:      domain.Body{Text: "msg " + id},
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:    domain.StatusSent,
	}
}

func TestAppendGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := testMsg("general", "01AAAAAAAAAAAAAAAAAAAAAAA1")
	require.NoError(t, s.Append(ctx, msg))

	got, err := s.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Body.Text, got.Body.Text)
	assert.Equal(t, msg.RoomID, got.RoomID)

	_, err = s.Get(ctx, "01AAAAAAAAAAAAAAAAAAAAAAA9")
	require.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestUpdateKeepsImmutableFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := testMsg("general", "01AAAAAAAAAAAAAAAAAAAAAAA1")
	require.NoError(t, s.Append(ctx, msg))

	upd := *msg
	upd.Status = domain.StatusRead
	upd.Reactions = map[string][]string{"👍": {"u2"}}
	upd.Body.Text = "tampered" // Update не должен трогать тело
	require.NoError(t, s.Update(ctx, &upd))

	got, err := s.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, got.Status)
	assert.Equal(t, map[string][]string{"👍": {"u2"}}, got.Reactions)
	assert.Equal(t, "msg "+msg.ID, got.Body.Text)

	ghost := testMsg("general", "01AAAAAAAAAAAAAAAAAAAAAAA9")
	require.ErrorIs(t, s.Update(ctx, ghost), domain.ErrMessageNotFound)
}

func TestListAfterAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ids := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("01AAAAAAAAAAAAAAAAAAAAAAA%d", i)
		ids = append(ids, id)
		require.NoError(t, s.Append(ctx, testMsg("general", id)))
	}
	// соседняя комната с "похожим" префиксом не должна попадать в скан
	require.NoError(t, s.Append(ctx, testMsg("generalx", "01AAAAAAAAAAAAAAAAAAAAAAA6")))

	got, err := s.ListAfter(ctx, "general", ids[1], 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[3], got[1].ID)

	got, err = s.ListAfter(ctx, "general", "", 100)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, ids[0], got[0].ID)

	got, err = s.ListRecent(ctx, "general", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[3], got[0].ID)
	assert.Equal(t, ids[4], got[1].ID)

	got, err = s.ListRecent(ctx, "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, testMsg("general", "01AAAAAAAAAAAAAAAAAAAAAAA1")))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "01AAAAAAAAAAAAAAAAAAAAAAA1")
	require.NoError(t, err)
	assert.Equal(t, "general", got.RoomID)
}
