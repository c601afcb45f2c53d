package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartReportsTransition(t *testing.T) {
	tr := NewTracker()

	assert.True(t, tr.Start("general", "u1"), "первый Start — переход")
	assert.False(t, tr.Start("general", "u1"), "повторный Start — освежение")
	assert.True(t, tr.Start("general", "u2"))
	assert.Equal(t, []string{"u1", "u2"}, tr.List("general"))
	assert.Empty(t, tr.List("dev"))
}

func TestStopRemovesImmediately(t *testing.T) {
	tr := NewTracker()

	tr.Start("general", "u1")
	assert.True(t, tr.Stop("general", "u1"))
	assert.False(t, tr.Stop("general", "u1"), "повторный Stop — no-op")
	assert.Empty(t, tr.List("general"))
}

func TestWindowExpiry(t *testing.T) {
	var (
		mu      sync.Mutex
		expired []string
	)
	tr := NewTracker(WithWindow(30 * time.Millisecond))
	tr.OnExpire(func(roomID, identityID string) {
		mu.Lock()
		expired = append(expired, roomID+"/"+identityID)
		mu.Unlock()
	})

	tr.Start("general", "u1")
	assert.Equal(t, []string{"u1"}, tr.List("general"))

	require.Eventually(t, func() bool {
		return len(tr.List("general")) == 0
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"general/u1"}, expired)
}

func TestListEvictionEmitsExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var expired []string
	tr := NewTracker(
		WithWindow(time.Hour),
		WithNow(func() time.Time { return now }),
	)
	tr.OnExpire(func(roomID, identityID string) {
		expired = append(expired, roomID+"/"+identityID)
	})

	tr.Start("general", "u1")
	assert.Equal(t, []string{"u1"}, tr.List("general"))
	assert.Empty(t, expired)

	// окно истекло по часам, таймер ещё не сработал: ленивое выметание
	// в List обязано отдать тот же переход, что и таймер
	now = now.Add(2 * time.Hour)
	assert.Empty(t, tr.List("general"))
	assert.Equal(t, []string{"general/u1"}, expired)

	// повторный List не дублирует событие
	assert.Empty(t, tr.List("general"))
	assert.Len(t, expired, 1)
}

func TestRefreshResetsWindow(t *testing.T) {
	tr := NewTracker(WithWindow(60 * time.Millisecond))

	tr.Start("general", "u1")
	time.Sleep(40 * time.Millisecond)
	tr.Start("general", "u1") // освежение до истечения
	time.Sleep(40 * time.Millisecond)

	// первое окно уже прошло бы, но запись жива благодаря освежению
	assert.Equal(t, []string{"u1"}, tr.List("general"))
}

func TestStopBeatsLateTimer(t *testing.T) {
	var (
		mu      sync.Mutex
		expired int
	)
	tr := NewTracker(WithWindow(20 * time.Millisecond))
	tr.OnExpire(func(roomID, identityID string) {
		mu.Lock()
		expired++
		mu.Unlock()
	})

	// Stop до истечения: сработавший позже таймер не должен звать onExpire
	tr.Start("general", "u1")
	tr.Stop("general", "u1")
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, expired)
}

func TestStartAfterStopGetsFreshEpoch(t *testing.T) {
	tr := NewTracker(WithWindow(50 * time.Millisecond))

	tr.Start("general", "u1")
	tr.Stop("general", "u1")
	assert.True(t, tr.Start("general", "u1"), "после Stop снова переход")
	assert.Equal(t, []string{"u1"}, tr.List("general"))
}
