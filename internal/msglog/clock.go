package msglog

import (
	"sync"
	"time"
)

// Clock выдаёт строго возрастающие timestamps: wall clock может прыгнуть
// назад (NTP), порядок лога — нет.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}
