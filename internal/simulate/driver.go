package simulate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cwrk-planet/chat-core/internal/coord"
	"github.com/cwrk-planet/chat-core/internal/domain"
	"github.com/cwrk-planet/chat-core/internal/identity"
	"github.com/cwrk-planet/chat-core/internal/session"
)

// Driver гоняет детерминированный трафик через координатор: боты
// подключаются, печатают, шлют сообщения, ставят реакции и читают
// чужое. Удобно для ручной проверки фронта и для нагрузочных прикидок
// без реальных клиентов.
type Driver struct {
	coord *coord.Coordinator
	ids   *identity.Registry
	rng   *rand.Rand

	bots  int
	every time.Duration
}

type Option func(*Driver)

func WithBots(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.bots = n
		}
	}
}

func WithInterval(every time.Duration) Option {
	return func(d *Driver) {
		if every > 0 {
			d.every = every
		}
	}
}

func NewDriver(c *coord.Coordinator, ids *identity.Registry, seed int64, opts ...Option) *Driver {
	d := &Driver{
		coord: c,
		ids:   ids,
		rng:   rand.New(rand.NewSource(seed)),
		bots:  3,
		every: 2 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}

	return d
}

var phrases = []string{
	"привет всем",
	"anyone around?",
	"deploy went fine",
	"см. логи за вчера",
	"lgtm",
	"кто дежурит сегодня?",
	"ship it",
	"coffee break",
}

var emojis = []string{"👍", "🔥", "😂", "🎉"}

// Run блокируется до отмены ctx. Боты регистрируются один раз и
// держат сессии до конца.
func (d *Driver) Run(ctx context.Context) error {
	type bot struct {
		handle  *handleSub
		lastMsg string
	}

	bots := make([]*bot, 0, d.bots)
	for i := 0; i < d.bots; i++ {
		name := fmt.Sprintf("bot-%d", i+1)
		id, err := d.ids.Register(name, fmt.Sprintf("sim-%d-secret", i+1))
		if err != nil {
			return fmt.Errorf("simulate: register %s: %w", name, err)
		}
		h, sub, err := d.coord.Connect(id)
		if err != nil {
			return fmt.Errorf("simulate: connect %s: %w", name, err)
		}
		b := &bot{handle: &handleSub{h: h, sub: sub}}
		bots = append(bots, b)
		go b.handle.drain(ctx)
	}
	defer func() {
		for _, b := range bots {
			d.coord.Disconnect(b.handle.h)
		}
	}()

	slog.Info("simulate: started", "bots", d.bots, "every", d.every)

	ticker := time.NewTicker(d.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		b := bots[d.rng.Intn(len(bots))]
		room := d.coord.DefaultRoom()

		switch d.rng.Intn(4) {
		case 0, 1: // чаще всего — обычное сообщение
			_ = d.coord.SetTyping(b.handle.h, room, true)
			text := phrases[d.rng.Intn(len(phrases))]
			msg, err := d.coord.SendMessage(ctx, b.handle.h, room, domain.Body{Text: text})
			if err != nil {
				slog.Debug("simulate: send failed", "err", err)
				continue
			}
			b.lastMsg = msg.ID
		case 2: // реакция на своё последнее известное сообщение другого бота
			other := bots[d.rng.Intn(len(bots))]
			if other == b || other.lastMsg == "" {
				continue
			}
			if err := d.coord.React(ctx, b.handle.h, other.lastMsg, emojis[d.rng.Intn(len(emojis))]); err != nil {
				slog.Debug("simulate: react failed", "err", err)
			}
		case 3: // отметить прочитанным
			other := bots[d.rng.Intn(len(bots))]
			if other == b || other.lastMsg == "" {
				continue
			}
			if err := d.coord.MarkRead(ctx, b.handle.h, other.lastMsg); err != nil {
				slog.Debug("simulate: mark read failed", "err", err)
			}
		}
	}
}

// handleSub дренирует события подписки, чтобы бот не вытеснялся как
// медленный подписчик.
type handleSub struct {
	h   *session.Handle
	sub *coord.Subscription
}

func (hs *handleSub) drain(ctx context.Context) {
	for {
		select {
		case _, ok := <-hs.sub.Events():
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
