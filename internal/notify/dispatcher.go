package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autotrader/internal/events"
	"autotrader/pkg/db"
)

// Journal records every dispatched alert. *persistence.BatchWriter[db.Alert]
// implements it.
type Journal interface {
	Write(a db.Alert)
}

type route struct {
	ch  Channel
	min events.Level
}

// Dispatcher fans alerts out to every channel whose minimum level they meet.
// Delivery is best effort: a failing or slow channel is logged and never
// affects the others or the code that raised the alert.
type Dispatcher struct {
	timeout time.Duration
	journal Journal
	log     *zap.Logger

	mu     sync.RWMutex
	routes []route

	sent, failed atomic.Uint64
	wg           sync.WaitGroup
}

// NewDispatcher builds a dispatcher with a per-send timeout.
func NewDispatcher(timeout time.Duration, journal Journal, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{timeout: timeout, journal: journal, log: log.Named("notify")}
}

// Add registers ch for alerts at or above min.
func (d *Dispatcher) Add(ch Channel, min events.Level) {
	d.mu.Lock()
	d.routes = append(d.routes, route{ch: ch, min: min})
	d.mu.Unlock()
	d.log.Info("notification channel registered", zap.String("channel", ch.Name()), zap.String("min_level", string(min)))
}

// Channels lists registered channel names.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.routes))
	for _, r := range d.routes {
		out = append(out, r.ch.Name())
	}
	return out
}

// Run consumes alert topics from bus until ctx is done. The bus is drained
// into an internal queue so a slow channel never backs up the subscription;
// buffer bounds the non-critical backlog. CRITICAL alerts already queued
// are still delivered after ctx ends.
func (d *Dispatcher) Run(ctx context.Context, bus *events.Bus, buffer int) {
	stream, unsub := bus.SubscribeMany(events.AlertEvents, buffer)
	q := newAlertQueue(buffer)
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		defer q.close()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				a, ok := msg.(events.Alert)
				if !ok {
					continue
				}
				if old, evicted := q.push(a); evicted {
					d.log.Warn("notification backlog full; oldest alert discarded",
						zap.String("type", string(old.Type)),
						zap.String("title", old.Title))
				}
			}
		}
	}()
	go func() {
		defer d.wg.Done()
		for {
			a, ok := q.pop()
			if !ok {
				return
			}
			d.Dispatch(ctx, a)
		}
	}()
}

// Wait blocks until Run's goroutines have exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Dispatch delivers a to all eligible channels concurrently and returns when
// every attempt has finished or timed out.
func (d *Dispatcher) Dispatch(ctx context.Context, a events.Alert) {
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	if d.journal != nil {
		d.journal.Write(db.Alert{
			ID:        uuid.NewString(),
			Type:      string(a.Type),
			Level:     string(a.Level),
			Title:     a.Title,
			Message:   a.Message,
			CreatedAt: a.Time,
		})
	}

	d.mu.RLock()
	routes := append([]route(nil), d.routes...)
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, r := range routes {
		if a.Level.Rank() < r.min.Rank() {
			continue
		}
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			d.send(ctx, ch, a)
		}(r.ch)
	}
	wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, a events.Alert) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.log.Error("notification channel panicked", zap.String("channel", ch.Name()), zap.Any("panic", r))
		}
	}()
	// Delivery outlives the caller's cancellation so shutdown alerts still go out.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := ch.Send(sendCtx, a); err != nil {
		d.failed.Add(1)
		d.log.Warn("notification failed",
			zap.String("channel", ch.Name()),
			zap.String("type", string(a.Type)),
			zap.Error(err))
		return
	}
	d.sent.Add(1)
}

// Stats returns delivered and failed send counts.
func (d *Dispatcher) Stats() (sent, failed uint64) {
	return d.sent.Load(), d.failed.Load()
}
