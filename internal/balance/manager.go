package balance

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"autotrader/pkg/exchanges/common"
)

// Manager caches account equity from the active venue. Ticks read it for
// position sizing and the daily-loss check without hitting the venue for
// every symbol.
type Manager struct {
	account common.Account
	maxAge  time.Duration
	log     *zap.Logger

	mu       sync.RWMutex
	equity   float64
	lastSync time.Time
	// inflight collapses concurrent refreshes into one venue call.
	inflight chan struct{}
}

// NewManager creates a manager that refreshes at most every maxAge.
func NewManager(account common.Account, maxAge time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{account: account, maxAge: maxAge, log: log.Named("balance")}
}

// Start refreshes equity on a fixed interval until ctx is done.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if err := m.Sync(ctx); err != nil {
		m.log.Warn("initial equity sync failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sync(ctx); err != nil {
					m.log.Warn("equity sync failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync fetches equity from the venue.
func (m *Manager) Sync(ctx context.Context) error {
	if m.account == nil {
		return errors.New("balance: no account configured")
	}

	m.mu.Lock()
	if wait := m.inflight; wait != nil {
		m.mu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	m.inflight = done
	m.mu.Unlock()

	equity, err := m.account.Equity(ctx)

	m.mu.Lock()
	if err == nil {
		m.equity = equity
		m.lastSync = time.Now()
	}
	m.inflight = nil
	m.mu.Unlock()
	close(done)

	if err != nil {
		return err
	}
	m.log.Debug("equity synced", zap.Float64("equity", equity))
	return nil
}

// Equity returns cached equity, refreshing first when it is older than
// maxAge. A failed refresh returns the error; callers treat it as transient.
func (m *Manager) Equity(ctx context.Context) (float64, error) {
	m.mu.RLock()
	fresh := !m.lastSync.IsZero() && time.Since(m.lastSync) <= m.maxAge
	eq := m.equity
	m.mu.RUnlock()
	if fresh {
		return eq, nil
	}
	if err := m.Sync(ctx); err != nil {
		return 0, err
	}
	return m.Last(), nil
}

// Invalidate forces the next Equity call to refresh, e.g. after a fill or
// a trading mode switch.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.lastSync = time.Time{}
	m.mu.Unlock()
}

// Last returns the cached value without refreshing.
func (m *Manager) Last() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity
}

// LastSync is the time of the last successful refresh.
func (m *Manager) LastSync() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}
