package market

import (
	"sync"
	"time"
)

// Marks caches the latest observed price per symbol. The scheduler writes it
// after every fetch; the paper broker, heat calculation and emergency
// liquidation read from it.
type Marks struct {
	mu     sync.RWMutex
	prices map[string]Mark
}

// Mark is one cached price observation.
type Mark struct {
	Price float64
	Time  time.Time
}

// NewMarks creates an empty price cache.
func NewMarks() *Marks {
	return &Marks{prices: make(map[string]Mark)}
}

// Set records the latest price for symbol.
func (m *Marks) Set(symbol string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	m.prices[symbol] = Mark{Price: price, Time: time.Now()}
	m.mu.Unlock()
}

// Get returns the latest price for symbol.
func (m *Marks) Get(symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mk, ok := m.prices[symbol]
	return mk.Price, ok
}

// Snapshot copies the whole cache.
func (m *Marks) Snapshot() map[string]Mark {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Mark, len(m.prices))
	for k, v := range m.prices {
		out[k] = v
	}
	return out
}
