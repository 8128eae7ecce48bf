// Package registry holds the in-memory set of position monitors and its
// persistence to the snapshot store.
package registry

import (
	"sync"
	"time"

	"position_guard/internal/core"
)

// Registry is the shared monitor map. The registry lock guards only map
// membership; monitor state is mutated under each monitor's own mutex so
// the main engine and the mirror sync service never interleave mutations
// on the same key. No lock is ever held across a network call.
type Registry struct {
	mu       sync.RWMutex
	monitors map[core.MonitorKey]*core.PositionMonitor
	logger   core.ILogger
}

// New creates an empty registry.
func New(logger core.ILogger) *Registry {
	return &Registry{
		monitors: make(map[core.MonitorKey]*core.PositionMonitor),
		logger:   logger.WithField("component", "registry"),
	}
}

// Get returns the monitor for key, or nil.
func (r *Registry) Get(key core.MonitorKey) *core.PositionMonitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.monitors[key]
}

// Put inserts a monitor. Returns false if the key already exists.
func (r *Registry) Put(m *core.PositionMonitor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := m.Key()
	if _, exists := r.monitors[key]; exists {
		return false
	}
	r.monitors[key] = m
	r.logger.Info("Monitor registered", "key", key.String(), "initial_size", m.InitialSize.String())
	return true
}

// Remove deletes a monitor by key. Returns the removed monitor or nil.
func (r *Registry) Remove(key core.MonitorKey) *core.PositionMonitor {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.monitors[key]
	if !exists {
		return nil
	}
	delete(r.monitors, key)
	r.logger.Info("Monitor removed", "key", key.String())
	return m
}

// Keys returns all monitor keys, optionally filtered by account.
func (r *Registry) Keys(account core.Account) []core.MonitorKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]core.MonitorKey, 0, len(r.monitors))
	for key := range r.monitors {
		if account != "" && key.Account != account {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Count returns the number of monitors for an account ("" counts all).
func (r *Registry) Count(account core.Account) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if account == "" {
		return len(r.monitors)
	}
	n := 0
	for key := range r.monitors {
		if key.Account == account {
			n++
		}
	}
	return n
}

// Snapshot returns a deep copy of all monitors for persistence. Each
// monitor is copied under its own mutex.
func (r *Registry) Snapshot() *core.RegistrySnapshot {
	r.mu.RLock()
	monitors := make([]*core.PositionMonitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.RUnlock()

	snap := &core.RegistrySnapshot{
		SavedAt:  time.Now().UTC(),
		Monitors: make([]*core.PositionMonitor, 0, len(monitors)),
	}
	for _, m := range monitors {
		m.Mu.Lock()
		snap.Monitors = append(snap.Monitors, copyMonitor(m))
		m.Mu.Unlock()
	}
	return snap
}

// Restore replaces the registry contents from a persisted snapshot.
func (r *Registry) Restore(snap *core.RegistrySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.monitors = make(map[core.MonitorKey]*core.PositionMonitor, len(snap.Monitors))
	for _, m := range snap.Monitors {
		restored := copyMonitor(m)
		r.monitors[restored.Key()] = restored
	}
	r.logger.Info("Registry restored from snapshot", "monitors", len(r.monitors), "saved_at", snap.SavedAt)
}

func copyMonitor(m *core.PositionMonitor) *core.PositionMonitor {
	cp := &core.PositionMonitor{
		Symbol:                    m.Symbol,
		Side:                      m.Side,
		Account:                   m.Account,
		InitialSize:               m.InitialSize,
		RemainingSize:             m.RemainingSize,
		EntryPrice:                m.EntryPrice,
		Approach:                  m.Approach,
		Phase:                     m.Phase,
		LimitEntryOrdersCancelled: m.LimitEntryOrdersCancelled,
		BreakevenApplied:          m.BreakevenApplied,
		ZeroSizeReads:             m.ZeroSizeReads,
		SLFailureCount:            m.SLFailureCount,
		LastCheckedAt:             m.LastCheckedAt,
		AlertTarget:               m.AlertTarget,
	}

	cp.TPOrders = make(map[string]core.TPOrder, len(m.TPOrders))
	for id, tp := range m.TPOrders {
		cp.TPOrders[id] = tp
	}

	cp.FilledLevels = make(map[int]bool, len(m.FilledLevels))
	for level := range m.FilledLevels {
		cp.FilledLevels[level] = true
	}

	if m.SLOrder != nil {
		sl := *m.SLOrder
		cp.SLOrder = &sl
	}

	return cp
}
