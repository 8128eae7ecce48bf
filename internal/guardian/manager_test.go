package guardian

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position_guard/internal/config"
	"position_guard/internal/core"
	"position_guard/internal/mock"
	"position_guard/internal/registry"
)

type captureSink struct {
	mu     sync.Mutex
	events []core.AlertEvent
}

func (s *captureSink) Notify(ctx context.Context, event core.AlertEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) byType(eventType string) []core.AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.AlertEvent
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestManager(ex core.IExchangeClient) (*Manager, *registry.Registry, *captureSink) {
	cfg := config.DefaultConfig()
	reg := registry.New(mock.NewNopLogger())
	sink := &captureSink{}
	mgr := NewManager(cfg, reg, ex, registry.NewMemoryStore(), sink, mock.NewNopLogger())
	return mgr, reg, sink
}

func TestProcessMonitor_FirstTargetFillPipeline(t *testing.T) {
	ex := mock.NewMockExchange()
	mgr, reg, sink := newTestManager(ex)

	m := ladderMonitor()
	m.AlertTarget = "chat-1"
	require.True(t, reg.Put(m))

	// Entry limit still resting on the book.
	ex.AddOrder(core.AccountPrimary, core.Order{
		Symbol: "BTCUSDT", Side: core.SideLong, Type: core.OrderTypeLimit, Qty: d(200), Price: d(98),
	})
	ex.SetPosition(core.AccountPrimary, "BTCUSDT", core.SideLong, d(150), d(100))

	mgr.processMonitor(context.Background(), m.Key())

	assert.Equal(t, core.PhaseProfitTaking, m.Phase)
	assert.True(t, m.BreakevenApplied)
	assert.True(t, m.LimitEntryOrdersCancelled)
	require.NotNil(t, m.SLOrder)
	assert.True(t, m.SLOrder.Qty.Equal(d(150)))

	assert.Len(t, sink.byType(core.EventFillDetected), 1)
	assert.Len(t, sink.byType(core.EventPhaseChange), 1)
	assert.Len(t, sink.byType(core.EventBreakevenApplied), 1)
	assert.Len(t, sink.byType(core.EventLimitsCancelled), 1)
}

func TestProcessMonitor_ClosureRequiresTwoZeroReads(t *testing.T) {
	ex := mock.NewMockExchange()
	mgr, reg, sink := newTestManager(ex)

	m := ladderMonitor()
	require.True(t, reg.Put(m))

	// No position on the exchange at all.
	mgr.processMonitor(context.Background(), m.Key())
	assert.Equal(t, core.PhaseMonitoring, m.Phase)
	assert.Equal(t, 1, reg.Count(""))

	mgr.processMonitor(context.Background(), m.Key())
	assert.Equal(t, 0, reg.Count(""))
	assert.Len(t, sink.byType(core.EventPositionClosed), 1)
}

func TestProcessMonitor_TransientVanishThenReappear(t *testing.T) {
	ex := mock.NewMockExchange()
	mgr, reg, _ := newTestManager(ex)

	m := ladderMonitor()
	require.True(t, reg.Put(m))

	mgr.processMonitor(context.Background(), m.Key())
	require.Equal(t, 1, m.ZeroSizeReads)

	ex.SetPosition(core.AccountPrimary, "BTCUSDT", core.SideLong, d(1000), d(100))
	mgr.processMonitor(context.Background(), m.Key())

	assert.Equal(t, 0, m.ZeroSizeReads)
	assert.Equal(t, core.PhaseMonitoring, m.Phase)
	assert.Equal(t, 1, reg.Count(""))
}

func TestProcessMonitor_ReadErrorSkipsTick(t *testing.T) {
	ex := mock.NewMockExchange()
	ex.PositionErr = assert.AnError
	mgr, reg, _ := newTestManager(ex)

	m := ladderMonitor()
	require.True(t, reg.Put(m))

	mgr.processMonitor(context.Background(), m.Key())

	// An API failure is not a zero-size read.
	assert.Equal(t, 0, m.ZeroSizeReads)
	assert.Equal(t, core.PhaseMonitoring, m.Phase)
	assert.Equal(t, 1, reg.Count(""))
}

func TestProcessMonitor_UnprotectedEscalation(t *testing.T) {
	ex := mock.NewMockExchange()
	ex.PlaceErr = assert.AnError
	mgr, reg, sink := newTestManager(ex)

	m := ladderMonitor()
	m.AlertTarget = "chat-1"
	require.True(t, reg.Put(m))
	ex.SetPosition(core.AccountPrimary, "BTCUSDT", core.SideLong, d(150), d(100))

	// Default threshold is 3 consecutive stop placement failures.
	for i := 0; i < 3; i++ {
		mgr.processMonitor(context.Background(), m.Key())
	}

	assert.False(t, m.BreakevenApplied)
	assert.Equal(t, 3, m.SLFailureCount)
	assert.Len(t, sink.byType(core.EventUnprotectedPosition), 1)

	// Placement recovers: flag set, counter reset.
	ex.PlaceErr = nil
	mgr.processMonitor(context.Background(), m.Key())
	assert.True(t, m.BreakevenApplied)
	assert.Equal(t, 0, m.SLFailureCount)
}

func TestTick_IsolatesMonitors(t *testing.T) {
	ex := mock.NewMockExchange()
	mgr, reg, _ := newTestManager(ex)

	healthy := ladderMonitor()
	require.True(t, reg.Put(healthy))

	other := ladderMonitor()
	other.Symbol = "ETHUSDT"
	require.True(t, reg.Put(other))

	ex.SetPosition(core.AccountPrimary, "BTCUSDT", core.SideLong, d(150), d(100))
	ex.SetPosition(core.AccountPrimary, "ETHUSDT", core.SideLong, d(1000), d(100))

	mgr.tick(context.Background())

	assert.Equal(t, core.PhaseProfitTaking, healthy.Phase)
	assert.Equal(t, core.PhaseMonitoring, other.Phase)
}

func TestFlushAndRestoreRoundTrip(t *testing.T) {
	ex := mock.NewMockExchange()
	mgr, reg, _ := newTestManager(ex)

	m := ladderMonitor()
	m.FilledLevels[1] = true
	m.Phase = core.PhaseProfitTaking
	require.True(t, reg.Put(m))

	mgr.flush(context.Background())

	snap, err := mgr.store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Len(t, snap.Monitors, 1)

	restored := registry.New(mock.NewNopLogger())
	restored.Restore(snap)
	got := restored.Get(m.Key())
	require.NotNil(t, got)
	assert.Equal(t, core.PhaseProfitTaking, got.Phase)
	assert.True(t, got.FilledLevels[1])
}
