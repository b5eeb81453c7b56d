package audit

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func TestTrailEvictsOldest(t *testing.T) {
	tr := NewTrail(3)
	for i := 0; i < 5; i++ {
		tr.Append(fmt.Sprintf("e%d", i), "", RiskLow, nil)
	}

	events := tr.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "e2", events[0].Name)
	assert.Equal(t, "e4", events[2].Name)
	assert.Equal(t, uint64(5), tr.Total())
}

func TestTrailNeverExceedsCapacityUnderConcurrency(t *testing.T) {
	tr := NewTrail(DefaultCapacity)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tr.Append("order.simulated", "u", RiskLow, nil)
				if tr.Len() > DefaultCapacity {
					t.Errorf("trail grew past capacity: %d", tr.Len())
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, DefaultCapacity, tr.Len())
	assert.Equal(t, uint64(3200), tr.Total())
}

func TestTrailCountsAndSince(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewTrail(10, WithClock(func() time.Time { return now }))

	tr.Append("a", "", RiskLow, nil)
	now = now.Add(time.Minute)
	tr.Append("b", "", RiskCritical, nil)
	tr.Append("c", "", RiskCritical, nil)

	counts := tr.CountsByRisk()
	assert.Equal(t, 1, counts[RiskLow])
	assert.Equal(t, 2, counts[RiskCritical])
	assert.Equal(t, 0, counts[RiskHigh])

	recent := tr.Since(now)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Name)
}

func TestRiskLevelOrdering(t *testing.T) {
	assert.True(t, RiskCritical.AtLeast(RiskHigh))
	assert.True(t, RiskMedium.AtLeast(RiskMedium))
	assert.False(t, RiskLow.AtLeast(RiskMedium))
	assert.Equal(t, 0, RiskLevel("bogus").Rank())
}

func TestLogSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tr := NewTrail(10, WithSinks(NewLogSink(zap.New(core))))

	tr.Append("security.violation", "u1", RiskCritical, map[string]any{"path": "/withdraw"})
	tr.Append("order.filled", "u1", RiskLow, nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, "security.violation", entries[0].Message)
	assert.Equal(t, zap.DebugLevel, entries[1].Level)
}

func TestEventStructRoundTrip(t *testing.T) {
	e := Event{
		ID:        "id-1",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Name:      "order.filled",
		UserID:    "alice",
		RiskLevel: RiskMedium,
		Details:   map[string]any{"violations": []string{"withdraw"}, "qty": 0.5},
	}
	s, err := EventToStruct(e)
	require.NoError(t, err)

	back, err := EventFromStruct(s)
	require.NoError(t, err)
	assert.Equal(t, e.ID, back.ID)
	assert.True(t, e.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, RiskMedium, back.RiskLevel)
	assert.Equal(t, []any{"withdraw"}, back.Details["violations"])
	assert.Equal(t, 0.5, back.Details["qty"])
}

func TestGRPCSinkDeliversToCollector(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()

	var (
		mu       sync.Mutex
		received []Event
	)
	RegisterComplianceService(srv, func(_ context.Context, e Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	})
	go srv.Serve(lis)
	defer srv.Stop()

	sink, err := DialGRPCSink("passthrough:///bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	tr := NewTrail(10, WithSinks(sink))
	tr.Append("security.violation", "bob", RiskCritical, map[string]any{"reason": "withdraw"})
	tr.Append("order.filled", "bob", RiskLow, nil)

	require.NoError(t, sink.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, "security.violation", received[0].Name)
	assert.Equal(t, "withdraw", received[0].Details["reason"])
	sent, failed, dropped := sink.Stats()
	assert.Equal(t, uint64(2), sent)
	assert.Zero(t, failed)
	assert.Zero(t, dropped)
}

func TestGRPCSinkDropsAfterClose(t *testing.T) {
	sink, err := DialGRPCSink("passthrough:///unused", zap.NewNop())
	require.NoError(t, err)
	tr := NewTrail(10, WithSinks(sink))

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	require.NotPanics(t, func() {
		tr.Append("reconciliation.mismatch", "", RiskHigh, nil)
	})

	assert.Len(t, tr.Events(), 1)
	_, _, dropped := sink.Stats()
	assert.Equal(t, uint64(1), dropped)
}
