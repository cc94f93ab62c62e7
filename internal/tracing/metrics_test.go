package tracing

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetricsCollector(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	if mc == nil {
		t.Fatal("Expected non-nil MetricsCollector")
	}

	if mc.meter == nil {
		t.Error("Expected meter to be set")
	}
}

func TestMetricsCollector_RecordControlAction(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()

	// Should not panic with valid inputs, across every known action.
	mc.RecordControlAction(ctx, "execute", "success", 10*time.Millisecond)
	mc.RecordControlAction(ctx, "cancel", "success", 5*time.Millisecond)
	mc.RecordControlAction(ctx, "hardCancel", "error", time.Millisecond)
	mc.RecordControlAction(ctx, "stopService", "success", 3*time.Second)
}

func TestMetricsCollector_RecordFusionMerge(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()

	// Should not panic, including the zero-trace case.
	mc.RecordFusionMerge(ctx, 2*time.Millisecond, 3)
	mc.RecordFusionMerge(ctx, 0, 0)
}

type fakeOperationCounter struct {
	mu    sync.RWMutex
	count int
}

func (c *fakeOperationCounter) set(n int) {
	c.mu.Lock()
	c.count = n
	c.mu.Unlock()
}

func (c *fakeOperationCounter) OperationCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

func TestMetricsCollector_SetOperationCounter(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	counter := &fakeOperationCounter{}
	mc.SetOperationCounter(counter)
	counter.set(7)

	mc.operationCounterMu.RLock()
	got := mc.operationCounter
	mc.operationCounterMu.RUnlock()

	if got == nil {
		t.Fatal("Expected operation counter to be set")
	}
	if got.OperationCount() != 7 {
		t.Errorf("Expected OperationCount() 7, got %d", got.OperationCount())
	}
}

func TestMetricsCollector_ConcurrentAccess(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()
	counter := &fakeOperationCounter{}
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(3)

		go func(id int) {
			defer wg.Done()
			mc.RecordControlAction(ctx, "execute", "success", time.Millisecond)
		}(i)

		go func(id int) {
			defer wg.Done()
			mc.RecordFusionMerge(ctx, time.Millisecond, id)
		}(i)

		go func(id int) {
			defer wg.Done()
			counter.set(id)
			mc.SetOperationCounter(counter)
		}(i)
	}

	wg.Wait()

	// Should complete without panics or races.
}
