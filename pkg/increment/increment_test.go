package increment

import (
	"context"
	"testing"

	"github.com/idbuilder/worker/internal/sequence"
	"github.com/idbuilder/worker/internal/storage/filestore"
	"github.com/idbuilder/worker/pkg/idconfig"
)

func newTestStack(t *testing.T) (*idconfig.Service, *Service) {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("creating filestore: %v", err)
	}
	configs := idconfig.New(store)
	seq := sequence.New(store, sequence.Config{DefaultBatchSize: 10})
	return configs, New(configs, seq)
}

// TestGenerateAppliesBaseOffset mirrors spec §8 scenario 1: {base:1000,
// delta:1}, first draw of 5 yields [1000..1004], a subsequent draw of 3
// continues the sequence at [1005..1007].
func TestGenerateAppliesBaseOffset(t *testing.T) {
	configs, svc := newTestStack(t)
	ctx := context.Background()

	cfg := &idconfig.IdConfig{
		Key:    "orders",
		IDType: idconfig.IDTypeIncrement,
		Increment: &idconfig.IncrementConfig{
			Base:            1000,
			Delta:           1,
			MaxRequestDelta: 100,
		},
	}
	if err := configs.Put(ctx, cfg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	first, err := svc.Generate(ctx, "orders", 5, 1, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	wantFirst := []int64{1000, 1001, 1002, 1003, 1004}
	for i := range wantFirst {
		if first[i] != wantFirst[i] {
			t.Errorf("first[%d] = %d, want %d", i, first[i], wantFirst[i])
		}
	}

	second, err := svc.Generate(ctx, "orders", 3, 1, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	wantSecond := []int64{1005, 1006, 1007}
	for i := range wantSecond {
		if second[i] != wantSecond[i] {
			t.Errorf("second[%d] = %d, want %d", i, second[i], wantSecond[i])
		}
	}
}

func TestGenerateRejectsDeltaOutOfRange(t *testing.T) {
	configs, svc := newTestStack(t)
	ctx := context.Background()

	cfg := &idconfig.IdConfig{
		Key:    "orders",
		IDType: idconfig.IDTypeIncrement,
		Increment: &idconfig.IncrementConfig{
			Base:            1,
			Delta:           1,
			MaxRequestDelta: 5,
		},
	}
	if err := configs.Put(ctx, cfg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := svc.Generate(ctx, "orders", 1, 6, false); err == nil {
		t.Error("expected error for delta > max_request_delta")
	}
}

func TestGenerateDefaultsDeltaToOneWhenUnspecified(t *testing.T) {
	configs, svc := newTestStack(t)
	ctx := context.Background()

	cfg := &idconfig.IdConfig{
		Key:    "k",
		IDType: idconfig.IDTypeIncrement,
		Increment: &idconfig.IncrementConfig{
			Base:            1,
			Delta:           1,
			MaxRequestDelta: 10,
		},
	}
	if err := configs.Put(ctx, cfg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ids, err := svc.Generate(ctx, "k", 2, 0, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("ids = %v, want [1 2]", ids)
	}
}

func TestGenerateRandDeltaUsesPessimisticReservation(t *testing.T) {
	configs, svc := newTestStack(t)
	ctx := context.Background()

	cfg := &idconfig.IdConfig{
		Key:    "k",
		IDType: idconfig.IDTypeIncrement,
		Increment: &idconfig.IncrementConfig{
			Base:            1,
			Delta:           1,
			MaxRequestDelta: 10,
			RandDelta:       true,
		},
	}
	if err := configs.Put(ctx, cfg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ids, err := svc.Generate(ctx, "k", 5, 10, true)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(ids) != 5 {
		t.Fatalf("expected 5 ids, got %d", len(ids))
	}
	// The pessimistic path reserves count*MaxRequestDelta, so the first raw
	// value is MaxRequestDelta, not delta — the first issued id must still
	// be offset back down to base.
	if ids[0] != 1 {
		t.Errorf("first id = %d, want base (1) regardless of MaxRequestDelta spacing", ids[0])
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("ids must be strictly increasing: ids[%d]=%d <= ids[%d]=%d", i, ids[i], i-1, ids[i-1])
		}
	}
}

// TestGenerateRequestDeltaDiffersFromConfigDelta covers a request whose
// delta differs from the key's configured delta (including the common case
// of an unspecified request delta defaulting to 1 against a config whose
// own delta is > 1) — the offset must track the delta actually used to draw
// the reservation, not config.Delta.
func TestGenerateRequestDeltaDiffersFromConfigDelta(t *testing.T) {
	configs, svc := newTestStack(t)
	ctx := context.Background()

	cfg := &idconfig.IdConfig{
		Key:    "k",
		IDType: idconfig.IDTypeIncrement,
		Increment: &idconfig.IncrementConfig{
			Base:            1000,
			Delta:           5,
			MaxRequestDelta: 100,
		},
	}
	if err := configs.Put(ctx, cfg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Request delta=20 (config.Delta is 5): first raw value is 20, so the
	// first issued id must be base (1000), not base-config.Delta+raw.
	ids, err := svc.Generate(ctx, "k", 3, 20, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []int64{1000, 1020, 1040}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
}

func TestGenerateUnknownKeyNotFound(t *testing.T) {
	_, svc := newTestStack(t)
	if _, err := svc.Generate(context.Background(), "missing", 1, 1, false); err == nil {
		t.Error("expected error for unconfigured key")
	}
}

func TestGenerateValidatesSize(t *testing.T) {
	configs, svc := newTestStack(t)
	ctx := context.Background()

	cfg := &idconfig.IdConfig{
		Key:    "k",
		IDType: idconfig.IDTypeIncrement,
		Increment: &idconfig.IncrementConfig{
			Base:            1,
			Delta:           1,
			MaxRequestDelta: 10,
		},
	}
	if err := configs.Put(ctx, cfg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := svc.Generate(ctx, "k", 0, 1, false); err == nil {
		t.Error("expected error for size=0")
	}
	if _, err := svc.Generate(ctx, "k", 1001, 1, false); err == nil {
		t.Error("expected error for size > 1000")
	}
}
