package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/idbuilder/worker/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestReserveRangeAdvancesAndReturnsBounds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, last, err := store.ReserveRange(ctx, "k", 5, 1)
	if err != nil {
		t.Fatalf("ReserveRange: %v", err)
	}
	if first != 1 || last != 5 {
		t.Errorf("ReserveRange = (%d, %d), want (1, 5)", first, last)
	}

	first, last, err = store.ReserveRange(ctx, "k", 3, 1)
	if err != nil {
		t.Fatalf("ReserveRange: %v", err)
	}
	if first != 6 || last != 8 {
		t.Errorf("ReserveRange second call = (%d, %d), want (6, 8)", first, last)
	}
}

func TestGetSequenceNotFoundBeforeFirstReserve(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetSequence(context.Background(), "missing"); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResetSequenceIsIdempotentPerWitness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, err := store.ReserveRange(ctx, "k", 5, 1); err != nil {
		t.Fatalf("ReserveRange: %v", err)
	}

	if err := store.ResetSequence(ctx, "k", 0, "2025-01-27"); err != nil {
		t.Fatalf("ResetSequence: %v", err)
	}
	state, err := store.GetSequence(ctx, "k")
	if err != nil {
		t.Fatalf("GetSequence: %v", err)
	}
	if state.CurrentValue != 0 || state.Witness != "2025-01-27" {
		t.Errorf("GetSequence after reset = %+v, want {0 2025-01-27}", state)
	}

	if err := store.ResetSequence(ctx, "k", 0, "2025-01-27"); err != storage.ErrAlreadyReset {
		t.Errorf("expected ErrAlreadyReset for repeat witness, got %v", err)
	}
}

func TestConfigRoundTripAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := storage.ConfigRecord{Key: "orders", IDType: "increment", Config: []byte(`{"base":1}`)}
	if err := store.PutConfig(ctx, rec); err != nil {
		t.Fatalf("PutConfig: %v", err)
	}

	got, err := store.GetConfig(ctx, "orders")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if got.Key != "orders" || got.IDType != "increment" {
		t.Errorf("GetConfig = %+v", got)
	}

	page, err := store.ListConfigs(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListConfigs: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Key != "orders" {
		t.Errorf("ListConfigs = %+v", page)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutToken(ctx, "k", "secret"); err != nil {
		t.Fatalf("PutToken: %v", err)
	}
	got, err := store.GetToken(ctx, "k")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got != "secret" {
		t.Errorf("GetToken = %q, want secret", got)
	}
	if _, err := store.GetToken(ctx, "missing"); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLockAcquireAndReleaseRespectsOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.TryAcquireLock(ctx, "lk", "owner-a", time.Second)
	if err != nil || !ok {
		t.Fatalf("TryAcquireLock(owner-a) = %v, %v", ok, err)
	}

	ok, err = store.TryAcquireLock(ctx, "lk", "owner-b", time.Second)
	if err != nil || ok {
		t.Fatalf("TryAcquireLock(owner-b) should fail while held, got %v, %v", ok, err)
	}

	if err := store.ReleaseLock(ctx, "lk", "owner-b"); err != storage.ErrLockNotOwned {
		t.Errorf("expected ErrLockNotOwned for non-owner release, got %v", err)
	}
	if err := store.ReleaseLock(ctx, "lk", "owner-a"); err != nil {
		t.Errorf("ReleaseLock(owner-a): %v", err)
	}

	ok, err = store.TryAcquireLock(ctx, "lk", "owner-b", time.Second)
	if err != nil || !ok {
		t.Fatalf("TryAcquireLock(owner-b) after release = %v, %v", ok, err)
	}
}

func TestHealthCheckAndSchemaVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	v, err := store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 0 {
		t.Errorf("SchemaVersion before init = %d, want 0", v)
	}

	if err := store.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	v, err = store.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("SchemaVersion after init = %d, want 1", v)
	}
}
