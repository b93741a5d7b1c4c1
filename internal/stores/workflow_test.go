package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *WorkflowStore {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewWorkflowStore(rdb, "wf")
}

func sampleRecord(expiresAt time.Time) *WorkflowRecord {
	return &WorkflowRecord{
		Kind:           KindEnrollment,
		Stage:          "select_mechanism",
		PINTier:        3,
		UserID:         "user-1",
		BankCode:       "12345678",
		LoginName:      "kunde1",
		Endpoint:       "https://fints.example.test/hbci",
		DisplayName:    "Testbank",
		TANMechanism:   "942",
		Snapshot:       []byte{0x01, 0x01, 0xde, 0xad},
		Continuation:   []byte{0x01, 0x02, 0xbe, 0xef},
		MechanismsJSON: []byte(`[{"id":"942"},{"id":"944"}]`),
		MessagesJSON:   []byte(`[{"code":"3920"}]`),
		ExpiresAt:      expiresAt.Unix(),
	}
}

func TestWorkflowRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := sampleRecord(time.Now().Add(5 * time.Minute))
	if err := store.Save(ctx, "wf-1", want, 5*time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != want.Kind || got.Stage != want.Stage || got.PINTier != want.PINTier {
		t.Fatalf("header fields mangled: %+v", got)
	}
	if got.BankCode != want.BankCode || got.LoginName != want.LoginName || got.TANMechanism != want.TANMechanism {
		t.Fatalf("string fields mangled: %+v", got)
	}
	if string(got.Continuation) != string(want.Continuation) || string(got.MechanismsJSON) != string(want.MechanismsJSON) {
		t.Fatalf("blob fields mangled: %+v", got)
	}
	if string(got.MessagesJSON) != string(want.MessagesJSON) {
		t.Fatalf("messages blob mangled: %+v", got)
	}
	if got.TransferJSON != nil {
		t.Fatalf("absent blob should decode as nil, got %v", got.TransferJSON)
	}
}

func TestWorkflowConsumeIsSingleUse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := sampleRecord(time.Now().Add(5 * time.Minute))
	if err := store.Save(ctx, "wf-1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := store.Consume(ctx, "wf-1"); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if _, err := store.Consume(ctx, "wf-1"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("second Consume err = %v, want ErrWorkflowNotFound", err)
	}
}

func TestWorkflowExpiredRecordIsReaped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Redis TTL generous, embedded expiry already passed.
	record := sampleRecord(time.Now().Add(-time.Second))
	if err := store.Save(ctx, "wf-1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := store.Get(ctx, "wf-1"); !errors.Is(err, ErrWorkflowExpired) {
		t.Fatalf("Get err = %v, want ErrWorkflowExpired", err)
	}
	if _, err := store.Get(ctx, "wf-1"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("Get after reap err = %v, want ErrWorkflowNotFound", err)
	}
}

func TestWorkflowDeleteAbsent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}
