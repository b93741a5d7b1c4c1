package dialog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// stubClient is the minimal protocol client for lifecycle tests. It records
// calls and hands back canned state.
type stubClient struct {
	cfg ClientConfig

	openErr   error
	initTAN   *TANRequest
	resumeErr error

	opened  int
	closed  int
	paused  int
	resumed int
	exited  int
}

type stubHandle struct{ client *stubClient }

func (h stubHandle) Exit(context.Context) error {
	h.client.exited++
	return nil
}

func (c *stubClient) OpenDialog(context.Context) (*TANRequest, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.opened++
	return c.initTAN, nil
}

func (c *stubClient) PauseDialog(context.Context) ([]byte, error) {
	c.paused++
	return []byte("cont-state"), nil
}

func (c *stubClient) ResumeDialog(context.Context, []byte) (ResumeHandle, error) {
	if c.resumeErr != nil {
		return nil, c.resumeErr
	}
	c.resumed++
	return stubHandle{client: c}, nil
}

func (c *stubClient) CloseDialog(context.Context) error {
	c.closed++
	return nil
}

func (c *stubClient) Deconstruct(includePrivate bool) ([]byte, error) {
	if includePrivate {
		return []byte("full-state"), nil
	}
	return []byte("public-state"), nil
}

func (c *stubClient) Information(context.Context) (*BankInformation, error) { return nil, nil }

func (c *stubClient) Accounts(context.Context) ([]SEPAAccount, error) { return nil, nil }
func (c *stubClient) Transactions(context.Context, SEPAAccount, time.Time, time.Time) ([]Transaction, error) {
	return nil, nil
}
func (c *stubClient) SimpleTransfer(context.Context, SEPAAccount, string, string, string, decimal.Decimal, string, string) (*TransferResult, error) {
	return nil, nil
}
func (c *stubClient) SendTAN(context.Context, *TANRequest, string) (*TransferResult, error) {
	return nil, nil
}
func (c *stubClient) TANMechanisms(context.Context) (map[string]TANMechanism, error) {
	return nil, nil
}
func (c *stubClient) CurrentTANMechanism() string { return c.cfg.TANMechanism }

func (c *stubClient) IsTANMediumRequired() bool { return false }

func (c *stubClient) SelectedTANMedium() string { return c.cfg.TANMediumName }

func (c *stubClient) TANMedia(context.Context) ([]TANMedium, error) { return nil, nil }

type stubFactory struct {
	next    *stubClient
	lastCfg ClientConfig
}

func (f *stubFactory) New(cfg ClientConfig) (Client, error) {
	f.lastCfg = cfg
	f.next.cfg = cfg
	return f.next, nil
}

func TestOpenRequiresActiveScope(t *testing.T) {
	scope := NewScope(nil)
	factory := &stubFactory{next: &stubClient{}}

	_, err := Open(context.Background(), scope, factory, ClientConfig{}, nil)
	if !errors.Is(err, ErrScopeInactive) {
		t.Fatalf("err = %v, want ErrScopeInactive", err)
	}
}

func TestOpenCloseRoundTrip(t *testing.T) {
	ctx := context.Background()
	scope := NewScope(nil)
	scope.Enter()
	client := &stubClient{}
	factory := &stubFactory{next: client}

	sess, err := Open(ctx, scope, factory, ClientConfig{BankCode: "10010010"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.State() != StateOpen || scope.Live() != 1 {
		t.Fatalf("state = %v, live = %d", sess.State(), scope.Live())
	}

	blob, err := sess.Close(ctx, false)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if scope.Live() != 0 {
		t.Fatalf("live after close = %d", scope.Live())
	}
	if client.closed != 1 {
		t.Fatalf("closed = %d", client.closed)
	}

	// The snapshot seeds the next open.
	client2 := &stubClient{}
	factory2 := &stubFactory{next: client2}
	if _, err := Open(ctx, scope, factory2, ClientConfig{}, blob); err != nil {
		t.Fatalf("seeded Open: %v", err)
	}
	if string(factory2.lastCfg.Snapshot) != "public-state" {
		t.Fatalf("snapshot payload = %q", factory2.lastCfg.Snapshot)
	}
	if err := scope.Leave(ctx); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if client2.closed != 1 {
		t.Fatalf("leaked session not force-closed, closed = %d", client2.closed)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	scope := NewScope(nil)
	scope.Enter()
	defer func() { _ = scope.Leave(ctx) }()

	client := &stubClient{}
	factory := &stubFactory{next: client}

	sess, err := Open(ctx, scope, factory, ClientConfig{}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	snapshot, continuation, err := sess.Pause(ctx)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if sess.State() != StatePaused || sess.Client() != nil {
		t.Fatal("session not spent after pause")
	}
	if scope.Live() != 0 {
		t.Fatalf("live after pause = %d", scope.Live())
	}

	client2 := &stubClient{}
	factory2 := &stubFactory{next: client2}
	resumed, err := Resume(ctx, scope, factory2, ClientConfig{}, snapshot, continuation)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !resumed.Resumed() {
		t.Fatal("Resumed() = false")
	}
	// The pause snapshot carries full private state.
	if string(factory2.lastCfg.Snapshot) != "full-state" {
		t.Fatalf("snapshot payload = %q", factory2.lastCfg.Snapshot)
	}

	if _, err := resumed.Close(ctx, false); err != nil {
		t.Fatalf("Close resumed: %v", err)
	}
	if client2.exited != 1 {
		t.Fatalf("resume handle exits = %d", client2.exited)
	}
}

func TestBlobKindMismatchRejected(t *testing.T) {
	ctx := context.Background()
	scope := NewScope(nil)
	scope.Enter()
	defer func() { _ = scope.Leave(ctx) }()

	client := &stubClient{}
	factory := &stubFactory{next: client}

	sess, err := Open(ctx, scope, factory, ClientConfig{}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	snapshot, continuation, err := sess.Pause(ctx)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// Swapped blobs must not reach the client.
	if _, err := Resume(ctx, scope, factory, ClientConfig{}, continuation, snapshot); !errors.Is(err, errBlobFormat) {
		t.Fatalf("err = %v, want blob format error", err)
	}
	if _, err := Open(ctx, scope, factory, ClientConfig{}, continuation); !errors.Is(err, errBlobFormat) {
		t.Fatalf("err = %v, want blob format error", err)
	}
}

func TestLeakedSessionForceClosedOnLeave(t *testing.T) {
	ctx := context.Background()

	var leaked int
	scope := NewScope(func(_ *Session, closeErr error) {
		leaked++
		if closeErr != nil {
			t.Errorf("force close failed: %v", closeErr)
		}
	})
	scope.Enter()

	client := &stubClient{}
	factory := &stubFactory{next: client}
	if _, err := Open(ctx, scope, factory, ClientConfig{}, nil); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := scope.Leave(ctx); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if leaked != 1 {
		t.Fatalf("leak notifications = %d", leaked)
	}
	if client.closed != 1 {
		t.Fatalf("closed = %d", client.closed)
	}
}

func TestNestedScopeCleansUpOnlyAtOutermostLeave(t *testing.T) {
	ctx := context.Background()
	var leaked int
	scope := NewScope(func(*Session, error) { leaked++ })

	scope.Enter()
	scope.Enter()

	client := &stubClient{}
	factory := &stubFactory{next: client}
	if _, err := Open(ctx, scope, factory, ClientConfig{}, nil); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := scope.Leave(ctx); err != nil {
		t.Fatalf("inner Leave: %v", err)
	}
	if leaked != 0 || client.closed != 0 {
		t.Fatal("inner leave must not clean up")
	}

	if err := scope.Leave(ctx); err != nil {
		t.Fatalf("outer Leave: %v", err)
	}
	if leaked != 1 || client.closed != 1 {
		t.Fatalf("leaked = %d, closed = %d", leaked, client.closed)
	}
}
