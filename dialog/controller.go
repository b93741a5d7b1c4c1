package dialog

import (
	"context"
	"errors"
	"fmt"
)

// State is the lifecycle state of a Session.
type State uint8

const (
	// StateClosed means no dialog exists; the handle is spent.
	StateClosed State = iota
	// StateOpen means a dialog is established with the bank.
	StateOpen
	// StatePaused means the dialog was suspended; the handle is spent and the
	// dialog lives on only in the returned snapshot/continuation pair.
	StatePaused
)

// ErrSessionNotOpen is returned for operations that require an open dialog.
var ErrSessionNotOpen = errors.New("session not open")

// Session is one dialog span with a bank: opened (fresh or by resume), then
// either paused or closed exactly once. The zero value is not usable; sessions
// are created by Open and Resume.
type Session struct {
	scope  *Scope
	client Client
	cfg    ClientConfig

	state   State
	initTAN *TANRequest
	resumed bool
}

// Open establishes a fresh dialog. When cfg carries a prior clean-close
// snapshot, prior must be that Blob and the client is seeded with it; pass a
// nil prior for a first-contact open. The session registers with scope and
// must be ended by Pause or Close before the scope exits.
//
// A non-nil InitTANRequest after Open means the bank demands a TAN to finish
// dialog initialization; the request is held on the session as data and can be
// answered later through the session's client, or after a pause/resume cycle.
func Open(ctx context.Context, scope *Scope, factory ClientFactory, cfg ClientConfig, prior Blob) (*Session, error) {
	if !scope.Active() {
		return nil, ErrScopeInactive
	}
	if len(prior) != 0 {
		payload, err := openBlob(blobKindSnapshot, prior)
		if err != nil {
			return nil, err
		}
		cfg.Snapshot = payload
	}

	client, err := factory.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("construct client: %w", err)
	}

	initTAN, err := client.OpenDialog(ctx)
	if err != nil {
		return nil, err
	}

	s := &Session{scope: scope, client: client, cfg: cfg, state: StateOpen, initTAN: initTAN}
	if err := scope.registerOpen(s); err != nil {
		// Scope died between the check and the register; do not leak the dialog.
		_ = client.CloseDialog(ctx)
		return nil, err
	}
	return s, nil
}

// Resume reconstructs a client from a pause snapshot and re-enters the paused
// dialog from its continuation blob. ErrStaleContinuation surfaces unchanged
// when the bank rejects the continuation; callers restart from Open, never
// retry Resume.
func Resume(ctx context.Context, scope *Scope, factory ClientFactory, cfg ClientConfig, snapshot, continuation Blob) (*Session, error) {
	if !scope.Active() {
		return nil, ErrScopeInactive
	}
	snapPayload, err := openBlob(blobKindSnapshot, snapshot)
	if err != nil {
		return nil, err
	}
	contPayload, err := openBlob(blobKindContinuation, continuation)
	if err != nil {
		return nil, err
	}
	cfg.Snapshot = snapPayload

	client, err := factory.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("construct client: %w", err)
	}

	handle, err := client.ResumeDialog(ctx, contPayload)
	if err != nil {
		return nil, err
	}

	s := &Session{scope: scope, client: client, cfg: cfg, state: StateOpen, resumed: true}
	if err := scope.registerResumed(s, handle); err != nil {
		_ = handle.Exit(ctx)
		return nil, err
	}
	return s, nil
}

// Client exposes the underlying protocol client for operations while the
// dialog is open. Returns nil once the session was paused or closed.
func (s *Session) Client() Client {
	if s == nil || s.state != StateOpen {
		return nil
	}
	return s.client
}

// State returns the session lifecycle state.
func (s *Session) State() State {
	if s == nil {
		return StateClosed
	}
	return s.state
}

// Resumed reports whether the session was opened via Resume.
func (s *Session) Resumed() bool {
	return s != nil && s.resumed
}

// InitTANRequest returns the TAN challenge raised during dialog
// initialization, or nil. The request survives as data on the session so it
// can be rendered and answered across a pause/resume boundary.
func (s *Session) InitTANRequest() *TANRequest {
	if s == nil {
		return nil
	}
	return s.initTAN
}

// Pause suspends the open dialog for later resumption. The snapshot is always
// captured with full private detail: a paused dialog exists to be resumed, and
// there is no cheaper capture. The continuation is single-use. After Pause the
// handle is spent.
func (s *Session) Pause(ctx context.Context) (snapshot, continuation Blob, err error) {
	if s.state != StateOpen {
		return nil, nil, ErrSessionNotOpen
	}

	contPayload, err := s.client.PauseDialog(ctx)
	if err != nil {
		// The dialog may be half-suspended; force a close so nothing dangles.
		s.abort(ctx)
		return nil, nil, err
	}

	snapPayload, err := s.client.Deconstruct(true)
	if err != nil {
		s.abort(ctx)
		return nil, nil, err
	}

	s.state = StatePaused
	releaseErr := s.scope.release(ctx, s)
	s.client = nil
	if releaseErr != nil {
		return nil, nil, releaseErr
	}
	return sealBlob(blobKindSnapshot, snapPayload), sealBlob(blobKindContinuation, contPayload), nil
}

// Close terminates the dialog and returns the persistable snapshot. Private
// dialog material is included only when includePrivate is set; a clean close
// that will seed future fresh opens does not need it. The session is released
// from its scope even when the bank-side close fails; in that case the
// snapshot from Deconstruct is still returned alongside the error.
func (s *Session) Close(ctx context.Context, includePrivate bool) (Blob, error) {
	if s.state != StateOpen {
		return nil, ErrSessionNotOpen
	}

	snapPayload, deconErr := s.client.Deconstruct(includePrivate)
	closeErr := s.client.CloseDialog(ctx)

	s.state = StateClosed
	releaseErr := s.scope.release(ctx, s)
	s.client = nil

	if deconErr != nil {
		return nil, deconErr
	}
	if closeErr != nil {
		return sealBlob(blobKindSnapshot, snapPayload), closeErr
	}
	if releaseErr != nil {
		return sealBlob(blobKindSnapshot, snapPayload), releaseErr
	}
	return sealBlob(blobKindSnapshot, snapPayload), nil
}

// forceClose is the scope-exit cleanup path for leaked sessions. Best-effort:
// the dialog is closed and the handle spent regardless of errors.
func (s *Session) forceClose(ctx context.Context) error {
	if s.state != StateOpen {
		return nil
	}
	err := s.client.CloseDialog(ctx)
	s.state = StateClosed
	s.client = nil
	return err
}

// abort force-closes and drops the session from its scope while unwinding an
// error. Failures here are secondary and intentionally discarded.
func (s *Session) abort(ctx context.Context) {
	_ = s.forceClose(ctx)
	_ = s.scope.release(ctx, s)
}
