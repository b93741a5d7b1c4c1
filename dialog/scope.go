package dialog

import (
	"context"
	"errors"
	"fmt"
)

// ErrScopeInactive is returned when a registry operation runs outside an
// active scope. This is a programmer error in the integration code.
var ErrScopeInactive = errors.New("no active dialog scope")

// ErrNotRegistered is returned when releasing a session the scope does not
// track.
var ErrNotRegistered = errors.New("session not registered in scope")

// LeakFunc is notified for every session found still open when the outermost
// scope exits. The error is the force-close failure, nil when cleanup worked.
type LeakFunc func(s *Session, closeErr error)

// Scope tracks every protocol session opened but not yet closed or paused
// within one guarded unit of work, and guarantees cleanup on exit. Scopes are
// reentrant: nested Enter calls share one live set and only the outermost
// Leave performs leak cleanup. A Scope is confined to a single goroutine.
type Scope struct {
	depth   int
	live    map[*Session]struct{}
	resumed map[*Session]ResumeHandle
	onLeak  LeakFunc
}

// NewScope returns an inactive scope. Call Enter before opening sessions.
func NewScope(onLeak LeakFunc) *Scope {
	return &Scope{
		live:    make(map[*Session]struct{}),
		resumed: make(map[*Session]ResumeHandle),
		onLeak:  onLeak,
	}
}

// Enter marks the start of a guarded unit of work. Reentrant.
func (sc *Scope) Enter() {
	sc.depth++
}

// Active reports whether the scope currently guards a unit of work.
func (sc *Scope) Active() bool {
	return sc != nil && sc.depth > 0
}

// Live returns the number of currently tracked open sessions.
func (sc *Scope) Live() int {
	if sc == nil {
		return 0
	}
	return len(sc.live)
}

func (sc *Scope) registerOpen(s *Session) error {
	if !sc.Active() {
		return ErrScopeInactive
	}
	sc.live[s] = struct{}{}
	return nil
}

func (sc *Scope) registerResumed(s *Session, handle ResumeHandle) error {
	if !sc.Active() {
		return ErrScopeInactive
	}
	sc.live[s] = struct{}{}
	sc.resumed[s] = handle
	return nil
}

// release removes a session from the live set. For resumed sessions the
// resume handle is exited before returning, even when the caller is already
// unwinding an error.
func (sc *Scope) release(ctx context.Context, s *Session) error {
	if !sc.Active() {
		return ErrScopeInactive
	}
	if _, ok := sc.live[s]; !ok {
		return ErrNotRegistered
	}
	delete(sc.live, s)
	if handle, ok := sc.resumed[s]; ok {
		delete(sc.resumed, s)
		if err := handle.Exit(ctx); err != nil {
			return fmt.Errorf("exit resumed dialog: %w", err)
		}
	}
	return nil
}

// Leave ends one level of the guarded unit of work. On the outermost exit any
// session still tracked is a caller bug: each is force-closed best-effort, the
// leak hook is notified, and one representative error is returned after all
// leaked sessions were attempted.
func (sc *Scope) Leave(ctx context.Context) error {
	if !sc.Active() {
		return ErrScopeInactive
	}
	sc.depth--
	if sc.depth > 0 {
		return nil
	}

	var leakErr error
	for s := range sc.live {
		closeErr := s.forceClose(ctx)
		if handle, ok := sc.resumed[s]; ok {
			delete(sc.resumed, s)
			if exitErr := handle.Exit(ctx); exitErr != nil && closeErr == nil {
				closeErr = exitErr
			}
		}
		delete(sc.live, s)
		if sc.onLeak != nil {
			sc.onLeak(s, closeErr)
		}
		if closeErr != nil && leakErr == nil {
			leakErr = closeErr
		}
	}
	if len(sc.live) != 0 {
		// Unreachable: the loop drains the map.
		leakErr = errors.New("scope live set not drained")
	}
	return leakErr
}
