package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finwerk/fintsflow/dialog"
	"github.com/finwerk/fintsflow/internal/stores"
)

// Token kinds; an enrollment token can never resume a transfer workflow.
const (
	TokenKindEnroll   = "enroll"
	TokenKindTransfer = "transfer"
)

// msgCollector buffers bank messages arriving during a dialog until the
// owning user login is known.
type msgCollector struct {
	msgs []BankMessageRec
}

func (c *msgCollector) add(code, text, params string) {
	c.msgs = append(c.msgs, BankMessageRec{Code: code, Text: text, Params: params})
}

// save carries the buffered messages into a workflow record so a suspension
// does not lose messages collected before any user login exists.
func (c *msgCollector) save(rec *stores.WorkflowRecord) error {
	if len(c.msgs) == 0 {
		return nil
	}
	data, err := json.Marshal(c.msgs)
	if err != nil {
		return err
	}
	rec.MessagesJSON = data
	return nil
}

// load seeds the collector with messages carried by a resumed record.
func (c *msgCollector) load(rec *stores.WorkflowRecord) {
	if len(rec.MessagesJSON) != 0 {
		_ = json.Unmarshal(rec.MessagesJSON, &c.msgs)
	}
}

func (c *msgCollector) flush(ctx context.Context, deps Deps, userLoginID string) {
	for i := range c.msgs {
		c.msgs[i].UserLoginID = userLoginID
		// Message persistence is best-effort; losing one must not fail the
		// banking operation that carried it.
		_ = deps.AppendBankMessage(ctx, &c.msgs[i])
	}
	c.msgs = nil
}

func recordClientConfig(deps Deps, rec *stores.WorkflowRecord, pin string, collect *msgCollector) dialog.ClientConfig {
	cfg := dialog.ClientConfig{
		BankCode:      rec.BankCode,
		LoginName:     rec.LoginName,
		PIN:           pin,
		Endpoint:      rec.Endpoint,
		ProductID:     deps.ProductID,
		TANMechanism:  rec.TANMechanism,
		TANMediumName: rec.TANMedium,
	}
	if collect != nil {
		cfg.OnMessage = collect.add
	}
	return cfg
}

// openSession opens a fresh dialog and maps protocol errors onto the host
// taxonomy. loginKey feeds the failed-PIN limiter on rejection.
func openSession(ctx context.Context, deps Deps, scope *dialog.Scope, cfg dialog.ClientConfig, prior dialog.Blob, loginKey string) (*dialog.Session, error) {
	start := deps.Now()
	sess, err := dialog.Open(ctx, scope, deps.Factory, cfg, prior)
	if err != nil {
		return nil, mapOpenError(ctx, deps, loginKey, err)
	}

	deps.MetricInc(deps.Metrics.DialogOpened)
	deps.ObserveOpen(deps.Now().Sub(start))
	if rerr := deps.ResetPINAttempts(ctx, loginKey); rerr != nil {
		_, _ = sess.Close(ctx, false)
		return nil, rerr
	}
	return sess, nil
}

func mapOpenError(ctx context.Context, deps Deps, loginKey string, err error) error {
	switch {
	case errors.Is(err, dialog.ErrPINRejected):
		deps.MetricInc(deps.Metrics.AuthFailure)
		if lerr := deps.RecordPINFailure(ctx, loginKey); lerr != nil {
			return lerr
		}
		return fmt.Errorf("%w: %v", deps.Errors.Authentication, err)
	case errors.Is(err, dialog.ErrProtocol):
		return fmt.Errorf("%w: %v", deps.Errors.BankProtocol, err)
	default:
		return fmt.Errorf("%w: %v", deps.Errors.BankProtocol, err)
	}
}

// resumeSession re-enters the paused dialog stored in a workflow record. The
// PIN comes from the workflow stash, never from the record itself.
func resumeSession(ctx context.Context, deps Deps, scope *dialog.Scope, wid string, rec *stores.WorkflowRecord, collect *msgCollector) (*dialog.Session, string, error) {
	pin, err := deps.FetchWorkflowPIN(ctx, wid)
	if err != nil {
		return nil, "", err
	}

	cfg := recordClientConfig(deps, rec, pin, collect)
	sess, err := dialog.Resume(ctx, scope, deps.Factory, cfg, rec.Snapshot, rec.Continuation)
	if err != nil {
		switch {
		case errors.Is(err, dialog.ErrStaleContinuation):
			deps.MetricInc(deps.Metrics.StaleDialog)
			return nil, "", fmt.Errorf("%w: %v", deps.Errors.StaleDialog, err)
		case errors.Is(err, dialog.ErrPINRejected):
			deps.MetricInc(deps.Metrics.AuthFailure)
			return nil, "", fmt.Errorf("%w: %v", deps.Errors.Authentication, err)
		default:
			return nil, "", fmt.Errorf("%w: %v", deps.Errors.BankProtocol, err)
		}
	}

	deps.MetricInc(deps.Metrics.DialogResumed)
	deps.MetricInc(deps.Metrics.WorkflowResumed)
	return sess, pin, nil
}

// suspendWorkflow pauses the dialog into the record, persists it under a fresh
// workflow id and signs a resume token for that id. Rekeying on every
// suspension keeps tokens single-use: an older token's id no longer addresses
// any record, so a replay cannot touch the live workflow. The PIN stash moves
// with the record; the previous id's stash is purged best-effort.
func suspendWorkflow(ctx context.Context, deps Deps, sess *dialog.Session, oldWid, pin string, rec *stores.WorkflowRecord) (token string, expiresAt time.Time, err error) {
	snapshot, continuation, err := sess.Pause(ctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", deps.Errors.BankProtocol, err)
	}
	deps.MetricInc(deps.Metrics.DialogPaused)

	wid := deps.NewWorkflowID()

	expiresAt = deps.Now().Add(deps.TokenTTL)
	rec.Snapshot = snapshot
	rec.Continuation = continuation
	rec.ExpiresAt = expiresAt.Unix()

	if err := deps.SaveWorkflow(ctx, wid, rec); err != nil {
		return "", time.Time{}, err
	}
	if err := deps.CacheWorkflowPIN(ctx, wid, pin); err != nil {
		return "", time.Time{}, err
	}
	if oldWid != "" && oldWid != wid {
		_ = deps.PurgeWorkflowPIN(ctx, oldWid)
	}

	kind := TokenKindEnroll
	if rec.Kind == stores.KindTransfer {
		kind = TokenKindTransfer
	}
	token, err = deps.SignToken(wid, kind)
	if err != nil {
		return "", time.Time{}, err
	}

	deps.MetricInc(deps.Metrics.WorkflowSuspended)
	return token, expiresAt, nil
}

// abandonSession closes the dialog while unwinding an in-dialog failure so
// scope exit does not misreport an ordinary bank error as a leak.
func abandonSession(ctx context.Context, deps Deps, sess *dialog.Session) {
	if _, err := sess.Close(ctx, false); err == nil {
		deps.MetricInc(deps.Metrics.DialogClosed)
	}
}

// reopenSession closes the dialog with full private state and opens a new one
// with the updated configuration. TAN mechanism and medium choices only take
// effect on a fresh dialog.
func reopenSession(ctx context.Context, deps Deps, scope *dialog.Scope, sess *dialog.Session, cfg dialog.ClientConfig, loginKey string) (*dialog.Session, error) {
	blob, err := sess.Close(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.BankProtocol, err)
	}
	deps.MetricInc(deps.Metrics.DialogClosed)
	return openSession(ctx, deps, scope, cfg, blob, loginKey)
}

// enrolledLoginConfig resolves everything needed to open a dialog for an
// already enrolled login: the bank login row, the usable PIN (sentinel input
// resolves against the vault) and the client configuration seeded with the
// persisted snapshot.
func enrolledLoginConfig(ctx context.Context, deps Deps, ul *UserLoginRec, providedPIN string, collect *msgCollector) (cfg dialog.ClientConfig, bl *BankLoginRec, loginKey string, err error) {
	bl, err = deps.GetBankLogin(ctx, ul.BankLoginID)
	if err != nil {
		return dialog.ClientConfig{}, nil, "", err
	}
	loginKey = bl.BankCode + ":" + ul.LoginName

	if err := deps.CheckPINAttempts(ctx, loginKey); err != nil {
		return dialog.ClientConfig{}, nil, "", err
	}
	pin, err := deps.ResolvePIN(ctx, pinLabel(ul.UserID, ul.BankLoginID), providedPIN)
	if err != nil {
		return dialog.ClientConfig{}, nil, "", err
	}

	cfg = dialog.ClientConfig{
		BankCode:      bl.BankCode,
		LoginName:     ul.LoginName,
		PIN:           pin,
		Endpoint:      bl.Endpoint,
		ProductID:     deps.ProductID,
		TANMechanism:  ul.TANMechanism,
		TANMediumName: ul.TANMedium,
	}
	if collect != nil {
		cfg.OnMessage = collect.add
	}
	return cfg, bl, loginKey, nil
}

// persistSnapshot stores the clean-close snapshot back on the user login.
func persistSnapshot(ctx context.Context, deps Deps, ul *UserLoginRec, blob dialog.Blob) error {
	ul.Snapshot = blob
	return deps.UpdateUserLogin(ctx, ul)
}

// mapClientError maps in-dialog operation failures onto the host taxonomy.
func mapClientError(deps Deps, err error) error {
	if errors.Is(err, dialog.ErrPINRejected) {
		deps.MetricInc(deps.Metrics.AuthFailure)
		return fmt.Errorf("%w: %v", deps.Errors.Authentication, err)
	}
	return fmt.Errorf("%w: %v", deps.Errors.BankProtocol, err)
}

// closeWithSnapshot ends the dialog cleanly and returns the persistable
// snapshot without private material.
func closeWithSnapshot(ctx context.Context, deps Deps, sess *dialog.Session) (dialog.Blob, error) {
	blob, err := sess.Close(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.BankProtocol, err)
	}
	deps.MetricInc(deps.Metrics.DialogClosed)
	return blob, nil
}
