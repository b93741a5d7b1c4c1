package fintsflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finwerk/fintsflow/banks"
	"github.com/finwerk/fintsflow/dialog"
	"github.com/finwerk/fintsflow/internal"
	"github.com/finwerk/fintsflow/internal/flows"
	"github.com/finwerk/fintsflow/internal/limiters"
	"github.com/finwerk/fintsflow/internal/lock"
	"github.com/finwerk/fintsflow/internal/stores"
	"github.com/finwerk/fintsflow/internal/wtoken"
	"github.com/finwerk/fintsflow/pinvault"
)

// Audit event types emitted by the engine.
const (
	auditEnrollBegin      = "enroll.begin"
	auditEnrollSelect     = "enroll.select"
	auditEnrollTAN        = "enroll.tan"
	auditEnrollComplete   = "enroll.complete"
	auditTransferBegin    = "transfer.begin"
	auditTransferTAN      = "transfer.tan"
	auditTransferComplete = "transfer.complete"
	auditStatementsFetch  = "statements.fetch"
	auditAccountsRefresh  = "accounts.refresh"
	auditDialogLeak       = "dialog.leak"
	auditPINStored        = "pin.stored"
	auditPINPurged        = "pin.purged"
)

// Engine is the assembled banking session engine. Construct it through
// [Builder.Build]; a zero Engine is not usable. All methods are safe for
// concurrent use.
type Engine struct {
	config    Config
	factory   dialog.ClientFactory
	store     LoginStore
	directory *banks.Directory

	vault      *pinvault.Vault
	workflows  *stores.WorkflowStore
	locks      *lock.Guard
	pinLimiter *limiters.PINLimiter

	flows flows.Service

	audit   *auditDispatcher
	metrics *Metrics
}

// Close drains and stops the audit dispatcher. In-flight operations are not
// interrupted; call Close only after request handling stopped.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies all engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the counter set for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// ResolveBank looks a bank code up in the configured directory.
func (e *Engine) ResolveBank(bankCode string) (banks.Bank, error) {
	if e == nil || e.directory == nil {
		return banks.Bank{}, ErrEngineNotReady
	}
	return e.directory.Lookup(bankCode)
}

func (e *Engine) ready() error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, userLoginID, workflowID string, opErr error) {
	if e == nil || e.audit == nil {
		return
	}
	event := AuditEvent{
		ID:          newAuditID(),
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		UserID:      userID,
		UserLoginID: userLoginID,
		WorkflowID:  workflowID,
		Success:     success,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	e.audit.Emit(ctx, event)
}

// onLeak fires when a guarded scope exits with a dialog still open. The
// session was already force-closed best-effort; this records the fact.
func (e *Engine) onLeak(_ *dialog.Session, closeErr error) {
	e.metricInc(MetricDialogLeaked)
	e.emitAudit(context.Background(), auditDialogLeak, closeErr == nil, "", "", "", closeErr)
}

/*
====================================
ERROR MAPPING
====================================
*/

// mapStoreErr normalizes LoginStore failures. ErrNotFound passes through so
// callers can branch on it; anything else becomes ErrStoreUnavailable.
func (e *Engine) mapStoreErr(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (e *Engine) mapWorkflowErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrWorkflowNotFound):
		return ErrWorkflowNotFound
	case errors.Is(err, stores.ErrWorkflowExpired):
		e.metricInc(MetricWorkflowExpired)
		return ErrWorkflowExpired
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (e *Engine) mapVaultErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pinvault.ErrNoPIN):
		return ErrNoCachedPIN
	case errors.Is(err, pinvault.ErrSentinelPIN):
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	case errors.Is(err, pinvault.ErrTierNotStorable):
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (e *Engine) mapLimiterErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrPINRateLimited):
		return ErrPINRateLimited
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (e *Engine) mapTokenErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, wtoken.ErrTokenExpired):
		e.metricInc(MetricWorkflowExpired)
		return ErrWorkflowExpired
	default:
		return fmt.Errorf("%w: %v", ErrWorkflowInvalid, err)
	}
}

// workflowPINLabel is the vault label of a workflow's resume-tier PIN stash.
func workflowPINLabel(wid string) string {
	return "wf:" + wid
}

/*
====================================
FLOW WIRING
====================================
*/

// buildFlowService wires the flow dependency set against the engine's
// components. Flows see the engine only through these closures; every error
// crossing the boundary is mapped into the public taxonomy here.
func (e *Engine) buildFlowService() flows.Service {
	deps := flows.Deps{
		ProductID: e.config.Dialog.ProductID,
		TokenTTL:  e.config.Workflow.TokenTTL,

		Factory: e.factory,
		OnLeak:  e.onLeak,

		Now:           time.Now,
		NewID:         uuid.NewString,
		NewWorkflowID: uuid.NewString,

		SignToken: func(wid, kind string) (string, error) {
			return wtoken.Sign(e.config.Workflow.SigningSecret, wid, kind, e.config.Workflow.TokenTTL, time.Now())
		},
		ParseToken: func(token, kind string) (string, error) {
			wid, err := wtoken.Parse(e.config.Workflow.SigningSecret, token, kind)
			if err != nil {
				return "", e.mapTokenErr(err)
			}
			return wid, nil
		},

		SaveWorkflow: func(ctx context.Context, wid string, rec *stores.WorkflowRecord) error {
			return e.mapWorkflowErr(e.workflows.Save(ctx, wid, rec, e.config.Workflow.TokenTTL))
		},
		GetWorkflow: func(ctx context.Context, wid string) (*stores.WorkflowRecord, error) {
			rec, err := e.workflows.Get(ctx, wid)
			if err != nil {
				return nil, e.mapWorkflowErr(err)
			}
			return rec, nil
		},
		ConsumeWorkflow: func(ctx context.Context, wid string) (*stores.WorkflowRecord, error) {
			rec, err := e.workflows.Consume(ctx, wid)
			if err != nil {
				return nil, e.mapWorkflowErr(err)
			}
			return rec, nil
		},
		DeleteWorkflow: func(ctx context.Context, wid string) error {
			return e.mapWorkflowErr(e.workflows.Delete(ctx, wid))
		},

		AcquireLock: func(ctx context.Context, login string) (func(context.Context) error, error) {
			owner, err := internal.NewOwnerToken()
			if err != nil {
				return nil, err
			}
			lease, err := e.locks.Acquire(ctx, login, owner)
			if err != nil {
				if errors.Is(err, lock.ErrHeld) {
					e.metricInc(MetricLoginBusy)
					return nil, ErrLoginBusy
				}
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			return lease.Release, nil
		},

		LookupBank: func(code string) (string, string, error) {
			bank, err := e.directory.Lookup(code)
			if err != nil {
				return "", "", err
			}
			return bank.Name, bank.Endpoint, nil
		},

		ResolvePIN: func(ctx context.Context, label, provided string) (string, error) {
			pin, err := e.vault.Resolve(ctx, label, provided)
			if err != nil {
				return "", e.mapVaultErr(err)
			}
			return pin, nil
		},
		CachePIN: func(ctx context.Context, label, pin string, tier uint8) error {
			return e.mapVaultErr(e.vault.Store(ctx, label, pin, pinvault.Tier(tier)))
		},

		CacheWorkflowPIN: func(ctx context.Context, wid, pin string) error {
			return e.mapVaultErr(e.vault.Store(ctx, workflowPINLabel(wid), pin, pinvault.TierResume))
		},
		FetchWorkflowPIN: func(ctx context.Context, wid string) (string, error) {
			pin, _, err := e.vault.Fetch(ctx, workflowPINLabel(wid))
			if err != nil {
				// The stash expires with the workflow; its absence means the
				// suspension outlived its TTL.
				if errors.Is(err, pinvault.ErrNoPIN) {
					e.metricInc(MetricWorkflowExpired)
					return "", ErrWorkflowExpired
				}
				return "", e.mapVaultErr(err)
			}
			return pin, nil
		},
		PurgeWorkflowPIN: func(ctx context.Context, wid string) error {
			return e.mapVaultErr(e.vault.Purge(ctx, workflowPINLabel(wid)))
		},

		CheckPINAttempts: func(ctx context.Context, login string) error {
			return e.mapLimiterErr(e.pinLimiter.Check(ctx, login))
		},
		RecordPINFailure: func(ctx context.Context, login string) error {
			return e.mapLimiterErr(e.pinLimiter.RecordFailure(ctx, login))
		},
		ResetPINAttempts: func(ctx context.Context, login string) error {
			return e.mapLimiterErr(e.pinLimiter.Reset(ctx, login))
		},

		FindBankLoginByCode: func(ctx context.Context, code string) (*flows.BankLoginRec, error) {
			bl, err := e.store.FindBankLoginByCode(ctx, code)
			if err != nil {
				return nil, e.mapStoreErr(err)
			}
			return bankLoginRec(bl), nil
		},
		GetBankLogin: func(ctx context.Context, id string) (*flows.BankLoginRec, error) {
			bl, err := e.store.GetBankLogin(ctx, id)
			if err != nil {
				return nil, e.mapStoreErr(err)
			}
			return bankLoginRec(bl), nil
		},
		CreateBankLogin: func(ctx context.Context, rec *flows.BankLoginRec) error {
			bl := &BankLogin{
				ID:        rec.ID,
				BankCode:  rec.BankCode,
				Name:      rec.Name,
				Endpoint:  rec.Endpoint,
				CreatedAt: time.Now().UTC(),
			}
			return e.mapStoreErr(e.store.CreateBankLogin(ctx, bl))
		},
		CreateUserLogin: func(ctx context.Context, rec *flows.UserLoginRec) error {
			now := time.Now().UTC()
			ul := userLoginFromRec(rec)
			ul.CreatedAt = now
			ul.UpdatedAt = now
			return e.mapStoreErr(e.store.CreateUserLogin(ctx, ul))
		},
		GetUserLogin: func(ctx context.Context, id string) (*flows.UserLoginRec, error) {
			ul, err := e.store.GetUserLogin(ctx, id)
			if err != nil {
				return nil, e.mapStoreErr(err)
			}
			return userLoginRec(ul), nil
		},
		UpdateUserLogin: func(ctx context.Context, rec *flows.UserLoginRec) error {
			ul := userLoginFromRec(rec)
			ul.UpdatedAt = time.Now().UTC()
			return e.mapStoreErr(e.store.UpdateUserLogin(ctx, ul))
		},
		UpsertAccounts: func(ctx context.Context, userLoginID string, recs []flows.AccountRec) error {
			accounts := make([]Account, 0, len(recs))
			now := time.Now().UTC()
			for i := range recs {
				acct := accountFromRec(&recs[i])
				acct.UpdatedAt = now
				accounts = append(accounts, *acct)
			}
			return e.mapStoreErr(e.store.UpsertAccounts(ctx, userLoginID, accounts))
		},
		GetAccount: func(ctx context.Context, id string) (*flows.AccountRec, error) {
			acct, err := e.store.GetAccount(ctx, id)
			if err != nil {
				return nil, e.mapStoreErr(err)
			}
			return accountRec(acct), nil
		},
		AppendBankMessage: func(ctx context.Context, rec *flows.BankMessageRec) error {
			msg := &BankMessage{
				ID:          uuid.NewString(),
				UserLoginID: rec.UserLoginID,
				Code:        rec.Code,
				Text:        rec.Text,
				Params:      rec.Params,
				ReceivedAt:  time.Now().UTC(),
			}
			return e.mapStoreErr(e.store.AppendBankMessage(ctx, msg))
		},
		IsNotFound: func(err error) bool {
			return errors.Is(err, ErrNotFound)
		},

		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		ObserveOpen: func(d time.Duration) {
			if e.metrics != nil {
				e.metrics.Observe(MetricDialogOpenLatency, d)
			}
		},
		EmitAudit: e.emitAudit,

		Metrics: flows.Metrics{
			DialogOpened:  int(MetricDialogOpened),
			DialogResumed: int(MetricDialogResumed),
			DialogPaused:  int(MetricDialogPaused),
			DialogClosed:  int(MetricDialogClosed),

			AuthFailure: int(MetricAuthFailure),
			StaleDialog: int(MetricStaleDialog),

			TANRequested: int(MetricTANRequested),
			TANConfirmed: int(MetricTANConfirmed),
			TANFailed:    int(MetricTANFailed),

			EnrollStarted:   int(MetricEnrollStarted),
			EnrollCompleted: int(MetricEnrollCompleted),

			WorkflowSuspended: int(MetricWorkflowSuspended),
			WorkflowResumed:   int(MetricWorkflowResumed),

			TransferSubmitted: int(MetricTransferSubmitted),
			TransferCompleted: int(MetricTransferCompleted),

			PINCached: int(MetricPINCached),

			StatementsFetched: int(MetricStatementsFetched),
		},
		Events: flows.Events{
			EnrollBegin:      auditEnrollBegin,
			EnrollSelect:     auditEnrollSelect,
			EnrollTAN:        auditEnrollTAN,
			EnrollComplete:   auditEnrollComplete,
			TransferBegin:    auditTransferBegin,
			TransferTAN:      auditTransferTAN,
			TransferComplete: auditTransferComplete,
			StatementsFetch:  auditStatementsFetch,
			AccountsRefresh:  auditAccountsRefresh,
		},
		Errors: flows.Errors{
			EngineNotReady:   ErrEngineNotReady,
			Authentication:   ErrAuthentication,
			StaleDialog:      ErrStaleDialog,
			Precondition:     ErrPrecondition,
			LoginBusy:        ErrLoginBusy,
			BankProtocol:     ErrBankProtocol,
			NoCachedPIN:      ErrNoCachedPIN,
			PINRateLimited:   ErrPINRateLimited,
			WorkflowNotFound: ErrWorkflowNotFound,
			WorkflowExpired:  ErrWorkflowExpired,
			WorkflowInvalid:  ErrWorkflowInvalid,
			TANRequired:      ErrTANRequired,
			NotFound:         ErrNotFound,
			StoreUnavailable: ErrStoreUnavailable,
		},
	}

	return flows.New(deps)
}

/*
====================================
RECORD CONVERSION
====================================
*/

func bankLoginRec(bl *BankLogin) *flows.BankLoginRec {
	return &flows.BankLoginRec{
		ID:       bl.ID,
		BankCode: bl.BankCode,
		Name:     bl.Name,
		Endpoint: bl.Endpoint,
	}
}

func userLoginRec(ul *UserLogin) *flows.UserLoginRec {
	return &flows.UserLoginRec{
		ID:           ul.ID,
		BankLoginID:  ul.BankLoginID,
		UserID:       ul.UserID,
		LoginName:    ul.LoginName,
		DisplayName:  ul.DisplayName,
		Snapshot:     []byte(ul.Snapshot),
		TANMechanism: ul.TANMechanism,
		TANMedium:    ul.TANMedium,
		TANMedia:     ul.TANMedia,
	}
}

func userLoginFromRec(rec *flows.UserLoginRec) *UserLogin {
	return &UserLogin{
		ID:           rec.ID,
		BankLoginID:  rec.BankLoginID,
		UserID:       rec.UserID,
		LoginName:    rec.LoginName,
		DisplayName:  rec.DisplayName,
		Snapshot:     dialog.Blob(rec.Snapshot),
		TANMechanism: rec.TANMechanism,
		TANMedium:    rec.TANMedium,
		TANMedia:     rec.TANMedia,
	}
}

func accountRec(acct *Account) *flows.AccountRec {
	return &flows.AccountRec{
		ID:          acct.ID,
		UserLoginID: acct.UserLoginID,
		IBAN:        acct.IBAN,
		AccountNo:   acct.AccountNo,
		SubAccount:  acct.SubAccount,
		BLZ:         acct.BLZ,
		Name:        acct.Name,
		Caps:        acct.Caps,
	}
}

func accountFromRec(rec *flows.AccountRec) *Account {
	return &Account{
		ID:          rec.ID,
		UserLoginID: rec.UserLoginID,
		IBAN:        rec.IBAN,
		AccountNo:   rec.AccountNo,
		SubAccount:  rec.SubAccount,
		BLZ:         rec.BLZ,
		Name:        rec.Name,
		Caps:        rec.Caps,
	}
}
