package fintsflow

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method runs before Build completed.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrAuthentication is returned when the bank rejects the supplied credentials.
	// Any cached PIN for the login has been purged; the caller must re-prompt.
	ErrAuthentication = errors.New("bank rejected credentials")
	// ErrStaleDialog is returned when a paused dialog can no longer be resumed.
	// Not retryable; the workflow must restart from a fresh open.
	ErrStaleDialog = errors.New("dialog continuation stale")
	// ErrPrecondition indicates API misuse: operating outside a guarded scope,
	// pausing a closed dialog, releasing an unregistered session.
	ErrPrecondition = errors.New("dialog precondition violated")
	// ErrLoginBusy is returned when another dialog is already in flight for the
	// same login. Retryable once the concurrent dialog span ends.
	ErrLoginBusy = errors.New("login dialog busy")
	// ErrBankProtocol is returned for any other bank-side rejection; the dialog
	// has been force-closed best-effort before the error surfaces.
	ErrBankProtocol = errors.New("bank protocol error")
	// ErrNoCachedPIN is returned when the cached-PIN sentinel was submitted but
	// no retention tier currently holds a PIN for the login.
	ErrNoCachedPIN = errors.New("no cached pin")
	// ErrPINRateLimited is returned when the failed-PIN attempt budget for a
	// login is exhausted.
	ErrPINRateLimited = errors.New("pin attempts rate limited")
	// ErrWorkflowNotFound is returned when a workflow token does not name a
	// suspended workflow.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrWorkflowExpired is returned when the suspended workflow record has
	// passed its expiry.
	ErrWorkflowExpired = errors.New("workflow expired")
	// ErrWorkflowInvalid is returned for a tampered resume token or a kind
	// mismatch between token and stored workflow.
	ErrWorkflowInvalid = errors.New("workflow token invalid")
	// ErrTANRequired is returned when an operation needs a TAN confirmation and
	// none was supplied.
	ErrTANRequired = errors.New("tan required")
	// ErrNotFound is returned by LoginStore implementations for missing records.
	ErrNotFound = errors.New("record not found")
	// ErrStoreUnavailable is returned when a backing store cannot be reached.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)
