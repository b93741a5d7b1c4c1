package flows

import (
	"context"
	"time"

	"github.com/finwerk/fintsflow/dialog"
	"github.com/finwerk/fintsflow/internal/stores"
)

// Errors are the host sentinel errors flows return. Flows never declare their
// own public errors; the engine injects its taxonomy once at build time.
type Errors struct {
	EngineNotReady   error
	Authentication   error
	StaleDialog      error
	Precondition     error
	LoginBusy        error
	BankProtocol     error
	NoCachedPIN      error
	PINRateLimited   error
	WorkflowNotFound error
	WorkflowExpired  error
	WorkflowInvalid  error
	TANRequired      error
	NotFound         error
	StoreUnavailable error
}

// Metrics carries the host metric ids flows increment.
type Metrics struct {
	DialogOpened  int
	DialogResumed int
	DialogPaused  int
	DialogClosed  int

	AuthFailure int
	StaleDialog int

	TANRequested int
	TANConfirmed int
	TANFailed    int

	EnrollStarted   int
	EnrollCompleted int

	WorkflowSuspended int
	WorkflowResumed   int

	TransferSubmitted int
	TransferCompleted int

	PINCached int

	StatementsFetched int
}

// Events are the audit event names the host registered.
type Events struct {
	EnrollBegin      string
	EnrollSelect     string
	EnrollTAN        string
	EnrollComplete   string
	TransferBegin    string
	TransferTAN      string
	TransferComplete string
	StatementsFetch  string
	AccountsRefresh  string
}

// BankLoginRec mirrors the host's bank login row.
type BankLoginRec struct {
	ID       string
	BankCode string
	Name     string
	Endpoint string
}

// UserLoginRec mirrors the host's user login row.
type UserLoginRec struct {
	ID          string
	BankLoginID string
	UserID      string
	LoginName   string
	DisplayName string

	Snapshot []byte

	TANMechanism string
	TANMedium    string
	TANMedia     []string
}

// AccountRec mirrors the host's account row.
type AccountRec struct {
	ID          string
	UserLoginID string
	IBAN        string
	AccountNo   string
	SubAccount  string
	BLZ         string
	Name        string
	Caps        uint32
}

// BankMessageRec is one informational bank message to persist.
type BankMessageRec struct {
	UserLoginID string
	Code        string
	Text        string
	Params      string
}

// Deps is the full dependency set, built once by the root engine. Store and
// limiter functions return host-mapped errors and are passed through; errors
// from the protocol client are mapped here against the Errors set.
type Deps struct {
	ProductID string
	TokenTTL  time.Duration

	Factory dialog.ClientFactory
	OnLeak  dialog.LeakFunc

	Now           func() time.Time
	NewID         func() string
	NewWorkflowID func() string

	SignToken  func(wid, kind string) (string, error)
	ParseToken func(token, kind string) (string, error)

	SaveWorkflow    func(ctx context.Context, wid string, rec *stores.WorkflowRecord) error
	GetWorkflow     func(ctx context.Context, wid string) (*stores.WorkflowRecord, error)
	ConsumeWorkflow func(ctx context.Context, wid string) (*stores.WorkflowRecord, error)
	DeleteWorkflow  func(ctx context.Context, wid string) error

	// AcquireLock returns a release function, or the host's LoginBusy error.
	AcquireLock func(ctx context.Context, login string) (func(context.Context) error, error)

	LookupBank func(code string) (name, endpoint string, err error)

	ResolvePIN func(ctx context.Context, label, provided string) (string, error)
	CachePIN   func(ctx context.Context, label, pin string, tier uint8) error

	// Workflow-scoped PIN stash, bridging the PIN across a suspension.
	CacheWorkflowPIN func(ctx context.Context, wid, pin string) error
	FetchWorkflowPIN func(ctx context.Context, wid string) (string, error)
	PurgeWorkflowPIN func(ctx context.Context, wid string) error

	CheckPINAttempts func(ctx context.Context, login string) error
	RecordPINFailure func(ctx context.Context, login string) error
	ResetPINAttempts func(ctx context.Context, login string) error

	FindBankLoginByCode func(ctx context.Context, code string) (*BankLoginRec, error)
	GetBankLogin        func(ctx context.Context, id string) (*BankLoginRec, error)
	CreateBankLogin     func(ctx context.Context, rec *BankLoginRec) error
	CreateUserLogin     func(ctx context.Context, rec *UserLoginRec) error
	GetUserLogin        func(ctx context.Context, id string) (*UserLoginRec, error)
	UpdateUserLogin     func(ctx context.Context, rec *UserLoginRec) error
	UpsertAccounts      func(ctx context.Context, userLoginID string, accounts []AccountRec) error
	GetAccount          func(ctx context.Context, id string) (*AccountRec, error)
	AppendBankMessage   func(ctx context.Context, rec *BankMessageRec) error
	IsNotFound          func(error) bool

	MetricInc   func(int)
	ObserveOpen func(time.Duration)
	EmitAudit   func(ctx context.Context, event string, success bool, userID, userLoginID, workflowID string, opErr error)

	Metrics Metrics
	Events  Events
	Errors  Errors
}

func pinLabel(userID, bankLoginID string) string {
	return userID + ":" + bankLoginID
}
