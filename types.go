package fintsflow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finwerk/fintsflow/dialog"
	"github.com/finwerk/fintsflow/pinvault"
)

// BankLogin identifies one online-banking access at one bank. Several users
// may enroll against the same bank, each through their own UserLogin.
type BankLogin struct {
	ID       string
	BankCode string
	Name     string
	Endpoint string

	CreatedAt time.Time
}

// UserLogin binds a host-application user to a BankLogin, together with the
// protocol state that lets future dialogs skip re-synchronization. Snapshot
// never contains the PIN; credentials live in the PIN vault or nowhere.
type UserLogin struct {
	ID          string
	BankLoginID string
	UserID      string
	LoginName   string
	DisplayName string

	// Snapshot is the persisted clean-close dialog blob seeding fresh opens.
	Snapshot dialog.Blob

	// TANMechanism and TANMedium are the enrolled two-factor selection.
	TANMechanism string
	TANMedium    string
	TANMedia     []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PINLabel is the vault label all cached PINs for this login live under.
func (ul *UserLogin) PINLabel() string {
	return ul.UserID + ":" + ul.BankLoginID
}

// Capability flags describing which operations an account supports, derived
// from the business transactions the bank advertises for it.
const (
	CapFetchTransactions uint32 = 1 << iota
	CapSendTransfer
	CapSendTransferMultiple
)

// Account is one SEPA account reachable through a UserLogin.
type Account struct {
	ID          string
	UserLoginID string
	IBAN        string
	AccountNo   string
	SubAccount  string
	BLZ         string
	Name        string

	// Caps is a bitmask of Cap* flags.
	Caps uint32

	UpdatedAt time.Time
}

// CanFetchTransactions reports whether statement retrieval is advertised.
func (a *Account) CanFetchTransactions() bool {
	return a.Caps&CapFetchTransactions != 0
}

// CanSendTransfer reports whether single SEPA transfers are advertised.
func (a *Account) CanSendTransfer() bool {
	return a.Caps&CapSendTransfer != 0
}

// SEPA returns the protocol-level account reference.
func (a *Account) SEPA() dialog.SEPAAccount {
	return dialog.SEPAAccount{
		IBAN:          a.IBAN,
		AccountNumber: a.AccountNo,
		SubAccount:    a.SubAccount,
		BankCode:      a.BLZ,
	}
}

// BankMessage is an informational message the bank attached to a dialog
// response, stored per login and surfaced to the user out of band.
type BankMessage struct {
	ID          string
	UserLoginID string
	Code        string
	Text        string
	Params      string
	ReceivedAt  time.Time
}

// EnrollmentRequest starts a new enrollment workflow.
type EnrollmentRequest struct {
	UserID      string
	BankCode    string
	LoginName   string
	PIN         string
	DisplayName string

	// PINTier is the user's caching decision for this PIN.
	PINTier pinvault.Tier
}

// EnrollmentStatus describes where a suspended enrollment workflow stands.
// Token identifies the workflow across requests; everything else is display
// state for the current stage.
type EnrollmentStatus struct {
	Token       string
	Stage       string
	BankCode    string
	LoginName   string
	DisplayName string

	// Mechanisms and Media are the bank's offers, populated once known.
	Mechanisms []dialog.TANMechanism
	Media      []string

	// SelectedMechanism and SelectedMedium echo the current choices.
	SelectedMechanism string
	SelectedMedium    string

	// TANRequest is non-nil when the workflow waits on a TAN.
	TANRequest *dialog.TANRequest

	// UserLoginID is set once the enrollment completed.
	UserLoginID string

	PINTier   pinvault.Tier
	ExpiresAt time.Time
}

// Done reports whether the enrollment reached its terminal stage.
func (s *EnrollmentStatus) Done() bool {
	return s != nil && s.UserLoginID != ""
}

// TransferRequest is a single SEPA credit transfer.
type TransferRequest struct {
	AccountID string
	Recipient string
	IBAN      string
	BIC       string
	Amount    decimal.Decimal
	Currency  string
	Purpose   string

	// PIN is the literal PIN or the cached-PIN sentinel.
	PIN string
}

// TransferOutcome is the terminal result of a transfer workflow.
type TransferOutcome struct {
	Status  dialog.ResponseStatus
	Message string
}

// TransferChallenge is a transfer workflow suspended on a TAN.
type TransferChallenge struct {
	Token      string
	TANRequest *dialog.TANRequest
	ExpiresAt  time.Time
}

// Transaction re-exports the protocol-level statement entry.
type Transaction = dialog.Transaction

// LoginStore is the persistence port for bank logins, user logins, accounts
// and bank messages. Implementations return ErrNotFound for missing rows and
// must be safe for concurrent use.
type LoginStore interface {
	CreateBankLogin(ctx context.Context, login *BankLogin) error
	GetBankLogin(ctx context.Context, id string) (*BankLogin, error)
	FindBankLoginByCode(ctx context.Context, bankCode string) (*BankLogin, error)

	CreateUserLogin(ctx context.Context, login *UserLogin) error
	GetUserLogin(ctx context.Context, id string) (*UserLogin, error)
	UpdateUserLogin(ctx context.Context, login *UserLogin) error

	UpsertAccounts(ctx context.Context, userLoginID string, accounts []Account) error
	ListAccounts(ctx context.Context, userLoginID string) ([]Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)

	AppendBankMessage(ctx context.Context, msg *BankMessage) error
	ListBankMessages(ctx context.Context, userLoginID string, limit int) ([]BankMessage, error)
}
