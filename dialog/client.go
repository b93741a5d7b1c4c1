package dialog

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrPINRejected is the contract error Client implementations return (or
	// wrap) when the bank refuses the dialog because of bad credentials.
	ErrPINRejected = errors.New("bank rejected pin")
	// ErrStaleContinuation is the contract error for a resume attempt the bank
	// no longer accepts. Continuation blobs are single-use and expire.
	ErrStaleContinuation = errors.New("dialog continuation rejected")
	// ErrProtocol is the contract error for any other bank-side failure.
	ErrProtocol = errors.New("protocol failure")
)

// Operation identifies a bank operation for capability checks.
type Operation uint8

const (
	// OpGetTransactions is the statement-fetch operation.
	OpGetTransactions Operation = iota
	// OpSEPATransferSingle is a single SEPA credit transfer.
	OpSEPATransferSingle
	// OpSEPATransferMultiple is a batched SEPA credit transfer.
	OpSEPATransferMultiple
)

// ResponseStatus is the bank's final verdict on a submitted transaction.
type ResponseStatus uint8

const (
	// StatusUnknown means the response could not be classified.
	StatusUnknown ResponseStatus = iota
	// StatusSuccess means the transaction executed.
	StatusSuccess
	// StatusWarning means the transaction carried warnings; see messages.
	StatusWarning
	// StatusError means the transaction was not executed.
	StatusError
)

// TANMechanism describes one bank-offered TAN generation method.
type TANMechanism struct {
	ID             string
	Name           string
	TechID         string
	Prompt         string
	MaxInputLength int
	// MediumRequired reports whether the mechanism needs a named TAN medium.
	MediumRequired bool
}

// TANMedium is one enrolled device/token instance under a TAN mechanism.
type TANMedium struct {
	Name string
}

// TANRequest is an in-flight "need TAN" protocol response, normalized for
// out-of-band display. Data carries the serialized protocol response needed to
// answer the challenge later; it is opaque outside the Client implementation.
type TANRequest struct {
	Text           string
	FlickerPayload string
	MatrixMIME     string
	MatrixData     []byte
	Data           []byte
}

// SEPAAccount identifies one account at the bank.
type SEPAAccount struct {
	IBAN          string
	BIC           string
	AccountNumber string
	SubAccount    string
	BankCode      string
}

// AccountInfo is the bank's per-account metadata from dialog initialization.
type AccountInfo struct {
	IBAN                string
	ProductName         string
	SupportedOperations map[Operation]bool
}

// BankInformation is the negotiated bank metadata for an open dialog.
type BankInformation struct {
	BankName            string
	SupportedOperations map[Operation]bool
	Accounts            []AccountInfo
	TANMechanisms       map[string]TANMechanism
}

// Transaction is one statement entry.
type Transaction struct {
	Date     time.Time
	Amount   decimal.Decimal
	Currency string
	Name     string
	IBAN     string
	Purpose  string
}

// TransferResult is the outcome of a transfer or TAN submission: either a
// final status, or a further TAN request when the bank demands (another)
// confirmation. Exactly one of the two is meaningful.
type TransferResult struct {
	Status     ResponseStatus
	TANRequest *TANRequest
}

// ResumeHandle is the resumed-dialog scope returned by Client.ResumeDialog.
// Exit must be called exactly once, before the client is discarded.
type ResumeHandle interface {
	Exit(ctx context.Context) error
}

// ClientConfig carries everything needed to construct a protocol client.
// Snapshot, when set, seeds the client with previously learned protocol state
// (a clean-close deconstruct or a pause snapshot).
type ClientConfig struct {
	BankCode      string
	LoginName     string
	PIN           string
	Endpoint      string
	ProductID     string
	TANMechanism  string
	TANMediumName string
	Snapshot      []byte
	// OnMessage receives informational/warning/error messages the bank attaches
	// to responses. May be nil.
	OnMessage func(code, text, params string)
}

// Client is the protocol-library contract the dialog layer drives. The
// open/pause/resume/close surface mirrors a FinTS PIN/TAN client; everything
// else is the operation set the engine exposes.
type Client interface {
	// OpenDialog establishes a fresh dialog. A non-nil TANRequest means dialog
	// initialization itself demands a TAN before other operations complete.
	OpenDialog(ctx context.Context) (*TANRequest, error)
	// PauseDialog suspends the in-flight dialog and returns a single-use
	// continuation. The client must still be deconstructed afterwards.
	PauseDialog(ctx context.Context) ([]byte, error)
	// ResumeDialog re-enters a paused dialog from its continuation.
	ResumeDialog(ctx context.Context, continuation []byte) (ResumeHandle, error)
	// CloseDialog terminates the dialog with the bank.
	CloseDialog(ctx context.Context) error
	// Deconstruct serializes client state. Private/sensitive dialog material is
	// included only when includePrivate is set.
	Deconstruct(includePrivate bool) ([]byte, error)

	Information(ctx context.Context) (*BankInformation, error)
	Accounts(ctx context.Context) ([]SEPAAccount, error)
	Transactions(ctx context.Context, account SEPAAccount, from, to time.Time) ([]Transaction, error)
	SimpleTransfer(ctx context.Context, src SEPAAccount, iban, bic, recipient string, amount decimal.Decimal, senderName, purpose string) (*TransferResult, error)
	SendTAN(ctx context.Context, request *TANRequest, tan string) (*TransferResult, error)

	TANMechanisms(ctx context.Context) (map[string]TANMechanism, error)
	CurrentTANMechanism() string
	IsTANMediumRequired() bool
	SelectedTANMedium() string
	TANMedia(ctx context.Context) ([]TANMedium, error)
}

// ClientFactory constructs protocol clients. Implementations must not perform
// bank I/O in New; the dialog is established by OpenDialog or ResumeDialog.
type ClientFactory interface {
	New(cfg ClientConfig) (Client, error)
}
