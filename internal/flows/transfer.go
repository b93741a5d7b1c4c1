package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finwerk/fintsflow/dialog"
	"github.com/finwerk/fintsflow/internal/stores"
)

// StageTransferTAN is the only suspension point of a transfer workflow.
const StageTransferTAN = "transfer_tan"

// TransferBeginRequest submits one SEPA credit transfer.
type TransferBeginRequest struct {
	UserLoginID string
	AccountID   string
	Recipient   string
	IBAN        string
	BIC         string
	Amount      decimal.Decimal
	Currency    string
	Purpose     string
	PIN         string
}

// TransferState is either a terminal outcome (Done set) or a suspended
// workflow waiting on a TAN.
type TransferState struct {
	Done    bool
	Status  dialog.ResponseStatus
	Message string

	Token      string
	TANRequest *dialog.TANRequest
	ExpiresAt  time.Time
}

// transferDetails is the display payload kept with a suspended transfer.
type transferDetails struct {
	AccountID string `json:"account_id"`
	Recipient string `json:"recipient"`
	IBAN      string `json:"iban"`
	BIC       string `json:"bic,omitempty"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Purpose   string `json:"purpose,omitempty"`
}

// RunBeginTransfer submits the transfer inside a fresh dialog. When the bank
// demands a TAN the dialog is paused and the workflow suspended; otherwise
// the outcome is final.
func RunBeginTransfer(ctx context.Context, req TransferBeginRequest, deps Deps) (state *TransferState, err error) {
	if req.UserLoginID == "" || req.AccountID == "" || req.Recipient == "" || req.IBAN == "" {
		return nil, fmt.Errorf("%w: user login, account, recipient and iban are required", deps.Errors.Precondition)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", deps.Errors.Precondition)
	}

	ul, err := deps.GetUserLogin(ctx, req.UserLoginID)
	if err != nil {
		return nil, err
	}
	acct, err := deps.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.UserLoginID != ul.ID {
		return nil, fmt.Errorf("%w: account does not belong to this login", deps.Errors.NotFound)
	}
	if acct.Caps&accountCapSendTransfer == 0 {
		return nil, fmt.Errorf("%w: account cannot send transfers", deps.Errors.Precondition)
	}

	collect := &msgCollector{}
	cfg, bl, loginKey, err := enrolledLoginConfig(ctx, deps, ul, req.PIN, collect)
	if err != nil {
		return nil, err
	}

	release, err := deps.AcquireLock(ctx, loginKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(ctx) }()

	deps.MetricInc(deps.Metrics.TransferSubmitted)
	wid := deps.NewWorkflowID()
	defer func() {
		deps.EmitAudit(ctx, deps.Events.TransferBegin, err == nil, ul.UserID, ul.ID, wid, err)
	}()

	scope := dialog.NewScope(deps.OnLeak)
	scope.Enter()
	defer func() { _ = scope.Leave(ctx) }()

	sess, err := openSession(ctx, deps, scope, cfg, ul.Snapshot, loginKey)
	if err != nil {
		return nil, err
	}

	result, err := sess.Client().SimpleTransfer(ctx, acctSEPA(acct), req.IBAN, req.BIC, req.Recipient, req.Amount, ul.DisplayName, req.Purpose)
	if err != nil {
		abandonSession(ctx, deps, sess)
		return nil, mapClientError(deps, err)
	}

	if result.TANRequest != nil {
		deps.MetricInc(deps.Metrics.TANRequested)

		rec := &stores.WorkflowRecord{
			Kind:         stores.KindTransfer,
			Stage:        StageTransferTAN,
			UserID:       ul.UserID,
			BankLoginID:  ul.BankLoginID,
			UserLoginID:  ul.ID,
			BankCode:     bl.BankCode,
			LoginName:    ul.LoginName,
			Endpoint:     bl.Endpoint,
			TANMechanism: ul.TANMechanism,
			TANMedium:    ul.TANMedium,
			AccountID:    acct.ID,
		}
		if rec.InitTANJSON, err = json.Marshal(result.TANRequest); err != nil {
			abandonSession(ctx, deps, sess)
			return nil, err
		}
		details := transferDetails{
			AccountID: acct.ID,
			Recipient: req.Recipient,
			IBAN:      req.IBAN,
			BIC:       req.BIC,
			Amount:    req.Amount.String(),
			Currency:  req.Currency,
			Purpose:   req.Purpose,
		}
		if rec.TransferJSON, err = json.Marshal(details); err != nil {
			abandonSession(ctx, deps, sess)
			return nil, err
		}

		return suspendTransfer(ctx, deps, sess, wid, cfg.PIN, rec, result.TANRequest, collect)
	}

	blob, err := closeWithSnapshot(ctx, deps, sess)
	if err != nil {
		return nil, err
	}
	if err = persistSnapshot(ctx, deps, ul, blob); err != nil {
		return nil, err
	}
	collect.flush(ctx, deps, ul.ID)

	deps.MetricInc(deps.Metrics.TransferCompleted)
	deps.EmitAudit(ctx, deps.Events.TransferComplete, true, ul.UserID, ul.ID, wid, nil)
	return &TransferState{Done: true, Status: result.Status}, nil
}

// RunSubmitTransferTAN answers the transfer's TAN challenge. The bank may
// raise a follow-up challenge; a rejected TAN re-suspends the workflow under
// a fresh token.
func RunSubmitTransferTAN(ctx context.Context, token, tan string, deps Deps) (state *TransferState, err error) {
	wid, err := deps.ParseToken(token, TokenKindTransfer)
	if err != nil {
		return nil, err
	}
	defer func() {
		deps.EmitAudit(ctx, deps.Events.TransferTAN, err == nil, "", "", wid, err)
	}()

	rec, err := deps.ConsumeWorkflow(ctx, wid)
	if err != nil {
		return nil, err
	}
	if rec.Kind != stores.KindTransfer || rec.Stage != StageTransferTAN {
		return nil, fmt.Errorf("%w: workflow not awaiting a transfer tan", deps.Errors.WorkflowInvalid)
	}

	var tanReq dialog.TANRequest
	if err := json.Unmarshal(rec.InitTANJSON, &tanReq); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.WorkflowInvalid, err)
	}

	ul, err := deps.GetUserLogin(ctx, rec.UserLoginID)
	if err != nil {
		return nil, err
	}

	loginKey := rec.BankCode + ":" + rec.LoginName
	release, err := deps.AcquireLock(ctx, loginKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(ctx) }()

	scope := dialog.NewScope(deps.OnLeak)
	scope.Enter()
	defer func() { _ = scope.Leave(ctx) }()

	collect := &msgCollector{}
	collect.load(rec)
	sess, pin, err := resumeSession(ctx, deps, scope, wid, rec, collect)
	if err != nil {
		return nil, err
	}

	result, err := sess.Client().SendTAN(ctx, &tanReq, tan)
	if err != nil {
		deps.MetricInc(deps.Metrics.TANFailed)
		abandonSession(ctx, deps, sess)
		return nil, mapClientError(deps, err)
	}

	if result.Status == dialog.StatusError {
		deps.MetricInc(deps.Metrics.TANFailed)
		state, serr := suspendTransfer(ctx, deps, sess, wid, pin, rec, &tanReq, collect)
		if serr != nil {
			return nil, serr
		}
		return state, fmt.Errorf("%w: bank rejected the tan", deps.Errors.Authentication)
	}

	if result.TANRequest != nil {
		deps.MetricInc(deps.Metrics.TANRequested)
		if rec.InitTANJSON, err = json.Marshal(result.TANRequest); err != nil {
			abandonSession(ctx, deps, sess)
			return nil, err
		}
		return suspendTransfer(ctx, deps, sess, wid, pin, rec, result.TANRequest, collect)
	}

	deps.MetricInc(deps.Metrics.TANConfirmed)

	blob, err := closeWithSnapshot(ctx, deps, sess)
	if err != nil {
		return nil, err
	}
	if err = persistSnapshot(ctx, deps, ul, blob); err != nil {
		return nil, err
	}
	collect.flush(ctx, deps, ul.ID)

	_ = deps.PurgeWorkflowPIN(ctx, wid)
	deps.MetricInc(deps.Metrics.TransferCompleted)
	deps.EmitAudit(ctx, deps.Events.TransferComplete, true, ul.UserID, ul.ID, wid, nil)
	return &TransferState{Done: true, Status: result.Status}, nil
}

func suspendTransfer(ctx context.Context, deps Deps, sess *dialog.Session, oldWid, pin string, rec *stores.WorkflowRecord, tanReq *dialog.TANRequest, collect *msgCollector) (*TransferState, error) {
	if err := collect.save(rec); err != nil {
		abandonSession(ctx, deps, sess)
		return nil, err
	}
	token, expiresAt, err := suspendWorkflow(ctx, deps, sess, oldWid, pin, rec)
	if err != nil {
		return nil, err
	}
	return &TransferState{Token: token, TANRequest: tanReq, ExpiresAt: expiresAt}, nil
}

func acctSEPA(acct *AccountRec) dialog.SEPAAccount {
	return dialog.SEPAAccount{
		IBAN:          acct.IBAN,
		AccountNumber: acct.AccountNo,
		SubAccount:    acct.SubAccount,
		BankCode:      acct.BLZ,
	}
}
