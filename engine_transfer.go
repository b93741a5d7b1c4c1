package fintsflow

import (
	"context"

	"github.com/finwerk/fintsflow/internal/flows"
)

// SimpleTransfer submits one SEPA credit transfer through an enrolled login.
// When the bank accepts it without a TAN the outcome is returned directly.
// When a TAN is demanded the dialog is paused and a challenge with a resume
// token is returned instead; answer it with [Engine.SubmitTransferTAN].
func (e *Engine) SimpleTransfer(ctx context.Context, userLoginID string, req TransferRequest) (*TransferOutcome, *TransferChallenge, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	state, err := e.flows.BeginTransfer(ctx, flows.TransferBeginRequest{
		UserLoginID: userLoginID,
		AccountID:   req.AccountID,
		Recipient:   req.Recipient,
		IBAN:        req.IBAN,
		BIC:         req.BIC,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Purpose:     req.Purpose,
		PIN:         req.PIN,
	})
	return transferResult(state, err)
}

// SubmitTransferTAN answers a transfer's TAN challenge. The bank may raise a
// follow-up challenge, returned the same way as the first. A rejected TAN
// returns [ErrAuthentication] together with a re-issued challenge so the
// caller can retry.
func (e *Engine) SubmitTransferTAN(ctx context.Context, token, tan string) (*TransferOutcome, *TransferChallenge, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	state, err := e.flows.SubmitTransferTAN(ctx, token, tan)
	return transferResult(state, err)
}

func transferResult(state *flows.TransferState, err error) (*TransferOutcome, *TransferChallenge, error) {
	if state == nil {
		return nil, nil, err
	}
	if state.Done {
		return &TransferOutcome{Status: state.Status, Message: state.Message}, nil, err
	}
	return nil, &TransferChallenge{
		Token:      state.Token,
		TANRequest: state.TANRequest,
		ExpiresAt:  state.ExpiresAt,
	}, err
}
