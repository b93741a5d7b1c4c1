package fintsflow

import (
	"context"
	"time"

	"github.com/finwerk/fintsflow/internal/flows"
)

// FetchTransactions opens a dialog for an enrolled login and retrieves the
// account's booked transactions for the given window. The pin argument is the
// literal PIN or the cached-PIN sentinel.
func (e *Engine) FetchTransactions(ctx context.Context, userLoginID, accountID, pin string, from, to time.Time) ([]Transaction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.flows.FetchTransactions(ctx, flows.StatementRequest{
		UserLoginID: userLoginID,
		AccountID:   accountID,
		From:        from,
		To:          to,
		PIN:         pin,
	})
}

// RefreshAccounts re-synchronizes the login's account list with the bank and
// returns the updated set.
func (e *Engine) RefreshAccounts(ctx context.Context, userLoginID, pin string) ([]Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	recs, err := e.flows.RefreshAccounts(ctx, userLoginID, pin)
	if err != nil {
		return nil, err
	}
	accounts := make([]Account, 0, len(recs))
	for i := range recs {
		accounts = append(accounts, *accountFromRec(&recs[i]))
	}
	return accounts, nil
}

// Accounts lists the accounts known for a login without contacting the bank.
func (e *Engine) Accounts(ctx context.Context, userLoginID string) ([]Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	accounts, err := e.store.ListAccounts(ctx, userLoginID)
	if err != nil {
		return nil, e.mapStoreErr(err)
	}
	return accounts, nil
}

// UserLogin loads one enrolled login.
func (e *Engine) UserLogin(ctx context.Context, userLoginID string) (*UserLogin, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ul, err := e.store.GetUserLogin(ctx, userLoginID)
	if err != nil {
		return nil, e.mapStoreErr(err)
	}
	return ul, nil
}

// BankMessages lists the most recent informational messages the bank attached
// to dialogs for this login, newest first.
func (e *Engine) BankMessages(ctx context.Context, userLoginID string, limit int) ([]BankMessage, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	msgs, err := e.store.ListBankMessages(ctx, userLoginID, limit)
	if err != nil {
		return nil, e.mapStoreErr(err)
	}
	return msgs, nil
}
