package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/finwerk/fintsflow/dialog"
)

// StatementRequest fetches booked transactions for one account.
type StatementRequest struct {
	UserLoginID string
	AccountID   string
	From        time.Time
	To          time.Time
	PIN         string
}

// TransactionRec is the protocol-level statement entry.
type TransactionRec = dialog.Transaction

// RunFetchTransactions opens a dialog for an enrolled login and retrieves the
// account's statement for the requested window.
func RunFetchTransactions(ctx context.Context, req StatementRequest, deps Deps) (txs []TransactionRec, err error) {
	if req.UserLoginID == "" || req.AccountID == "" {
		return nil, fmt.Errorf("%w: user login and account are required", deps.Errors.Precondition)
	}
	if req.To.Before(req.From) {
		return nil, fmt.Errorf("%w: statement window ends before it starts", deps.Errors.Precondition)
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
	if acct.Caps&accountCapFetchTransactions == 0 {
		return nil, fmt.Errorf("%w: account cannot fetch transactions", deps.Errors.Precondition)
	}

	collect := &msgCollector{}
	cfg, _, loginKey, err := enrolledLoginConfig(ctx, deps, ul, req.PIN, collect)
	if err != nil {
		return nil, err
	}

	release, err := deps.AcquireLock(ctx, loginKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(ctx) }()

	defer func() {
		deps.EmitAudit(ctx, deps.Events.StatementsFetch, err == nil, ul.UserID, ul.ID, "", err)
	}()

	scope := dialog.NewScope(deps.OnLeak)
	scope.Enter()
	defer func() { _ = scope.Leave(ctx) }()

	sess, err := openSession(ctx, deps, scope, cfg, ul.Snapshot, loginKey)
	if err != nil {
		return nil, err
	}

	txs, err = sess.Client().Transactions(ctx, acctSEPA(acct), req.From, req.To)
	if err != nil {
		abandonSession(ctx, deps, sess)
		return nil, mapClientError(deps, err)
	}
	deps.MetricInc(deps.Metrics.StatementsFetched)

	blob, err := closeWithSnapshot(ctx, deps, sess)
	if err != nil {
		return nil, err
	}
	if err = persistSnapshot(ctx, deps, ul, blob); err != nil {
		return nil, err
	}
	collect.flush(ctx, deps, ul.ID)

	return txs, nil
}
