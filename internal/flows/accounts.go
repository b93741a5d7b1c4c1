package flows

import (
	"context"

	"github.com/finwerk/fintsflow/dialog"
)

// Account capability bits. Values match the host's Cap* constants.
const (
	accountCapFetchTransactions uint32 = 1 << iota
	accountCapSendTransfer
	accountCapSendTransferMultiple
)

func capsFromOperations(ops map[dialog.Operation]bool) uint32 {
	var caps uint32
	if ops[dialog.OpGetTransactions] {
		caps |= accountCapFetchTransactions
	}
	if ops[dialog.OpSEPATransferSingle] {
		caps |= accountCapSendTransfer
	}
	if ops[dialog.OpSEPATransferMultiple] {
		caps |= accountCapSendTransferMultiple
	}
	return caps
}

// syncAccounts pulls the account list and per-account capabilities from the
// open dialog and upserts them under the user login. The store matches rows
// by IBAN; fresh ids are only used for inserts.
func syncAccounts(ctx context.Context, deps Deps, sess *dialog.Session, userLoginID string) ([]AccountRec, error) {
	client := sess.Client()

	info, err := client.Information(ctx)
	if err != nil {
		return nil, mapClientError(deps, err)
	}
	sepaAccounts, err := client.Accounts(ctx)
	if err != nil {
		return nil, mapClientError(deps, err)
	}

	infoByIBAN := make(map[string]dialog.AccountInfo, len(info.Accounts))
	for _, ai := range info.Accounts {
		infoByIBAN[ai.IBAN] = ai
	}

	recs := make([]AccountRec, 0, len(sepaAccounts))
	for _, sa := range sepaAccounts {
		rec := AccountRec{
			ID:          deps.NewID(),
			UserLoginID: userLoginID,
			IBAN:        sa.IBAN,
			AccountNo:   sa.AccountNumber,
			SubAccount:  sa.SubAccount,
			BLZ:         sa.BankCode,
		}
		if ai, ok := infoByIBAN[sa.IBAN]; ok {
			rec.Name = ai.ProductName
			rec.Caps = capsFromOperations(ai.SupportedOperations)
		}
		recs = append(recs, rec)
	}

	if err := deps.UpsertAccounts(ctx, userLoginID, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// RunRefreshAccounts opens a dialog for an enrolled login and re-synchronizes
// its account list and capabilities.
func RunRefreshAccounts(ctx context.Context, userLoginID, pin string, deps Deps) (accounts []AccountRec, err error) {
	ul, err := deps.GetUserLogin(ctx, userLoginID)
	if err != nil {
		return nil, err
	}

	collect := &msgCollector{}
	cfg, _, loginKey, err := enrolledLoginConfig(ctx, deps, ul, pin, collect)
	if err != nil {
		return nil, err
	}

	release, err := deps.AcquireLock(ctx, loginKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(ctx) }()

	defer func() {
		deps.EmitAudit(ctx, deps.Events.AccountsRefresh, err == nil, ul.UserID, ul.ID, "", err)
	}()

	scope := dialog.NewScope(deps.OnLeak)
	scope.Enter()
	defer func() { _ = scope.Leave(ctx) }()

	sess, err := openSession(ctx, deps, scope, cfg, ul.Snapshot, loginKey)
	if err != nil {
		return nil, err
	}

	accounts, err = syncAccounts(ctx, deps, sess, ul.ID)
	if err != nil {
		abandonSession(ctx, deps, sess)
		return nil, err
	}

	blob, err := closeWithSnapshot(ctx, deps, sess)
	if err != nil {
		return nil, err
	}
	if err = persistSnapshot(ctx, deps, ul, blob); err != nil {
		return nil, err
	}
	collect.flush(ctx, deps, ul.ID)

	return accounts, nil
}
