package fintsflow

import (
	"context"
	"fmt"

	"github.com/finwerk/fintsflow/pinvault"
)

// StorePIN caches the login's PIN under the chosen retention tier, replacing
// any previous cache entry. TierDecline and TierNone are rejected; use
// [Engine.ForgetPIN] to drop a cached PIN.
func (e *Engine) StorePIN(ctx context.Context, userLoginID, pin string, tier pinvault.Tier) error {
	if err := e.ready(); err != nil {
		return err
	}
	if tier != pinvault.TierSession && tier != pinvault.TierPersistent {
		return fmt.Errorf("%w: tier %s cannot hold a cached pin", ErrPrecondition, tier)
	}

	ul, err := e.store.GetUserLogin(ctx, userLoginID)
	if err != nil {
		return e.mapStoreErr(err)
	}
	if err := e.vault.Store(ctx, ul.PINLabel(), pin, tier); err != nil {
		return e.mapVaultErr(err)
	}

	e.metricInc(MetricPINCached)
	e.emitAudit(ctx, auditPINStored, true, ul.UserID, ul.ID, "", nil)
	return nil
}

// ForgetPIN purges every cached PIN tier for the login. Forgetting a login
// without a cached PIN is not an error.
func (e *Engine) ForgetPIN(ctx context.Context, userLoginID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ul, err := e.store.GetUserLogin(ctx, userLoginID)
	if err != nil {
		return e.mapStoreErr(err)
	}
	if err := e.vault.Purge(ctx, ul.PINLabel()); err != nil {
		return e.mapVaultErr(err)
	}

	e.metricInc(MetricPINPurged)
	e.emitAudit(ctx, auditPINPurged, true, ul.UserID, ul.ID, "", nil)
	return nil
}

// CachedPINTier reports which retention tier currently holds a PIN for the
// login, [pinvault.TierNone] when nothing is cached.
func (e *Engine) CachedPINTier(ctx context.Context, userLoginID string) (pinvault.Tier, error) {
	if err := e.ready(); err != nil {
		return pinvault.TierNone, err
	}
	ul, err := e.store.GetUserLogin(ctx, userLoginID)
	if err != nil {
		return pinvault.TierNone, e.mapStoreErr(err)
	}
	tier, err := e.vault.CachedTier(ctx, ul.PINLabel())
	if err != nil {
		return pinvault.TierNone, e.mapVaultErr(err)
	}
	return tier, nil
}
