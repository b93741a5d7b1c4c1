package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finwerk/fintsflow/dialog"
)

// fakeBank simulates one FinTS endpoint: PIN checks, TAN challenges on dialog
// initialization and transfers, and single-use dialog continuations.
type fakeBank struct {
	mu sync.Mutex

	pin string
	tan string

	mechanisms map[string]dialog.TANMechanism
	media      []string
	accounts   []dialog.AccountInfo

	continuations map[string]bool
	seq           int
}

func newFakeBank(pin, tan string) *fakeBank {
	return &fakeBank{
		pin: pin,
		tan: tan,
		mechanisms: map[string]dialog.TANMechanism{
			"942": {ID: "942", Name: "mobileTAN", TechID: "mTAN", Prompt: "TAN", MaxInputLength: 6, MediumRequired: true},
			"972": {ID: "972", Name: "chipTAN optisch", TechID: "HHD1.4", Prompt: "TAN", MaxInputLength: 6},
		},
		media: []string{"Handy 0151"},
		accounts: []dialog.AccountInfo{
			{
				IBAN:        "DE02100100100006820101",
				ProductName: "Girokonto",
				SupportedOperations: map[dialog.Operation]bool{
					dialog.OpGetTransactions:    true,
					dialog.OpSEPATransferSingle: true,
				},
			},
		},
		continuations: make(map[string]bool),
	}
}

type fakeFactory struct {
	bank *fakeBank
}

func (f *fakeFactory) New(cfg dialog.ClientConfig) (dialog.Client, error) {
	c := &fakeClient{bank: f.bank, cfg: cfg}
	if len(cfg.Snapshot) != 0 {
		if err := json.Unmarshal(cfg.Snapshot, &c.state); err != nil {
			return nil, fmt.Errorf("bad snapshot: %w", err)
		}
	}
	return c, nil
}

// clientState is the deconstructable protocol state. TANDone marks that the
// strong authentication for this login already happened; it survives a clean
// close so future dialogs skip the initialization TAN.
type clientState struct {
	Synced   bool   `json:"synced"`
	TANDone  bool   `json:"tan_done"`
	DialogID string `json:"dialog_id,omitempty"`
}

type fakeClient struct {
	bank  *fakeBank
	cfg   dialog.ClientConfig
	state clientState
	open  bool
}

type fakeResumeHandle struct{}

func (fakeResumeHandle) Exit(context.Context) error { return nil }

func (c *fakeClient) OpenDialog(_ context.Context) (*dialog.TANRequest, error) {
	if c.cfg.PIN != c.bank.pin {
		return nil, fmt.Errorf("%w: code 9942", dialog.ErrPINRejected)
	}

	c.bank.mu.Lock()
	c.bank.seq++
	c.state.DialogID = fmt.Sprintf("DLG%04d", c.bank.seq)
	c.bank.mu.Unlock()

	c.open = true
	if !c.state.Synced {
		c.state.Synced = true
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage("3920", "Zugelassene Zwei-Schritt-Verfahren fuer den Benutzer.", "942;972")
		}
	}

	if c.cfg.TANMechanism != "" && !c.state.TANDone {
		mech := c.bank.mechanisms[c.cfg.TANMechanism]
		if mech.MediumRequired && c.cfg.TANMediumName == "" {
			return nil, nil
		}
		return c.initTANRequest(), nil
	}
	return nil, nil
}

func (c *fakeClient) initTANRequest() *dialog.TANRequest {
	req := &dialog.TANRequest{
		Text: "Bitte bestaetigen Sie die Anmeldung.",
		Data: []byte(`{"ref":"init"}`),
	}
	if c.cfg.TANMechanism == "972" {
		req.FlickerPayload = "0290888134473101234"
	}
	return req
}

func (c *fakeClient) PauseDialog(_ context.Context) ([]byte, error) {
	if !c.open {
		return nil, dialog.ErrProtocol
	}
	c.bank.mu.Lock()
	c.bank.continuations[c.state.DialogID] = true
	c.bank.mu.Unlock()
	c.open = false
	return []byte(c.state.DialogID), nil
}

func (c *fakeClient) ResumeDialog(_ context.Context, continuation []byte) (dialog.ResumeHandle, error) {
	id := string(continuation)
	c.bank.mu.Lock()
	live := c.bank.continuations[id]
	delete(c.bank.continuations, id)
	c.bank.mu.Unlock()
	if !live {
		return nil, fmt.Errorf("%w: %s", dialog.ErrStaleContinuation, id)
	}
	c.state.DialogID = id
	c.open = true
	return fakeResumeHandle{}, nil
}

func (c *fakeClient) CloseDialog(_ context.Context) error {
	c.open = false
	return nil
}

func (c *fakeClient) Deconstruct(includePrivate bool) ([]byte, error) {
	state := c.state
	if !includePrivate {
		state.DialogID = ""
	}
	return json.Marshal(state)
}

func (c *fakeClient) Information(_ context.Context) (*dialog.BankInformation, error) {
	return &dialog.BankInformation{
		BankName: "Simulierte Bank",
		SupportedOperations: map[dialog.Operation]bool{
			dialog.OpGetTransactions:    true,
			dialog.OpSEPATransferSingle: true,
		},
		Accounts:      c.bank.accounts,
		TANMechanisms: c.bank.mechanisms,
	}, nil
}

func (c *fakeClient) Accounts(_ context.Context) ([]dialog.SEPAAccount, error) {
	out := make([]dialog.SEPAAccount, 0, len(c.bank.accounts))
	for _, info := range c.bank.accounts {
		out = append(out, dialog.SEPAAccount{
			IBAN:          info.IBAN,
			AccountNumber: info.IBAN[12:],
			BankCode:      c.cfg.BankCode,
		})
	}
	return out, nil
}

func (c *fakeClient) Transactions(_ context.Context, account dialog.SEPAAccount, from, to time.Time) ([]dialog.Transaction, error) {
	return []dialog.Transaction{
		{
			Date:     to.AddDate(0, 0, -1),
			Amount:   decimal.RequireFromString("-42.50"),
			Currency: "EUR",
			Name:     "Stadtwerke",
			IBAN:     "DE89370400440532013000",
			Purpose:  "Abschlag Strom",
		},
		{
			Date:     to.AddDate(0, 0, -3),
			Amount:   decimal.RequireFromString("1250.00"),
			Currency: "EUR",
			Name:     "Arbeitgeber GmbH",
			IBAN:     "DE75512108001245126199",
			Purpose:  "Gehalt",
		},
	}, nil
}

func (c *fakeClient) SimpleTransfer(_ context.Context, _ dialog.SEPAAccount, _, _, _ string, _ decimal.Decimal, _, _ string) (*dialog.TransferResult, error) {
	req := &dialog.TANRequest{
		Text: "Bitte bestaetigen Sie die Ueberweisung.",
		Data: []byte(`{"ref":"transfer"}`),
	}
	if c.cfg.TANMechanism == "972" {
		req.FlickerPayload = "0290888134473101234"
	}
	return &dialog.TransferResult{TANRequest: req}, nil
}

func (c *fakeClient) SendTAN(_ context.Context, _ *dialog.TANRequest, tan string) (*dialog.TransferResult, error) {
	if tan != c.bank.tan {
		return &dialog.TransferResult{Status: dialog.StatusError}, nil
	}
	c.state.TANDone = true
	return &dialog.TransferResult{Status: dialog.StatusSuccess}, nil
}

func (c *fakeClient) TANMechanisms(_ context.Context) (map[string]dialog.TANMechanism, error) {
	return c.bank.mechanisms, nil
}

func (c *fakeClient) CurrentTANMechanism() string { return c.cfg.TANMechanism }

func (c *fakeClient) IsTANMediumRequired() bool {
	mech, ok := c.bank.mechanisms[c.cfg.TANMechanism]
	return ok && mech.MediumRequired
}

func (c *fakeClient) SelectedTANMedium() string { return c.cfg.TANMediumName }

func (c *fakeClient) TANMedia(_ context.Context) ([]dialog.TANMedium, error) {
	out := make([]dialog.TANMedium, 0, len(c.bank.media))
	for _, name := range c.bank.media {
		out = append(out, dialog.TANMedium{Name: name})
	}
	return out, nil
}
