package fintsflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finwerk/fintsflow/dialog"
)

// simBank is the bank side of the test protocol client: PIN checks, TAN
// challenges on dialog initialization and transfers, single-use continuations.
type simBank struct {
	mu sync.Mutex

	pin string
	tan string

	mechanisms map[string]dialog.TANMechanism
	media      []string
	accounts   []dialog.AccountInfo

	initTANRequired bool
	transactionsErr error

	continuations map[string]bool
	seq           int

	// active counts dialogs currently open bank-side; maxActive records the
	// highest concurrency ever seen.
	active    int
	maxActive int
}

func newSimBank(pin, tan string) *simBank {
	return &simBank{
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
		initTANRequired: true,
		continuations:   make(map[string]bool),
	}
}

func (b *simBank) dialogOpened() {
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
}

type simFactory struct {
	bank *simBank
}

func (f *simFactory) New(cfg dialog.ClientConfig) (dialog.Client, error) {
	c := &simClient{bank: f.bank, cfg: cfg}
	if len(cfg.Snapshot) != 0 {
		if err := json.Unmarshal(cfg.Snapshot, &c.state); err != nil {
			return nil, fmt.Errorf("bad snapshot: %w", err)
		}
	}
	return c, nil
}

// simState is the deconstructable client state. TANDone survives a clean
// close so later dialogs for the login skip the initialization TAN.
type simState struct {
	Synced   bool   `json:"synced"`
	TANDone  bool   `json:"tan_done"`
	DialogID string `json:"dialog_id,omitempty"`
}

type simClient struct {
	bank  *simBank
	cfg   dialog.ClientConfig
	state simState
	open  bool
}

type simResumeHandle struct{}

func (simResumeHandle) Exit(context.Context) error { return nil }

func (c *simClient) OpenDialog(_ context.Context) (*dialog.TANRequest, error) {
	if c.cfg.PIN != c.bank.pin {
		return nil, fmt.Errorf("%w: code 9942", dialog.ErrPINRejected)
	}

	c.bank.mu.Lock()
	c.bank.seq++
	c.state.DialogID = fmt.Sprintf("DLG%04d", c.bank.seq)
	c.bank.dialogOpened()
	c.bank.mu.Unlock()

	c.open = true
	if !c.state.Synced {
		c.state.Synced = true
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage("3920", "Zugelassene Zwei-Schritt-Verfahren fuer den Benutzer.", "942;972")
		}
	}

	if c.cfg.TANMechanism != "" && !c.state.TANDone && c.bank.initTANRequired {
		mech := c.bank.mechanisms[c.cfg.TANMechanism]
		if mech.MediumRequired && c.cfg.TANMediumName == "" {
			return nil, nil
		}
		req := &dialog.TANRequest{
			Text: "Bitte bestaetigen Sie die Anmeldung.",
			Data: []byte(`{"ref":"init"}`),
		}
		if c.cfg.TANMechanism == "972" {
			req.FlickerPayload = "0290888134473101234"
		}
		return req, nil
	}
	return nil, nil
}

func (c *simClient) PauseDialog(_ context.Context) ([]byte, error) {
	if !c.open {
		return nil, dialog.ErrProtocol
	}
	c.bank.mu.Lock()
	c.bank.continuations[c.state.DialogID] = true
	c.bank.active--
	c.bank.mu.Unlock()
	c.open = false
	return []byte(c.state.DialogID), nil
}

func (c *simClient) ResumeDialog(_ context.Context, continuation []byte) (dialog.ResumeHandle, error) {
	id := string(continuation)
	c.bank.mu.Lock()
	live := c.bank.continuations[id]
	delete(c.bank.continuations, id)
	if live {
		c.bank.dialogOpened()
	}
	c.bank.mu.Unlock()
	if !live {
		return nil, fmt.Errorf("%w: %s", dialog.ErrStaleContinuation, id)
	}
	c.state.DialogID = id
	c.open = true
	return simResumeHandle{}, nil
}

func (c *simClient) CloseDialog(_ context.Context) error {
	if c.open {
		c.bank.mu.Lock()
		c.bank.active--
		c.bank.mu.Unlock()
	}
	c.open = false
	return nil
}

func (c *simClient) Deconstruct(includePrivate bool) ([]byte, error) {
	state := c.state
	if !includePrivate {
		state.DialogID = ""
	}
	return json.Marshal(state)
}

func (c *simClient) Information(_ context.Context) (*dialog.BankInformation, error) {
	return &dialog.BankInformation{
		BankName:      "Simulierte Bank",
		Accounts:      c.bank.accounts,
		TANMechanisms: c.bank.mechanisms,
	}, nil
}

func (c *simClient) Accounts(_ context.Context) ([]dialog.SEPAAccount, error) {
	return []dialog.SEPAAccount{
		{IBAN: "DE02100100100006820101", AccountNumber: "0006820101", BankCode: c.cfg.BankCode},
	}, nil
}

func (c *simClient) Transactions(_ context.Context, _ dialog.SEPAAccount, _, to time.Time) ([]dialog.Transaction, error) {
	c.bank.mu.Lock()
	failErr := c.bank.transactionsErr
	c.bank.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}
	return []dialog.Transaction{
		{
			Date:     to.AddDate(0, 0, -1),
			Amount:   decimal.RequireFromString("-42.50"),
			Currency: "EUR",
			Name:     "Stadtwerke",
			Purpose:  "Abschlag Strom",
		},
	}, nil
}

func (c *simClient) SimpleTransfer(_ context.Context, _ dialog.SEPAAccount, _, _, _ string, _ decimal.Decimal, _, _ string) (*dialog.TransferResult, error) {
	return &dialog.TransferResult{
		TANRequest: &dialog.TANRequest{
			Text: "Bitte bestaetigen Sie die Ueberweisung.",
			Data: []byte(`{"ref":"transfer"}`),
		},
	}, nil
}

func (c *simClient) SendTAN(_ context.Context, _ *dialog.TANRequest, tan string) (*dialog.TransferResult, error) {
	if tan != c.bank.tan {
		return &dialog.TransferResult{Status: dialog.StatusError}, nil
	}
	c.state.TANDone = true
	return &dialog.TransferResult{Status: dialog.StatusSuccess}, nil
}

func (c *simClient) TANMechanisms(_ context.Context) (map[string]dialog.TANMechanism, error) {
	return c.bank.mechanisms, nil
}

func (c *simClient) CurrentTANMechanism() string { return c.cfg.TANMechanism }

func (c *simClient) IsTANMediumRequired() bool {
	mech, ok := c.bank.mechanisms[c.cfg.TANMechanism]
	return ok && mech.MediumRequired
}

func (c *simClient) SelectedTANMedium() string { return c.cfg.TANMediumName }

func (c *simClient) TANMedia(_ context.Context) ([]dialog.TANMedium, error) {
	out := make([]dialog.TANMedium, 0, len(c.bank.media))
	for _, name := range c.bank.media {
		out = append(out, dialog.TANMedium{Name: name})
	}
	return out, nil
}

// testStore is an in-memory LoginStore.
type testStore struct {
	mu         sync.RWMutex
	bankLogins map[string]BankLogin
	userLogins map[string]UserLogin
	accounts   map[string]Account
	messages   []BankMessage
}

func newTestStore() *testStore {
	return &testStore{
		bankLogins: make(map[string]BankLogin),
		userLogins: make(map[string]UserLogin),
		accounts:   make(map[string]Account),
	}
}

func (s *testStore) CreateBankLogin(_ context.Context, login *BankLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bankLogins[login.ID] = *login
	return nil
}

func (s *testStore) GetBankLogin(_ context.Context, id string) (*BankLogin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bl, ok := s.bankLogins[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &bl, nil
}

func (s *testStore) FindBankLoginByCode(_ context.Context, bankCode string) (*BankLogin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bl := range s.bankLogins {
		if bl.BankCode == bankCode {
			out := bl
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *testStore) CreateUserLogin(_ context.Context, login *UserLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userLogins[login.ID] = *login
	return nil
}

func (s *testStore) GetUserLogin(_ context.Context, id string) (*UserLogin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ul, ok := s.userLogins[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ul, nil
}

func (s *testStore) UpdateUserLogin(_ context.Context, login *UserLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.userLogins[login.ID]; !ok {
		return ErrNotFound
	}
	s.userLogins[login.ID] = *login
	return nil
}

func (s *testStore) UpsertAccounts(_ context.Context, userLoginID string, accounts []Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range accounts {
		replaced := false
		for id, existing := range s.accounts {
			if existing.UserLoginID == userLoginID && existing.IBAN == acct.IBAN {
				acct.ID = id
				s.accounts[id] = acct
				replaced = true
				break
			}
		}
		if !replaced {
			s.accounts[acct.ID] = acct
		}
	}
	return nil
}

func (s *testStore) ListAccounts(_ context.Context, userLoginID string) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Account
	for _, acct := range s.accounts {
		if acct.UserLoginID == userLoginID {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IBAN < out[j].IBAN })
	return out, nil
}

func (s *testStore) GetAccount(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &acct, nil
}

func (s *testStore) AppendBankMessage(_ context.Context, msg *BankMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *testStore) ListBankMessages(_ context.Context, userLoginID string, limit int) ([]BankMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []BankMessage
	for i := len(s.messages) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.messages[i].UserLoginID == userLoginID {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}
