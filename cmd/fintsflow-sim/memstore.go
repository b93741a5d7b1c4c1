package main

import (
	"context"
	"sort"
	"sync"

	"github.com/finwerk/fintsflow"
)

// memStore is an in-memory LoginStore for the simulation run.
type memStore struct {
	mu         sync.RWMutex
	bankLogins map[string]fintsflow.BankLogin
	userLogins map[string]fintsflow.UserLogin
	accounts   map[string]fintsflow.Account
	messages   []fintsflow.BankMessage
}

func newMemStore() *memStore {
	return &memStore{
		bankLogins: make(map[string]fintsflow.BankLogin),
		userLogins: make(map[string]fintsflow.UserLogin),
		accounts:   make(map[string]fintsflow.Account),
	}
}

func (s *memStore) CreateBankLogin(_ context.Context, login *fintsflow.BankLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bankLogins[login.ID] = *login
	return nil
}

func (s *memStore) GetBankLogin(_ context.Context, id string) (*fintsflow.BankLogin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bl, ok := s.bankLogins[id]
	if !ok {
		return nil, fintsflow.ErrNotFound
	}
	return &bl, nil
}

func (s *memStore) FindBankLoginByCode(_ context.Context, bankCode string) (*fintsflow.BankLogin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bl := range s.bankLogins {
		if bl.BankCode == bankCode {
			out := bl
			return &out, nil
		}
	}
	return nil, fintsflow.ErrNotFound
}

func (s *memStore) CreateUserLogin(_ context.Context, login *fintsflow.UserLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userLogins[login.ID] = *login
	return nil
}

func (s *memStore) GetUserLogin(_ context.Context, id string) (*fintsflow.UserLogin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ul, ok := s.userLogins[id]
	if !ok {
		return nil, fintsflow.ErrNotFound
	}
	return &ul, nil
}

func (s *memStore) UpdateUserLogin(_ context.Context, login *fintsflow.UserLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.userLogins[login.ID]; !ok {
		return fintsflow.ErrNotFound
	}
	s.userLogins[login.ID] = *login
	return nil
}

func (s *memStore) UpsertAccounts(_ context.Context, userLoginID string, accounts []fintsflow.Account) error {
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

func (s *memStore) ListAccounts(_ context.Context, userLoginID string) ([]fintsflow.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []fintsflow.Account
	for _, acct := range s.accounts {
		if acct.UserLoginID == userLoginID {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IBAN < out[j].IBAN })
	return out, nil
}

func (s *memStore) GetAccount(_ context.Context, id string) (*fintsflow.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, fintsflow.ErrNotFound
	}
	return &acct, nil
}

func (s *memStore) AppendBankMessage(_ context.Context, msg *fintsflow.BankMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *memStore) ListBankMessages(_ context.Context, userLoginID string, limit int) ([]fintsflow.BankMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []fintsflow.BankMessage
	for i := len(s.messages) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.messages[i].UserLoginID == userLoginID {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}
