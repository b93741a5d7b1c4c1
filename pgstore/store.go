package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/finwerk/fintsflow"
	"github.com/finwerk/fintsflow/dialog"
)

// Store implements fintsflow.LoginStore on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle. The caller owns the handle's lifecycle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fintsflow.ErrNotFound
	}
	return err
}

func (s *Store) CreateBankLogin(ctx context.Context, login *fintsflow.BankLogin) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_logins (id, bank_code, name, endpoint, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		login.ID, login.BankCode, login.Name, login.Endpoint, login.CreatedAt)
	return err
}

func (s *Store) GetBankLogin(ctx context.Context, id string) (*fintsflow.BankLogin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bank_code, name, endpoint, created_at
		FROM bank_logins WHERE id = $1`, id)
	return scanBankLogin(row)
}

func (s *Store) FindBankLoginByCode(ctx context.Context, bankCode string) (*fintsflow.BankLogin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bank_code, name, endpoint, created_at
		FROM bank_logins WHERE bank_code = $1`, bankCode)
	return scanBankLogin(row)
}

func scanBankLogin(row *sql.Row) (*fintsflow.BankLogin, error) {
	var bl fintsflow.BankLogin
	if err := row.Scan(&bl.ID, &bl.BankCode, &bl.Name, &bl.Endpoint, &bl.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &bl, nil
}

func (s *Store) CreateUserLogin(ctx context.Context, login *fintsflow.UserLogin) error {
	media, err := json.Marshal(mediaOrEmpty(login.TANMedia))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_logins
			(id, bank_login_id, user_id, login_name, display_name, snapshot,
			 tan_mechanism, tan_medium, tan_media, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		login.ID, login.BankLoginID, login.UserID, login.LoginName, login.DisplayName,
		[]byte(login.Snapshot), login.TANMechanism, login.TANMedium, media,
		login.CreatedAt, login.UpdatedAt)
	return err
}

func (s *Store) GetUserLogin(ctx context.Context, id string) (*fintsflow.UserLogin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bank_login_id, user_id, login_name, display_name, snapshot,
		       tan_mechanism, tan_medium, tan_media, created_at, updated_at
		FROM user_logins WHERE id = $1`, id)

	var ul fintsflow.UserLogin
	var snapshot []byte
	var media []byte
	err := row.Scan(&ul.ID, &ul.BankLoginID, &ul.UserID, &ul.LoginName, &ul.DisplayName,
		&snapshot, &ul.TANMechanism, &ul.TANMedium, &media, &ul.CreatedAt, &ul.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	ul.Snapshot = dialog.Blob(snapshot)
	if len(media) != 0 {
		if err := json.Unmarshal(media, &ul.TANMedia); err != nil {
			return nil, fmt.Errorf("decode tan media: %w", err)
		}
	}
	return &ul, nil
}

// UpdateUserLogin rewrites the mutable columns. CreatedAt is never touched.
func (s *Store) UpdateUserLogin(ctx context.Context, login *fintsflow.UserLogin) error {
	media, err := json.Marshal(mediaOrEmpty(login.TANMedia))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_logins
		SET display_name = $2, snapshot = $3, tan_mechanism = $4, tan_medium = $5,
		    tan_media = $6, updated_at = $7
		WHERE id = $1`,
		login.ID, login.DisplayName, []byte(login.Snapshot), login.TANMechanism,
		login.TANMedium, media, login.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fintsflow.ErrNotFound
	}
	return nil
}

// UpsertAccounts merges the synchronized account list, keying on IBAN so
// re-synchronization keeps stable account ids.
func (s *Store) UpsertAccounts(ctx context.Context, userLoginID string, accounts []fintsflow.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, acct := range accounts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts
				(id, user_login_id, iban, account_no, sub_account, blz, name, caps, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_login_id, iban) DO UPDATE
			SET account_no = EXCLUDED.account_no, sub_account = EXCLUDED.sub_account,
			    blz = EXCLUDED.blz, name = EXCLUDED.name, caps = EXCLUDED.caps,
			    updated_at = EXCLUDED.updated_at`,
			acct.ID, userLoginID, acct.IBAN, acct.AccountNo, acct.SubAccount,
			acct.BLZ, acct.Name, int64(acct.Caps), acct.UpdatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ListAccounts(ctx context.Context, userLoginID string) ([]fintsflow.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_login_id, iban, account_no, sub_account, blz, name, caps, updated_at
		FROM accounts WHERE user_login_id = $1 ORDER BY iban`, userLoginID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []fintsflow.Account
	for rows.Next() {
		var acct fintsflow.Account
		var caps int64
		err := rows.Scan(&acct.ID, &acct.UserLoginID, &acct.IBAN, &acct.AccountNo,
			&acct.SubAccount, &acct.BLZ, &acct.Name, &caps, &acct.UpdatedAt)
		if err != nil {
			return nil, err
		}
		acct.Caps = uint32(caps)
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (s *Store) GetAccount(ctx context.Context, id string) (*fintsflow.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_login_id, iban, account_no, sub_account, blz, name, caps, updated_at
		FROM accounts WHERE id = $1`, id)

	var acct fintsflow.Account
	var caps int64
	err := row.Scan(&acct.ID, &acct.UserLoginID, &acct.IBAN, &acct.AccountNo,
		&acct.SubAccount, &acct.BLZ, &acct.Name, &caps, &acct.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	acct.Caps = uint32(caps)
	return &acct, nil
}

func (s *Store) AppendBankMessage(ctx context.Context, msg *fintsflow.BankMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_messages (id, user_login_id, code, text, params, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.UserLoginID, msg.Code, msg.Text, msg.Params, msg.ReceivedAt)
	return err
}

func (s *Store) ListBankMessages(ctx context.Context, userLoginID string, limit int) ([]fintsflow.BankMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_login_id, code, text, params, received_at
		FROM bank_messages WHERE user_login_id = $1
		ORDER BY received_at DESC LIMIT $2`, userLoginID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []fintsflow.BankMessage
	for rows.Next() {
		var msg fintsflow.BankMessage
		err := rows.Scan(&msg.ID, &msg.UserLoginID, &msg.Code, &msg.Text, &msg.Params, &msg.ReceivedAt)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func mediaOrEmpty(media []string) []string {
	if media == nil {
		return []string{}
	}
	return media
}
