// fintsflow-sim walks the full engine lifecycle against a simulated bank:
// enrollment with mechanism selection and an initialization TAN, account
// synchronization, a statement fetch and a TAN-guarded transfer. It needs no
// real bank and falls back to an embedded miniredis when no Redis address is
// configured.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/finwerk/fintsflow"
	"github.com/finwerk/fintsflow/dialog"
	"github.com/finwerk/fintsflow/pinvault"
	"github.com/finwerk/fintsflow/tan"
)

const (
	simPIN = "geheim42"
	simTAN = "123456"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fintsflow-sim: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() *viper.Viper {
	// A local .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FINTSFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("redis.addr", "")
	v.SetDefault("product.id", "FINTSFLOW-SIM-0001")
	v.SetDefault("workflow.secret", "sim-workflow-signing-secret-0123456789ab")
	v.SetDefault("pin.secret", "sim-pin-vault-master-secret-0123456789ab")
	return v
}

func run() error {
	ctx := context.Background()
	v := loadConfig()

	addr := v.GetString("redis.addr")
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	cfg := fintsflow.Config{
		Dialog: fintsflow.DialogConfig{
			ProductID:   v.GetString("product.id"),
			OpenTimeout: 30 * time.Second,
		},
		Workflow: fintsflow.WorkflowConfig{
			TokenTTL:      5 * time.Minute,
			SigningSecret: []byte(v.GetString("workflow.secret")),
			RedisPrefix:   "wf",
		},
		PIN: fintsflow.PINConfig{
			MasterSecret:    []byte(v.GetString("pin.secret")),
			SessionTTL:      15 * time.Minute,
			RedisPrefix:     "pv",
			MaxAttempts:     3,
			AttemptCooldown: 15 * time.Minute,
		},
		Lock: fintsflow.LockConfig{
			TTL:         2 * time.Minute,
			RedisPrefix: "dl",
		},
		Audit: fintsflow.AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: fintsflow.MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}

	engine, err := fintsflow.New().
		WithConfig(cfg).
		WithRedis(client).
		WithClientFactory(&fakeFactory{bank: newFakeBank(simPIN, simTAN)}).
		WithLoginStore(newMemStore()).
		WithAuditSink(fintsflow.NewJSONWriterSink(os.Stderr)).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	userLoginID, err := runEnrollment(ctx, engine)
	if err != nil {
		return err
	}
	if err := runStatements(ctx, engine, userLoginID); err != nil {
		return err
	}
	if err := runTransfer(ctx, engine, userLoginID); err != nil {
		return err
	}

	fmt.Println("---- metrics ----")
	snapshot := engine.MetricsSnapshot()
	fmt.Printf("dialogs opened:    %d\n", snapshot.Counters[fintsflow.MetricDialogOpened])
	fmt.Printf("dialogs resumed:   %d\n", snapshot.Counters[fintsflow.MetricDialogResumed])
	fmt.Printf("workflows paused:  %d\n", snapshot.Counters[fintsflow.MetricWorkflowSuspended])
	fmt.Printf("tans confirmed:    %d\n", snapshot.Counters[fintsflow.MetricTANConfirmed])
	return nil
}

func runEnrollment(ctx context.Context, engine *fintsflow.Engine) (string, error) {
	fmt.Println("---- enrollment ----")

	status, err := engine.BeginEnrollment(ctx, fintsflow.EnrollmentRequest{
		UserID:    "demo-user",
		BankCode:  "10010010",
		LoginName: "kunde1",
		PIN:       simPIN,
		PINTier:   pinvault.TierSession,
	})
	if err != nil {
		return "", fmt.Errorf("begin enrollment: %w", err)
	}
	printEnrollment(status)

	if status.Stage == fintsflow.StageSelectMechanism {
		// Pick the optical chipTAN variant so the flicker path is exercised.
		status, err = engine.EnrollSelectMechanism(ctx, status.Token, "972")
		if err != nil {
			return "", fmt.Errorf("select mechanism: %w", err)
		}
		printEnrollment(status)
	}

	if status.Stage == fintsflow.StageTANRequired {
		status, err = engine.EnrollSubmitTAN(ctx, status.Token, simTAN)
		if err != nil {
			return "", fmt.Errorf("submit tan: %w", err)
		}
		printEnrollment(status)
	}

	if !status.Done() {
		return "", fmt.Errorf("enrollment stuck at stage %s", status.Stage)
	}

	accounts, err := engine.Accounts(ctx, status.UserLoginID)
	if err != nil {
		return "", fmt.Errorf("list accounts: %w", err)
	}
	for _, acct := range accounts {
		fmt.Printf("account %s (%s) caps=%03b\n", acct.IBAN, acct.Name, acct.Caps)
	}

	msgs, err := engine.BankMessages(ctx, status.UserLoginID, 10)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	for _, msg := range msgs {
		fmt.Printf("bank message %s: %s\n", msg.Code, msg.Text)
	}

	return status.UserLoginID, nil
}

func printEnrollment(status *fintsflow.EnrollmentStatus) {
	fmt.Printf("stage=%s", status.Stage)
	if len(status.Mechanisms) != 0 {
		fmt.Print(" mechanisms=")
		for i, m := range status.Mechanisms {
			if i > 0 {
				fmt.Print(",")
			}
			fmt.Printf("%s(%s)", m.ID, m.Name)
		}
	}
	fmt.Println()
	printChallenge(status.TANRequest)
}

func runStatements(ctx context.Context, engine *fintsflow.Engine, userLoginID string) error {
	fmt.Println("---- statements ----")

	accounts, err := engine.Accounts(ctx, userLoginID)
	if err != nil {
		return err
	}

	// The PIN was cached at session tier during enrollment; the sentinel
	// resolves against the vault.
	txs, err := engine.FetchTransactions(ctx, userLoginID, accounts[0].ID,
		pinvault.CachedSentinel, time.Now().AddDate(0, -1, 0), time.Now())
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}
	for _, tx := range txs {
		fmt.Printf("%s  %8s %s  %s (%s)\n",
			tx.Date.Format("2006-01-02"), tx.Amount.StringFixed(2), tx.Currency, tx.Name, tx.Purpose)
	}
	return nil
}

func runTransfer(ctx context.Context, engine *fintsflow.Engine, userLoginID string) error {
	fmt.Println("---- transfer ----")

	accounts, err := engine.Accounts(ctx, userLoginID)
	if err != nil {
		return err
	}

	outcome, challenge, err := engine.SimpleTransfer(ctx, userLoginID, fintsflow.TransferRequest{
		AccountID: accounts[0].ID,
		Recipient: "Max Mustermann",
		IBAN:      "DE75512108001245126199",
		Amount:    decimal.RequireFromString("19.99"),
		Currency:  "EUR",
		Purpose:   "Simulation",
		PIN:       pinvault.CachedSentinel,
	})
	if err != nil {
		return fmt.Errorf("submit transfer: %w", err)
	}

	if challenge != nil {
		printChallenge(challenge.TANRequest)
		outcome, challenge, err = engine.SubmitTransferTAN(ctx, challenge.Token, simTAN)
		if err != nil {
			return fmt.Errorf("submit transfer tan: %w", err)
		}
		if challenge != nil {
			return fmt.Errorf("unexpected follow-up challenge")
		}
	}

	fmt.Printf("transfer status=%d\n", outcome.Status)
	return nil
}

func printChallenge(req *dialog.TANRequest) {
	challenge := tan.Extract(req)
	if challenge.Text != "" {
		fmt.Printf("challenge: %s\n", challenge.Text)
	}
	if challenge.Flicker != "" {
		stream, err := tan.RenderFlicker(challenge.Flicker)
		if err != nil {
			fmt.Printf("flicker payload invalid: %v\n", err)
			return
		}
		fmt.Printf("flicker stream (%d frames): %v...\n", len(stream), stream[:12])
	}
}
