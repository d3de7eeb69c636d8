package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"pospay.backend/internal/client/api"
	"pospay.backend/internal/client/config"
	"pospay.backend/internal/client/offlinequeue"
	"pospay.backend/internal/domain/entities"
	"pospay.backend/pkg/logger"
)

// ServerAPI is everything the terminal asks of the backend.
type ServerAPI interface {
	CreatePaymentRequest(ctx context.Context, in api.ChargeInput, idempotencyKey string) (*api.CreatedRequest, error)
	GetStatus(ctx context.Context, requestID uuid.UUID) (*entities.PaymentRequest, error)
	Cancel(ctx context.Context, requestID uuid.UUID) (*entities.PaymentRequest, error)
	Resolve(ctx context.Context, raw string) (*entities.PaymentRequest, error)
	SubmitOffline(ctx context.Context, jobID uuid.UUID, jobType string, intent json.RawMessage) (*entities.OfflineOutcome, error)
	SigningKey(ctx context.Context) (jose.JSONWebKey, error)
}

type app struct {
	configPath string
	verbose    bool
	cfg        *config.Config

	loadConfig func(path string) (*config.Config, error)
	newClient  func(cfg *config.Config) ServerAPI
	openStore  func(path string) (*offlinequeue.Store, error)
	now        func() time.Time
}

func defaultApp() *app {
	return &app{
		loadConfig: config.Load,
		newClient: func(cfg *config.Config) ServerAPI {
			return api.NewClient(cfg.Server.BaseURL, cfg.Server.Token, cfg.Server.Timeout)
		},
		openStore: offlinequeue.OpenStore,
		now:       time.Now,
	}
}

// Execute runs the terminal CLI.
func Execute(version string) error {
	root := newRootCmd(defaultApp(), version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func newRootCmd(a *app, version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "pos-terminal",
		Short: "POS payment terminal",
		Long: `pos-terminal drives a merchant payment terminal against the POS backend.

It charges customers by QR code, accepts payments while offline and syncs them
once connectivity returns.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.verbose {
				logger.Init("development")
			}
			cfg, err := a.loadConfig(a.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to the terminal config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")

	root.AddCommand(newChargeCmd(a))
	root.AddCommand(newAcceptOfflineCmd(a))
	root.AddCommand(newQueueCmd(a))
	root.AddCommand(newVerifyCmd(a))
	return root
}

func (a *app) client() ServerAPI {
	return a.newClient(a.cfg)
}

// openQueue opens the on-device queue. The caller closes the store.
func (a *app) openQueue(sender offlinequeue.Sender) (*offlinequeue.Queue, *offlinequeue.Store, error) {
	store, err := a.openStore(a.cfg.Queue.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open offline queue: %w", err)
	}
	q := offlinequeue.New(store, sender,
		offlinequeue.WithBackoff(a.cfg.Queue.BackoffBase, a.cfg.Queue.BackoffMax),
		offlinequeue.WithClock(a.now),
	)
	return q, store, nil
}

func printResult(out io.Writer, res offlinequeue.Result) {
	if res.Err != nil {
		fmt.Fprintf(out, "  rejected %s: %v\n", res.JobID, res.Err)
		return
	}
	o := res.Outcome
	dup := ""
	if o.Duplicate {
		dup = " (already synced)"
	}
	fmt.Fprintf(out, "  synced   %s: %s %s request %s%s\n", res.JobID, o.Amount, o.Currency, o.RequestID, dup)
}
