package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"pospay.backend/internal/client/api"
	"pospay.backend/internal/client/offlinequeue"
	"pospay.backend/internal/domain/entities"
)

const syncTimeout = 15 * time.Second

func newAcceptOfflineCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept-offline [amount]",
		Short: "Accept a payment without connectivity",
		Long: `Records a payment accepted from a payer read over NFC. The payment is stored
on the device first and synced with the backend when it is reachable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payerFlag, _ := cmd.Flags().GetString("payer")
			currencyFlag, _ := cmd.Flags().GetString("currency")
			note, _ := cmd.Flags().GetString("note")
			noSync, _ := cmd.Flags().GetBool("no-sync")

			payer, err := uuid.Parse(payerFlag)
			if err != nil {
				return fmt.Errorf("--payer must be a user id: %w", err)
			}
			amount, err := entities.ParseAmount(args[0])
			if err != nil {
				return err
			}
			if !amount.IsPositive() {
				return errors.New("amount must be greater than zero")
			}
			currency, err := entities.ParseCurrency(currencyFlag)
			if err != nil {
				return err
			}

			intent := entities.OfflinePaymentIntent{
				PayerUserID: payer,
				Amount:      amount,
				Currency:    currency,
				Note:        note,
				AcceptedAt:  a.now().UTC(),
			}
			return a.runAcceptOffline(cmd.Context(), cmd.OutOrStdout(), intent, !noSync)
		},
	}
	cmd.Flags().String("payer", "", "Payer user id read from the NFC tag (required)")
	cmd.Flags().String("currency", "HTG", "Currency code")
	cmd.Flags().String("note", "", "Note stored with the payment")
	cmd.Flags().Bool("no-sync", false, "Only store the payment, do not try to sync")
	_ = cmd.MarkFlagRequired("payer")
	return cmd
}

func (a *app) runAcceptOffline(ctx context.Context, out io.Writer, intent entities.OfflinePaymentIntent, sync bool) error {
	q, store, err := a.openQueue(a.client())
	if err != nil {
		return err
	}
	defer store.Close()

	jobID, err := q.Enqueue(ctx, entities.JobTypePOSPayment, intent)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Accepted %s %s, job %s\n", intent.Amount, intent.Currency, jobID)

	if !sync {
		return nil
	}
	return a.drain(ctx, out, q)
}

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and sync offline payments",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List payments waiting to sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQueueStatus(cmd.Context(), cmd.OutOrStdout())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Sync queued payments now",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, store, err := a.openQueue(a.client())
			if err != nil {
				return err
			}
			defer store.Close()
			return a.drain(cmd.Context(), cmd.OutOrStdout(), q)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Keep syncing queued payments until interrupted",
		Long: `Keeps syncing queued payments until interrupted. Send SIGHUP when the
device regains connectivity to retry at once instead of waiting out the backoff.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			online := make(chan os.Signal, 1)
			signal.Notify(online, syscall.SIGHUP)
			defer signal.Stop(online)

			return a.runQueue(ctx, cmd.OutOrStdout(), online)
		},
	})
	return cmd
}

// runQueue syncs until ctx is done. Every value received on online skips the
// pending backoff.
func (a *app) runQueue(ctx context.Context, w io.Writer, online <-chan os.Signal) error {
	q, store, err := a.openQueue(a.client())
	if err != nil {
		return err
	}
	defer store.Close()

	out := &lockedWriter{w: w}
	q.OnDrainResult(func(res offlinequeue.Result) { printResult(out, res) })

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-online:
				fmt.Fprintln(out, "Connectivity restored, syncing")
				q.Notify()
			}
		}
	}()
	return q.Run(ctx)
}

func (a *app) runQueueStatus(ctx context.Context, out io.Writer) error {
	store, err := a.openStore(a.cfg.Queue.Path)
	if err != nil {
		return fmt.Errorf("open offline queue: %w", err)
	}
	defer store.Close()

	jobs, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No payments waiting to sync.")
		return nil
	}

	fmt.Fprintf(out, "Waiting to sync (%d):\n", len(jobs))
	for _, j := range jobs {
		fmt.Fprintf(out, "  %s  %-12s  attempts=%d  next=%s\n",
			j.JobID, j.JobType, j.AttemptCount, j.NextAttemptAt.Format(time.RFC3339))
		if j.LastError != nil {
			fmt.Fprintf(out, "    last error: %s\n", *j.LastError)
		}
	}
	return nil
}

func (a *app) drain(ctx context.Context, out io.Writer, q *offlinequeue.Queue) error {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	q.OnDrainResult(func(res offlinequeue.Result) { printResult(out, res) })
	summary, err := q.DrainOnce(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Synced %d, rejected %d, waiting %d\n", summary.Delivered, summary.Dropped, summary.Remaining)
	if summary.LastError != nil {
		var te *api.TransientError
		if errors.As(summary.LastError, &te) && te.Err != nil {
			fmt.Fprintf(out, "Backend unreachable, will retry: %v\n", te.Err)
		} else {
			fmt.Fprintf(out, "Backend unavailable, will retry: %v\n", summary.LastError)
		}
	}
	return nil
}
