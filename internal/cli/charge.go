package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"pospay.backend/internal/client/api"
	"pospay.backend/internal/client/poller"
)

func newChargeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "charge [amount]",
		Short: "Charge a customer with a QR payment request",
		Long: `Creates a payment request, shows its QR text and waits until the customer
pays, the request expires or the charge is canceled with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			currency, _ := cmd.Flags().GetString("currency")
			note, _ := cmd.Flags().GetString("note")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runCharge(ctx, cmd.OutOrStdout(), api.ChargeInput{Amount: args[0], Currency: currency, Note: note})
		},
	}
	cmd.Flags().String("currency", "HTG", "Currency code")
	cmd.Flags().String("note", "", "Note shown to the customer")
	return cmd
}

// lockedWriter serializes writes coming from the poller's goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}

func (a *app) runCharge(ctx context.Context, w io.Writer, in api.ChargeInput) error {
	out := &lockedWriter{w: w}
	done := make(chan struct{})
	var once sync.Once
	var paid atomic.Bool

	p := poller.New(a.client(), func(ev poller.Event) {
		switch ev.Kind {
		case poller.EventState:
			switch ev.State {
			case poller.StateGenerating:
				fmt.Fprintln(out, "Generating payment request...")
			case poller.StateWaiting:
				created := ev.Created
				fmt.Fprintf(out, "Request %s for %s %s\n", created.RequestID, created.Amount, created.Currency)
				fmt.Fprintf(out, "Scan: %s\n", created.QRText)
				fmt.Fprintf(out, "Expires in %ds\n", created.ExpiresInSecs)
			case poller.StateInput:
				once.Do(func() { close(done) })
			}
		case poller.EventPaid:
			paid.Store(true)
			fmt.Fprintf(out, "PAID %s %s\n", ev.Request.Amount, ev.Request.Currency)
		case poller.EventNotice:
			fmt.Fprintln(out, ev.Message)
		case poller.EventError:
			fmt.Fprintln(out, "Charge refused:", ev.Message)
		case poller.EventTick:
			if a.verbose {
				fmt.Fprintf(out, "  %ds left\n", int(ev.Remaining.Seconds()))
			}
		}
	},
		poller.WithPollInterval(a.cfg.Poller.PollInterval),
		poller.WithPaidHold(a.cfg.Poller.PaidHold),
		poller.WithClock(a.now),
	)
	defer p.Close()

	created, err := p.Charge(ctx, in)
	if err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		p.Cancel(context.Background())
		fmt.Fprintln(out, "Charge canceled")
		return nil
	}

	if !paid.Load() {
		return fmt.Errorf("request %s was not paid", created.RequestID)
	}
	return nil
}
