package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"pospay.backend/internal/client/api"
	"pospay.backend/internal/domain/entities"
	"pospay.backend/pkg/logger"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultTickInterval = time.Second
	DefaultPaidHold     = 3 * time.Second
	cancelTimeout       = 5 * time.Second
)

// State is the terminal screen the merchant is looking at.
type State string

const (
	StateInput      State = "input"
	StateGenerating State = "generating"
	StateWaiting    State = "waiting"
	StatePaid       State = "paid"
)

type EventKind string

const (
	// EventState fires on every state change.
	EventState EventKind = "state"
	// EventTick carries the remaining time while waiting.
	EventTick EventKind = "tick"
	// EventPaid fires once when the request settles.
	EventPaid EventKind = "paid"
	// EventNotice reports a request that ended without payment.
	EventNotice EventKind = "notice"
	// EventError reports a charge the server refused to create.
	EventError EventKind = "error"
)

type Event struct {
	Kind      EventKind
	State     State
	RequestID uuid.UUID
	Created   *api.CreatedRequest
	Request   *entities.PaymentRequest
	Remaining time.Duration
	Message   string
	Err       error
}

// Backend is the slice of the server API the poller drives.
type Backend interface {
	CreatePaymentRequest(ctx context.Context, in api.ChargeInput, idempotencyKey string) (*api.CreatedRequest, error)
	GetStatus(ctx context.Context, requestID uuid.UUID) (*entities.PaymentRequest, error)
	Cancel(ctx context.Context, requestID uuid.UUID) (*entities.PaymentRequest, error)
}

var (
	ErrBusy      = errors.New("a charge is already in progress")
	ErrAbandoned = errors.New("charge abandoned before the request was created")
)

type Option func(*Poller)

func WithPollInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.tickInterval = d
		}
	}
}

func WithPaidHold(d time.Duration) Option {
	return func(p *Poller) {
		if d >= 0 {
			p.paidHold = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// Poller runs the terminal's charge flow: input, generating, waiting, then paid
// or back to input. Every waiting session carries a generation number; timers and
// status responses from an older generation are discarded, so nothing can bring
// a closed session back.
type Poller struct {
	backend      Backend
	onEvent      func(Event)
	pollInterval time.Duration
	tickInterval time.Duration
	paidHold     time.Duration
	now          func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	requestID  uuid.UUID
	stop       context.CancelFunc
	holdTimer  *time.Timer
	wg         sync.WaitGroup
}

func New(backend Backend, onEvent func(Event), opts ...Option) *Poller {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	p := &Poller{
		backend:      backend,
		onEvent:      onEvent,
		pollInterval: DefaultPollInterval,
		tickInterval: DefaultTickInterval,
		paidHold:     DefaultPaidHold,
		now:          time.Now,
		state:        StateInput,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// RequestID is the request being waited on, or uuid.Nil.
func (p *Poller) RequestID() uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateWaiting {
		return uuid.Nil
	}
	return p.requestID
}

// Charge creates a request and starts waiting for it. A refused charge returns
// the error and leaves the terminal on input.
func (p *Poller) Charge(ctx context.Context, in api.ChargeInput) (*api.CreatedRequest, error) {
	p.mu.Lock()
	if p.state != StateInput && p.state != StatePaid {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	p.resetLocked()
	p.generation++
	gen := p.generation
	p.setStateLocked(StateGenerating)
	p.mu.Unlock()
	p.onEvent(Event{Kind: EventState, State: StateGenerating})

	created, err := p.backend.CreatePaymentRequest(ctx, in, "")

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		// closed while generating; the request must not stay payable
		if err == nil {
			cctx, cancel := context.WithTimeout(ctx, cancelTimeout)
			defer cancel()
			if _, cerr := p.backend.Cancel(cctx, created.RequestID); cerr != nil {
				logger.Warn(ctx, "Cancel request failed", zap.String("request_id", created.RequestID.String()), zap.Error(cerr))
			}
			return nil, ErrAbandoned
		}
		return nil, err
	}
	if err != nil {
		p.setStateLocked(StateInput)
		p.mu.Unlock()
		p.onEvent(Event{Kind: EventError, State: StateInput, Message: errorMessage(err), Err: err})
		p.onEvent(Event{Kind: EventState, State: StateInput})
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	p.requestID = created.RequestID
	p.stop = cancel
	p.setStateLocked(StateWaiting)
	p.wg.Add(1)
	p.mu.Unlock()

	p.onEvent(Event{Kind: EventState, State: StateWaiting, RequestID: created.RequestID, Created: created})
	go p.watch(sessionCtx, gen, created)
	return created, nil
}

// Cancel abandons the current request. The terminal returns to input at once;
// the server call happens afterwards and its failure is only logged.
func (p *Poller) Cancel(ctx context.Context) {
	p.mu.Lock()
	if p.state != StateWaiting {
		p.mu.Unlock()
		return
	}
	requestID := p.requestID
	p.generation++
	p.resetLocked()
	p.setStateLocked(StateInput)
	p.mu.Unlock()
	p.onEvent(Event{Kind: EventState, State: StateInput, RequestID: requestID})

	cctx, cancel := context.WithTimeout(ctx, cancelTimeout)
	defer cancel()
	if _, err := p.backend.Cancel(cctx, requestID); err != nil {
		logger.Warn(ctx, "Cancel request failed", zap.String("request_id", requestID.String()), zap.Error(err))
	}
}

// Close stops every timer and waits for the session goroutine to exit.
func (p *Poller) Close() {
	p.mu.Lock()
	p.generation++
	p.resetLocked()
	p.state = StateInput
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) watch(ctx context.Context, gen uint64, created *api.CreatedRequest) {
	defer p.wg.Done()

	deadline := time.NewTimer(created.ExpiresAt.Sub(p.now()))
	defer deadline.Stop()
	tick := time.NewTicker(p.tickInterval)
	defer tick.Stop()
	poll := time.NewTicker(p.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-tick.C:
			remaining := created.ExpiresAt.Sub(p.now())
			if remaining < 0 {
				remaining = 0
			}
			p.emitIfCurrent(gen, Event{Kind: EventTick, State: StateWaiting, RequestID: created.RequestID, Remaining: remaining})

		case <-deadline.C:
			p.finish(gen, Event{Kind: EventNotice, RequestID: created.RequestID, Message: "payment request expired"})
			return

		case <-poll.C:
			request, err := p.backend.GetStatus(ctx, created.RequestID)
			if err != nil {
				if api.IsPermanent(err) {
					p.finish(gen, Event{Kind: EventNotice, RequestID: created.RequestID, Message: errorMessage(err), Err: err})
					return
				}
				logger.Debug(ctx, "Status poll failed", zap.String("request_id", created.RequestID.String()), zap.Error(err))
				continue
			}
			switch request.Status {
			case entities.PaymentRequestStatusPaid:
				p.finish(gen, Event{Kind: EventPaid, RequestID: created.RequestID, Request: request})
				return
			case entities.PaymentRequestStatusExpired:
				p.finish(gen, Event{Kind: EventNotice, RequestID: created.RequestID, Request: request, Message: "payment request expired"})
				return
			case entities.PaymentRequestStatusCanceled:
				p.finish(gen, Event{Kind: EventNotice, RequestID: created.RequestID, Request: request, Message: "payment request canceled"})
				return
			}
		}
	}
}

// finish ends session gen. Paid holds on the paid screen before returning to
// input; anything else returns to input at once.
func (p *Poller) finish(gen uint64, ev Event) {
	p.mu.Lock()
	if gen != p.generation || p.state != StateWaiting {
		p.mu.Unlock()
		return
	}
	p.generation++
	next := p.generation
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}

	if ev.Kind == EventPaid {
		p.setStateLocked(StatePaid)
	} else {
		p.setStateLocked(StateInput)
	}
	ev.State = p.state
	p.mu.Unlock()

	p.onEvent(ev)
	p.onEvent(Event{Kind: EventState, State: ev.State, RequestID: ev.RequestID})
	if ev.Kind != EventPaid {
		return
	}

	// the hold starts only after the paid events went out, so the return to
	// input can never be delivered ahead of them
	p.mu.Lock()
	if next == p.generation && p.state == StatePaid {
		p.holdTimer = time.AfterFunc(p.paidHold, func() { p.endHold(next) })
	}
	p.mu.Unlock()
}

func (p *Poller) endHold(gen uint64) {
	p.mu.Lock()
	if gen != p.generation || p.state != StatePaid {
		p.mu.Unlock()
		return
	}
	p.holdTimer = nil
	p.setStateLocked(StateInput)
	p.mu.Unlock()
	p.onEvent(Event{Kind: EventState, State: StateInput})
}

func (p *Poller) emitIfCurrent(gen uint64, ev Event) {
	p.mu.Lock()
	current := gen == p.generation && p.state == StateWaiting
	p.mu.Unlock()
	if current {
		p.onEvent(ev)
	}
}

func (p *Poller) resetLocked() {
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	if p.holdTimer != nil {
		p.holdTimer.Stop()
		p.holdTimer = nil
	}
	p.requestID = uuid.Nil
}

func (p *Poller) setStateLocked(s State) {
	p.state = s
}

func errorMessage(err error) string {
	var perr *api.PermanentError
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	return err.Error()
}
