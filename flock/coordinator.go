package flock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cryptosat/bounce"
	"github.com/cryptosat/bounce/log"
	"github.com/cryptosat/bounce/metrics"
)

// requestQueueCap is the bounded capacity of each Bounce Unit's request
// queue (coordinator -> BU) and of the flock's single fan-in result queue
// (BUs -> coordinator), per spec §5.
const requestQueueCap = 25

// Errors returned by the Coordinator.
var (
	// ErrCoordClosed is returned by Bounce once the result channel has
	// closed; this is fatal for the coordinator task (spec §4.e/§7.3).
	ErrCoordClosed = errors.New("flock: result channel closed")
	// ErrCoordAlreadyStarted is returned by Start on a Coordinator that is
	// already running.
	ErrCoordAlreadyStarted = errors.New("flock: coordinator already started")
	// ErrCoordNotStarted is returned by Wait on a Coordinator that has not
	// been started.
	ErrCoordNotStarted = errors.New("flock: coordinator not started")
)

// bounceUnitHandle is the coordinator's one-way view of a Bounce Unit: the
// sink it sends requests into. The BU owns the matching source and its own
// goroutine; no reference cycle exists, only message passing (spec §9).
type bounceUnitHandle struct {
	id        uint32
	requestCh chan bounce.Commit
}

// Coordinator is the Flock coordinator (spec §4.f): it fans a ground
// station's precommit out to every Bounce Unit, fans BU results back in
// over a single channel, gossips non-aggregate results, and returns the
// first fresh aggregate to the external RPC boundary. Named "Coordinator"
// rather than "Flock" to avoid stuttering with the package name.
type Coordinator struct {
	cfg Config

	units   []*bounceUnitHandle
	bus     []*BounceUnit
	resultC chan bounce.Commit

	timer   *PhaseTimer
	log     *log.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	group   *errgroup.Group
	cancel  context.CancelFunc

	// resultMu serializes consumption of resultC across concurrent Bounce
	// calls (spec §5: "the single result receiver is held under a mutex,
	// serialized consumption across concurrent invocations"). lastSlot is
	// read and written only while resultMu is held.
	resultMu sync.Mutex
	lastSlot uint32
}

// New constructs a Coordinator and every Bounce Unit it owns, but does not
// start any goroutines; call Start to begin the phase timer and BU event
// loops. m may be nil, in which case the coordinator records no metrics.
func New(cfg Config, m *metrics.Metrics, logger *log.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("flock: new coordinator: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &Coordinator{
		cfg:     cfg,
		resultC: make(chan bounce.Commit, requestQueueCap),
		timer:   NewPhaseTimer(cfg.Slot, logger.Module("phase-timer")),
		log:     logger.Module("coordinator"),
		metrics: m,
		units:   make([]*bounceUnitHandle, 0, cfg.NumBounceUnits),
		bus:     make([]*BounceUnit, 0, cfg.NumBounceUnits),
	}

	for id := uint32(0); id < cfg.NumBounceUnits; id++ {
		mode := cfg.FailureModes[id] // zero value Honest for unlisted ids
		requestCh := make(chan bounce.Commit, requestQueueCap)
		phaseCh := c.timer.Subscribe()

		bu, err := NewBounceUnit(id, cfg.NumBounceUnits, c.resultC, requestCh, phaseCh, mode, logger.Module(fmt.Sprintf("bu-%d", id)))
		if err != nil {
			return nil, fmt.Errorf("flock: new coordinator: %w", err)
		}
		c.units = append(c.units, &bounceUnitHandle{id: id, requestCh: requestCh})
		c.bus = append(c.bus, bu)
	}

	return c, nil
}

// Start launches the phase timer and every Bounce Unit's event loop under
// a shared errgroup.Group, mirroring pkg/node's Start/Stop/Wait shape
// (SPEC_FULL.md §5.A). Cancelling the derived context (via Stop) is the
// signal every goroutine selects on to exit.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrCoordAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		c.timer.Run(gctx)
		return nil
	})
	for _, bu := range c.bus {
		bu := bu
		g.Go(func() error {
			bu.Run(gctx)
			return nil
		})
	}

	c.cancel = cancel
	c.group = g
	c.running = true
	c.log.Info("coordinator started", "num_bounce_units", c.cfg.NumBounceUnits)
	return nil
}

// Stop cancels every running goroutine and closes each Bounce Unit's
// request queue, which is this coordinator's side of that BU's exit
// signal (spec §4.e "Result-channel closure => the BU exits"). Stop does
// not block; call Wait to block until every goroutine has returned.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.cancel()
	for _, u := range c.units {
		close(u.requestCh)
	}
	c.running = false
}

// Wait blocks until every goroutine launched by Start has returned.
func (c *Coordinator) Wait() error {
	c.mu.Lock()
	g := c.group
	c.mu.Unlock()
	if g == nil {
		return ErrCoordNotStarted
	}
	return g.Wait()
}

// Bounce is the coordinator's single external method (spec §4.f, §6): it
// fans c0 out to every Bounce Unit, then loops reading the fan-in result
// channel -- gossiping non-aggregate results back out to the flock and
// returning the first fresh aggregate (spec's duplicate-slot guard drops
// any aggregate whose slot index is not newer than the last one
// returned). The loop has no internal timeout; cancellation is entirely
// the caller's responsibility via ctx (spec §4.f step 3, §5).
func (c *Coordinator) Bounce(ctx context.Context, c0 bounce.Commit) (bounce.Commit, error) {
	c.broadcastAll(c0)

	c.resultMu.Lock()
	defer c.resultMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return bounce.Commit{}, ctx.Err()
		case r, ok := <-c.resultC:
			if !ok {
				return bounce.Commit{}, ErrCoordClosed
			}
			if !r.Aggregated {
				c.broadcastAll(r)
				continue
			}
			if r.I <= c.lastSlot {
				c.log.Warn("dropping duplicate-slot aggregate", "slot", r.I, "last_slot", c.lastSlot)
				continue
			}
			c.lastSlot = r.I
			if c.metrics != nil {
				c.metrics.SlotCurrent.Set(float64(r.I))
				c.metrics.QuorumTotal.WithLabelValues(r.Type.String()).Inc()
			}
			return r, nil
		}
	}
}

// broadcastAll sends c to every Bounce Unit's request channel. Sends are
// non-blocking: a full queue is logged and dropped rather than retried
// (spec §5 "Overflow on send is logged, not retried").
func (c *Coordinator) broadcastAll(cm bounce.Commit) {
	for _, u := range c.units {
		select {
		case u.requestCh <- cm:
		default:
			c.log.Warn("bounce unit request queue full, dropping send", "bounce_unit", u.id)
		}
	}
}
