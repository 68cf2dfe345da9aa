package flock

import (
	"context"
	"sync"
	"time"

	"github.com/cryptosat/bounce/log"
	"github.com/cryptosat/bounce/slotstate"
)

// phaseSubQueueCap is the buffer size of each phase subscription channel.
// A slow Bounce Unit that falls behind sees the channel fill up; once
// full, further notifications for that subscriber are dropped rather than
// blocking the timer. The Bounce Unit then receives the phases already
// queued, in order, and never sees the dropped ones; it does not skip
// ahead to the latest phase.
const phaseSubQueueCap = 25

// PhaseTimer is the single asynchronous task per flock that advances
// slot/phase for every Bounce Unit. It broadcasts First at t=0 and every
// SlotDuration thereafter, Second starting at Phase1Duration and every
// SlotDuration after that, and Third starting at
// Phase1Duration+Phase2Duration and every SlotDuration after that.
// Ordering within a slot (First < Second < Third) is guaranteed by the
// SlotConfig.Validate precondition enforced at construction.
type PhaseTimer struct {
	cfg SlotConfig

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan slotstate.Phase

	log *log.Logger
}

// NewPhaseTimer creates a phase timer for the given slot configuration.
// cfg must already satisfy cfg.Validate(); callers validate at flock
// construction time, not here, so timer construction cannot itself fail.
func NewPhaseTimer(cfg SlotConfig, logger *log.Logger) *PhaseTimer {
	return &PhaseTimer{
		cfg:  cfg,
		subs: make(map[int]chan slotstate.Phase),
		log:  logger,
	}
}

// Subscribe returns a channel that receives Phase notifications in
// issue order (First < Second < Third per slot), barring overflow. Call
// Unsubscribe with the same channel when done.
func (pt *PhaseTimer) Subscribe() <-chan slotstate.Phase {
	pt.subMu.Lock()
	defer pt.subMu.Unlock()

	ch := make(chan slotstate.Phase, phaseSubQueueCap)
	pt.nextID++
	pt.subs[pt.nextID] = ch
	return ch
}

// Unsubscribe removes a previously subscribed channel and closes it.
func (pt *PhaseTimer) Unsubscribe(ch <-chan slotstate.Phase) {
	pt.subMu.Lock()
	defer pt.subMu.Unlock()

	for id, sub := range pt.subs {
		if sub == ch {
			close(sub)
			delete(pt.subs, id)
			return
		}
	}
}

// notify sends evt to every subscriber without blocking; a subscriber
// whose queue is full simply misses this tick.
func (pt *PhaseTimer) notify(evt slotstate.Phase) {
	pt.subMu.Lock()
	defer pt.subMu.Unlock()

	for _, ch := range pt.subs {
		select {
		case ch <- evt:
		default:
			pt.log.Warn("phase subscriber lagging, dropping tick", "phase", evt.String())
		}
	}
}

// Run drives the slot clock until ctx is cancelled. It broadcasts First
// immediately, then First/Second/Third on their respective schedules.
func (pt *PhaseTimer) Run(ctx context.Context) {
	start := time.Now()
	phase2At := pt.cfg.Phase1Duration
	phase3At := pt.cfg.Phase1Duration + pt.cfg.Phase2Duration

	slotTicker := time.NewTicker(pt.cfg.SlotDuration)
	defer slotTicker.Stop()

	phase2Timer := time.NewTimer(time.Until(start.Add(phase2At)))
	defer phase2Timer.Stop()
	phase3Timer := time.NewTimer(time.Until(start.Add(phase3At)))
	defer phase3Timer.Stop()

	pt.notify(slotstate.First)

	for {
		select {
		case <-ctx.Done():
			return
		case <-slotTicker.C:
			pt.notify(slotstate.First)
		case <-phase2Timer.C:
			pt.notify(slotstate.Second)
			phase2Timer.Reset(pt.cfg.SlotDuration)
		case <-phase3Timer.C:
			pt.notify(slotstate.Third)
			phase3Timer.Reset(pt.cfg.SlotDuration)
		}
	}
}
