package mixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/mixminus/internal/audio"
)

// ManualInterval disables wall-clock ticking; cycles only run on WaitSync.
const ManualInterval time.Duration = -1

const statsLogInterval = 5 * time.Second

var (
	ErrClosed       = errors.New("scheduler is closed")
	ErrCycleDropped = errors.New("cycle was dropped before delivery")
)

type CycleReport struct {
	Seq          uint64
	Participants int
	Written      int
	Elapsed      time.Duration
}

type Stats struct {
	Ticks     uint64
	Delivered uint64
	Faults    uint64
	Queue     WorkerStats
}

type Option func(*Scheduler)

// WithInterval sets the tick cadence. A negative value selects manual mode.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d != 0 {
			s.interval = d
		}
	}
}

func WithManualTicks() Option {
	return WithInterval(ManualInterval)
}

func WithQueueCapacity(n int) Option {
	return func(s *Scheduler) {
		s.queueCapacity = n
	}
}

func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(s *Scheduler) {
		s.overflow = p
	}
}

func WithFaultReporter(r FaultReporter) Option {
	return func(s *Scheduler) {
		s.reporter = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCycleHook is called on the delivery goroutine after each cycle has been
// written out.
func WithCycleHook(fn func(CycleReport)) Option {
	return func(s *Scheduler) {
		s.hook = fn
	}
}

// Scheduler owns the participant registry and the tick loop. One goroutine
// snapshots and packs a cycle per tick; a Worker delivers cycles in order.
type Scheduler struct {
	format        audio.Format
	samples       int
	interval      time.Duration
	queueCapacity int
	overflow      OverflowPolicy
	reporter      FaultReporter
	faults        FaultReporter
	hook          func(CycleReport)
	logger        *slog.Logger

	mu           sync.Mutex
	participants []audio.Participant

	worker   *Worker[*Cycle]
	requests chan chan tickResult
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	closeOnce sync.Once
	seq       uint64

	ticks      atomic.Uint64
	delivered  atomic.Uint64
	faultCount atomic.Uint64
}

type tickResult struct {
	seq   uint64
	cycle *Cycle
	err   error
}

func New(format audio.Format, opts ...Option) (*Scheduler, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		format:        format,
		samples:       format.SamplesPerTick(),
		interval:      format.TickDuration(),
		queueCapacity: DefaultQueueCapacity,
		overflow:      OverflowBlock,
		logger:        slog.Default(),
		requests:      make(chan chan tickResult),
		loopDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reporter == nil {
		s.reporter = NewLogFaultReporter(s.logger)
	}
	s.faults = FaultReporterFunc(func(f *ParticipantFault) {
		s.faultCount.Add(1)
		s.reporter.ReportFault(f)
	})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.worker = NewWorker(s.deliver,
		WithCapacity(s.queueCapacity),
		WithOverflow(s.overflow),
		WithWorkerLogger(s.logger),
		WithDropHandler(func(c *Cycle) { c.dropped.Store(true) }),
	)
	go s.loop()
	s.logger.Info("mix scheduler started",
		"format", format.String(),
		"samples_per_tick", s.samples,
		"interval", s.intervalLabel(),
		"queue_capacity", s.queueCapacity,
		"overflow", s.overflow.String())
	return s, nil
}

func (s *Scheduler) Format() audio.Format {
	return s.format
}

// Register adds p starting from the next tick. It reports whether p was new;
// a participant whose type is not comparable is refused.
func (s *Scheduler) Register(p audio.Participant) bool {
	if p == nil {
		return false
	}
	if !identifiable(p) {
		s.logger.Warn("refused participant with uncomparable type", "type", fmt.Sprintf("%T", p))
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.participants {
		if existing == p {
			return false
		}
	}
	next := make([]audio.Participant, 0, len(s.participants)+1)
	next = append(next, s.participants...)
	s.participants = append(next, p)
	return true
}

// Unregister removes p starting from the next tick. A cycle already packed
// still delivers to it.
func (s *Scheduler) Unregister(p audio.Participant) bool {
	if !identifiable(p) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.participants {
		if existing != p {
			continue
		}
		next := make([]audio.Participant, 0, len(s.participants)-1)
		next = append(next, s.participants[:i]...)
		s.participants = append(next, s.participants[i+1:]...)
		return true
	}
	return false
}

func (s *Scheduler) Participants() []audio.Participant {
	snapshot := s.snapshot()
	out := make([]audio.Participant, len(snapshot))
	copy(out, snapshot)
	return out
}

// snapshot returns the current registry slice. Mutations replace the slice
// instead of editing it, so the result is safe to iterate without the lock.
func (s *Scheduler) snapshot() []audio.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants
}

// WaitSync triggers a tick immediately and blocks until that cycle, and every
// cycle queued ahead of it, has left the delivery queue. It returns
// ErrCycleDropped when the overflow policy evicted its cycle, since then no
// participant was written for it.
func (s *Scheduler) WaitSync(ctx context.Context) error {
	reply := make(chan tickResult, 1)
	select {
	case s.requests <- reply:
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	var res tickResult
	select {
	case res = <-reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.err != nil {
		return res.err
	}
	if err := s.worker.WaitDrain(ctx, res.seq); err != nil {
		if errors.Is(err, ErrWorkerClosed) {
			return ErrClosed
		}
		return err
	}
	if res.cycle.Dropped() {
		return fmt.Errorf("%w: cycle %d", ErrCycleDropped, res.cycle.Seq())
	}
	return nil
}

// Close stops the tick loop, lets the in-flight cycle finish and shuts the
// delivery worker down. It must not be called from inside a participant's
// Read or Write.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.loopDone
		s.worker.Close()
		st := s.Stats()
		s.logger.Info("mix scheduler stopped",
			"ticks", st.Ticks,
			"delivered", st.Delivered,
			"faults", st.Faults,
			"dropped", st.Queue.Dropped)
	})
	<-s.loopDone
	s.worker.Close()
	return nil
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:     s.ticks.Load(),
		Delivered: s.delivered.Load(),
		Faults:    s.faultCount.Load(),
		Queue:     s.worker.Stats(),
	}
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := raiseThreadPriority(); err != nil {
		s.logger.Debug("could not raise tick thread priority", "error", err)
	}

	var tickC, statsC <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		statsTicker := time.NewTicker(statsLogInterval)
		defer ticker.Stop()
		defer statsTicker.Stop()
		tickC = ticker.C
		statsC = statsTicker.C
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-statsC:
			st := s.Stats()
			s.logger.Info("mix pipeline stats",
				"ticks", st.Ticks,
				"delivered", st.Delivered,
				"faults", st.Faults,
				"pending", st.Queue.Pending,
				"dropped", st.Queue.Dropped,
				"participants", len(s.snapshot()))
		case <-tickC:
			if res := s.tick(); res.err != nil && !errors.Is(res.err, ErrClosed) {
				s.logger.Warn("mix tick failed", "error", res.err)
			}
		case reply := <-s.requests:
			reply <- s.tick()
		}
	}
}

func (s *Scheduler) tick() tickResult {
	s.seq++
	participants := s.snapshot()
	c := NewCycle(s.seq, s.samples, s.faults)
	c.Pack(participants)
	s.ticks.Add(1)

	seq, err := s.worker.Enqueue(s.ctx, c)
	if err != nil {
		if errors.Is(err, ErrWorkerClosed) || errors.Is(err, context.Canceled) {
			return tickResult{err: ErrClosed}
		}
		return tickResult{err: fmt.Errorf("enqueue cycle %d: %w", c.Seq(), err)}
	}
	return tickResult{seq: seq, cycle: c}
}

func (s *Scheduler) deliver(c *Cycle) {
	start := time.Now()
	written := c.Deliver(c.Unpack())
	s.delivered.Add(1)
	if s.hook != nil {
		s.hook(CycleReport{
			Seq:          c.Seq(),
			Participants: c.Len(),
			Written:      written,
			Elapsed:      time.Since(start),
		})
	}
}

func (s *Scheduler) intervalLabel() string {
	if s.interval < 0 {
		return "manual"
	}
	return s.interval.String()
}
