package mixer

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/foxseedlab/mixminus/internal/audio"
)

// Volume is applied to every contribution, both when it is summed into the
// mixture and when it is subtracted back out.
const Volume float32 = 0.75

type cycleEntry struct {
	participant audio.Participant
	// nil when the participant contributed nothing this cycle
	samples []float32
}

// Cycle is the state of one tick. The tick goroutine packs it, then hands
// it to the delivery goroutine; it is never touched by both at once and
// never reused.
type Cycle struct {
	seq     uint64
	mixture []float32
	entries []cycleEntry
	index   map[audio.Participant]int
	faults  FaultReporter
	// set when the delivery queue evicted the cycle unread
	dropped atomic.Bool
}

type Delivery struct {
	Participant audio.Participant
	Samples     []float32
}

func NewCycle(seq uint64, samplesPerTick int, faults FaultReporter) *Cycle {
	return &Cycle{
		seq:     seq,
		mixture: make([]float32, samplesPerTick),
		index:   make(map[audio.Participant]int),
		faults:  faults,
	}
}

func (c *Cycle) Seq() uint64 {
	return c.seq
}

func (c *Cycle) Dropped() bool {
	return c.dropped.Load()
}

func (c *Cycle) Len() int {
	return len(c.entries)
}

// Mixture returns a copy of the aggregate buffer.
func (c *Cycle) Mixture() []float32 {
	out := make([]float32, len(c.mixture))
	copy(out, c.mixture)
	return out
}

// Pack reads one buffer from every participant not already in the cycle and
// accumulates the non-silent ones into the mixture. Participants whose
// dynamic type is not comparable are skipped.
func (c *Cycle) Pack(participants []audio.Participant) {
	for _, p := range participants {
		if !identifiable(p) {
			continue
		}
		if _, ok := c.index[p]; ok {
			continue
		}
		buf := make([]float32, len(c.mixture))
		n, err := c.read(p, buf)
		if err != nil {
			c.report(p, FaultOpRead, err)
			n = 0
		}
		c.index[p] = len(c.entries)
		if n == 0 {
			c.entries = append(c.entries, cycleEntry{participant: p})
			continue
		}
		sum(c.mixture, buf, Volume)
		c.entries = append(c.entries, cycleEntry{participant: p, samples: buf})
	}
}

// Unpack computes every participant's mix-minus-self buffer. Silent
// participants get their own copy of the mixture.
func (c *Cycle) Unpack() []Delivery {
	out := make([]Delivery, 0, len(c.entries))
	for _, e := range c.entries {
		if e.samples == nil {
			out = append(out, Delivery{Participant: e.participant, Samples: c.Mixture()})
			continue
		}
		subtract(c.mixture, e.samples, Volume)
		out = append(out, Delivery{Participant: e.participant, Samples: e.samples})
	}
	return out
}

// Deliver writes each buffer in pack order. A failing participant does not
// stop the remaining writes.
func (c *Cycle) Deliver(deliveries []Delivery) int {
	written := 0
	for _, d := range deliveries {
		if err := c.write(d.Participant, d.Samples); err != nil {
			c.report(d.Participant, FaultOpWrite, err)
			continue
		}
		written++
	}
	return written
}

// identifiable reports whether p can be used as a map key and compared by
// identity. A slice or map based participant would panic the tick goroutine.
func identifiable(p audio.Participant) bool {
	return p != nil && reflect.TypeOf(p).Comparable()
}

func (c *Cycle) read(p audio.Participant, buf []float32) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("%w: %v", ErrParticipantPanic, r)
		}
	}()
	n, err = p.Read(buf)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > len(buf) {
		return 0, fmt.Errorf("%w: %d of %d", ErrSampleCount, n, len(buf))
	}
	return n, nil
}

func (c *Cycle) write(p audio.Participant, buf []float32) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrParticipantPanic, r)
		}
	}()
	return p.Write(buf)
}

func (c *Cycle) report(p audio.Participant, op FaultOp, err error) {
	if c.faults == nil {
		return
	}
	c.faults.ReportFault(&ParticipantFault{Participant: p, Op: op, Cycle: c.seq, Err: err})
}

func sum(dst, src []float32, volume float32) {
	for i := range dst {
		dst[i] += volume * src[i]
	}
}

// subtract rewrites own in place as mixture - volume*own.
func subtract(mixture, own []float32, volume float32) {
	for i := range own {
		own[i] = mixture[i] - own[i]*volume
	}
}
