package mixer

import (
	"errors"
	"sync"
	"testing"
)

type fakeParticipant struct {
	mu      sync.Mutex
	name    string
	value   float32
	silent  bool
	readErr error
	panicOn string
	count   int
	onRead  func()
	onWrite func()
	writes  [][]float32
}

func (p *fakeParticipant) Read(buf []float32) (int, error) {
	if p.onRead != nil {
		p.onRead()
	}
	if p.panicOn == "read" {
		panic("read exploded")
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.count != 0 {
		return p.count, nil
	}
	if p.silent {
		return 0, nil
	}
	for i := range buf {
		buf[i] = p.value
	}
	return len(buf), nil
}

func (p *fakeParticipant) Write(buf []float32) error {
	if p.onWrite != nil {
		p.onWrite()
	}
	if p.panicOn == "write" {
		panic("write exploded")
	}
	got := make([]float32, len(buf))
	copy(got, buf)
	p.mu.Lock()
	p.writes = append(p.writes, got)
	p.mu.Unlock()
	return nil
}

func (p *fakeParticipant) Writes() [][]float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]float32, len(p.writes))
	copy(out, p.writes)
	return out
}

// sliceParticipant has an uncomparable dynamic type.
type sliceParticipant []float32

func (p sliceParticipant) Read(buf []float32) (int, error) {
	return copy(buf, p), nil
}

func (p sliceParticipant) Write([]float32) error {
	return nil
}

type recordingReporter struct {
	mu     sync.Mutex
	faults []*ParticipantFault
}

func (r *recordingReporter) ReportFault(f *ParticipantFault) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, f)
}

func (r *recordingReporter) Faults() []*ParticipantFault {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ParticipantFault, len(r.faults))
	copy(out, r.faults)
	return out
}

var errBrokenMic = errors.New("broken mic")

func assertConstant(t *testing.T, name string, got []float32, wantLen int, want float32) {
	t.Helper()
	if len(got) != wantLen {
		t.Fatalf("%s: expected %d samples, got %d", name, wantLen, len(got))
	}
	for i, v := range got {
		if v != want {
			t.Fatalf("%s: sample %d = %v, want %v", name, i, v, want)
		}
	}
}
