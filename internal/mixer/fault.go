package mixer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/foxseedlab/mixminus/internal/audio"
)

type FaultOp string

const (
	FaultOpRead  FaultOp = "read"
	FaultOpWrite FaultOp = "write"
)

var (
	ErrParticipantPanic = errors.New("participant panicked")
	ErrSampleCount      = errors.New("participant returned an invalid sample count")
)

// ParticipantFault is a failed Read or Write. It never aborts a cycle; the
// participant is treated as silent (read) or skipped (write) for that cycle.
type ParticipantFault struct {
	Participant audio.Participant
	Op          FaultOp
	Cycle       uint64
	Err         error
}

func (f *ParticipantFault) Error() string {
	return fmt.Sprintf("participant %s failed in cycle %d: %v", f.Op, f.Cycle, f.Err)
}

func (f *ParticipantFault) Unwrap() error {
	return f.Err
}

type FaultReporter interface {
	ReportFault(fault *ParticipantFault)
}

type FaultReporterFunc func(fault *ParticipantFault)

func (f FaultReporterFunc) ReportFault(fault *ParticipantFault) {
	f(fault)
}

type logFaultReporter struct {
	logger *slog.Logger
}

func NewLogFaultReporter(logger *slog.Logger) FaultReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &logFaultReporter{logger: logger}
}

func (r *logFaultReporter) ReportFault(fault *ParticipantFault) {
	r.logger.Warn("participant fault isolated", "op", string(fault.Op), "cycle", fault.Cycle, "error", fault.Err)
}

// MultiFaultReporter fans a fault out to every non-nil reporter in order.
func MultiFaultReporter(reporters ...FaultReporter) FaultReporter {
	list := make([]FaultReporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			list = append(list, r)
		}
	}
	return FaultReporterFunc(func(fault *ParticipantFault) {
		for _, r := range list {
			r.ReportFault(fault)
		}
	})
}
