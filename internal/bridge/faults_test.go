package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/foxseedlab/mixminus/internal/mixer"
)

func TestFaultRecorder_DropsAfterClose(t *testing.T) {
	repo := &mockRepository{}
	r := newFaultRecorder(repo, "session-1")
	p := &fakeChannelParticipant{channelID: "vc-9"}
	r.label(p, "vc-9")

	r.ReportFault(faultFor(p, "boom"))
	r.close(context.Background())
	r.ReportFault(faultFor(p, "late"))

	n, _ := repo.CountFaultsBySessionID(context.Background(), "session-1")
	if n != 1 {
		t.Fatalf("expected 1 persisted fault, got %d", n)
	}
	if repo.faults[0].ChannelID != "vc-9" || repo.faults[0].Operation != "write" {
		t.Fatalf("unexpected fault: %+v", repo.faults[0])
	}
}

func faultFor(p *fakeChannelParticipant, msg string) *mixer.ParticipantFault {
	return &mixer.ParticipantFault{Participant: p, Op: mixer.FaultOpWrite, Cycle: 7, Err: errors.New(msg)}
}
