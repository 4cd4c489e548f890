package transcriber

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/mixminus/internal/transcriber"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeStream struct {
	grpc.ClientStream

	mu        sync.Mutex
	sent      []*speechpb.StreamingRecognizeRequest
	sendErr   error
	responses chan *speechpb.StreamingRecognizeResponse
	closed    bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{responses: make(chan *speechpb.StreamingRecognizeResponse, 4)}
}

func (s *fakeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, req)
	return nil
}

func (s *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	resp, ok := <-s.responses
	if !ok {
		return nil, io.EOF
	}
	return resp, nil
}

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.responses)
	}
	return nil
}

func (s *fakeStream) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type resultEvent struct {
	index   int
	text    string
	isFinal bool
}

type recordingReceiver struct {
	results chan resultEvent
	errs    chan error
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{results: make(chan resultEvent, 4), errs: make(chan error, 4)}
}

func (r *recordingReceiver) OnResult(index int, text string, isFinal bool) {
	r.results <- resultEvent{index: index, text: text, isFinal: isFinal}
}

func (r *recordingReceiver) OnError(err error) {
	r.errs <- err
}

func TestNewCloudSpeechTranscriberDefaultsLocation(t *testing.T) {
	tr := NewCloudSpeechTranscriber(CloudSpeechConfig{ProjectID: "p", Location: "  ", Model: " long "}).(*CloudSpeechTranscriber)
	if tr.location != "global" {
		t.Fatalf("expected global location, got %q", tr.location)
	}
	if tr.model != "long" {
		t.Fatalf("expected trimmed model, got %q", tr.model)
	}
}

func TestStreamingConfigRequestUsesStreamFormat(t *testing.T) {
	tr := NewCloudSpeechTranscriber(CloudSpeechConfig{
		ProjectID: "proj",
		Language:  "en-US",
		Location:  "us",
		Model:     "long",
	}).(*CloudSpeechTranscriber)

	req := tr.streamingConfigRequest(transcriber.StreamRequest{
		SessionID:       "s1",
		Language:        "ja-JP",
		SampleRateHertz: 48000,
		Channels:        2,
	})
	if req.GetRecognizer() != "projects/proj/locations/us/recognizers/_" {
		t.Fatalf("unexpected recognizer: %s", req.GetRecognizer())
	}
	cfg := req.GetStreamingConfig().GetConfig()
	if got := cfg.GetLanguageCodes(); len(got) != 1 || got[0] != "ja-JP" {
		t.Fatalf("unexpected language codes: %v", got)
	}
	dec := cfg.GetExplicitDecodingConfig()
	if dec.GetEncoding() != speechpb.ExplicitDecodingConfig_LINEAR16 {
		t.Fatalf("unexpected encoding: %v", dec.GetEncoding())
	}
	if dec.GetSampleRateHertz() != 48000 || dec.GetAudioChannelCount() != 2 {
		t.Fatalf("unexpected decoding config: %d Hz, %d channels", dec.GetSampleRateHertz(), dec.GetAudioChannelCount())
	}
	if !req.GetStreamingConfig().GetStreamingFeatures().GetInterimResults() {
		t.Fatal("expected interim results")
	}
}

func TestStartStreamingRejectsInvalidFormat(t *testing.T) {
	tr := NewCloudSpeechTranscriber(CloudSpeechConfig{ProjectID: "p"})
	_, err := tr.StartStreaming(t.Context(), transcriber.StreamRequest{SessionID: "s", Channels: 2}, newRecordingReceiver())
	if err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestIsReconnectableStreamError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "eof", err: io.EOF, want: true},
		{name: "wrapped eof", err: errors.New("unexpected EOF"), want: true},
		{name: "max duration", err: status.Error(codes.Aborted, "Max duration of 5 minutes reached"), want: true},
		{name: "idle timeout", err: status.Error(codes.Aborted, "Stream timed out after receiving no more client requests"), want: true},
		{name: "other abort", err: status.Error(codes.Aborted, "something else"), want: false},
		{name: "unavailable", err: status.Error(codes.Unavailable, "max duration of 5 minutes"), want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isReconnectableStreamError(tt.err); got != tt.want {
				t.Fatalf("isReconnectableStreamError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestChunkBytesFor(t *testing.T) {
	got := chunkBytesFor(transcriber.StreamRequest{SampleRateHertz: 48000, Channels: 2})
	if got != 19200 {
		t.Fatalf("expected 100ms of stereo LINEAR16 (19200 bytes), got %d", got)
	}
}

func TestStreamWriterBatchesFrames(t *testing.T) {
	stream := newFakeStream()
	w := newStreamWriter("s1", 8, stream, newRecordingReceiver(),
		func() (speechpb.Speech_StreamingRecognizeClient, error) {
			t.Fatal("unexpected reconnect")
			return nil, nil
		},
		func() error { return nil },
	)

	for i := 0; i < 5; i++ {
		if err := w.Write([]byte{1, 2, 3, 4}); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if len(stream.sent) != 3 {
		t.Fatalf("expected 2 full chunks and a flushed tail, got %d sends", len(stream.sent))
	}
	sizes := []int{8, 8, 4}
	for i, req := range stream.sent {
		if got := len(req.GetAudio()); got != sizes[i] {
			t.Fatalf("send %d carried %d bytes, want %d", i, got, sizes[i])
		}
	}
}

func TestStreamWriterReconnectsOnAbort(t *testing.T) {
	first := newFakeStream()
	first.sendErr = status.Error(codes.Aborted, "max duration of 5 minutes reached")
	second := newFakeStream()
	reconnects := 0
	closedClient := false

	w := newStreamWriter("s1", 4, first, newRecordingReceiver(),
		func() (speechpb.Speech_StreamingRecognizeClient, error) {
			reconnects++
			return second, nil
		},
		func() error {
			closedClient = true
			return nil
		},
	)

	if err := w.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if reconnects != 1 {
		t.Fatalf("expected 1 reconnect, got %d", reconnects)
	}
	if second.sentCount() != 1 {
		t.Fatalf("expected audio on new stream, got %d sends", second.sentCount())
	}
	if !closedClient {
		t.Fatal("expected client to be closed")
	}
	if err := w.Write([]byte{1}); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected ErrClosedPipe after close, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

func TestStreamWriterReportsFatalSendError(t *testing.T) {
	stream := newFakeStream()
	stream.sendErr = status.Error(codes.PermissionDenied, "denied")
	receiver := newRecordingReceiver()
	w := newStreamWriter("s1", 2, stream, receiver,
		func() (speechpb.Speech_StreamingRecognizeClient, error) {
			t.Fatal("unexpected reconnect")
			return nil, nil
		},
		func() error { return nil },
	)

	if err := w.Write([]byte{0, 0}); err != nil {
		t.Fatalf("first Write returned error: %v", err)
	}
	select {
	case err := <-receiver.errs:
		if status.Code(err) != codes.PermissionDenied {
			t.Fatalf("expected permission denied, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream error")
	}
	if err := w.Write([]byte{0, 0}); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected later writes to fail, got %v", err)
	}
	_ = w.Close()
}

func TestStartReceiverForwardsFirstAlternative(t *testing.T) {
	stream := newFakeStream()
	receiver := newRecordingReceiver()
	w := &streamWriter{stream: stream, receiver: receiver}
	w.startReceiver(stream, receiver)

	stream.responses <- &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{Alternatives: nil},
			{
				Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "hello bridge"}, {Transcript: "ignored"}},
				IsFinal:      true,
			},
		},
	}

	select {
	case got := <-receiver.results:
		if got.index != 1 || got.text != "hello bridge" || !got.isFinal {
			t.Fatalf("unexpected result: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
	_ = stream.CloseSend()
}
