package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/mixminus/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

type CloudSpeechTranscriber struct {
	projectID       string
	credentialsJSON string
	defaultLanguage string
	location        string
	model           string
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) transcriber.Transcriber {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	model := strings.TrimSpace(cfg.Model)

	return &CloudSpeechTranscriber{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		defaultLanguage: cfg.Language,
		location:        location,
		model:           model,
	}
}

func (t *CloudSpeechTranscriber) StartStreaming(ctx context.Context, req transcriber.StreamRequest, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	if req.Language == "" {
		req.Language = t.defaultLanguage
	}
	if req.SampleRateHertz <= 0 || req.Channels <= 0 {
		return nil, fmt.Errorf("invalid stream format: %d Hz, %d channels", req.SampleRateHertz, req.Channels)
	}
	slog.Info("starting cloud speech streaming", "session_id", req.SessionID, "location", t.location, "language", req.Language, "model", t.model, "sample_rate", req.SampleRateHertz, "channels", req.Channels)

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	client, err := speech.NewClient(ctx, t.clientOptions(creds)...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open streaming recognize: %w", err)
	}

	configRequest := t.streamingConfigRequest(req)
	sendConfig := func(s speechpb.Speech_StreamingRecognizeClient) error {
		return s.Send(configRequest)
	}
	if err := sendConfig(stream); err != nil {
		_ = stream.CloseSend()
		_ = client.Close()
		return nil, err
	}
	slog.Info("cloud speech stream initialized", "session_id", req.SessionID)

	w := newStreamWriter(req.SessionID, chunkBytesFor(req), stream, receiver,
		func() (speechpb.Speech_StreamingRecognizeClient, error) {
			next, err := client.StreamingRecognize(ctx)
			if err != nil {
				return nil, err
			}
			if err := sendConfig(next); err != nil {
				_ = next.CloseSend()
				return nil, err
			}
			return next, nil
		},
		client.Close,
	)
	w.startReceiver(stream, receiver)

	return w, nil
}

func (t *CloudSpeechTranscriber) clientOptions(creds *auth.Credentials) []option.ClientOption {
	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}
	return opts
}

// streamingConfigRequest describes the mix as interleaved LINEAR16 at the
// bridge's rate and channel count.
func (t *CloudSpeechTranscriber) streamingConfigRequest(req transcriber.StreamRequest) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         t.model,
					LanguageCodes: []string{req.Language},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   int32(req.SampleRateHertz),
							AudioChannelCount: int32(req.Channels),
						},
					},
					Features: &speechpb.RecognitionFeatures{},
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
			},
		},
	}
}

// sendQueueFrames bounds how much mix audio may wait for the gRPC stream
// before new frames are dropped.
const sendQueueFrames = 100

// streamWriter decouples the mixer's per-tick writes from the gRPC stream.
// Frames are batched into chunks of about 100ms and sent from one goroutine,
// which also owns reconnects.
type streamWriter struct {
	sessionID   string
	chunkBytes  int
	receiver    transcriber.ResultReceiver
	newStreamFn func() (speechpb.Speech_StreamingRecognizeClient, error)
	closeFn     func() error

	mu     sync.Mutex
	closed bool
	failed error
	frames chan []byte
	done   chan struct{}

	// owned by sendLoop
	stream speechpb.Speech_StreamingRecognizeClient

	dropped atomic.Uint64
}

func newStreamWriter(sessionID string, chunkBytes int, stream speechpb.Speech_StreamingRecognizeClient, receiver transcriber.ResultReceiver, newStreamFn func() (speechpb.Speech_StreamingRecognizeClient, error), closeFn func() error) *streamWriter {
	w := &streamWriter{
		sessionID:   sessionID,
		chunkBytes:  max(chunkBytes, 1),
		receiver:    receiver,
		newStreamFn: newStreamFn,
		closeFn:     closeFn,
		frames:      make(chan []byte, sendQueueFrames),
		done:        make(chan struct{}),
		stream:      stream,
	}
	go w.sendLoop()
	return w
}

// chunkBytesFor is 100ms of interleaved LINEAR16.
func chunkBytesFor(req transcriber.StreamRequest) int {
	return req.SampleRateHertz / 10 * req.Channels * 2
}

func (w *streamWriter) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return io.ErrClosedPipe
	}
	if w.failed != nil {
		return w.failed
	}
	select {
	case w.frames <- pcm:
	default:
		if n := w.dropped.Add(1); n == 1 || n%50 == 0 {
			slog.Warn("transcriber stream backlogged; dropping audio", "session_id", w.sessionID, "dropped_frames", n)
		}
	}
	return nil
}

// Close flushes queued audio, then closes the stream and the client.
func (w *streamWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.frames)
	w.mu.Unlock()

	<-w.done
	if err := w.stream.CloseSend(); err != nil {
		_ = w.closeFn()
		return err
	}
	return w.closeFn()
}

func (w *streamWriter) sendLoop() {
	defer close(w.done)
	chunk := make([]byte, 0, w.chunkBytes)
	for frame := range w.frames {
		chunk = append(chunk, frame...)
		if len(chunk) < w.chunkBytes {
			continue
		}
		w.sendChunk(chunk)
		chunk = make([]byte, 0, w.chunkBytes)
	}
	if len(chunk) > 0 {
		w.sendChunk(chunk)
	}
}

func (w *streamWriter) sendChunk(chunk []byte) {
	if w.failure() != nil {
		return
	}
	if err := w.send(chunk); err != nil {
		slog.Error("failed to write pcm to transcriber stream", "error", err, "session_id", w.sessionID, "pcm_bytes", len(chunk))
		w.mu.Lock()
		w.failed = err
		w.mu.Unlock()
		w.receiver.OnError(err)
	}
}

func (w *streamWriter) failure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

func (w *streamWriter) send(chunk []byte) error {
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: chunk,
		},
	}
	err := w.stream.Send(req)
	if err == nil || !isReconnectableStreamError(err) {
		return err
	}
	slog.Warn("transcriber send failed with reconnectable error; reconnecting", "error", err, "session_id", w.sessionID)
	_ = w.stream.CloseSend()
	next, err := w.newStreamFn()
	if err != nil {
		return fmt.Errorf("reconnect stream: %w", err)
	}
	w.stream = next
	w.startReceiver(next, w.receiver)
	slog.Info("transcriber stream reconnected", "session_id", w.sessionID)
	return w.stream.Send(req)
}

func (w *streamWriter) startReceiver(stream speechpb.Speech_StreamingRecognizeClient, receiver transcriber.ResultReceiver) {
	go func() {
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "context canceled") {
					slog.Info("transcriber receive loop stopped", "session_id", w.sessionID, "reason", err.Error())
					return
				}
				if isReconnectableStreamError(err) {
					slog.Warn("transcriber receive loop ended with reconnectable abort", "session_id", w.sessionID, "error", err)
					return
				}
				receiver.OnError(err)
				return
			}
			for i, result := range resp.GetResults() {
				if len(result.GetAlternatives()) == 0 {
					continue
				}
				receiver.OnResult(i, result.GetAlternatives()[0].GetTranscript(), result.GetIsFinal())
			}
		}
	}()
}

func isReconnectableStreamError(err error) bool {
	if errors.Is(err, io.EOF) || strings.Contains(strings.ToLower(err.Error()), "eof") {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
