package transcriber

import "context"

type StreamWriter interface {
	Write(pcm []byte) error
	Close() error
}

type ResultReceiver interface {
	OnResult(segmentIndex int, text string, isFinal bool)
	OnError(err error)
}

type StreamRequest struct {
	SessionID       string
	Language        string
	SampleRateHertz int
	Channels        int
}

type Transcriber interface {
	StartStreaming(ctx context.Context, req StreamRequest, receiver ResultReceiver) (StreamWriter, error)
}
