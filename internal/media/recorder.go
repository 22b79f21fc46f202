package media

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

// Source produces one encoded media unit. Record runs until ctx is
// cancelled and returns whatever was captured up to that point; the
// microphone/camera machinery behind it is opaque to the engine.
type Source interface {
	Record(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) Record(ctx context.Context) ([]byte, error) { return f(ctx) }

// Payload is one captured media unit ready for the wire.
type Payload struct {
	MIME string
	Data []byte
}

// DataURI frames the payload the way the backend carries binary content:
// data:<mime>;base64,<payload> inside the envelope's content field.
func (p Payload) DataURI() string {
	return "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

var (
	ErrNotRecording     = errors.New("media: recorder is not running")
	ErrAlreadyRecording = errors.New("media: recorder already running")
)

// Recorder runs a bounded-duration capture. The ceiling firing behaves
// exactly as if the user had stopped the capture: both paths cancel the
// same context and collect the same result.
type Recorder struct {
	source Source
	mime   string
	maxDur time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	ceiling *time.Timer
	result  chan recordResult
}

type recordResult struct {
	data []byte
	err  error
}

func NewRecorder(source Source, mime string, maxDuration time.Duration) *Recorder {
	if maxDuration <= 0 {
		maxDuration = 60 * time.Second
	}
	return &Recorder{
		source: source,
		mime:   mime,
		maxDur: maxDuration,
	}
}

// Start begins capturing. The capture ends on Stop or when the duration
// ceiling fires, whichever comes first.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return ErrAlreadyRecording
	}

	captureCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.result = make(chan recordResult, 1)
	r.ceiling = time.AfterFunc(r.maxDur, cancel)

	go func(result chan recordResult) {
		data, err := r.source.Record(captureCtx)
		result <- recordResult{data: data, err: err}
	}(r.result)

	return nil
}

// Stop ends the capture and returns the payload. Stopping before the
// ceiling cancels the ceiling timer; if the ceiling already fired, Stop
// simply collects the result it produced.
func (r *Recorder) Stop() (Payload, error) {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return Payload{}, ErrNotRecording
	}
	cancel := r.cancel
	ceiling := r.ceiling
	result := r.result
	r.cancel = nil
	r.ceiling = nil
	r.result = nil
	r.mu.Unlock()

	ceiling.Stop()
	cancel()

	res := <-result
	if res.err != nil && !errors.Is(res.err, context.Canceled) {
		return Payload{}, res.err
	}
	return Payload{MIME: r.mime, Data: res.data}, nil
}
