package media

import (
	"context"
	"testing"
	"time"
)

// blockingSource captures fixed bytes and returns them when cancelled.
type blockingSource struct {
	data      []byte
	cancelled chan struct{}
}

func (s *blockingSource) Record(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	close(s.cancelled)
	return s.data, nil
}

func TestExplicitStopCancelsCeiling(t *testing.T) {
	source := &blockingSource{data: []byte("audio-bytes"), cancelled: make(chan struct{})}
	r := NewRecorder(source, "audio/webm", time.Minute)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	payload, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	select {
	case <-source.cancelled:
	case <-time.After(time.Second):
		t.Fatal("stop must cancel the capture context")
	}

	if payload.MIME != "audio/webm" || string(payload.Data) != "audio-bytes" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestCeilingBehavesLikeStop(t *testing.T) {
	source := &blockingSource{data: []byte("x"), cancelled: make(chan struct{})}
	r := NewRecorder(source, "audio/webm", 30*time.Millisecond)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// The ceiling fires without user action.
	select {
	case <-source.cancelled:
	case <-time.After(time.Second):
		t.Fatal("ceiling must cancel the capture")
	}

	// Collecting after the ceiling fired yields the same payload an
	// explicit stop would have.
	payload, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if string(payload.Data) != "x" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestStartWhileRunning(t *testing.T) {
	source := &blockingSource{cancelled: make(chan struct{})}
	r := NewRecorder(source, "audio/webm", time.Minute)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := r.Start(context.Background()); err != ErrAlreadyRecording {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	r.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	r := NewRecorder(SourceFunc(func(ctx context.Context) ([]byte, error) {
		return nil, nil
	}), "image/png", time.Minute)

	if _, err := r.Stop(); err != ErrNotRecording {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

func TestDataURIFraming(t *testing.T) {
	p := Payload{MIME: "image/png", Data: []byte{1, 2, 3}}
	if got := p.DataURI(); got != "data:image/png;base64,AQID" {
		t.Fatalf("unexpected data URI: %s", got)
	}
}
