package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ripplechat/client-go/internal/api"
	"github.com/ripplechat/client-go/internal/media"
	"github.com/ripplechat/client-go/internal/presence"
	"github.com/ripplechat/client-go/internal/protocol"
	"github.com/ripplechat/client-go/internal/transport"
	"github.com/ripplechat/client-go/internal/typing"
)

type fakeTransport struct {
	mu      sync.Mutex
	state   transport.State
	sent    [][]byte
	states  chan transport.StateChange
	inbound chan []byte
	stopped bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:   transport.StateDisconnected,
		states:  make(chan transport.StateChange, 16),
		inbound: make(chan []byte, 16),
	}
}

func (f *fakeTransport) Start(username, channel string) error {
	f.setState(transport.StateConnecting)
	return nil
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.StateConnected {
		return &transport.NotConnectedError{State: f.state}
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) States() <-chan transport.StateChange { return f.states }
func (f *fakeTransport) Inbound() <-chan []byte               { return f.inbound }

func (f *fakeTransport) setState(to transport.State) {
	f.mu.Lock()
	from := f.state
	f.state = to
	f.mu.Unlock()
	f.states <- transport.StateChange{From: from, To: to}
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type recordingRenderer struct {
	mu       sync.Mutex
	rendered []Message
	removed  []string
	resets   [][]Message
	notices  []string
	typing   [][]string
}

func (r *recordingRenderer) Render(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = append(r.rendered, msg)
}

func (r *recordingRenderer) Remove(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, messageID)
}

func (r *recordingRenderer) Reset(msgs []Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, msgs)
}

func (r *recordingRenderer) Notice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, text)
}

func (r *recordingRenderer) Typing(peers []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, peers)
}

func (r *recordingRenderer) renderedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rendered)
}

type fakeBackend struct {
	mu      sync.Mutex
	history []protocol.MessageEvent
	users   []api.UserStatus
	order   []string
}

func (b *fakeBackend) History(ctx context.Context, channel string, limit int) ([]protocol.MessageEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = append(b.order, "history")
	return b.history, nil
}

func (b *fakeBackend) OnlineUsers(ctx context.Context, channel string) ([]api.UserStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = append(b.order, "presence")
	return b.users, nil
}

func (b *fakeBackend) callOrder() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

func newTestEngine(t *testing.T) (*Engine, *fakeTransport, *recordingRenderer, *fakeBackend) {
	t.Helper()

	ft := newFakeTransport()
	fr := &recordingRenderer{}
	fb := &fakeBackend{}
	tracker := presence.NewTracker("alice", "general", fb, zerolog.Nop())

	eng := NewEngine(
		Session{Username: "alice", Channel: "general"},
		ft, fb, 50, tracker,
		typing.Config{Inactivity: time.Minute, RemoteTTL: time.Minute},
		fr, zerolog.Nop(),
	)
	return eng, ft, fr, fb
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSendRendersOptimistically(t *testing.T) {
	eng, ft, fr, _ := newTestEngine(t)
	ft.state = transport.StateConnected

	if err := eng.Send("hi", protocol.TypeText); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if len(fr.rendered) != 1 {
		t.Fatalf("rendered %d messages, want 1", len(fr.rendered))
	}
	msg := fr.rendered[0]
	if !msg.IsOwn || msg.Sender != "alice" || msg.Content != "hi" {
		t.Fatalf("unexpected optimistic message: %+v", msg)
	}
	if !strings.HasPrefix(msg.ID, "local-") {
		t.Fatalf("expected placeholder id, got %q", msg.ID)
	}
	if ft.sentCount() != 1 {
		t.Fatalf("transmitted %d envelopes, want 1", ft.sentCount())
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	eng, _, fr, _ := newTestEngine(t)

	err := eng.Send("hi", protocol.TypeText)
	var nce *transport.NotConnectedError
	if !errors.As(err, &nce) {
		t.Fatalf("expected NotConnectedError, got %v", err)
	}
	if len(fr.rendered) != 0 {
		t.Fatal("nothing must be rendered when the send is refused")
	}
}

func TestEchoSuppression(t *testing.T) {
	eng, ft, fr, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	ft.setState(transport.StateConnecting)
	ft.setState(transport.StateConnected)
	waitFor(t, func() bool { return eng.Connected() })

	if err := eng.Send("hi", protocol.TypeText); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	// The server echoes alice's own message back.
	ft.inbound <- []byte(`{"type":"message","sender":"alice","content":"hi","channel":"general","message_id":"m1","timestamp":"2026-08-30T10:00:00"}`)
	// A peer's message must render.
	ft.inbound <- []byte(`{"type":"message","sender":"bob","content":"hello","channel":"general","message_id":"m2","timestamp":"2026-08-30T10:00:01"}`)

	waitFor(t, func() bool { return fr.renderedCount() == 2 })

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if !fr.rendered[0].IsOwn || fr.rendered[0].Content != "hi" {
		t.Fatalf("first render must be the optimistic own message: %+v", fr.rendered[0])
	}
	if fr.rendered[1].IsOwn || fr.rendered[1].Sender != "bob" {
		t.Fatalf("second render must be bob's broadcast: %+v", fr.rendered[1])
	}
}

func TestBootstrapOrderOnConnect(t *testing.T) {
	eng, ft, fr, fb := newTestEngine(t)
	fb.history = []protocol.MessageEvent{
		{Sender: "alice", Content: "old", MessageID: "m0", MessageType: protocol.TypeText},
		{Sender: "bob", Content: "older", MessageID: "m-1", MessageType: protocol.TypeText},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	ft.setState(transport.StateConnecting)
	ft.setState(transport.StateConnected)

	waitFor(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.resets) == 1
	})

	order := fb.callOrder()
	if len(order) != 2 || order[0] != "history" || order[1] != "presence" {
		t.Fatalf("bootstrap order = %v, want [history presence]", order)
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	msgs := fr.resets[0]
	if len(msgs) != 2 {
		t.Fatalf("reset with %d messages, want 2", len(msgs))
	}
	if !msgs[0].IsOwn || msgs[1].IsOwn {
		t.Fatalf("IsOwn not derived from sender: %+v", msgs)
	}
}

func TestDeletionIdempotent(t *testing.T) {
	eng, ft, fr, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	ft.setState(transport.StateConnecting)
	ft.setState(transport.StateConnected)

	// Deleting an id that was never rendered is a no-op, twice over.
	ft.inbound <- []byte(`{"type":"message_deleted","message_id":"ghost"}`)
	ft.inbound <- []byte(`{"type":"message_deleted","message_id":"ghost"}`)

	waitFor(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.removed) == 2
	})

	// The session is still live.
	ft.inbound <- []byte(`{"type":"message","sender":"bob","content":"still here","message_id":"m3"}`)
	waitFor(t, func() bool { return fr.renderedCount() == 1 })
}

func TestMalformedEnvelopeDropped(t *testing.T) {
	eng, ft, fr, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	ft.setState(transport.StateConnecting)
	ft.setState(transport.StateConnected)

	ft.inbound <- []byte(`{"type":`)
	ft.inbound <- []byte(`{"type":"message","sender":"bob","content":"no id"}`)
	ft.inbound <- []byte(`{"type":"reaction_added"}`)
	ft.inbound <- []byte(`{"type":"message","sender":"bob","content":"valid","message_id":"m4"}`)

	waitFor(t, func() bool { return fr.renderedCount() == 1 })

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.rendered[0].Content != "valid" {
		t.Fatalf("only the valid envelope must render: %+v", fr.rendered)
	}
}

func TestJoinLeaveNotices(t *testing.T) {
	eng, ft, fr, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	ft.setState(transport.StateConnecting)
	ft.setState(transport.StateConnected)

	ft.inbound <- []byte(`{"type":"user_joined","username":"carol","channel":"general","timestamp":"2026-08-30T10:00:00"}`)
	ft.inbound <- []byte(`{"type":"user_left","username":"carol","channel":"general","timestamp":"2026-08-30T10:05:00"}`)
	// Self events never surface.
	ft.inbound <- []byte(`{"type":"user_joined","username":"alice","channel":"general","timestamp":"2026-08-30T10:06:00"}`)

	waitFor(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.notices) == 2
	})

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.notices[0] != "carol joined the channel" || fr.notices[1] != "carol left the channel" {
		t.Fatalf("unexpected notices: %v", fr.notices)
	}
}

func TestRemoteTypingRouted(t *testing.T) {
	eng, ft, fr, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	ft.setState(transport.StateConnecting)
	ft.setState(transport.StateConnected)

	ft.inbound <- []byte(`{"type":"typing_status","username":"bob","channel":"general","is_typing":true}`)

	waitFor(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.typing) > 0 && len(fr.typing[len(fr.typing)-1]) == 1
	})

	ft.inbound <- []byte(`{"type":"typing_status","username":"bob","channel":"general","is_typing":false}`)

	waitFor(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.typing) > 0 && len(fr.typing[len(fr.typing)-1]) == 0
	})
}

func TestRunExitsOnClosed(t *testing.T) {
	eng, ft, _, _ := newTestEngine(t)

	done := make(chan struct{})
	go func() {
		eng.Run(context.Background())
		close(done)
	}()

	ft.setState(transport.StateConnecting)
	ft.setState(transport.StateClosed)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run must return when the connection reaches Closed")
	}
}

func TestSendMediaDerivesMessageType(t *testing.T) {
	eng, ft, fr, _ := newTestEngine(t)
	ft.state = transport.StateConnected

	err := eng.SendMedia(media.Payload{MIME: "audio/webm", Data: []byte{1}})
	if err != nil {
		t.Fatalf("SendMedia returned error: %v", err)
	}

	if len(fr.rendered) != 1 || fr.rendered[0].MessageType != protocol.TypeAudio {
		t.Fatalf("unexpected render: %+v", fr.rendered)
	}
	if !strings.HasPrefix(fr.rendered[0].Content, "data:audio/webm;base64,") {
		t.Fatalf("content not data-URI framed: %q", fr.rendered[0].Content)
	}
}
