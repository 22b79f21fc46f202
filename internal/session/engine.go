package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ripplechat/client-go/internal/log"
	"github.com/ripplechat/client-go/internal/media"
	"github.com/ripplechat/client-go/internal/presence"
	"github.com/ripplechat/client-go/internal/protocol"
	"github.com/ripplechat/client-go/internal/transport"
	"github.com/ripplechat/client-go/internal/typing"
)

// Transport is the connection lifecycle dependency.
type Transport interface {
	Start(username, channel string) error
	Stop()
	Send(data []byte) error
	State() transport.State
	States() <-chan transport.StateChange
	Inbound() <-chan []byte
}

// History is the backlog query collaborator.
type History interface {
	History(ctx context.Context, channel string, limit int) ([]protocol.MessageEvent, error)
}

// Engine orchestrates the live session: it wires the connection manager,
// codec, presence tracker and typing coordinator together, and is the
// only component that mutates session-wide state. All inbound work runs
// on the single Run goroutine; Send serializes against it with a mutex.
type Engine struct {
	session   Session
	codec     protocol.Codec
	transport Transport
	history   History
	presence  *presence.Tracker
	typing    *typing.Coordinator
	logger    zerolog.Logger

	historyLimit int

	renderMu sync.Mutex
	renderer Renderer

	stopOnce sync.Once
}

func NewEngine(
	session Session,
	tr Transport,
	history History,
	historyLimit int,
	tracker *presence.Tracker,
	typingCfg typing.Config,
	renderer Renderer,
	logger zerolog.Logger,
) *Engine {
	e := &Engine{
		session:      session,
		transport:    tr,
		history:      history,
		historyLimit: historyLimit,
		presence:     tracker,
		renderer:     renderer,
		logger: logger.With().
			Str(log.FieldComponent, "session").
			Str(log.FieldUsername, session.Username).
			Str(log.FieldChannel, session.Channel).
			Logger(),
	}
	// The engine itself carries typing signals onto the wire.
	e.typing = typing.NewCoordinator(typingCfg, e, e.Connected, logger)
	return e
}

// Start begins connecting.
func (e *Engine) Start() error {
	return e.transport.Start(e.session.Username, e.session.Channel)
}

// Stop ends the session: the typing coordinator flushes its final stop
// signal first so the transport is still up to carry it.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.typing.Stop()
		e.transport.Stop()
	})
}

// Run drives the dispatch loop until the context ends or the connection
// reaches its terminal state.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return

		case change := <-e.transport.States():
			e.logger.Debug().
				Str("from", change.From.String()).
				Str(log.FieldState, change.To.String()).
				Msg("connection state changed")
			switch change.To {
			case transport.StateConnected:
				e.bootstrap(ctx)
			case transport.StateClosed:
				return
			}

		case raw := <-e.transport.Inbound():
			e.handleRaw(ctx, raw)

		case n := <-e.presence.Notifications():
			e.notice(joinLeaveText(n))

		case <-e.typing.Changed():
			e.renderTyping()
		}
	}
}

// Send renders the message optimistically, then encodes and transmits
// it. A NotConnectedError is surfaced to the caller; the input is never
// silently dropped.
func (e *Engine) Send(content, messageType string) error {
	data, err := e.codec.EncodeMessage(e.session.Username, e.session.Channel, content, messageType)
	if err != nil {
		return err
	}

	if state := e.transport.State(); state != transport.StateConnected {
		return &transport.NotConnectedError{State: state}
	}

	e.render(Message{
		ID:          localID(),
		Sender:      e.session.Username,
		Content:     content,
		MessageType: messageType,
		Timestamp:   time.Now(),
		IsOwn:       true,
	})

	e.typing.Flush()

	if err := e.transport.Send(data); err != nil {
		e.logger.Warn().Err(err).Msg("send failed after optimistic render")
		return err
	}
	return nil
}

// SendMedia transmits a captured payload as a data-URI message.
func (e *Engine) SendMedia(payload media.Payload) error {
	messageType := protocol.TypeImage
	if strings.HasPrefix(payload.MIME, "audio/") {
		messageType = protocol.TypeAudio
	}
	return e.Send(payload.DataURI(), messageType)
}

// InputActivity forwards local keystroke activity to the typing
// coordinator.
func (e *Engine) InputActivity() {
	e.typing.InputActivity()
}

// TypingStart implements typing.Emitter.
func (e *Engine) TypingStart() error {
	data, err := e.codec.EncodeTypingStart(e.session.Username, e.session.Channel)
	if err != nil {
		return err
	}
	return e.transport.Send(data)
}

// TypingStop implements typing.Emitter.
func (e *Engine) TypingStop() error {
	data, err := e.codec.EncodeTypingStop(e.session.Username, e.session.Channel)
	if err != nil {
		return err
	}
	return e.transport.Send(data)
}

// Connected reports whether the transport is currently connected; the
// typing coordinator gates local emissions on it.
func (e *Engine) Connected() bool {
	return e.transport.State() == transport.StateConnected
}

// bootstrap runs on every successful (re)connection: history first,
// presence second. A failed history fetch keeps whatever is rendered;
// the next reconnect retries it.
func (e *Engine) bootstrap(ctx context.Context) {
	events, err := e.history.History(ctx, e.session.Channel, e.historyLimit)
	if err != nil {
		e.logger.Warn().Err(err).Msg("history bootstrap failed")
	} else {
		msgs := make([]Message, 0, len(events))
		for _, ev := range events {
			msgs = append(msgs, e.toMessage(ev))
		}
		e.renderMu.Lock()
		e.renderer.Reset(msgs)
		e.renderMu.Unlock()
		e.logger.Info().Int("count", len(msgs)).Msg("history loaded")
	}

	if err := e.presence.Refresh(ctx); err == nil {
		e.logger.Debug().Msg("presence refreshed")
	}
}

func (e *Engine) handleRaw(ctx context.Context, raw []byte) {
	ev, err := e.codec.Decode(raw)
	if err != nil {
		// Both malformed envelopes and unknown kinds are dropped; the
		// connection stays open either way.
		if errors.Is(err, protocol.ErrUnrecognized) {
			e.logger.Debug().Err(err).Msg("ignoring unrecognized envelope")
		} else {
			e.logger.Warn().Err(err).Msg("dropping malformed envelope")
		}
		return
	}

	switch ev := ev.(type) {
	case protocol.MessageEvent:
		// Any broadcast echoing our own sender name is the authoritative
		// echo of a message already rendered optimistically.
		if ev.Sender == e.session.Username {
			e.logger.Debug().Str(log.FieldMessageID, ev.MessageID).Msg("suppressing own echo")
			return
		}
		e.render(e.toMessage(ev))

	case protocol.MessageDeletedEvent:
		e.renderMu.Lock()
		e.renderer.Remove(ev.MessageID)
		e.renderMu.Unlock()

	case protocol.UserJoinedEvent:
		e.presence.HandleJoined(ctx, ev.Username, ev.Timestamp)

	case protocol.UserLeftEvent:
		e.presence.HandleLeft(ctx, ev.Username, ev.Timestamp)

	case protocol.TypingStatusEvent:
		if ev.Username != e.session.Username {
			e.typing.HandleStatus(ev.Username, ev.IsTyping)
		}

	default:
		e.logger.Debug().Str(log.FieldKind, ev.Kind()).Msg("no handler for event")
	}
}

func (e *Engine) toMessage(ev protocol.MessageEvent) Message {
	return Message{
		ID:          ev.MessageID,
		Sender:      ev.Sender,
		Content:     ev.Content,
		MessageType: ev.MessageType,
		Timestamp:   ev.Timestamp,
		IsOwn:       ev.Sender == e.session.Username,
	}
}

func (e *Engine) render(msg Message) {
	e.renderMu.Lock()
	e.renderer.Render(msg)
	e.renderMu.Unlock()
}

func (e *Engine) notice(text string) {
	e.renderMu.Lock()
	e.renderer.Notice(text)
	e.renderMu.Unlock()
}

func (e *Engine) renderTyping() {
	peers := e.typing.TypingPeers()
	e.renderMu.Lock()
	e.renderer.Typing(peers)
	e.renderMu.Unlock()
}

func localID() string {
	return "local-" + uuid.NewString()
}

func joinLeaveText(n presence.Notification) string {
	if n.Joined {
		return fmt.Sprintf("%s joined the channel", n.Username)
	}
	return fmt.Sprintf("%s left the channel", n.Username)
}
