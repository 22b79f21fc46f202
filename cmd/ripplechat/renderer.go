package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ripplechat/client-go/internal/protocol"
	"github.com/ripplechat/client-go/internal/session"
)

// terminalRenderer is the render sink for an interactive terminal. It
// appends lines rather than repainting; Remove prints a deletion notice
// for ids it has actually shown.
type terminalRenderer struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newTerminalRenderer() *terminalRenderer {
	return &terminalRenderer{seen: make(map[string]bool)}
}

func (r *terminalRenderer) Render(msg session.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[msg.ID] = true
	fmt.Println(formatMessage(msg))
}

func (r *terminalRenderer) Remove(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.seen[messageID] {
		return
	}
	delete(r.seen, messageID)
	fmt.Printf("[system] message %s was deleted\n", messageID)
}

func (r *terminalRenderer) Reset(msgs []session.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = make(map[string]bool, len(msgs))
	fmt.Printf("--- history (%d messages) ---\n", len(msgs))
	for _, msg := range msgs {
		r.seen[msg.ID] = true
		fmt.Println(formatMessage(msg))
	}
}

func (r *terminalRenderer) Notice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Printf("[system] %s\n", text)
}

func (r *terminalRenderer) Typing(peers []string) {
	if len(peers) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(peers) == 1 {
		fmt.Printf("[typing] %s is typing…\n", peers[0])
		return
	}
	fmt.Printf("[typing] %s are typing…\n", strings.Join(peers, ", "))
}

func formatMessage(msg session.Message) string {
	who := msg.Sender
	if msg.IsOwn {
		who = "you"
	}

	ts := ""
	if !msg.Timestamp.IsZero() {
		ts = msg.Timestamp.Format(time.Kitchen)
	}

	switch msg.MessageType {
	case protocol.TypeImage:
		return fmt.Sprintf("[%s][%s] sent an image (%d bytes)", who, ts, len(msg.Content))
	case protocol.TypeAudio:
		return fmt.Sprintf("[%s][%s] sent an audio clip (%d bytes)", who, ts, len(msg.Content))
	default:
		return fmt.Sprintf("[%s][%s] %s", who, ts, msg.Content)
	}
}
