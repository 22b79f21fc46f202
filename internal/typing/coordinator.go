package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ripplechat/client-go/internal/log"
)

// Emitter sends typing protocol signals for the local session.
type Emitter interface {
	TypingStart() error
	TypingStop() error
}

// Config holds typing coordination timing.
type Config struct {
	// Inactivity is how long after the last keystroke the local session
	// lapses into a typing_stop.
	Inactivity time.Duration
	// RemoteTTL bounds how long a remote typing record survives without a
	// refreshing signal. Guards against a lost typing_stop leaving a
	// stale indicator forever.
	RemoteTTL time.Duration
}

// Coordinator debounces local keystroke activity into rate-limited
// typing_start/typing_stop signals and tracks remote typing state with
// expiry.
type Coordinator struct {
	cfg       Config
	emitter   Emitter
	connected func() bool
	logger    zerolog.Logger

	mu          sync.Mutex
	localActive bool
	inactivity  *time.Timer
	peers       map[string]*time.Timer
	stopped     bool

	changed chan struct{}
}

func NewCoordinator(cfg Config, emitter Emitter, connected func() bool, logger zerolog.Logger) *Coordinator {
	if cfg.Inactivity <= 0 {
		cfg.Inactivity = 2 * time.Second
	}
	if cfg.RemoteTTL <= 0 {
		cfg.RemoteTTL = 5 * time.Second
	}

	return &Coordinator{
		cfg:       cfg,
		emitter:   emitter,
		connected: connected,
		logger:    logger.With().Str(log.FieldComponent, "typing").Logger(),
		peers:     make(map[string]*time.Timer),
		changed:   make(chan struct{}, 1),
	}
}

// InputActivity records one unit of local keystroke activity. The first
// call of a burst emits typing_start; every call re-arms the single
// inactivity timer. Emits nothing while disconnected.
func (c *Coordinator) InputActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || !c.connected() {
		return
	}

	if !c.localActive {
		c.localActive = true
		if err := c.emitter.TypingStart(); err != nil {
			c.logger.Debug().Err(err).Msg("typing_start not sent")
			c.localActive = false
			return
		}
	}

	if c.inactivity != nil {
		c.inactivity.Stop()
	}
	c.inactivity = time.AfterFunc(c.cfg.Inactivity, c.lapse)
}

// Flush emits typing_stop immediately if the local session is mid-burst.
// Called on send and on shutdown.
func (c *Coordinator) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocalLocked()
}

func (c *Coordinator) lapse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocalLocked()
}

func (c *Coordinator) stopLocalLocked() {
	if !c.localActive {
		return
	}
	c.localActive = false
	if c.inactivity != nil {
		c.inactivity.Stop()
		c.inactivity = nil
	}
	if err := c.emitter.TypingStop(); err != nil {
		c.logger.Debug().Err(err).Msg("typing_stop not sent")
	}
}

// HandleStatus records a remote peer's typing state. A true status arms
// (or re-arms) the peer's TTL timer; a false status clears it.
func (c *Coordinator) HandleStatus(peer string, isTyping bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	if timer, ok := c.peers[peer]; ok {
		timer.Stop()
		delete(c.peers, peer)
	}

	if isTyping {
		var timer *time.Timer
		timer = time.AfterFunc(c.cfg.RemoteTTL, func() {
			c.expire(peer, timer)
		})
		c.peers[peer] = timer
	}

	c.signalLocked()
}

// expire clears a peer's record when its TTL timer fires. A timer that
// already fired but lost the lock race to a re-arming HandleStatus must
// not clear the record the fresh timer now owns, hence the identity
// check.
func (c *Coordinator) expire(peer string, fired *time.Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.peers[peer]; !ok || current != fired {
		return
	}
	delete(c.peers, peer)
	c.logger.Debug().Str(log.FieldPeer, peer).Msg("remote typing expired")
	c.signalLocked()
}

// TypingPeers returns the sorted list of peers currently typing.
func (c *Coordinator) TypingPeers() []string {
	c.mu.Lock()
	peers := make([]string, 0, len(c.peers))
	for peer := range c.peers {
		peers = append(peers, peer)
	}
	c.mu.Unlock()

	sort.Strings(peers)
	return peers
}

// Changed signals that the set of typing peers changed; consumers redraw
// the indicator on receipt.
func (c *Coordinator) Changed() <-chan struct{} { return c.changed }

// Stop cancels all timers. A mid-burst local session emits its final
// typing_stop first.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopLocalLocked()
	c.stopped = true

	for peer, timer := range c.peers {
		timer.Stop()
		delete(c.peers, peer)
	}
}

func (c *Coordinator) signalLocked() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}
