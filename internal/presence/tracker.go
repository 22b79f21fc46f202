package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ripplechat/client-go/internal/api"
	"github.com/ripplechat/client-go/internal/log"
)

// Fetcher is the external presence query collaborator.
type Fetcher interface {
	OnlineUsers(ctx context.Context, channel string) ([]api.UserStatus, error)
}

// Record is one tracked participant.
type Record struct {
	Username string
	Status   string
	LastSeen time.Time
}

// Notification is a join/leave event for display. Self-originated events
// are suppressed before they reach this channel.
type Notification struct {
	Username string
	Joined   bool
	At       time.Time
}

// Tracker answers "who is online" for the active channel. The tracked set
// is always replaced wholesale from the authoritative query; the protocol
// carries no incremental deltas.
type Tracker struct {
	self    string
	channel string
	fetcher Fetcher
	logger  zerolog.Logger

	mu  sync.RWMutex
	set map[string]Record

	notifs chan Notification
}

func NewTracker(self, channel string, fetcher Fetcher, logger zerolog.Logger) *Tracker {
	return &Tracker{
		self:    self,
		channel: channel,
		fetcher: fetcher,
		logger:  logger.With().Str(log.FieldComponent, "presence").Logger(),
		set:     make(map[string]Record),
		notifs:  make(chan Notification, 16),
	}
}

// Refresh pulls the complete current online set and replaces the tracked
// set atomically. A fetch failure keeps the previous snapshot; stale
// beats empty.
func (t *Tracker) Refresh(ctx context.Context) error {
	users, err := t.fetcher.OnlineUsers(ctx, t.channel)
	if err != nil {
		t.logger.Warn().Err(err).Str(log.FieldChannel, t.channel).Msg("presence refresh failed")
		return err
	}

	next := make(map[string]Record, len(users))
	for _, u := range users {
		next[u.Username] = Record{
			Username: u.Username,
			Status:   u.Status,
			LastSeen: u.LastSeen,
		}
	}

	t.mu.Lock()
	t.set = next
	t.mu.Unlock()

	t.logger.Debug().Int("count", len(next)).Msg("presence replaced")
	return nil
}

// Snapshot returns a sorted copy of the tracked set.
func (t *Tracker) Snapshot() []Record {
	t.mu.RLock()
	records := make([]Record, 0, len(t.set))
	for _, r := range t.set {
		records = append(records, r)
	}
	t.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Username < records[j].Username
	})
	return records
}

// Online reports whether a user is in the tracked set.
func (t *Tracker) Online(username string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.set[username]
	return ok
}

// HandleJoined processes a user_joined notification. The acting session's
// own events are suppressed; for anyone else the authoritative set is
// re-pulled and a display notification emitted.
func (t *Tracker) HandleJoined(ctx context.Context, username string, at time.Time) {
	if username == t.self {
		return
	}
	t.Refresh(ctx)
	t.notify(Notification{Username: username, Joined: true, At: at})
}

// HandleLeft processes a user_left notification.
func (t *Tracker) HandleLeft(ctx context.Context, username string, at time.Time) {
	if username == t.self {
		return
	}
	t.Refresh(ctx)
	t.notify(Notification{Username: username, Joined: false, At: at})
}

// Notifications emits join/leave events for display.
func (t *Tracker) Notifications() <-chan Notification { return t.notifs }

func (t *Tracker) notify(n Notification) {
	select {
	case t.notifs <- n:
	default:
		t.logger.Debug().Str(log.FieldPeer, n.Username).Msg("notification dropped, subscriber not draining")
	}
}
