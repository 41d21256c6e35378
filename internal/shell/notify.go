package shell

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const notifyRetention = 100

// Notice is one user-visible notification.
type Notice struct {
	ID      ulid.ULID
	At      time.Time
	Message string
}

// Notifier is the thread-safe queue behind the notify service. Workers push
// from any goroutine; the shell drains on the render thread.
type Notifier struct {
	mu      sync.Mutex
	notices []Notice
	unseen  []Notice
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Push enqueues a notification. Safe from any goroutine.
func (n *Notifier) Push(message string) {
	if message == "" {
		return
	}

	notice := Notice{
		ID:      ulid.Make(),
		At:      time.Now(),
		Message: message,
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.unseen = append(n.unseen, notice)
	n.notices = append(n.notices, notice)

	if len(n.notices) > notifyRetention {
		n.notices = n.notices[len(n.notices)-notifyRetention:]
	}
}

// Drain returns notices pushed since the last Drain.
func (n *Notifier) Drain() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := n.unseen
	n.unseen = nil

	return out
}

// Recent returns up to limit retained notices, oldest first.
func (n *Notifier) Recent(limit int) []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()

	notices := n.notices
	if limit > 0 && len(notices) > limit {
		notices = notices[len(notices)-limit:]
	}

	out := make([]Notice, len(notices))
	copy(out, notices)

	return out
}
