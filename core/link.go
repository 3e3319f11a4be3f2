package core

import "time"

// DefaultLinkTTL is how long a link stays active after traffic crossed it.
const DefaultLinkTTL = 2500 * time.Millisecond

// LinkDescriptor is a live visualization edge between a message source and
// its target. It is never persisted and is derived purely from traffic.
type LinkDescriptor struct {
	ID            string     `json:"id"`
	Source        string     `json:"source"`
	Target        string     `json:"target"`
	IsActive      bool       `json:"isActive"`
	LastMessageID string     `json:"lastMessageId,omitempty"`
	ActiveUntil   *time.Time `json:"activeUntil,omitempty"`
}

// LinkID returns the identifier of the ordered (source, target) pair.
func LinkID(source, target string) string { return source + "::" + target }

// Expire flips the link to inactive when its activation window has elapsed
// at now. It reports whether the link changed.
func (l *LinkDescriptor) Expire(now time.Time) bool {
	if !l.IsActive || l.ActiveUntil == nil {
		return false
	}
	if now.Before(*l.ActiveUntil) {
		return false
	}
	l.IsActive = false
	l.ActiveUntil = nil
	return true
}

// Clone returns a copy of the link with its own ActiveUntil pointer.
func (l LinkDescriptor) Clone() LinkDescriptor {
	if l.ActiveUntil != nil {
		t := *l.ActiveUntil
		l.ActiveUntil = &t
	}
	return l
}
