package model

import "time"

// Link is a URL registered by an account for periodic probing.
type Link struct {
	ID         string     `json:"id"`
	OwnerEmail string     `json:"owner_email"`
	URL        string     `json:"url"`
	PingCount  int64      `json:"ping_count"`
	LastPingAt *time.Time `json:"last_ping_at"`
	NextDueAt  time.Time  `json:"next_due_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsDue reports whether the link should be probed at now.
func (l *Link) IsDue(now time.Time) bool {
	return !l.NextDueAt.After(now)
}

// Clone returns a deep copy of the link.
func (l *Link) Clone() *Link {
	c := *l
	if l.LastPingAt != nil {
		t := *l.LastPingAt
		c.LastPingAt = &t
	}
	return &c
}
