package models

import "time"

// User is the profile snapshot the messaging core needs. Registration and
// authentication live in the identity service; this table mirrors the
// fields required for key lookup and chat-list rendering.
type User struct {
	ID           string
	Username     string
	PhotoURL     string
	StatusText   string
	LastSeen     time.Time
	PublicKeyPEM string
}

// ChatListEntry is one row of a user's chat list: a peer, their profile
// snapshot, the latest message between the pair and the unread count.
// Computed on demand, never authoritative.
type ChatListEntry struct {
	PeerID        string    `json:"peerId"`
	Username      string    `json:"username"`
	PhotoURL      string    `json:"photoUrl,omitempty"`
	StatusText    string    `json:"statusText,omitempty"`
	LastSeen      time.Time `json:"lastSeen"`
	LatestMessage *Message  `json:"-"`
	UnreadCount   int       `json:"unreadCount"`
	IsContact     bool      `json:"isContact"`
}
