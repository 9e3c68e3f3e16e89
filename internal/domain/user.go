package domain

import "time"

// User is a wallet identity that has completed sign-in at least once.
type User struct {
	Address    string // lowercase 0x wallet address
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// Session is an authenticated sign-in-with-wallet session. The JWT handed
// to the client carries the session ID; the stored record bounds its
// lifetime and allows revocation.
type Session struct {
	ID        string
	Address   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
