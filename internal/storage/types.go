package storage

import "time"

// Session is the persisted form of a registered session token. The raw
// token is never stored; only its SHA-256 hash.
type Session struct {
	TokenHash  string
	UserID     int64
	UserAgent  string
	IPAddress  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
}

// APIKey is the persisted form of a long-lived programmatic credential.
// KeyHash is the SHA-256 hash of the plaintext; Last4 holds the final four
// characters of the random segment for display purposes.
type APIKey struct {
	ID                 string
	UserID             int64
	Name               string
	KeyPrefix          string
	KeyHash            string
	Last4              string
	Scopes             []string
	Environment        string
	RateLimitPerMinute int
	RateLimitPerHour   int
	ExpiresAt          *time.Time
	RevokedAt          *time.Time
	RevokedReason      string
	TotalRequests      int64
	LastUsedAt         *time.Time
	LastUsedIP         string
	Metadata           map[string]string
	Notes              string
	CreatedAt          time.Time
}

// SessionStats is a live snapshot over the sessions table.
type SessionStats struct {
	UsersOnline        int64
	TotalSessions      int64
	ActiveLast5Min     int64
	ActiveLast30Min    int64
	AvgSessionDuration time.Duration
}

// User is the identity record backing the lookup collaborator.
type User struct {
	ID           int64
	Email        string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}
