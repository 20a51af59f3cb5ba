package revocation

import "time"

// DeviceMeta captures where a refresh token was issued. Informational
// only; it never participates in verification.
type DeviceMeta struct {
	UserAgent     string
	SourceAddress string
}

// Record is the durable state of one refresh token. Records are created
// at issuance, stamped with RevokedAt on rotation/logout/revocation,
// and removed only by expiry.
type Record struct {
	TokenID   string
	SubjectID string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt time.Time // zero while the token is live
	Device    DeviceMeta
}

// Revoked reports whether the record has been stamped.
func (r Record) Revoked() bool { return !r.RevokedAt.IsZero() }

// Expired reports whether the record's natural lifetime has passed.
func (r Record) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// Usable reports whether the token may still mint a new access token:
// unrevoked, unexpired, and present (the caller proved presence by
// holding the record).
func (r Record) Usable(now time.Time) bool {
	return !r.Revoked() && !r.Expired(now)
}
