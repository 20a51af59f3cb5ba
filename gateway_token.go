package gateward

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kyrelabs/gateward/revocation"
	"github.com/kyrelabs/gateward/token"
)

// IssuePair mints an access/refresh pair and records the refresh token.
// Fails closed: if the record cannot be written, no pair is returned.
func (g *Gateway) IssuePair(ctx context.Context, subjectID, role string) (TokenPair, error) {
	if subjectID == "" {
		return TokenPair{}, ErrInvalidCredentials
	}

	access, accessExp, err := g.tokens.SignAccess(subjectID, role)
	if err != nil {
		return TokenPair{}, err
	}

	tokenID := uuid.NewString()
	refresh, refreshExp, err := g.tokens.SignRefresh(subjectID, role, tokenID)
	if err != nil {
		return TokenPair{}, err
	}

	rec := g.newRecord(ctx, tokenID, subjectID, role, refreshExp)
	storeCtx, cancel := g.storeCtx(ctx)
	defer cancel()
	if err := g.revocations.Put(storeCtx, rec); err != nil {
		if g.metrics != nil {
			g.metrics.StoreFailures.Inc()
		}
		return TokenPair{}, ErrStoreUnavailable
	}

	if g.metrics != nil {
		g.metrics.PairsIssued.Inc()
	}
	g.emit(ctx, AuditEvent{
		EventType: eventPairIssued,
		SubjectID: subjectID,
		TokenID:   tokenID,
		Success:   true,
	})
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess checks signature, issuer, audience, expiry, and kind.
// Pure CPU work: no store round trip, so revocation of a refresh token
// does not retire access tokens already in flight. Their short TTL is
// the containment.
func (g *Gateway) VerifyAccess(ctx context.Context, accessToken string) (Identity, error) {
	claims, err := g.tokens.Parse(accessToken, token.KindAccess)
	if err != nil {
		if g.metrics != nil {
			g.metrics.AccessRejected.Inc()
		}
		mapped := mapTokenError(err)
		g.emit(ctx, AuditEvent{
			EventType: eventAccessRejected,
			Error:     mapped.Error(),
		})
		return Identity{}, mapped
	}

	if g.metrics != nil {
		g.metrics.AccessVerified.Inc()
	}
	return Identity{
		SubjectID: claims.SubjectID(),
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates: it verifies the refresh token, atomically revokes
// its record while creating a successor, and mints a new pair. Of N
// concurrent calls with the same token exactly one wins; the rest see
// [ErrTokenRevoked]. A rotated token presented again is treated as a
// theft signal and audited as such.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := g.tokens.Parse(refreshToken, token.KindRefresh)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RefreshFailure.Inc()
		}
		return TokenPair{}, mapTokenError(err)
	}

	subjectID := claims.SubjectID()
	oldID := claims.TokenID()

	newID := uuid.NewString()
	newRefresh, refreshExp, err := g.tokens.SignRefresh(subjectID, claims.Role, newID)
	if err != nil {
		return TokenPair{}, err
	}
	access, accessExp, err := g.tokens.SignAccess(subjectID, claims.Role)
	if err != nil {
		return TokenPair{}, err
	}

	next := g.newRecord(ctx, newID, subjectID, claims.Role, refreshExp)
	storeCtx, cancel := g.storeCtx(ctx)
	defer cancel()
	if err := g.revocations.Rotate(storeCtx, oldID, subjectID, next); err != nil {
		return TokenPair{}, g.mapRotateError(ctx, subjectID, oldID, err)
	}

	if g.metrics != nil {
		g.metrics.RefreshSuccess.Inc()
		g.metrics.PairsIssued.Inc()
	}
	g.emit(ctx, AuditEvent{
		EventType: eventRefresh,
		SubjectID: subjectID,
		TokenID:   newID,
		Success:   true,
		Metadata:  map[string]string{"rotated_from": oldID},
	})
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     newRefresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Revoke stamps the record for tokenID. Idempotent: revoking an already
// revoked or unknown token succeeds.
func (g *Gateway) Revoke(ctx context.Context, tokenID string) error {
	storeCtx, cancel := g.storeCtx(ctx)
	defer cancel()

	stamped, err := g.revocations.MarkRevoked(storeCtx, tokenID)
	if err != nil {
		if g.metrics != nil {
			g.metrics.StoreFailures.Inc()
		}
		return ErrStoreUnavailable
	}

	if stamped {
		if g.metrics != nil {
			g.metrics.Revocations.Inc()
		}
		g.emit(ctx, AuditEvent{
			EventType: eventRevoke,
			TokenID:   tokenID,
			Success:   true,
		})
	}
	return nil
}

// RevokeAllForSubject stamps every live record for the subject: the
// "log out everywhere" operation. Returns how many were stamped.
func (g *Gateway) RevokeAllForSubject(ctx context.Context, subjectID string) (int, error) {
	storeCtx, cancel := g.storeCtx(ctx)
	defer cancel()

	stamped, err := g.revocations.MarkAllRevokedForSubject(storeCtx, subjectID)
	if err != nil {
		if g.metrics != nil {
			g.metrics.StoreFailures.Inc()
		}
		return 0, ErrStoreUnavailable
	}

	if g.metrics != nil && stamped > 0 {
		g.metrics.Revocations.Add(float64(stamped))
	}
	g.emit(ctx, AuditEvent{
		EventType: eventRevokeAll,
		SubjectID: subjectID,
		Success:   true,
	})
	return stamped, nil
}

// ListActiveSessions returns the subject's live refresh-token records,
// newest first.
func (g *Gateway) ListActiveSessions(ctx context.Context, subjectID string) ([]SessionInfo, error) {
	storeCtx, cancel := g.storeCtx(ctx)
	defer cancel()

	records, err := g.revocations.ListActive(storeCtx, subjectID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	sessions := make([]SessionInfo, 0, len(records))
	for _, rec := range records {
		sessions = append(sessions, SessionInfo{
			TokenID:       rec.TokenID,
			IssuedAt:      rec.IssuedAt,
			ExpiresAt:     rec.ExpiresAt,
			UserAgent:     rec.Device.UserAgent,
			SourceAddress: rec.Device.SourceAddress,
		})
	}
	return sessions, nil
}

func (g *Gateway) newRecord(ctx context.Context, tokenID, subjectID, role string, expiresAt time.Time) revocation.Record {
	return revocation.Record{
		TokenID:   tokenID,
		SubjectID: subjectID,
		Role:      role,
		IssuedAt:  time.Now(),
		ExpiresAt: expiresAt,
		Device: revocation.DeviceMeta{
			UserAgent:     userAgentFromContext(ctx),
			SourceAddress: clientIPFromContext(ctx),
		},
	}
}

func (g *Gateway) mapRotateError(ctx context.Context, subjectID, tokenID string, err error) error {
	if g.metrics != nil {
		g.metrics.RefreshFailure.Inc()
	}

	switch {
	case errors.Is(err, revocation.ErrRevoked):
		// The signature was valid but the record was already spent:
		// either a racing legitimate client or a stolen token.
		if g.metrics != nil {
			g.metrics.RefreshReuse.Inc()
		}
		g.emit(ctx, AuditEvent{
			EventType: eventRefreshReuse,
			SubjectID: subjectID,
			TokenID:   tokenID,
			Error:     ErrTokenRevoked.Error(),
		})
		return ErrTokenRevoked
	case errors.Is(err, revocation.ErrNotFound), errors.Is(err, revocation.ErrExpired):
		// Absent and expired records read the same as revoked ones, so
		// a probing client learns nothing from the error shape.
		return ErrTokenRevoked
	default:
		if g.metrics != nil {
			g.metrics.StoreFailures.Inc()
		}
		return ErrStoreUnavailable
	}
}

// mapTokenError folds parser errors into the public taxonomy.
func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}
