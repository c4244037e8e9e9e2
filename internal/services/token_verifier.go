package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lokeshkhabiya/round0/internal/cache"
	"github.com/lokeshkhabiya/round0/internal/metrics"
	"github.com/lokeshkhabiya/round0/internal/models"
	pgrepo "github.com/lokeshkhabiya/round0/internal/repositories/postgres"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

// TokenVerifier resolves an interview token to the round it was issued for.
// Verify is read-only against the backend of record.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*models.RoundContext, error)
	Issue(ctx context.Context, round *models.Round, ttl time.Duration) (string, error)
	// MarkConsumed remembers that a round reached a terminal state so cached
	// verifications stop succeeding before the token expires.
	MarkConsumed(ctx context.Context, roundID string, until time.Time)
}

type interviewClaims struct {
	jwt.RegisteredClaims
	RoundID     string `json:"rid"`
	InterviewID string `json:"iid"`
}

type tokenVerifier struct {
	secret []byte
	rounds pgrepo.RoundRepository
	cache  cache.Cache
	now    func() time.Time
}

func NewTokenVerifier(secret string, rounds pgrepo.RoundRepository, c cache.Cache) TokenVerifier {
	if c == nil {
		c = cache.Nop{}
	}
	return &tokenVerifier{
		secret: []byte(secret),
		rounds: rounds,
		cache:  c,
		now:    time.Now,
	}
}

// TokenKey is the stable, non-reversible key for a token. Raw tokens are never
// used as map or cache keys.
func TokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func contextCacheKey(token string) string { return "ctx:" + TokenKey(token) }
func consumedCacheKey(roundID string) string { return "consumed:" + roundID }

func (v *tokenVerifier) Verify(ctx context.Context, token string) (*models.RoundContext, error) {
	const op = "TokenVerifier.Verify"

	if token == "" {
		metrics.RecordTokenVerification("invalid")
		return nil, utils.E(utils.CodeTokenInvalid, op, "interview token is required", nil)
	}

	var cached models.RoundContext
	if hit, _ := v.cache.GetJSON(ctx, contextCacheKey(token), &cached); hit && v.now().Before(cached.ExpiresAt) {
		var consumed bool
		if c, _ := v.cache.GetJSON(ctx, consumedCacheKey(cached.RoundID), &consumed); c && consumed {
			metrics.RecordTokenVerification("consumed")
			return nil, utils.E(utils.CodeTokenAlreadyConsumed, op, "interview round already finished", nil)
		}
		metrics.RecordTokenVerification("ok")
		return &cached, nil
	}

	claims := &interviewClaims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || tok == nil || !tok.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			metrics.RecordTokenVerification("expired")
			return nil, utils.E(utils.CodeTokenExpired, op, "interview token expired", err)
		}
		metrics.RecordTokenVerification("invalid")
		return nil, utils.E(utils.CodeTokenInvalid, op, "invalid interview token", err)
	}
	if claims.RoundID == "" || claims.Subject == "" {
		metrics.RecordTokenVerification("invalid")
		return nil, utils.E(utils.CodeTokenInvalid, op, "invalid interview token", nil)
	}

	round, err := v.rounds.GetByID(ctx, claims.RoundID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			metrics.RecordTokenVerification("invalid")
			return nil, utils.E(utils.CodeTokenInvalid, op, "unknown interview round", err)
		}
		metrics.RecordTokenVerification("error")
		return nil, utils.E(utils.CodeUnavailable, op, "failed to load interview round", err)
	}

	if round.CandidateID != claims.Subject || (claims.InterviewID != "" && round.InterviewID != claims.InterviewID) {
		metrics.RecordTokenVerification("invalid")
		return nil, utils.E(utils.CodeTokenInvalid, op, "invalid interview token", nil)
	}
	if !round.Type.Valid() {
		metrics.RecordTokenVerification("invalid")
		return nil, utils.E(utils.CodeTokenInvalid, op, "unsupported round type", nil)
	}
	if models.RoundState(round.Status).Terminal() {
		metrics.RecordTokenVerification("consumed")
		return nil, utils.E(utils.CodeTokenAlreadyConsumed, op, "interview round already finished", nil)
	}

	rc := &models.RoundContext{
		InterviewID: round.InterviewID,
		RoundID:     round.ID,
		RoundType:   round.Type,
		CandidateID: round.CandidateID,
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
	}

	_ = v.cache.SetJSON(ctx, contextCacheKey(token), rc, rc.ExpiresAt.Sub(v.now()))
	metrics.RecordTokenVerification("ok")
	return rc, nil
}

func (v *tokenVerifier) Issue(ctx context.Context, round *models.Round, ttl time.Duration) (string, error) {
	const op = "TokenVerifier.Issue"

	if round == nil || round.ID == "" || round.CandidateID == "" {
		return "", utils.E(utils.CodeInvalidArgument, op, "round id and candidate id are required", nil)
	}
	if ttl <= 0 {
		return "", utils.E(utils.CodeInvalidArgument, op, "ttl must be positive", nil)
	}

	now := v.now()
	claims := interviewClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   round.CandidateID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		RoundID:     round.ID,
		InterviewID: round.InterviewID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to sign interview token", err)
	}
	return signed, nil
}

func (v *tokenVerifier) MarkConsumed(ctx context.Context, roundID string, until time.Time) {
	ttl := until.Sub(v.now())
	if ttl < time.Hour {
		ttl = time.Hour
	}
	_ = v.cache.SetJSON(ctx, consumedCacheKey(roundID), true, ttl)
}
