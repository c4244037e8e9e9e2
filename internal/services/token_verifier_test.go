package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokeshkhabiya/round0/internal/cache"
	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

const testSecret = "test-interview-secret"

func codeRound(id string) models.Round {
	return models.Round{
		ID:          id,
		InterviewID: "iv-" + id,
		CandidateID: "cand-1",
		Type:        models.RoundCode,
		Status:      string(models.RoundPending),
	}
}

func newTestVerifier(t *testing.T, rounds *memRoundRepo, c cache.Cache) *tokenVerifier {
	t.Helper()
	return NewTokenVerifier(testSecret, rounds, c).(*tokenVerifier)
}

func issue(t *testing.T, v *tokenVerifier, round models.Round, ttl time.Duration) string {
	t.Helper()
	tok, err := v.Issue(context.Background(), &round, ttl)
	require.NoError(t, err)
	return tok
}

func TestTokenVerifier_IssueThenVerify(t *testing.T) {
	round := codeRound("r1")
	v := newTestVerifier(t, newMemRoundRepo(round), nil)

	tok := issue(t, v, round, time.Hour)
	rc, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)

	assert.Equal(t, "r1", rc.RoundID)
	assert.Equal(t, "iv-r1", rc.InterviewID)
	assert.Equal(t, "cand-1", rc.CandidateID)
	assert.Equal(t, models.RoundCode, rc.RoundType)
	assert.WithinDuration(t, time.Now().Add(time.Hour), rc.ExpiresAt, 2*time.Second)
}

func TestTokenVerifier_Expired(t *testing.T) {
	round := codeRound("r1")
	v := newTestVerifier(t, newMemRoundRepo(round), nil)
	tok := issue(t, v, round, time.Minute)

	v.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err := v.Verify(context.Background(), tok)
	assert.True(t, utils.IsCode(err, utils.CodeTokenExpired), "got %v", err)
}

func TestTokenVerifier_InvalidTokens(t *testing.T) {
	round := codeRound("r1")
	v := newTestVerifier(t, newMemRoundRepo(round), nil)
	good := issue(t, v, round, time.Hour)

	other := NewTokenVerifier("another-secret", newMemRoundRepo(round), nil).(*tokenVerifier)
	foreign := issue(t, other, round, time.Hour)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, interviewClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "cand-1"},
		RoundID:          "r1",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	// flip the first signature character, which carries a full six bits
	sig := strings.LastIndex(good, ".") + 1
	flipped := byte('A')
	if good[sig] == 'A' {
		flipped = 'B'
	}
	tampered := good[:sig] + string(flipped) + good[sig+1:]

	unknown := codeRound("ghost")
	cases := map[string]string{
		"empty":         "",
		"garbage":       "not-a-jwt",
		"tampered":      tampered,
		"wrong secret":  foreign,
		"no expiry":     noExp,
		"unknown round": issue(t, v, unknown, time.Hour),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tok)
			assert.True(t, utils.IsCode(err, utils.CodeTokenInvalid), "got %v", err)
			assert.True(t, utils.IsFatalVerification(err))
		})
	}
}

func TestTokenVerifier_CandidateMismatch(t *testing.T) {
	round := codeRound("r1")
	v := newTestVerifier(t, newMemRoundRepo(round), nil)

	impostor := round
	impostor.CandidateID = "cand-2"
	tok := issue(t, v, impostor, time.Hour)

	_, err := v.Verify(context.Background(), tok)
	assert.True(t, utils.IsCode(err, utils.CodeTokenInvalid))
}

func TestTokenVerifier_FinishedRoundIsConsumed(t *testing.T) {
	for _, st := range []models.RoundState{models.RoundCompleted, models.RoundFailed} {
		round := codeRound("r1")
		round.Status = string(st)
		v := newTestVerifier(t, newMemRoundRepo(round), nil)

		_, err := v.Verify(context.Background(), issue(t, v, round, time.Hour))
		assert.True(t, utils.IsCode(err, utils.CodeTokenAlreadyConsumed), "%s: got %v", st, err)
	}
}

func TestTokenVerifier_BackendDownIsNotFatal(t *testing.T) {
	round := codeRound("r1")
	repo := newMemRoundRepo(round)
	v := newTestVerifier(t, repo, nil)
	tok := issue(t, v, round, time.Hour)

	repo.getErr = errors.New("connection refused")
	_, err := v.Verify(context.Background(), tok)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
	assert.False(t, utils.IsFatalVerification(err))
}

func TestTokenVerifier_CachedContextAndConsumedMarker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := cache.NewRedisCache(rdb, "round0:")

	round := codeRound("r1")
	repo := newMemRoundRepo(round)
	v := newTestVerifier(t, repo, c)
	tok := issue(t, v, round, time.Hour)
	ctx := context.Background()

	_, err := v.Verify(ctx, tok)
	require.NoError(t, err)
	assert.True(t, mr.Exists("round0:ctx:"+TokenKey(tok)))
	assert.NotContains(t, mr.Keys()[0], tok, "raw tokens never reach the cache")

	// the cache answers while postgres is unreachable
	repo.getErr = errors.New("connection refused")
	rc, err := v.Verify(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "r1", rc.RoundID)

	v.MarkConsumed(ctx, "r1", time.Now().Add(time.Minute))
	assert.GreaterOrEqual(t, mr.TTL("round0:consumed:r1"), 59*time.Minute, "marker outlives short tokens")

	_, err = v.Verify(ctx, tok)
	assert.True(t, utils.IsCode(err, utils.CodeTokenAlreadyConsumed), "got %v", err)
}

func TestTokenVerifier_IssueValidation(t *testing.T) {
	v := newTestVerifier(t, newMemRoundRepo(), nil)

	_, err := v.Issue(context.Background(), &models.Round{ID: "r1"}, time.Hour)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = v.Issue(context.Background(), &models.Round{ID: "r1", CandidateID: "c"}, 0)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}
