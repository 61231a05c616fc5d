package securitytoken

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsvc/internal/apperr"
	"authsvc/internal/clock"
	"authsvc/internal/models"
	"authsvc/internal/repository/memstore"
	"authsvc/internal/security"
)

type issuedCounter struct {
	mu     sync.Mutex
	issued map[string]int
}

func (c *issuedCounter) RecordSecurityTokenIssued(tokenType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.issued == nil {
		c.issued = map[string]int{}
	}
	c.issued[tokenType]++
}

type fixture struct {
	store   *memstore.Store
	clock   *clock.Manual
	svc     *Service
	user    models.User
	metrics *issuedCounter
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	clk := clock.NewManual(now)
	metrics := &issuedCounter{}
	user := store.Users().Put(models.User{
		Email:  "ada@example.com",
		Role:   models.UserRoleUser,
		Status: models.UserStatusNew,
	})
	svc := NewService(store.SecurityTokens(), store, clk, nil, metrics, zerolog.Nop())
	return fixture{store: store, clock: clk, svc: svc, user: user, metrics: metrics}
}

func pendingCount(tokens []models.SecurityToken, userID int64, tokenType models.TokenType) int {
	n := 0
	for _, token := range tokens {
		if token.UserID == userID && token.Type == tokenType && token.Status == models.TokenStatusPending {
			n++
		}
	}
	return n
}

func TestIssueThenConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.svc.Issue(ctx, f.user.ID, models.TokenTypeEmailVerification)
	require.NoError(t, err)
	assert.Len(t, raw, 64)

	stored := f.store.SecurityTokens().All()
	require.Len(t, stored, 1)
	assert.Equal(t, security.HashToken(raw), stored[0].TokenHash, "only the digest is stored")
	assert.Equal(t, now.Add(48*time.Hour), stored[0].ExpiresAt)

	record, err := f.svc.Consume(ctx, raw, models.TokenTypeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, models.TokenStatusUsed, record.Status)
	require.NotNil(t, record.UsedAt)
	assert.Equal(t, now, *record.UsedAt)
	assert.Equal(t, 1, f.metrics.issued[string(models.TokenTypeEmailVerification)])
}

func TestConsumeTwiceFailsAlreadyUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.svc.Issue(ctx, f.user.ID, models.TokenTypePasswordReset)
	require.NoError(t, err)

	_, err = f.svc.Consume(ctx, raw, models.TokenTypePasswordReset)
	require.NoError(t, err)

	_, err = f.svc.Consume(ctx, raw, models.TokenTypePasswordReset)
	assert.True(t, apperr.Is(err, apperr.TokenAlreadyUsed))
}

func TestReissueDeprecatesPreviousToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, f.user.ID, models.TokenTypeEmailVerification)
	require.NoError(t, err)
	second, err := f.svc.Issue(ctx, f.user.ID, models.TokenTypeEmailVerification)
	require.NoError(t, err)

	_, err = f.svc.Consume(ctx, first, models.TokenTypeEmailVerification)
	assert.True(t, apperr.Is(err, apperr.TokenDeprecated))

	_, err = f.svc.Consume(ctx, second, models.TokenTypeEmailVerification)
	assert.NoError(t, err)
}

func TestIssueKeepsOtherTypesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, f.user.ID, models.TokenTypeEmailVerification)
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, f.user.ID, models.TokenTypePasswordReset)
	require.NoError(t, err)

	tokens := f.store.SecurityTokens().All()
	assert.Equal(t, 1, pendingCount(tokens, f.user.ID, models.TokenTypeEmailVerification))
	assert.Equal(t, 1, pendingCount(tokens, f.user.ID, models.TokenTypePasswordReset))
}

func TestConsumeExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.svc.Issue(ctx, f.user.ID, models.TokenTypePasswordReset)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Check(ctx, raw, models.TokenTypePasswordReset)
	assert.NoError(t, err, "valid exactly at expiry")

	f.clock.Advance(time.Second)
	_, err = f.svc.Consume(ctx, raw, models.TokenTypePasswordReset)
	assert.True(t, apperr.Is(err, apperr.TokenExpired))

	tokens := f.store.SecurityTokens().All()
	assert.Equal(t, models.TokenStatusPending, tokens[0].Status, "expiry is never written back")
}

func TestConsumeWrongType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.svc.Issue(ctx, f.user.ID, models.TokenTypeEmailVerification)
	require.NoError(t, err)

	_, err = f.svc.Consume(ctx, raw, models.TokenTypePasswordReset)
	assert.True(t, apperr.Is(err, apperr.TokenTypeMismatch))

	_, err = f.svc.Consume(ctx, raw, models.TokenTypeEmailVerification)
	assert.NoError(t, err, "a failed check leaves the token usable")
}

func TestConsumeUnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Consume(context.Background(), "deadbeef", models.TokenTypeEmailVerification)
	assert.True(t, apperr.Is(err, apperr.TokenNotFound))

	_, err = f.svc.Consume(context.Background(), "", models.TokenTypeEmailVerification)
	assert.True(t, apperr.Is(err, apperr.TokenNotFound))
}

func TestIssueUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Issue(context.Background(), 999, models.TokenTypeEmailVerification)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.Empty(t, f.store.SecurityTokens().All())
}

func TestIssueRollsBackWhenInsertFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, f.user.ID, models.TokenTypeEmailVerification)
	require.NoError(t, err)

	tokens := f.store.SecurityTokens()
	failing := &failingCreate{Repository: tokens, err: errors.New("disk full")}
	svc := NewService(failing, f.store, f.clock, nil, nil, zerolog.Nop())

	_, err = svc.Issue(ctx, f.user.ID, models.TokenTypeEmailVerification)
	assert.True(t, apperr.Is(err, apperr.InternalError))

	_, err = f.svc.Check(ctx, first, models.TokenTypeEmailVerification)
	assert.NoError(t, err, "deprecation is rolled back with the failed insert")
}

type failingCreate struct {
	Repository
	err error
}

func (f *failingCreate) Create(context.Context, *models.SecurityToken) error {
	return f.err
}

func TestConcurrentIssueLeavesOnePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Issue(ctx, f.user.ID, models.TokenTypePasswordReset)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	tokens := f.store.SecurityTokens().All()
	assert.Len(t, tokens, 16)
	assert.Equal(t, 1, pendingCount(tokens, f.user.ID, models.TokenTypePasswordReset))
}

func TestConcurrentConsumeSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.svc.Issue(ctx, f.user.ID, models.TokenTypePasswordReset)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		usedErrs  int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Consume(ctx, raw, models.TokenTypePasswordReset)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if apperr.Is(err, apperr.TokenAlreadyUsed) {
				usedErrs++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 7, usedErrs)
}
