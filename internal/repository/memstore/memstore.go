// Package memstore is an in-memory implementation of the repositories used
// by tests and local tooling. Transactions are serialized and roll back by
// restoring a snapshot.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"authsvc/internal/models"
	"authsvc/internal/repository"
)

type txKey struct{}

type state struct {
	users         map[int64]models.User
	tokens        map[int64]models.SecurityToken
	refreshTokens map[int64]models.RefreshToken
	nextUserID    int64
	nextTokenID   int64
	nextRefreshID int64
}

func (s state) clone() state {
	out := s
	out.users = make(map[int64]models.User, len(s.users))
	for k, v := range s.users {
		out.users[k] = v
	}
	out.tokens = make(map[int64]models.SecurityToken, len(s.tokens))
	for k, v := range s.tokens {
		out.tokens[k] = v
	}
	out.refreshTokens = make(map[int64]models.RefreshToken, len(s.refreshTokens))
	for k, v := range s.refreshTokens {
		out.refreshTokens[k] = v
	}
	return out
}

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state
	now  func() time.Time

	// FailNext, when set, is returned by the next mutating call.
	FailNext error
}

func New() *Store {
	return &Store{
		st: state{
			users:         map[int64]models.User{},
			tokens:        map[int64]models.SecurityToken{},
			refreshTokens: map[int64]models.RefreshToken{},
		},
		now: time.Now,
	}
}

// WithinTx serializes fn against other transactions. Nested calls join the
// outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) fail() error {
	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return err
	}
	return nil
}

// Users

func (s *Store) Users() *Users { return &Users{s} }

type Users struct{ s *Store }

func (u *Users) Create(_ context.Context, user *models.User) error {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	for _, existing := range s.st.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return repository.ErrEmailTaken
		}
	}
	s.st.nextUserID++
	user.ID = s.st.nextUserID
	if user.TokenVersion == 0 {
		user.TokenVersion = 1
	}
	user.CreatedAt = s.now()
	user.UpdatedAt = user.CreatedAt
	s.st.users[user.ID] = *user
	return nil
}

func (u *Users) FindByEmail(_ context.Context, email string) (models.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.st.users {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (u *Users) GetByID(_ context.Context, id int64) (models.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.st.users[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return user, nil
}

func (u *Users) List(_ context.Context, limit, offset int) ([]models.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]models.User, 0, len(s.st.users))
	for _, user := range s.st.users {
		all = append(all, user)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (u *Users) update(id int64, fn func(*models.User)) error {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	user, ok := s.st.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(&user)
	user.UpdatedAt = s.now()
	s.st.users[id] = user
	return nil
}

func (u *Users) UpdateStatus(_ context.Context, id int64, status models.UserStatus) error {
	return u.update(id, func(user *models.User) { user.Status = status })
}

func (u *Users) UpdateRole(_ context.Context, id int64, role models.UserRole) error {
	return u.update(id, func(user *models.User) { user.Role = role })
}

func (u *Users) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	return u.update(id, func(user *models.User) { user.PasswordHash = passwordHash })
}

func (u *Users) UpdateProfile(ctx context.Context, id int64, update models.ProfileUpdate) (models.User, error) {
	err := u.update(id, func(user *models.User) {
		if update.FirstName != nil {
			user.FirstName = *update.FirstName
		}
		if update.LastName != nil {
			last := *update.LastName
			user.LastName = &last
		}
	})
	if err != nil {
		return models.User{}, err
	}
	return u.GetByID(ctx, id)
}

func (u *Users) IncrementTokenVersion(_ context.Context, id int64) (int, error) {
	var version int
	err := u.update(id, func(user *models.User) {
		user.TokenVersion++
		version = user.TokenVersion
	})
	return version, err
}

// Put stores user as-is, for test fixtures.
func (u *Users) Put(user models.User) models.User {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == 0 {
		s.st.nextUserID++
		user.ID = s.st.nextUserID
	} else if user.ID > s.st.nextUserID {
		s.st.nextUserID = user.ID
	}
	if user.TokenVersion == 0 {
		user.TokenVersion = 1
	}
	s.st.users[user.ID] = user
	return user
}

// Security tokens

func (s *Store) SecurityTokens() *SecurityTokens { return &SecurityTokens{s} }

type SecurityTokens struct{ s *Store }

func (t *SecurityTokens) LockOwner(_ context.Context, userID int64) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.users[userID]; !ok {
		return repository.ErrUserNotFound
	}
	return nil
}

func (t *SecurityTokens) DeprecatePending(_ context.Context, userID int64, tokenType models.TokenType) (int64, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	var n int64
	for id, token := range s.st.tokens {
		if token.UserID == userID && token.Type == tokenType &&
			token.Status == models.TokenStatusPending && token.UsedAt == nil {
			token.Status = models.TokenStatusDeprecated
			s.st.tokens[id] = token
			n++
		}
	}
	return n, nil
}

func (t *SecurityTokens) Create(_ context.Context, token *models.SecurityToken) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.st.nextTokenID++
	token.ID = s.st.nextTokenID
	token.CreatedAt = s.now()
	s.st.tokens[token.ID] = *token
	return nil
}

func (t *SecurityTokens) FindByHash(_ context.Context, hash string) (models.SecurityToken, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.st.tokens {
		if token.TokenHash == hash {
			return token, nil
		}
	}
	return models.SecurityToken{}, repository.ErrSecurityTokenNotFound
}

func (t *SecurityTokens) UpdateStatus(_ context.Context, id int64, status models.TokenStatus, usedAt *time.Time) error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	token, ok := s.st.tokens[id]
	if !ok || token.Status != models.TokenStatusPending || token.UsedAt != nil {
		return repository.ErrSecurityTokenNotPending
	}
	token.Status = status
	if usedAt != nil {
		at := *usedAt
		token.UsedAt = &at
	}
	s.st.tokens[id] = token
	return nil
}

func (t *SecurityTokens) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, token := range s.st.tokens {
		if token.CreatedAt.Before(cutoff) &&
			(token.Status != models.TokenStatusPending || token.ExpiresAt.Before(cutoff)) {
			delete(s.st.tokens, id)
			n++
		}
	}
	return n, nil
}

// All returns every stored security token ordered by id.
func (t *SecurityTokens) All() []models.SecurityToken {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SecurityToken, 0, len(s.st.tokens))
	for _, token := range s.st.tokens {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Put stores token as-is, for test fixtures.
func (t *SecurityTokens) Put(token models.SecurityToken) models.SecurityToken {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.ID == 0 {
		s.st.nextTokenID++
		token.ID = s.st.nextTokenID
	} else if token.ID > s.st.nextTokenID {
		s.st.nextTokenID = token.ID
	}
	s.st.tokens[token.ID] = token
	return token
}

// Refresh tokens

func (s *Store) RefreshTokens() *RefreshTokens { return &RefreshTokens{s} }

type RefreshTokens struct{ s *Store }

func (r *RefreshTokens) Create(_ context.Context, token *models.RefreshToken) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.st.nextRefreshID++
	token.ID = s.st.nextRefreshID
	token.CreatedAt = s.now()
	token.UpdatedAt = token.CreatedAt
	s.st.refreshTokens[token.ID] = *token
	return nil
}

func (r *RefreshTokens) FindByHash(_ context.Context, hash string) (models.RefreshToken, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.st.refreshTokens {
		if token.TokenHash == hash {
			return token, nil
		}
	}
	return models.RefreshToken{}, repository.ErrRefreshTokenNotFound
}

func (r *RefreshTokens) ListActiveByUser(_ context.Context, userID int64, now time.Time) ([]models.RefreshToken, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RefreshToken
	for _, token := range s.st.refreshTokens {
		if token.UserID == userID && token.RevokedAt == nil && token.ExpiresAt.After(now) {
			out = append(out, token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *RefreshTokens) Revoke(_ context.Context, id int64, at time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	token, ok := s.st.refreshTokens[id]
	if !ok || token.RevokedAt != nil {
		return repository.ErrRefreshTokenNotActive
	}
	token.RevokedAt = &at
	s.st.refreshTokens[id] = token
	return nil
}

func (r *RefreshTokens) RevokeAllForUser(_ context.Context, userID int64, at time.Time) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	var n int64
	for id, token := range s.st.refreshTokens {
		if token.UserID == userID && token.RevokedAt == nil {
			revokedAt := at
			token.RevokedAt = &revokedAt
			s.st.refreshTokens[id] = token
			n++
		}
	}
	return n, nil
}

func (r *RefreshTokens) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, token := range s.st.refreshTokens {
		if token.ExpiresAt.Before(cutoff) || (token.RevokedAt != nil && token.RevokedAt.Before(cutoff)) {
			delete(s.st.refreshTokens, id)
			n++
		}
	}
	return n, nil
}

// Put stores token as-is, for test fixtures.
func (r *RefreshTokens) Put(token models.RefreshToken) models.RefreshToken {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nextRefreshID++
	token.ID = s.st.nextRefreshID
	s.st.refreshTokens[token.ID] = token
	return token
}
