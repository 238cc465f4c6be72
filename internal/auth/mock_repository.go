package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

type mockRepository struct {
	mu           sync.RWMutex
	nextUserID   uint
	nextTokenID  uint
	usersByEmail map[string]*User
	sessions     map[string]*Session
	resetTokens  map[string]*PasswordResetToken
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		usersByEmail: make(map[string]*User),
		sessions:     make(map[string]*Session),
		resetTokens:  make(map[string]*PasswordResetToken),
	}
}

func (r *mockRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.usersByEmail[email]
	if !exists {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *mockRepository) FindByID(_ context.Context, id uint) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.usersByEmail {
		if u.ID == id {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *mockRepository) CreateUser(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.usersByEmail[user.Email]; exists {
		return ErrUserExists
	}

	r.nextUserID++
	user.ID = r.nextUserID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	// Clone the user to prevent external modifications
	stored := *user
	r.usersByEmail[user.Email] = &stored
	return nil
}

func (r *mockRepository) ListUsers(context.Context) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]User, 0, len(r.usersByEmail))
	for _, u := range r.usersByEmail {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *mockRepository) CreateSession(_ context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *session
	r.sessions[session.ID] = &stored
	return nil
}

func (r *mockRepository) FindSession(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	clone := *s
	return &clone, nil
}

func (r *mockRepository) RevokeSession(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.RevokedAt != nil {
		return ErrSessionNotFound
	}
	s.RevokedAt = &at
	return nil
}

func (r *mockRepository) RevokeUserSessions(_ context.Context, userID uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			revokedAt := at
			s.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (r *mockRepository) DeleteStaleSessions(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(before) || s.RevokedAt != nil {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *mockRepository) CreateResetToken(_ context.Context, token *PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.resetTokens {
		if t.UserID == token.UserID && t.UsedAt == nil && t.ExpiresAt.After(token.CreatedAt) {
			t.ExpiresAt = token.CreatedAt
		}
	}

	r.nextTokenID++
	token.ID = r.nextTokenID
	stored := *token
	r.resetTokens[token.TokenHash] = &stored
	return nil
}

func (r *mockRepository) ResetPassword(_ context.Context, tokenHash, passwordHash string, now time.Time) (*PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.resetTokens[tokenHash]
	if !ok || t.UsedAt != nil || !now.Before(t.ExpiresAt) {
		return nil, ErrResetTokenInvalid
	}

	var user *User
	for _, u := range r.usersByEmail {
		if u.ID == t.UserID {
			user = u
			break
		}
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	user.PasswordHash = passwordHash
	user.UpdatedAt = now
	usedAt := now
	t.UsedAt = &usedAt
	clone := *t
	return &clone, nil
}

func (r *mockRepository) DeleteStaleResetTokens(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for hash, t := range r.resetTokens {
		if t.ExpiresAt.Before(before) || t.UsedAt != nil {
			delete(r.resetTokens, hash)
			n++
		}
	}
	return n, nil
}

func (r *mockRepository) userCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.usersByEmail)
}
