package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CredentialStore holds user records. Emails are stored normalised and looked
// up exactly.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id uint) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	ListUsers(ctx context.Context) ([]User, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	FindSession(ctx context.Context, id string) (*Session, error)
	RevokeSession(ctx context.Context, id string, at time.Time) error
	RevokeUserSessions(ctx context.Context, userID uint, at time.Time) error
	DeleteStaleSessions(ctx context.Context, before time.Time) (int64, error)
}

type ResetTokenStore interface {
	// CreateResetToken stores token and expires any unused token the user
	// already had.
	CreateResetToken(ctx context.Context, token *PasswordResetToken) error
	// ResetPassword marks the unused, unexpired token with the given hash as
	// used and sets its user's password hash in the same transaction. An
	// unusable token is ErrResetTokenInvalid; any failure leaves the token
	// unused.
	ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*PasswordResetToken, error)
	DeleteStaleResetTokens(ctx context.Context, before time.Time) (int64, error)
}

type Repository interface {
	CredentialStore
	SessionStore
	ResetTokenStore
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindByID(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) CreateUser(ctx context.Context, user *User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrUserExists
		}
		return err
	}
	return nil
}

func (r *repository) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := r.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repository) CreateSession(ctx context.Context, session *Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) FindSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *repository) RevokeSession(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *repository) RevokeUserSessions(ctx context.Context, userID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", at).Error
}

func (r *repository) DeleteStaleSessions(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at IS NOT NULL", before).
		Delete(&Session{})
	return res.RowsAffected, res.Error
}

func (r *repository) CreateResetToken(ctx context.Context, token *PasswordResetToken) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&PasswordResetToken{}).
			Where("user_id = ? AND used_at IS NULL AND expires_at > ?", token.UserID, token.CreatedAt).
			Update("expires_at", token.CreatedAt).Error; err != nil {
			return fmt.Errorf("expire previous tokens: %w", err)
		}
		return tx.Create(token).Error
	})
}

func (r *repository) ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*PasswordResetToken, error) {
	var token PasswordResetToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&PasswordResetToken{}).
			Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", tokenHash, now).
			Update("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrResetTokenInvalid
		}
		if err := tx.Where("token_hash = ?", tokenHash).First(&token).Error; err != nil {
			return err
		}

		res = tx.Model(&User{}).Where("id = ?", token.UserID).Update("password_hash", passwordHash)
		if res.Error != nil {
			return fmt.Errorf("update password: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *repository) DeleteStaleResetTokens(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? OR used_at IS NOT NULL", before).
		Delete(&PasswordResetToken{})
	return res.RowsAffected, res.Error
}
