package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidToken means the bearer token does not resolve to a user.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUserNotFound is returned by user directories for unknown ids.
	ErrUserNotFound = errors.New("user not found")
)

// UserDirectory stores user identities.
type UserDirectory interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
}

// IdentityCache is an optional read-through cache in front of the directory.
type IdentityCache interface {
	GetUser(ctx context.Context, id int64) (*models.User, bool, error)
	SetUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id int64) error
}

// Gateway maps bearer tokens to user identities.
type Gateway struct {
	issuer *Issuer
	users  UserDirectory
	cache  IdentityCache
	logger logrus.FieldLogger
}

// NewGateway wires an issuer to a user directory. cache may be nil.
func NewGateway(issuer *Issuer, users UserDirectory, cache IdentityCache, logger logrus.FieldLogger) *Gateway {
	return &Gateway{issuer: issuer, users: users, cache: cache, logger: logger}
}

// Issuer returns the token issuer used by the gateway.
func (g *Gateway) Issuer() *Issuer {
	return g.issuer
}

// Register creates a user and returns it together with a fresh token.
func (g *Gateway) Register(ctx context.Context, name string, avatarID int64) (*models.User, string, error) {
	u := &models.User{Name: name, AvatarID: avatarID}
	if err := g.users.CreateUser(ctx, u); err != nil {
		return nil, "", fmt.Errorf("create user: %w", err)
	}
	token, err := g.issuer.CreateJWT(u.ID)
	if err != nil {
		return nil, "", fmt.Errorf("create jwt: %w", err)
	}
	return u, token, nil
}

// ResolveToken returns the user a token was issued to, or ErrInvalidToken.
func (g *Gateway) ResolveToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	userID, err := g.issuer.AuthenticateJWT(token)
	if err != nil {
		g.logger.WithError(err).Debug("token rejected")
		return nil, ErrInvalidToken
	}

	if g.cache != nil {
		u, ok, err := g.cache.GetUser(ctx, userID)
		if err != nil {
			g.logger.WithError(err).Warn("identity cache read failed")
		} else if ok {
			return u, nil
		}
	}

	u, err := g.users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	if g.cache != nil {
		if err := g.cache.SetUser(ctx, u); err != nil {
			g.logger.WithError(err).Warn("identity cache write failed")
		}
	}
	return u, nil
}

// UpdateUser changes the display name and avatar of u.ID.
func (g *Gateway) UpdateUser(ctx context.Context, u *models.User) error {
	if err := g.users.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("update user %d: %w", u.ID, err)
	}
	if g.cache != nil {
		if err := g.cache.DeleteUser(ctx, u.ID); err != nil {
			g.logger.WithError(err).Warn("identity cache invalidation failed")
		}
	}
	return nil
}
