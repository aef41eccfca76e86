// Package oauth2 obtains, stores and refreshes the Google OAuth2 token the
// mailbox and Drive clients authenticate with.
package oauth2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// TokenManager hands out a valid token for one account, refreshing and
// persisting it as needed. It implements oauth2.TokenSource.
type TokenManager struct {
	config  *oauth2.Config
	store   TokenStore
	account string
	logger  *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
	ctx   context.Context
}

// NewTokenManager loads the stored token for account, if any. ctx bounds
// the HTTP client used for refreshes.
func NewTokenManager(ctx context.Context, config *oauth2.Config, store TokenStore, account string, logger *slog.Logger) (*TokenManager, error) {
	tm := &TokenManager{
		config:  config,
		store:   store,
		account: account,
		logger:  logger,
		ctx:     ctx,
	}

	token, err := store.Load(account)
	switch {
	case errors.Is(err, ErrNoToken):
		logger.Warn("no stored OAuth2 token, run oauth2 generate first", "account", account)
	case err != nil:
		return nil, fmt.Errorf("failed to load OAuth2 token: %w", err)
	default:
		tm.token = token
		logger.Debug("loaded existing OAuth2 token",
			"account", account,
			"expires_at", token.Expiry.Format(time.RFC3339))
	}

	return tm, nil
}

// Token returns a valid token, refreshing with the stored refresh token
// when the current one has expired.
func (tm *TokenManager) Token() (*oauth2.Token, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token == nil {
		return nil, fmt.Errorf("%w for account %s", ErrNoToken, tm.account)
	}
	if tm.token.Valid() {
		return tm.token, nil
	}
	if tm.token.RefreshToken == "" {
		return nil, fmt.Errorf("token for %s expired and has no refresh token", tm.account)
	}

	tm.logger.Debug("refreshing OAuth2 token", "account", tm.account)
	fresh, err := tm.config.TokenSource(tm.ctx, tm.token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tm.token.RefreshToken
	}
	tm.token = fresh

	if err := tm.store.Save(tm.account, fresh); err != nil {
		tm.logger.Warn("failed to save refreshed OAuth2 token", "account", tm.account, "error", err)
	}
	tm.logger.Debug("OAuth2 token refreshed",
		"account", tm.account,
		"expires_at", fresh.Expiry.Format(time.RFC3339))
	return fresh, nil
}

// SetToken replaces and persists the token.
func (tm *TokenManager) SetToken(token *oauth2.Token) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.token = token
	return tm.store.Save(tm.account, token)
}

// AccountID names the stored token of a configuration.
func AccountID(configID, user string) string {
	return configID + "_" + user
}
