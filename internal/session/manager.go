// Package session owns the access/refresh token pair: it loads it at start,
// replaces it on login and refresh, tears it down on logout, and hands the
// current bearer token to the API client. It is the only writer of the
// session file.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/mseval/internal/api"
	"github.com/tonimelisma/mseval/internal/tokenfile"
)

// ErrNoRefreshToken means a refresh was needed but none is stored. Refresh
// returns it wrapped together with api.ErrSessionExpired.
var ErrNoRefreshToken = errors.New("session: no refresh token stored")

// revokeTimeout bounds the best-effort logout notification.
const revokeTimeout = 5 * time.Second

// Backend is the subset of the API client the manager talks to. Defined here
// so the manager can be tested without a server.
type Backend interface {
	Login(ctx context.Context, email, password string) api.Result[api.AuthData]
	Register(ctx context.Context, s api.Signup) api.Result[api.AuthData]
	RefreshToken(ctx context.Context, refreshToken string) api.Result[api.Tokens]
	RevokeSession(ctx context.Context, tokens api.Tokens) api.Result[struct{}]
}

// Status is a snapshot of the session for display.
type Status struct {
	LoggedIn        bool
	User            *api.User
	Expiry          time.Time
	HasRefreshToken bool
	Path            string
}

// Manager is the session object injected into api.Client. It is safe for
// concurrent use; concurrent Refresh calls share a single backend refresh.
type Manager struct {
	store   *tokenfile.Store
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	token *oauth2.Token
	meta  map[string]string

	refreshGroup singleflight.Group
}

// NewManager creates a Manager. Call Init to load the stored session.
func NewManager(store *tokenfile.Store, backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:   store,
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// Init loads the persisted session into memory. A missing file is a
// logged-out session, not an error.
func (m *Manager) Init() error {
	tok, meta, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("session: loading: %w", err)
	}

	m.mu.Lock()
	m.token, m.meta = tok, meta
	m.mu.Unlock()

	if tok != nil {
		m.logger.Debug("session loaded",
			slog.String("path", m.store.Path()),
			slog.Bool("has_refresh_token", tok.RefreshToken != ""),
		)
	}

	return nil
}

// Login authenticates and persists the new pair.
func (m *Manager) Login(ctx context.Context, email, password string) api.Result[api.User] {
	r := m.backend.Login(ctx, email, password)
	if !r.Success {
		return api.Result[api.User]{Error: r.Error, Err: r.Err}
	}

	return m.establish(r.Data, email)
}

// Signup registers and persists the new pair, same contract as Login.
func (m *Manager) Signup(ctx context.Context, s api.Signup) api.Result[api.User] {
	r := m.backend.Register(ctx, s)
	if !r.Success {
		return api.Result[api.User]{Error: r.Error, Err: r.Err}
	}

	return m.establish(r.Data, s.Email)
}

func (m *Manager) establish(auth api.AuthData, email string) api.Result[api.User] {
	user := api.User{Email: email}
	if auth.User != nil {
		user = *auth.User
	}

	tok := &oauth2.Token{
		AccessToken:  auth.Tokens.AccessToken,
		RefreshToken: auth.Tokens.RefreshToken,
		TokenType:    auth.Tokens.TokenType,
		Expiry:       m.expiry(auth.Tokens),
	}

	meta := userMeta(user)

	if err := m.store.Save(tok, meta); err != nil {
		return api.Fail[api.User](fmt.Errorf("session: saving: %w", err))
	}

	m.mu.Lock()
	m.token, m.meta = tok, meta
	m.mu.Unlock()

	m.logger.Info("logged in",
		slog.String("user_id", user.ID.String()),
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
	)

	return api.OK(user)
}

// Logout notifies the backend, ignoring any failure, then clears the pair
// from memory and disk. The returned error only reports a failure to delete
// the session file; the in-memory session is gone either way.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.RLock()
	tok := m.token
	m.mu.RUnlock()

	if tok == nil {
		stored, _, err := m.store.Load()
		if err == nil {
			tok = stored
		}
	}

	if tok != nil && tok.AccessToken != "" {
		revokeCtx, cancel := context.WithTimeout(ctx, revokeTimeout)
		r := m.backend.RevokeSession(revokeCtx, api.Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken})
		cancel()

		if !r.Success {
			m.logger.Debug("logout notification failed, clearing locally anyway",
				slog.String("error", errString(r.Err)),
			)
		}
	}

	return m.teardown("logout")
}

// Expire ends the session after a terminal refresh failure, without calling
// the backend.
func (m *Manager) Expire(_ context.Context) {
	m.logger.Warn("session expired, clearing stored tokens")

	if err := m.teardown("expired"); err != nil {
		m.logger.Error("clearing expired session", slog.String("error", err.Error()))
	}
}

// Clear drops the session locally without calling the backend, for when the
// server side is already gone (e.g. after the account was deleted).
func (m *Manager) Clear() error {
	return m.teardown("clear")
}

func (m *Manager) teardown(reason string) error {
	m.mu.Lock()
	m.token, m.meta = nil, nil
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("session: clearing after %s: %w", reason, err)
	}

	return nil
}

// Refresh mints a new access token from the stored refresh token. Concurrent
// callers share one backend call. The refresh runs detached from the
// caller's cancellation so one canceled caller cannot fail the others; the
// API client's request timeout still bounds it.
//
// A failed refresh ends the session, so every caller sees a logged-out
// state afterwards. A canceled refresh leaves the session in place.
func (m *Manager) Refresh(ctx context.Context) api.Result[string] {
	v, err, shared := m.refreshGroup.Do("refresh", func() (any, error) {
		tok, err := m.refresh(context.WithoutCancel(ctx))
		if err != nil && !errors.Is(err, api.ErrCanceled) {
			m.logger.Warn("token refresh failed, ending session", slog.String("error", err.Error()))

			if clearErr := m.teardown("failed refresh"); clearErr != nil {
				m.logger.Error("clearing session after failed refresh", slog.String("error", clearErr.Error()))
			}
		}

		return tok, err
	})

	if shared {
		m.logger.Debug("joined in-flight token refresh")
	}

	if err != nil {
		return api.Fail[string](err)
	}

	return api.OK(v.(string))
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	// The file is authoritative: another process may have refreshed or
	// logged out since this one loaded it.
	stored, meta, err := m.store.Load()
	if err != nil {
		return "", fmt.Errorf("session: reading refresh token: %w", err)
	}

	if stored == nil || stored.RefreshToken == "" {
		return "", fmt.Errorf("%w: %w", api.ErrSessionExpired, ErrNoRefreshToken)
	}

	r := m.backend.RefreshToken(ctx, stored.RefreshToken)
	if !r.Success {
		return "", r.Err
	}

	next := &oauth2.Token{
		AccessToken:  r.Data.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Expiry:       m.expiry(r.Data),
	}

	if r.Data.TokenType != "" {
		next.TokenType = r.Data.TokenType
	}

	if err := m.store.Save(next, meta); err != nil {
		return "", fmt.Errorf("session: saving refreshed token: %w", err)
	}

	m.mu.Lock()
	m.token, m.meta = next, meta
	m.mu.Unlock()

	m.logger.Info("access token refreshed", slog.Time("expiry", next.Expiry))

	return next.AccessToken, nil
}

// AccessToken returns the in-memory access token, or "" when logged out.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == nil {
		return ""
	}

	return m.token.AccessToken
}

// IsAuthenticated reports whether an access token is held in memory and is
// still present on disk. If another process logged out, the in-memory copy
// is dropped; if it logged in again, the new pair is adopted.
func (m *Manager) IsAuthenticated() bool {
	if m.AccessToken() == "" {
		return false
	}

	stored, meta, err := m.store.Load()
	if err != nil || stored == nil || stored.AccessToken == "" {
		m.mu.Lock()
		m.token, m.meta = nil, nil
		m.mu.Unlock()

		return false
	}

	m.mu.Lock()
	m.token, m.meta = stored, meta
	m.mu.Unlock()

	return true
}

// Reload re-reads the session file. Used when the file changes underneath a
// running command.
func (m *Manager) Reload() error {
	stored, meta, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("session: reloading: %w", err)
	}

	m.mu.Lock()
	had := m.token != nil
	m.token, m.meta = stored, meta
	m.mu.Unlock()

	if had && stored == nil {
		m.logger.Info("session ended by another process")
	}

	return nil
}

// Watch reloads the session whenever the session file changes, until ctx
// ends.
func (m *Manager) Watch(ctx context.Context) error {
	return tokenfile.Watch(ctx, m.store.Path(), m.logger, func() {
		if err := m.Reload(); err != nil {
			m.logger.Warn("reloading session after file change", slog.String("error", err.Error()))
		}
	})
}

// User returns the cached profile of the signed-in user, or nil.
func (m *Manager) User() *api.User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == nil {
		return nil
	}

	return metaUser(m.meta)
}

// RememberUser replaces the cached profile, e.g. after a profile update.
func (m *Manager) RememberUser(u api.User) error {
	meta := userMeta(u)

	if err := m.store.MergeMeta(meta); err != nil {
		return fmt.Errorf("session: caching profile: %w", err)
	}

	m.mu.Lock()
	if m.meta == nil {
		m.meta = make(map[string]string, len(meta))
	}

	for k, v := range meta {
		m.meta[k] = v
	}
	m.mu.Unlock()

	return nil
}

// Status returns a display snapshot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{Path: m.store.Path()}
	if m.token == nil || m.token.AccessToken == "" {
		return st
	}

	st.LoggedIn = true
	st.User = metaUser(m.meta)
	st.Expiry = m.token.Expiry
	st.HasRefreshToken = m.token.RefreshToken != ""

	return st
}

// expiry picks the access-token expiry: the server's expires_in when given,
// else the JWT exp claim, else unknown (zero).
func (m *Manager) expiry(t api.Tokens) time.Time {
	if t.ExpiresIn > 0 {
		return m.now().Add(t.ExpiresIn)
	}

	return TokenExpiry(t.AccessToken)
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// The client never trusts the claim for authorization, only for display and
// expiry bookkeeping. Returns zero for opaque tokens.
func TokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}

	return exp.Time
}

func userMeta(u api.User) map[string]string {
	meta := map[string]string{}

	if u.ID != "" {
		meta[tokenfile.MetaUserID] = u.ID.String()
	}

	if u.Email != "" {
		meta[tokenfile.MetaEmail] = u.Email
	}

	if u.FullName != "" {
		meta[tokenfile.MetaFullName] = u.FullName
	}

	return meta
}

func metaUser(meta map[string]string) *api.User {
	if len(meta) == 0 {
		return nil
	}

	return &api.User{
		ID:       api.ID(meta[tokenfile.MetaUserID]),
		Email:    meta[tokenfile.MetaEmail],
		FullName: meta[tokenfile.MetaFullName],
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
