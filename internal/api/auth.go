package api

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"
)

// Signup carries the registration form.
type Signup struct {
	Email           string
	Password        string
	ConfirmPassword string
	FullName        string
	Institution     string
}

// ResetStatus is the answer to a reset-token check.
type ResetStatus struct {
	Valid bool   `json:"valid"`
	Email string `json:"email,omitempty"`
}

// authResponse is the wire shape of /auth/login, /auth/register and
// /auth/refresh.
type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	User         *User  `json:"user"`
}

func (r *authResponse) tokens() Tokens {
	return Tokens{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresIn:    time.Duration(r.ExpiresIn) * time.Second,
	}
}

// Login exchanges credentials for a token pair and the user profile.
func (c *Client) Login(ctx context.Context, email, password string) Result[AuthData] {
	email = strings.TrimSpace(email)

	if err := validateEmail(email); err != nil {
		return Fail[AuthData](err)
	}

	if password == "" {
		return Fail[AuthData](invalid("password", "Please enter your password."))
	}

	return c.authenticate(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Register creates an account. It has the same persistence contract as Login.
func (c *Client) Register(ctx context.Context, s Signup) Result[AuthData] {
	s.Email = strings.TrimSpace(s.Email)

	if err := validateEmail(s.Email); err != nil {
		return Fail[AuthData](err)
	}

	if strings.TrimSpace(s.FullName) == "" {
		return Fail[AuthData](invalid("full_name", "Please enter your full name."))
	}

	if err := validateNewPassword(s.Password, s.ConfirmPassword); err != nil {
		return Fail[AuthData](err)
	}

	body := map[string]string{
		"email":     s.Email,
		"password":  s.Password,
		"full_name": strings.TrimSpace(s.FullName),
	}

	if inst := strings.TrimSpace(s.Institution); inst != "" {
		body["institution"] = inst
	}

	return c.authenticate(ctx, "/auth/register", body)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) Result[AuthData] {
	var out authResponse
	if err := c.sendUnauthenticated(ctx, path, "", body, &out); err != nil {
		return Fail[AuthData](err)
	}

	if out.AccessToken == "" {
		return Fail[AuthData](fmt.Errorf("%w: %s response has no access token", ErrDecode, path))
	}

	return OK(AuthData{Tokens: out.tokens(), User: out.User})
}

// RefreshToken mints a new access token. The returned pair's RefreshToken is
// empty when the server keeps the old one.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) Result[Tokens] {
	var out authResponse
	err := c.sendUnauthenticated(ctx, "/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken,
	}, &out)
	if err != nil {
		return Fail[Tokens](err)
	}

	if out.AccessToken == "" {
		return Fail[Tokens](fmt.Errorf("%w: refresh response has no access token", ErrDecode))
	}

	return OK(out.tokens())
}

// RevokeSession tells the backend to invalidate the given pair.
func (c *Client) RevokeSession(ctx context.Context, tokens Tokens) Result[struct{}] {
	body := map[string]string{}
	if tokens.RefreshToken != "" {
		body["refresh_token"] = tokens.RefreshToken
	}

	if err := c.sendUnauthenticated(ctx, "/auth/logout", tokens.AccessToken, body, nil); err != nil {
		return Fail[struct{}](err)
	}

	return OK(struct{}{})
}

// ForgotPassword asks the backend to mail a reset link. The backend answers
// the same way whether or not the address exists.
func (c *Client) ForgotPassword(ctx context.Context, email string) Result[Message] {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return Fail[Message](err)
	}

	var out Message
	if err := c.sendUnauthenticated(ctx, "/auth/forgot-password", "", map[string]string{"email": email}, &out); err != nil {
		return Fail[Message](err)
	}

	return OK(out)
}

// VerifyResetToken checks a reset token before the new password is asked for.
func (c *Client) VerifyResetToken(ctx context.Context, token string) Result[ResetStatus] {
	token = strings.TrimSpace(token)
	if token == "" {
		return Fail[ResetStatus](invalid("token", "The reset token is missing."))
	}

	var out ResetStatus
	if err := c.sendUnauthenticated(ctx, "/auth/verify-reset-token", "", map[string]string{"token": token}, &out); err != nil {
		return Fail[ResetStatus](err)
	}

	return OK(out)
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, password, confirm string) Result[Message] {
	token = strings.TrimSpace(token)
	if token == "" {
		return Fail[Message](invalid("token", "The reset token is missing."))
	}

	if err := validateNewPassword(password, confirm); err != nil {
		return Fail[Message](err)
	}

	var out Message
	err := c.sendUnauthenticated(ctx, "/auth/reset-password", "", map[string]string{
		"token":        token,
		"new_password": password,
	}, &out)
	if err != nil {
		return Fail[Message](err)
	}

	return OK(out)
}

// sendUnauthenticated posts to an /auth endpoint. These requests never take
// part in refresh-and-replay: a 401 here is a credential problem.
func (c *Client) sendUnauthenticated(ctx context.Context, path, bearer string, in, out any) error {
	req, err := c.newJSONRequest(http.MethodPost, path, in)
	if err != nil {
		return err
	}

	req.authenticated = false
	req.bearer = bearer

	resp, err := c.exchange(ctx, req)
	if err != nil {
		return err
	}

	return decodeJSON(resp, out)
}

func validateEmail(email string) error {
	if email == "" {
		return invalid("email", "Please enter your email address.")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("email", "Please enter a valid email address.")
	}

	return nil
}

func validateNewPassword(password, confirm string) error {
	if password == "" {
		return invalid("password", "Please enter a password.")
	}

	if password != confirm {
		return invalid("confirm_password", "Passwords do not match.")
	}

	return nil
}
