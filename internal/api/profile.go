package api

import (
	"context"
	"net/http"
	"strings"
)

// ProfileUpdate is a partial profile update; nil fields are left unchanged.
type ProfileUpdate struct {
	FullName    *string `json:"full_name,omitempty"`
	Email       *string `json:"email,omitempty"`
	Institution *string `json:"institution,omitempty"`
}

// GetProfile fetches the logged-in user's profile. Retried.
func (c *Client) GetProfile(ctx context.Context) Result[User] {
	var out User
	if err := c.getJSON(ctx, "/user/profile", nil, &out); err != nil {
		return Fail[User](err)
	}

	return OK(out)
}

// UpdateProfile edits the profile. Not retried.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) Result[User] {
	if update == (ProfileUpdate{}) {
		return Fail[User](invalid("", "Nothing to update."))
	}

	if update.Email != nil {
		email := strings.TrimSpace(*update.Email)
		if err := validateEmail(email); err != nil {
			return Fail[User](err)
		}

		update.Email = &email
	}

	if update.FullName != nil && strings.TrimSpace(*update.FullName) == "" {
		return Fail[User](invalid("full_name", "Please enter your full name."))
	}

	var out User
	if err := c.sendJSON(ctx, http.MethodPut, "/user/profile", update, &out); err != nil {
		return Fail[User](err)
	}

	return OK(out)
}

// ChangePassword sets a new password for the logged-in user.
func (c *Client) ChangePassword(ctx context.Context, current, password, confirm string) Result[Message] {
	if current == "" {
		return Fail[Message](invalid("current_password", "Please enter your current password."))
	}

	if err := validateNewPassword(password, confirm); err != nil {
		return Fail[Message](err)
	}

	if password == current {
		return Fail[Message](invalid("new_password", "The new password must be different from the current one."))
	}

	var out Message
	err := c.sendJSON(ctx, http.MethodPost, "/user/change-password", map[string]string{
		"current_password": current,
		"new_password":     password,
	}, &out)
	if err != nil {
		return Fail[Message](err)
	}

	return OK(out)
}

// DeleteAccount permanently removes the account. The caller is responsible
// for tearing the local session down afterwards.
func (c *Client) DeleteAccount(ctx context.Context, password string) Result[Message] {
	if password == "" {
		return Fail[Message](invalid("password", "Please enter your password to confirm."))
	}

	var out Message
	if err := c.sendJSON(ctx, http.MethodPost, "/user/delete-account", map[string]string{"password": password}, &out); err != nil {
		return Fail[Message](err)
	}

	return OK(out)
}
