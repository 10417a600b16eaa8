// Package identity resolves bearer tokens into user profiles.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrNoProfile is returned when the provider answered but yielded no usable profile.
	ErrNoProfile = errors.New("no profile")
	// ErrUnauthorized is returned when the provider rejected the token.
	ErrUnauthorized = errors.New("token rejected")
)

// Provider looks up the profile that owns a bearer token.
type Provider interface {
	Lookup(ctx context.Context, token string) (Profile, error)
}

// Profile is an authenticated user. ID is normalized to a string whether the
// provider sent a number or a string.
type Profile struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Email             string `json:"email,omitempty"`
	IsAdmin           bool   `json:"is_admin"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
}

type wireProfile struct {
	ID                json.RawMessage `json:"id"`
	Username          string          `json:"username"`
	Name              string          `json:"name"`
	Email             string          `json:"email"`
	IsAdmin           bool            `json:"is_admin"`
	ProfilePictureURL *string         `json:"profile_picture_url"`
}

// ParseProfile decodes a provider response body. Both a bare profile object
// and one wrapped as {"user": {...}} are accepted.
//
// Postcondition: Returns a profile with non-empty ID and Username, or an
// error wrapping ErrNoProfile.
func ParseProfile(body []byte) (Profile, error) {
	var wrapped struct {
		User *wireProfile `json:"user"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrNoProfile, err)
	}
	w := wrapped.User
	if w == nil {
		w = &wireProfile{}
		if err := json.Unmarshal(body, w); err != nil {
			return Profile{}, fmt.Errorf("%w: %v", ErrNoProfile, err)
		}
	}

	id, err := normalizeID(w.ID)
	if err != nil {
		return Profile{}, err
	}
	username := w.Username
	if username == "" {
		username = w.Name
	}
	if username == "" {
		return Profile{}, fmt.Errorf("%w: missing username", ErrNoProfile)
	}

	p := Profile{
		ID:       id,
		Username: username,
		Email:    w.Email,
		IsAdmin:  w.IsAdmin,
	}
	if w.ProfilePictureURL != nil {
		p.ProfilePictureURL = *w.ProfilePictureURL
	}
	return p, nil
}

func normalizeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: missing id", ErrNoProfile)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("%w: empty id", ErrNoProfile)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: id must be a string or number", ErrNoProfile)
}
