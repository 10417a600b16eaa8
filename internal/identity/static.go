package identity

import (
	"context"

	"github.com/cory-johannsen/roomrelay/internal/config"
)

// StaticProvider serves fixed profiles for fixed tokens. It is meant for
// development and tests.
type StaticProvider struct {
	profiles map[string]Profile
}

// NewStaticProvider creates a StaticProvider from token → profile pairs.
func NewStaticProvider(profiles map[string]Profile) *StaticProvider {
	cp := make(map[string]Profile, len(profiles))
	for token, p := range profiles {
		cp[token] = p
	}
	return &StaticProvider{profiles: cp}
}

// NewStaticProviderFromConfig builds a StaticProvider from configured tokens.
// A token without a username uses its id as the username.
func NewStaticProviderFromConfig(tokens map[string]config.StaticIdentity) *StaticProvider {
	profiles := make(map[string]Profile, len(tokens))
	for token, s := range tokens {
		name := s.Username
		if name == "" {
			name = s.ID
		}
		profiles[token] = Profile{ID: s.ID, Username: name, Email: s.Email}
	}
	return &StaticProvider{profiles: profiles}
}

// Lookup returns the profile for token or ErrUnauthorized.
func (s *StaticProvider) Lookup(ctx context.Context, token string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	p, ok := s.profiles[token]
	if !ok {
		return Profile{}, ErrUnauthorized
	}
	return p, nil
}
