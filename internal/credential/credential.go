// Package credential provides acquire/release handles for Azure token credentials.
package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// ErrReleased is returned when a released provider is used again.
var ErrReleased = errors.New("credential already released")

// Provider yields a token credential for remote calls and releases it once.
type Provider interface {
	Acquire() (azcore.TokenCredential, error)
	Release() error
}

// Session builds its credential lazily on the first Acquire and hands out
// the same credential until Release.
type Session struct {
	build func() (azcore.TokenCredential, error)

	mu       sync.Mutex
	cred     azcore.TokenCredential
	released bool
}

// NewSession creates a session around a credential constructor.
func NewSession(build func() (azcore.TokenCredential, error)) *Session {
	return &Session{build: build}
}

// NewClientSecret authenticates a service principal with a client secret.
func NewClientSecret(tenantID, clientID, secret string) *Session {
	return NewSession(func() (azcore.TokenCredential, error) {
		return azidentity.NewClientSecretCredential(tenantID, clientID, secret, nil)
	})
}

// NewDefault uses the azidentity default credential chain
// (environment, workload identity, managed identity, Azure CLI).
func NewDefault() *Session {
	return NewSession(func() (azcore.TokenCredential, error) {
		return azidentity.NewDefaultAzureCredential(nil)
	})
}

// NewStatic always presents the given bearer token. Used against emulators.
func NewStatic(token string) *Session {
	return NewSession(func() (azcore.TokenCredential, error) {
		return staticCredential(token), nil
	})
}

// None yields a nil credential, for executors that need no authentication.
func None() *Session {
	return NewSession(func() (azcore.TokenCredential, error) {
		return nil, nil
	})
}

// Acquire returns the session credential, building it on first use.
func (s *Session) Acquire() (azcore.TokenCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, ErrReleased
	}
	if s.cred != nil {
		return s.cred, nil
	}
	cred, err := s.build()
	if err != nil {
		return nil, err
	}
	s.cred = cred
	return cred, nil
}

// Release drops the credential. A second call returns ErrReleased.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	s.released = true
	s.cred = nil
	return nil
}

type staticCredential string

func (c staticCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: string(c), ExpiresOn: time.Now().Add(time.Hour)}, nil
}
