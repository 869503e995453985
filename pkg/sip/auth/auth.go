// Package auth keeps digest credentials and answers 401/407 challenges.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/icholy/digest"

	"github.com/tanbro/sipua/pkg/sip/message"
)

var (
	// ErrNoChallenge is returned for responses without a usable challenge.
	ErrNoChallenge = errors.New("no authentication challenge")
	// ErrNoCredentials is returned when no credential matches the realm.
	ErrNoCredentials = errors.New("no credentials for realm")
)

// Credential is one username/password pair. An empty Realm matches any
// realm.
type Credential struct {
	Username     string `mapstructure:"username" yaml:"username"`
	AuthUsername string `mapstructure:"auth_username" yaml:"auth_username,omitempty"`
	Password     string `mapstructure:"password" yaml:"password"`
	Realm        string `mapstructure:"realm" yaml:"realm,omitempty"`
}

func (c Credential) authUser() string {
	if c.AuthUsername != "" {
		return c.AuthUsername
	}
	return c.Username
}

// Store holds credentials. It is guarded by the stack lock.
type Store struct {
	creds []Credential
}

// Add stores c, replacing an entry with the same username and realm.
func (s *Store) Add(c Credential) {
	for i := range s.creds {
		if s.creds[i].Username == c.Username && s.creds[i].Realm == c.Realm {
			s.creds[i] = c
			return
		}
	}
	s.creds = append(s.creds, c)
}

func (s *Store) Clear() { s.creds = nil }

func (s *Store) Len() int { return len(s.creds) }

// Lookup returns the credential for realm, preferring an exact match over
// a wildcard entry.
func (s *Store) Lookup(realm string) (Credential, bool) {
	var wildcard *Credential
	for i := range s.creds {
		switch s.creds[i].Realm {
		case realm:
			return s.creds[i], true
		case "":
			if wildcard == nil {
				wildcard = &s.creds[i]
			}
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return Credential{}, false
}

// Challenge is a parsed WWW-Authenticate or Proxy-Authenticate header.
type Challenge struct {
	// Header is the request header that answers it: Authorization or
	// Proxy-Authorization.
	Header string
	Realm  string
	Nonce  string
	Raw    string
}

// ChallengeFrom extracts the challenge of a 401 or 407 response.
func ChallengeFrom(resp *message.Response) (*Challenge, error) {
	var name, answer string
	switch resp.StatusCode {
	case message.StatusUnauthorized:
		name, answer = "WWW-Authenticate", "Authorization"
	case message.StatusProxyAuthRequired:
		name, answer = "Proxy-Authenticate", "Proxy-Authorization"
	default:
		return nil, fmt.Errorf("%w: status %d", ErrNoChallenge, resp.StatusCode)
	}
	raw := resp.GetHeader(name)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrNoChallenge, name)
	}
	chal, err := digest.ParseChallenge(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoChallenge, err)
	}
	return &Challenge{Header: answer, Realm: chal.Realm, Nonce: chal.Nonce, Raw: raw}, nil
}

// Authenticator computes the header value answering a challenge for req.
type Authenticator interface {
	Authorize(req *message.Request, chal *Challenge, cred Credential) (string, error)
}

// Digest is the default Authenticator.
type Digest struct{}

func (Digest) Authorize(req *message.Request, chal *Challenge, cred Credential) (string, error) {
	parsed, err := digest.ParseChallenge(chal.Raw)
	if err != nil {
		return "", fmt.Errorf("parse challenge: %w", err)
	}
	// RFC 3261 22.4: the digest URI is the Request-URI
	uri := ""
	if req.RequestURI != nil {
		uri = req.RequestURI.String()
	}
	creds, err := digest.Digest(parsed, digest.Options{
		Method:   strings.ToUpper(req.Method),
		URI:      uri,
		Username: cred.authUser(),
		Password: cred.Password,
	})
	if err != nil {
		return "", fmt.Errorf("compute digest: %w", err)
	}
	return creds.String(), nil
}
