// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrAuthRequired is returned when a request carries no resolvable token.
// The message string is part of the external contract.
var ErrAuthRequired = errors.New("Authentication required")

// Gate issues and resolves session tokens. Tokens are random uuids signed
// with the configured secret so that a stolen token table dump from another
// deployment cannot be replayed here.
type Gate struct {
	secret []byte

	mu     sync.RWMutex
	tokens map[string]string // token id -> username
}

// NewGate builds a gate around the deployment secret.
func NewGate(secret string) *Gate {
	return &Gate{
		secret: []byte(secret),
		tokens: make(map[string]string),
	}
}

// Issue creates a token for the username.
func (g *Gate) Issue(username string) string {
	id := uuid.NewString()
	g.mu.Lock()
	g.tokens[id] = username
	g.mu.Unlock()
	return id + "." + g.sign(id)
}

// Resolve maps a presented token back to its username.
func (g *Gate) Resolve(token string) (string, error) {
	id, sig, ok := strings.Cut(token, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(g.sign(id))) {
		return "", ErrAuthRequired
	}
	g.mu.RLock()
	username, found := g.tokens[id]
	g.mu.RUnlock()
	if !found {
		return "", ErrAuthRequired
	}
	return username, nil
}

// Revoke drops a token; resolving it afterwards fails.
func (g *Gate) Revoke(token string) {
	id, _, _ := strings.Cut(token, ".")
	g.mu.Lock()
	delete(g.tokens, id)
	g.mu.Unlock()
}

func (g *Gate) sign(id string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}
