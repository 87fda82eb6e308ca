// pattern: Imperative Shell

package web

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sync"
	"time"
)

// sessionCookie is the cookie carrying the browser's auth token.
const sessionCookie = "session"

// sessionTTL is how long a PIN login stays valid.
const sessionTTL = 30 * 24 * time.Hour

// authGate validates the session cookie against the in-memory token table
// when a PIN is configured; with no PIN the gate is open.
type authGate struct {
	pin string

	mu     sync.Mutex
	tokens map[string]time.Time
}

func newAuthGate(pin string) *authGate {
	return &authGate{
		pin:    pin,
		tokens: make(map[string]time.Time),
	}
}

func (g *authGate) enabled() bool {
	return g.pin != ""
}

// login checks the PIN and mints a session token on success.
func (g *authGate) login(pin string) (string, bool) {
	if subtle.ConstantTimeCompare([]byte(g.pin), []byte(pin)) != 1 {
		return "", false
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", false
	}
	token := hex.EncodeToString(buf)

	g.mu.Lock()
	g.tokens[token] = time.Now().Add(sessionTTL)
	g.mu.Unlock()
	return token, true
}

// authorize reports whether the request carries a valid session cookie.
// Expired tokens are pruned on sight.
func (g *authGate) authorize(r *http.Request) bool {
	if !g.enabled() {
		return true
	}

	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.tokens[cookie.Value]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(g.tokens, cookie.Value)
		return false
	}
	return true
}

// require wraps an API handler with the cookie gate.
func (g *authGate) require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.authorize(r) {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}
