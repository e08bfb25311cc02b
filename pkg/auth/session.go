// Package auth keeps the browser session cookie that remembers which
// conversation a client is in.
package auth

import (
	"crypto/sha256"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

// DefaultSessionName is the cookie name used when none is configured.
const DefaultSessionName = "iacandy_session"

// SessionKeyConversation holds the conversation id inside the cookie.
const SessionKeyConversation = "conversation_id"

// SessionStore signs and reads the session cookie.
type SessionStore struct {
	store *sessions.CookieStore
	name  string
}

// NewSessionStore creates a cookie store.
//
// The secret is SHA-256 hashed to derive a 32-byte signing key, so any
// passphrase works. It must be stable across restarts for cookies to survive
// them; with an empty secret a random key is used and cookies are valid only
// for the lifetime of the process.
//
// secure restricts the cookie to HTTPS and should be set outside local
// development.
func NewSessionStore(secret, name string, maxAge time.Duration, secure bool) *SessionStore {
	var key []byte
	if secret == "" {
		key = securecookie.GenerateRandomKey(32)
	} else {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}
	if name == "" {
		name = DefaultSessionName
	}

	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionStore{store: store, name: name}
}

// ConversationID returns the conversation remembered by the request cookie,
// or "" when there is none or the cookie does not verify.
func (s *SessionStore) ConversationID(r *http.Request) string {
	session, err := s.store.Get(r, s.name)
	if err != nil {
		return ""
	}
	id, _ := session.Values[SessionKeyConversation].(string)
	return id
}

// Remember stores the conversation id in the response cookie.
func (s *SessionStore) Remember(w http.ResponseWriter, r *http.Request, conversationID string) error {
	// Get returns a fresh session alongside the error for a bad cookie, so
	// the error is only informational here.
	session, _ := s.store.Get(r, s.name)
	session.Values[SessionKeyConversation] = conversationID
	return session.Save(r, w)
}
