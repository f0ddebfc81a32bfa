package security

import (
	"github.com/pocketbase/pocketbase/core"
)

const SessionCookie = "session"

// LoadSessionCookie authenticates browser requests that carry the auth token
// in a cookie instead of the Authorization header.
func LoadSessionCookie(e *core.RequestEvent) error {
	if e.Auth != nil {
		return e.Next()
	}

	cookie, err := e.Request.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return e.Next()
	}

	record, err := e.App.FindAuthRecordByToken(cookie.Value, core.TokenTypeAuth)
	if err == nil && record != nil {
		e.Auth = record
	}

	return e.Next()
}
