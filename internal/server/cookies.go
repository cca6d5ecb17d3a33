package server

import (
	"net/http"
	"time"
)

// CookieName is the name of the session cookie
const CookieName = "pillchat_session"

// SetSessionCookie sets an HTTP-only session cookie that lives as long as an
// idle session does.
func SetSessionCookie(w http.ResponseWriter, sessionID string, maxAge time.Duration, secure bool) {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	}
	if maxAge > 0 {
		cookie.MaxAge = int(maxAge.Seconds())
	}
	http.SetCookie(w, cookie)
}

// ClearSessionCookie removes the session cookie
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	}
	http.SetCookie(w, cookie)
}

// GetSessionCookie reads the session ID from the cookie
func GetSessionCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// getSessionID retrieves the session ID from the cookie, falling back to the
// X-Session-Id header for clients that cannot keep cookies.
func getSessionID(r *http.Request) string {
	if cookie, err := GetSessionCookie(r); err == nil && cookie != "" {
		return cookie
	}
	return r.Header.Get("X-Session-Id")
}
