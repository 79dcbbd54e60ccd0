package auth

import (
	"net/http"
	"time"
)

// Cookie pair. The primary cookie is Secure + SameSite=None so it survives
// cross-site frontend deployments. The fallback exists only to bridge
// browsers that drop Secure cookies on plain-HTTP development setups; the
// gate accepts either, primary first.
const (
	SessionCookie         = "flowline_session"
	SessionFallbackCookie = "flowline_session_dev"
)

// SetSessionCookies writes the token under both cookie names.
func SetSessionCookies(w http.ResponseWriter, token string, ttl time.Duration) {
	expires := time.Now().Add(ttl)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     SessionFallbackCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookies expires both cookies on both path scopes. Older
// deployments set cookies under /api, so logout clears there too.
func ClearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{SessionCookie, SessionFallbackCookie} {
		for _, path := range []string{"/", "/api"} {
			http.SetCookie(w, &http.Cookie{
				Name:     name,
				Value:    "",
				Path:     path,
				Expires:  time.Unix(0, 0),
				MaxAge:   -1,
				HttpOnly: true,
			})
		}
	}
}

// tokenFromCookies returns the first session token present, primary first.
func tokenFromCookies(r *http.Request) (string, bool) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	if c, err := r.Cookie(SessionFallbackCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}
