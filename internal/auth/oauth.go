package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/flowline/backend/internal/apperr"
	"github.com/flowline/backend/internal/store"
)

// StateCookie holds the CSRF state between the redirect and the callback.
const StateCookie = "flowline_oauth_state"

const userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type googleUserinfo struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

func (s *Service) googleConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		RedirectURL:  s.cfg.GoogleRedirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     google.Endpoint,
	}
}

// GoogleEnabled reports whether OAuth login is configured.
func (s *Service) GoogleEnabled() bool {
	return s.cfg.GoogleClientID != "" && s.cfg.GoogleClientSecret != ""
}

// BeginGoogleLogin generates a state value, sets the state cookie, and
// returns the consent URL to redirect to.
func (s *Service) BeginGoogleLogin(w http.ResponseWriter) (string, error) {
	if !s.GoogleEnabled() {
		return "", apperr.New(apperr.KindValidation, "google login is not configured")
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("oauth state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(raw)
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s.googleConfig().AuthCodeURL(state), nil
}

// CompleteGoogleLogin validates state, exchanges the code, and returns the
// user. First-time logins get a fresh org; the password hash stays empty so
// the account remains OAuth-only until the user sets one.
func (s *Service) CompleteGoogleLogin(ctx context.Context, r *http.Request) (*store.User, time.Duration, error) {
	stateCookie, err := r.Cookie(StateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		return nil, 0, apperr.New(apperr.KindUnauthenticated, "oauth state mismatch")
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, 0, apperr.New(apperr.KindUnauthenticated, "missing oauth code")
	}

	conf := s.googleConfig()
	exchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	tok, err := conf.Exchange(exchCtx, code)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindUpstreamUnavailable, "google token exchange failed", err)
	}

	info, err := s.fetchGoogleUserinfo(exchCtx, conf, tok)
	if err != nil {
		return nil, 0, err
	}
	if info.Email == "" {
		return nil, 0, apperr.New(apperr.KindUnauthenticated, "google account has no email")
	}

	u, err := s.store.GetUserByEmail(ctx, info.Email)
	if apperr.KindOf(err) == apperr.KindNotFound {
		u, err = s.store.CreateUserWithOrg(ctx, orgNameFromEmail(info.Email),
			info.Email, "", info.GivenName, info.FamilyName)
		if err == nil && info.Picture != "" {
			if perr := s.store.UpdateUserProfile(ctx, u.ID, info.GivenName, info.FamilyName, info.Picture); perr != nil {
				s.logger.Printf("profile picture for %s: %v", u.ID, perr)
			}
		}
	}
	if err != nil {
		return nil, 0, err
	}
	return u, s.cfg.OAuthTTL, nil
}

func (s *Service) fetchGoogleUserinfo(ctx context.Context, conf *oauth2.Config, tok *oauth2.Token) (*googleUserinfo, error) {
	client := conf.Client(ctx, tok)
	resp, err := client.Get(userinfoURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "google userinfo failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.KindUpstreamUnavailable, "google userinfo returned %d", resp.StatusCode)
	}
	var info googleUserinfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &info, nil
}
