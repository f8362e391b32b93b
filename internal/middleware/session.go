// Package middleware provides HTTP middleware for dermodel.
package middleware

import (
	"context"
	"net/http"

	"dermodel/internal/httpjson"
	"dermodel/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const (
	// CookieName names the signed cookie carrying the browser id.
	CookieName = "dermodel_session"

	browserIDKey = "browser_id"
	cookieMaxAge = 30 * 24 * 60 * 60
)

// Managers returns the session Manager of a browser.
type Managers interface {
	Get(ctx context.Context, browserID string) (*session.Manager, error)
}

// NewCookieStore creates the signed cookie store for browser ids.
func NewCookieStore(secret []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// BrowserSession returns middleware that identifies the browser by a
// signed cookie, issuing one on first contact, and attaches its Manager
// to the request context. Use it on routes that start a session.
//
// Error responses:
//   - 500 Internal Server Error: the cookie could not be written or the
//     Manager could not be created
func BrowserSession(store sessions.Store, managers Managers, logger *zap.Logger) func(http.Handler) http.Handler {
	return browserSession(store, managers, nil, logger)
}

// KnownBrowserSession is BrowserSession for routes that only read or end
// a session. A browser without a valid cookie gets signedOut and no
// cookie, so no Manager is built for it.
func KnownBrowserSession(store sessions.Store, managers Managers, signedOut *session.Manager, logger *zap.Logger) func(http.Handler) http.Handler {
	return browserSession(store, managers, signedOut, logger)
}

func browserSession(store sessions.Store, managers Managers, signedOut *session.Manager, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// A cookie that fails verification yields a fresh session.
			sess, _ := store.Get(r, CookieName)

			browserID, _ := sess.Values[browserIDKey].(string)
			if browserID == "" {
				if signedOut != nil {
					next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), signedOut)))
					return
				}
				browserID = uuid.NewString()
				sess.Values[browserIDKey] = browserID
				if err := sess.Save(r, w); err != nil {
					logger.Error("failed to save browser session cookie", zap.Error(err))
					httpjson.WriteInternal(w)
					return
				}
			}

			m, err := managers.Get(r.Context(), browserID)
			if err != nil {
				logger.Error("failed to get session manager", zap.String("browser_id", browserID), zap.Error(err))
				httpjson.WriteInternal(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), m)))
		})
	}
}
