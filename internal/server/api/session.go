package api

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/blake2b"
)

const sessionContextKey = "relay.session"

var ErrNoSessionSecret = errors.New("session secret must not be empty")

// Sessions issues the anonymous browser session cookie that scopes upload
// history. The cookie is "{uuid}.{mac}" where mac is a keyed BLAKE2b-256 of
// the id, so clients cannot pick another session's id.
type Sessions struct {
	name   string
	key    [32]byte
	maxAge time.Duration
}

// NewSessions derives the signing key from secret.
func NewSessions(name, secret string, maxAge time.Duration) (*Sessions, error) {
	if secret == "" {
		return nil, ErrNoSessionSecret
	}
	if name == "" {
		name = "relay_session"
	}
	return &Sessions{
		name:   name,
		key:    blake2b.Sum256([]byte(secret)),
		maxAge: maxAge,
	}, nil
}

// Middleware attaches the session id to the context, issuing a fresh
// cookie when the request carries none or a forged one.
func (s *Sessions) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := "", false
			if cookie, err := c.Cookie(s.name); err == nil {
				id, ok = s.verify(cookie.Value)
			}
			if !ok {
				id = uuid.NewString()
				c.SetCookie(&http.Cookie{
					Name:     s.name,
					Value:    s.sign(id),
					Path:     "/",
					MaxAge:   int(s.maxAge.Seconds()),
					HttpOnly: true,
					Secure:   c.Scheme() == "https",
					SameSite: http.SameSiteLaxMode,
				})
			}
			c.Set(sessionContextKey, id)
			return next(c)
		}
	}
}

func (s *Sessions) sign(id string) string {
	return id + "." + s.mac(id)
}

func (s *Sessions) verify(value string) (string, bool) {
	id, mac, found := strings.Cut(value, ".")
	if !found {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(mac), []byte(s.mac(id))) != 1 {
		return "", false
	}
	return id, true
}

func (s *Sessions) mac(id string) string {
	h, err := blake2b.New256(s.key[:])
	if err != nil {
		// Only fails for keys longer than 64 bytes.
		panic(err)
	}
	h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// SessionID returns the id attached by the session middleware, or "".
func SessionID(c echo.Context) string {
	id, _ := c.Get(sessionContextKey).(string)
	return id
}
