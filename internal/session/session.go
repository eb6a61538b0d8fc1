// Package session is the access gate in front of the web pages: it signs a
// JWT into a cookie at login and turns it back into an explicit
// library.Caller on every request.
package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"library-circulation/library"
)

// CookieName is the session cookie.
const CookieName = "library_session"

const issuer = "library-circulation"

// Claims carried in the session token.
type Claims struct {
	UserID   int64        `json:"uid"`
	Username string       `json:"username"`
	Role     library.Role `json:"role"`
	jwt.RegisteredClaims
}

// Gate issues and verifies session tokens.
type Gate struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewGate returns a gate signing with secret; sessions last ttl.
func NewGate(secret string, ttl time.Duration) (*Gate, error) {
	if len(secret) < 16 {
		return nil, errors.New("session secret must be at least 16 bytes")
	}
	return &Gate{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// SecureCookies marks the session cookie Secure (HTTPS only).
func (g *Gate) SecureCookies(on bool) { g.secure = on }

// Issue signs a token for caller.
func (g *Gate) Issue(c library.Caller) (string, error) {
	now := g.now()
	claims := Claims{
		UserID:   c.UserID,
		Username: c.Username,
		Role:     c.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   c.Username,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// Parse verifies a token and returns the caller it names.
func (g *Gate) Parse(token string) (library.Caller, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return g.secret, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return library.Caller{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == 0 || !claims.Role.Valid() {
		return library.Caller{}, errors.New("invalid token")
	}
	return library.Caller{UserID: claims.UserID, Username: claims.Username, Role: claims.Role}, nil
}

// Login sets the session cookie for caller.
func (g *Gate) Login(w http.ResponseWriter, c library.Caller) error {
	token, err := g.Issue(c)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  g.now().Add(g.ttl),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Logout clears the session cookie.
func (g *Gate) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware resolves the caller once per request, from the session cookie
// or a bearer token, and stores it in the request context. Requests without
// a valid session continue anonymously; RequireLogin decides what to do
// with them.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := tokenFrom(r); token != "" {
			if c, err := g.Parse(token); err == nil {
				r = r.WithContext(WithCaller(r.Context(), c))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func tokenFrom(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

type ctxKey struct{}

// WithCaller returns ctx carrying c.
func WithCaller(ctx context.Context, c library.Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// CallerFrom returns the caller stored by Middleware; the zero Caller when
// nobody is logged in.
func CallerFrom(ctx context.Context) library.Caller {
	c, _ := ctx.Value(ctxKey{}).(library.Caller)
	return c
}

// RequireLogin sends anonymous requests to the login page, or answers 401
// for API requests.
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !CallerFrom(r.Context()).Authenticated() {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, "/login?next="+r.URL.RequestURI(), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole refuses callers without role.
func RequireRole(role library.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := CallerFrom(r.Context())
			if !c.Authenticated() {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if c.Role != role {
				http.Error(w, "forbidden: insufficient role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
