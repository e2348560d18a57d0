package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrInvalidToken    = errors.New("invalid token")
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Provider tells callers who is signed in and when that changes.
type Provider interface {
	CurrentUser(ctx context.Context) (User, error)
	OnAuthStateChange(fn func(*User)) (unsubscribe func())
}

// Session is an in-process Provider. Subscribers are told the current user
// on registration and again after every sign-in and sign-out.
type Session struct {
	mu     sync.Mutex
	user   *User
	subs   map[int]func(*User)
	nextID int
}

func NewSession() *Session {
	return &Session{subs: map[int]func(*User){}}
}

func (s *Session) CurrentUser(context.Context) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return User{}, ErrUnauthenticated
	}
	return *s.user, nil
}

func (s *Session) SignIn(u User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id required")
	}
	s.set(&u)
	return nil
}

func (s *Session) SignOut() {
	s.set(nil)
}

func (s *Session) set(u *User) {
	s.mu.Lock()
	s.user = u
	subs := make([]func(*User), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(copyUser(u))
	}
}

func (s *Session) OnAuthStateChange(fn func(*User)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	current := copyUser(s.user)
	s.mu.Unlock()
	fn(current)
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Verifier issues and checks HS256 tokens whose subject is the user id.
type Verifier struct {
	Secret string
	Issuer string
	Now    func() time.Time
}

func (v Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v Verifier) Issue(u User, ttl time.Duration) (string, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return "", errors.New("user id required")
	}
	now := v.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    v.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: u.Email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(v.Secret))
}

func (v Verifier) Verify(token string) (User, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return User{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return []byte(v.Secret), nil
	})
	if err != nil {
		return User{}, errors.Join(ErrInvalidToken, err)
	}
	if !parsed.Valid || c.Subject == "" {
		return User{}, ErrInvalidToken
	}
	return User{ID: c.Subject, Email: c.Email}, nil
}

type userKey struct{}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok && u.ID != ""
}

// ContextProvider reads the user the HTTP middleware placed on the request context.
// OnAuthStateChange is a no-op since a request's user is fixed.
type ContextProvider struct{}

func (ContextProvider) CurrentUser(ctx context.Context) (User, error) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return User{}, ErrUnauthenticated
	}
	return u, nil
}

func (ContextProvider) OnAuthStateChange(func(*User)) func() { return func() {} }
