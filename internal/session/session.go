// Package session holds the process-wide identity. Components subscribe to
// it instead of tracking login state themselves.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

type State int

const (
	// StateUnknown is the state at process start, before the identity
	// provider has answered.
	StateUnknown State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unknown":
		*s = StateUnknown
	case "unauthenticated":
		*s = StateUnauthenticated
	case "authenticated":
		*s = StateAuthenticated
	default:
		return fmt.Errorf("%w: unknown session state %q", model.ErrFormat, text)
	}
	return nil
}

// Identity is the authenticated owner.
type Identity struct {
	OwnerID     string    `json:"owner_id"`
	Email       string    `json:"email,omitempty"`
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Change describes one state transition. Identity is nil unless State is
// StateAuthenticated.
type Change struct {
	Prev     State
	State    State
	Identity *Identity
}

type Listener func(Change)

type Session struct {
	mu        sync.Mutex
	secret    []byte
	logger    *slog.Logger
	state     State
	identity  *Identity
	listeners map[int]Listener
	nextID    int
}

// New creates a session in StateUnknown. secret verifies HS256 access
// tokens; with an empty secret only LoginOwner can authenticate.
func New(secret []byte, logger *slog.Logger) *Session {
	return &Session{
		secret:    secret,
		logger:    logger.With("component", "session"),
		listeners: make(map[int]Listener),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns a copy of the identity, or nil when not authenticated.
func (s *Session) Current() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// OwnerID returns the current owner id, or "".
func (s *Session) OwnerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.OwnerID
}

// Token returns the current access token, or "".
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.AccessToken
}

// OnChange registers l and returns a function that removes it. Listeners
// run synchronously, outside the session lock, in registration order.
func (s *Session) OnChange(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Login verifies a signed access token and authenticates its subject.
func (s *Session) Login(tokenString string) (*Identity, error) {
	if len(s.secret) == 0 {
		return nil, fmt.Errorf("%w: token login is not configured", model.ErrNotAuthenticated)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token: %w", model.ErrNotAuthenticated, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims", model.ErrNotAuthenticated)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", model.ErrNotAuthenticated)
	}
	id := &Identity{OwnerID: sub, AccessToken: tokenString}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}

	s.set(StateAuthenticated, id)
	return id, nil
}

// LoginOwner authenticates ownerID without a token. Used by trusted local
// callers such as the CLI.
func (s *Session) LoginOwner(ownerID, email string) (*Identity, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", model.ErrInvalid)
	}
	id := &Identity{OwnerID: ownerID, Email: email}
	s.set(StateAuthenticated, id)
	return id, nil
}

func (s *Session) Logout() {
	s.set(StateUnauthenticated, nil)
}

// Resolve settles StateUnknown to StateUnauthenticated. It does nothing once
// the state is known.
func (s *Session) Resolve() {
	s.mu.Lock()
	unknown := s.state == StateUnknown
	s.mu.Unlock()
	if unknown {
		s.set(StateUnauthenticated, nil)
	}
}

func (s *Session) set(state State, id *Identity) {
	s.mu.Lock()
	prev := s.state
	sameOwner := prev == state && (state != StateAuthenticated || s.identity.OwnerID == id.OwnerID)
	s.state = state
	s.identity = id
	if sameOwner {
		// Token refresh for the same owner, or a repeated logout.
		s.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(s.listeners))
	for k := range s.listeners {
		ids = append(ids, k)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, k := range ids {
		listeners = append(listeners, s.listeners[k])
	}
	s.mu.Unlock()

	change := Change{Prev: prev, State: state}
	if id != nil {
		cp := *id
		change.Identity = &cp
	}
	if id != nil {
		s.logger.Info("session changed", "from", prev, "to", state, "owner", id.OwnerID)
	} else {
		s.logger.Info("session changed", "from", prev, "to", state)
	}
	for _, l := range listeners {
		l(change)
	}
}

// Issue signs an HS256 access token for ownerID.
func Issue(secret []byte, ownerID, email string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("issue token: secret is required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   ownerID,
		"email": email,
		"exp":   now.Add(ttl).Unix(),
		"iat":   now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
