package auth

import (
	"context"
	"errors"
	"time"

	"github.com/folkengine/goname"
	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pingme/pingme/config"
	"github.com/pingme/pingme/globals"
	"github.com/pingme/pingme/persistence"
	"github.com/pingme/pingme/types"
	"golang.org/x/crypto/bcrypt"
)

const identityCacheSize = 4096

var (
	// ErrUnauthenticated is returned on login with bad credentials.
	ErrUnauthenticated = errors.New("invalid credentials")
	// ErrNoSecret is returned when local login is attempted without a
	// configured JWT secret.
	ErrNoSecret = errors.New("no jwt secret configured")
)

// Credentials are the transport-layer credentials attached to a connection or
// request: a locally issued session token, or an OIDC ID token plus the name
// of the configured provider.
type Credentials struct {
	Token    string
	IdToken  string
	Provider string
}

type sessionClaims struct {
	UserId string `json:"user_id"`
	jwt.RegisteredClaims
}

// cachedIdentity is the cache value behind a session token. The expiry is
// kept so a warm cache entry cannot outlive the token it stands for.
type cachedIdentity struct {
	userId    string
	expiresAt time.Time
}

// Gateway resolves connection credentials to user identities. There is no
// ambient "current user": callers pass credentials in, an identity or nil
// (anonymous) comes out.
type Gateway struct {
	cfg       *config.Config
	persister persistence.Persister
	cache     *lru.Cache[string, cachedIdentity]
}

func NewGateway(cfg *config.Config, persister persistence.Persister) (*Gateway, error) {
	cache, err := lru.New[string, cachedIdentity](identityCacheSize)
	if err != nil {
		return nil, err
	}
	return &Gateway{cfg: cfg, persister: persister, cache: cache}, nil
}

// Login verifies the password of the user registered under email and issues a
// session token. Unknown users and wrong passwords are indistinguishable to
// the caller.
func (g *Gateway) Login(email, password string) (string, *types.User, error) {
	if g.cfg.AuthConfig.JWTSecret == "" {
		return "", nil, ErrNoSecret
	}
	user, err := g.persister.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return "", nil, ErrUnauthenticated
		}
		return "", nil, err
	}
	if !user.IsActive {
		return "", nil, ErrUnauthenticated
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrUnauthenticated
	}
	now := time.Now()
	expiresAt := now.Add(time.Duration(g.cfg.TokenTTLMinutes()) * time.Minute)
	claims := &sessionClaims{
		UserId: user.Id,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "pingme",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(g.cfg.AuthConfig.JWTSecret))
	if err != nil {
		return "", nil, err
	}
	g.cache.Add(token, cachedIdentity{userId: user.Id, expiresAt: expiresAt})
	return token, user, nil
}

// Logout evicts the token from the identity cache. The token itself stays
// valid until it expires; clients are expected to discard it.
func (g *Gateway) Logout(token string) {
	g.cache.Remove(token)
}

// ResolveIdentity resolves the given credentials to a user. An unresolvable
// identity yields (nil, nil): the anonymous user. Callers fail closed on nil.
func (g *Gateway) ResolveIdentity(ctx context.Context, creds Credentials) (*types.User, error) {
	if creds.Token != "" {
		entry, ok := g.cache.Get(creds.Token)
		if ok && time.Now().Before(entry.expiresAt) {
			return g.lookupUser(entry.userId)
		}
		if ok {
			// the token behind this entry has expired, re-verification below
			// is the only way back in
			g.cache.Remove(creds.Token)
		}
		userId, expiresAt, err := g.verifySessionToken(creds.Token)
		if err != nil {
			globals.AppLogger.Debug("could not verify session token", "error", err)
			return nil, nil
		}
		g.cache.Add(creds.Token, cachedIdentity{userId: userId, expiresAt: expiresAt})
		return g.lookupUser(userId)
	}
	if creds.IdToken != "" && creds.Provider != "" {
		userId, err := g.verifyOIDCToken(ctx, creds.IdToken, creds.Provider)
		if err != nil {
			globals.AppLogger.Debug("could not verify oidc token", "error", err)
			return nil, nil
		}
		if userId == "" {
			return nil, nil
		}
		return g.lookupUserByEmail(userId)
	}
	return nil, nil
}

func (g *Gateway) verifySessionToken(token string) (string, time.Time, error) {
	if g.cfg.AuthConfig.JWTSecret == "" {
		return "", time.Time{}, ErrNoSecret
	}
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(g.cfg.AuthConfig.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", time.Time{}, err
	}
	if !parsed.Valid || claims.UserId == "" || claims.ExpiresAt == nil {
		return "", time.Time{}, jwt.ErrSignatureInvalid
	}
	return claims.UserId, claims.ExpiresAt.Time, nil
}

func (g *Gateway) lookupUser(userId string) (*types.User, error) {
	user := &types.User{Id: userId}
	err := g.persister.GetUser(user)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}
	return user, nil
}

func (g *Gateway) lookupUserByEmail(email string) (*types.User, error) {
	user, err := g.persister.GetUserByEmail(email)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}
	return user, nil
}

// GuestUser returns a transient guest identity with a generated nick, or nil
// if guest access is disabled. Guests are never persisted.
func (g *Gateway) GuestUser() *types.User {
	if !g.cfg.AuthConfig.AllowGuests {
		return nil
	}
	nick := goname.New(goname.FantasyMap).FirstLast() + " (guest)"
	return &types.User{
		Id:       "guest:" + nick,
		Name:     nick,
		IsActive: true,
	}
}

// HashPassword is the single place bcrypt cost is chosen.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
