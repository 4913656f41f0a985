package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated username.
	ContextKeyUserID = "userID"
	// ContextKeyUserType is the gin context key for the caller's user type.
	ContextKeyUserType = "userType"
	// ContextKeyIsAdmin is the gin context key for admin authorization.
	ContextKeyIsAdmin = "isAdmin"
	// ContextKeyIdentity is the gin context key holding the resolved *Identity.
	ContextKeyIdentity = "identity"
)

// Identity holds the resolved caller identity from a bearer token.
type Identity struct {
	Username string
	Type     model.UserType
	IsAdmin  bool
}

var (
	errInvalidJWT      = errors.New("could not validate credentials")
	errMissingIdentity = errors.New("JWT missing identity claims")
	errUnknownUser     = errors.New("user not found")
)

// TokenResolver resolves bearer tokens to caller identities. Locally issued
// tokens are tried first, then OIDC tokens when an issuer is configured.
type TokenResolver struct {
	issuer   *TokenIssuer
	verifier *oidc.IDTokenVerifier
	users    registrystore.UserStore
	cfg      *config.Config
}

// NewTokenResolver creates a TokenResolver from the application config. It performs
// one-time OIDC provider discovery if OIDCIssuer is configured.
func NewTokenResolver(ctx context.Context, cfg *config.Config, issuer *TokenIssuer, users registrystore.UserStore) *TokenResolver {
	return &TokenResolver{
		issuer:   issuer,
		verifier: oidcVerifier(ctx, cfg),
		users:    users,
		cfg:      cfg,
	}
}

func oidcVerifier(ctx context.Context, cfg *config.Config) *oidc.IDTokenVerifier {
	oidcIssuer := cfg.OIDCIssuer
	if oidcIssuer == "" {
		return nil
	}
	expectedIssuer := oidcIssuer
	discoveryURL := cfg.OIDCDiscoveryURL
	if discoveryURL != "" && discoveryURL != oidcIssuer {
		// NewProvider fetches from its issuer arg, so pass the discovery URL
		// there and accept the mismatched issuer in the discovery document.
		ctx = oidc.InsecureIssuerURLContext(ctx, oidcIssuer)
		oidcIssuer = discoveryURL
	}
	provider, err := oidc.NewProvider(ctx, oidcIssuer)
	if err != nil {
		log.Error("Failed to initialize OIDC provider; only local tokens are accepted", "issuer", oidcIssuer, "err", err)
		return nil
	}
	log.Info("OIDC auth enabled", "issuer", expectedIssuer)

	if expectedIssuer != oidcIssuer {
		var providerClaims struct {
			JWKSURI string `json:"jwks_uri"`
		}
		if err := provider.Claims(&providerClaims); err == nil && providerClaims.JWKSURI != "" {
			keySet := oidc.NewRemoteKeySet(ctx, providerClaims.JWKSURI)
			return oidc.NewVerifier(expectedIssuer, keySet, &oidc.Config{SkipClientIDCheck: true})
		}
	}
	return provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
}

// Resolve maps a bearer token (without the "Bearer " prefix) to the stored user.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken string) (*Identity, error) {
	username, err := r.username(ctx, bearerToken)
	if err != nil {
		return nil, err
	}

	user, err := r.users.GetUser(ctx, username)
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			return nil, errUnknownUser
		}
		return nil, err
	}
	return &Identity{
		Username: user.Username,
		Type:     user.Type,
		IsAdmin:  user.IsAdmin() || r.cfg.IsAdminUser(user.Username),
	}, nil
}

func (r *TokenResolver) username(ctx context.Context, bearerToken string) (string, error) {
	if r.issuer != nil {
		sub, err := r.issuer.Verify(bearerToken)
		if err == nil {
			return sub, nil
		}
		if r.verifier == nil {
			return "", errors.Join(errInvalidJWT, err)
		}
	}
	if r.verifier == nil {
		return "", errInvalidJWT
	}

	idToken, err := r.verifier.Verify(ctx, bearerToken)
	if err != nil {
		return "", errors.Join(errInvalidJWT, err)
	}
	var claims struct {
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
		UPN               string `json:"upn"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", errors.Join(errInvalidJWT, err)
	}
	switch {
	case claims.PreferredUsername != "":
		return claims.PreferredUsername, nil
	case claims.UPN != "":
		return claims.UPN, nil
	case claims.Sub != "":
		return claims.Sub, nil
	}
	return "", errMissingIdentity
}

// --- Gin HTTP middleware ---

// GetUserID returns the authenticated username from the gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetUserType returns the caller's user type from the gin context.
func GetUserType(c *gin.Context) model.UserType {
	v, _ := c.Get(ContextKeyUserType)
	t, _ := v.(model.UserType)
	return t
}

// IsAdmin returns true if the request is from an admin.
func IsAdmin(c *gin.Context) bool {
	v, _ := c.Get(ContextKeyIsAdmin)
	b, _ := v.(bool)
	return b
}

// GetIdentity returns the resolved identity, or nil for anonymous requests.
func GetIdentity(c *gin.Context) *Identity {
	v, _ := c.Get(ContextKeyIdentity)
	id, _ := v.(*Identity)
	return id
}

// SetIdentity stores id in the gin context under all identity keys.
func SetIdentity(c *gin.Context, id *Identity) {
	c.Set(ContextKeyIdentity, id)
	c.Set(ContextKeyUserID, id.Username)
	c.Set(ContextKeyUserType, id.Type)
	c.Set(ContextKeyIsAdmin, id.IsAdmin)
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "error": msg})
}

// AuthMiddleware returns a gin middleware that extracts user identity from the Authorization header
// using the provided TokenResolver.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			log.Info("Auth rejected: missing Authorization header", "method", c.Request.Method, "path", c.Request.URL.Path)
			unauthorized(c, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			log.Info("Auth rejected: invalid Authorization header; expected Bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
			unauthorized(c, "invalid Authorization header; expected Bearer token")
			return
		}

		id, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			unauthorized(c, "could not validate credentials")
			return
		}

		SetIdentity(c, id)
		c.Next()
	}
}
