package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultKeyTTL = time.Hour

// ErrKeyNotFound is returned when the token's key ID is absent from the
// fetched key set even after a refresh.
var ErrKeyNotFound = errors.New("signing key not found in key set")

// TokenVerifier validates RS256 tokens minted by an external identity proxy.
// It owns its key cache: the fetched PEM certificate set is kept together
// with an expiry timestamp and refreshed on demand, never stored in package
// state.
type TokenVerifier struct {
	keysURL  string
	audience string
	client   *http.Client
	keyTTL   time.Duration
	now      func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// ProxyIdentity is the subject extracted from a verified proxy token.
type ProxyIdentity struct {
	Subject string
	Email   string
	Name    string
}

type proxyClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// NewTokenVerifier creates a verifier fetching keys from keysURL and
// requiring the given audience on every token.
func NewTokenVerifier(keysURL, audience string, timeout time.Duration) *TokenVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TokenVerifier{
		keysURL:  keysURL,
		audience: audience,
		client:   &http.Client{Timeout: timeout},
		keyTTL:   defaultKeyTTL,
		now:      time.Now,
	}
}

// Verify parses and validates an RS256 proxy token, refreshing the cached
// key set when it has expired or when the token references an unknown key.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (ProxyIdentity, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(rawToken, &proxyClaims{})
	if err != nil {
		return ProxyIdentity{}, fmt.Errorf("malformed token: %w", err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return ProxyIdentity{}, errors.New("token has no key id")
	}

	key, err := v.keyFor(ctx, kid)
	if err != nil {
		return ProxyIdentity{}, err
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	claims := &proxyClaims{}
	_, err = jwt.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return ProxyIdentity{}, fmt.Errorf("verify token: %w", err)
	}
	if claims.Subject == "" {
		return ProxyIdentity{}, errors.New("token has no subject")
	}
	return ProxyIdentity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// keyFor returns the public key for kid, refreshing the cache when stale.
// An unknown kid forces one refresh before giving up, so key rotation does
// not require waiting for the TTL.
func (v *TokenVerifier) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keys != nil && v.now().Before(v.expiresAt) {
		if key, ok := v.keys[kid]; ok {
			return key, nil
		}
	}
	if err := v.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

func (v *TokenVerifier) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.keysURL, nil)
	if err != nil {
		return fmt.Errorf("build key request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch signing keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch signing keys: unexpected status %d", resp.StatusCode)
	}

	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(raw))
	for kid, pemCert := range raw {
		key, err := parsePublicKey([]byte(pemCert))
		if err != nil {
			return fmt.Errorf("parse key %s: %w", kid, err)
		}
		keys[kid] = key
	}

	v.keys = keys
	v.expiresAt = v.now().Add(v.keyTTL)
	return nil
}

// parsePublicKey accepts either an X.509 certificate or a bare public key
// in PEM form.
func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		rsaKey, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate key is not RSA")
		}
		return rsaKey, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return rsaKey, nil
}
