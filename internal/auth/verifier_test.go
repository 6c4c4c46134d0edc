package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type keyServer struct {
	srv     *httptest.Server
	keys    map[string]string
	fetches int
}

func newKeyServer(t *testing.T) *keyServer {
	t.Helper()
	ks := &keyServer{keys: map[string]string{}}
	ks.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ks.fetches++
		json.NewEncoder(w).Encode(ks.keys)
	}))
	t.Cleanup(ks.srv.Close)
	return ks
}

func (ks *keyServer) addKey(t *testing.T, kid string) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	ks.keys[kid] = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return priv
}

func signProxyToken(t *testing.T, priv *rsa.PrivateKey, kid, subject, audience string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   subject,
		"aud":   audience,
		"email": "dev@example.com",
		"name":  "Dev User",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestVerifier(ks *keyServer, audience string) *TokenVerifier {
	v := NewTokenVerifier(ks.srv.URL, audience, 0)
	v.client = ks.srv.Client()
	return v
}

func TestVerifyValidToken(t *testing.T) {
	ks := newKeyServer(t)
	priv := ks.addKey(t, "kid-1")
	v := newTestVerifier(ks, "clipvault")

	identity, err := v.Verify(context.Background(), signProxyToken(t, priv, "kid-1", "subject-1", "clipvault"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.Subject != "subject-1" || identity.Email != "dev@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestVerifyCachesKeySet(t *testing.T) {
	ks := newKeyServer(t)
	priv := ks.addKey(t, "kid-1")
	v := newTestVerifier(ks, "")

	token := signProxyToken(t, priv, "kid-1", "subject-1", "")
	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), token); err != nil {
			t.Fatalf("Verify #%d: %v", i, err)
		}
	}
	if ks.fetches != 1 {
		t.Fatalf("expected one key fetch within the TTL, got %d", ks.fetches)
	}
}

func TestVerifyRefreshesOnExpiry(t *testing.T) {
	ks := newKeyServer(t)
	priv := ks.addKey(t, "kid-1")
	v := newTestVerifier(ks, "")

	current := time.Now()
	v.now = func() time.Time { return current }

	token := signProxyToken(t, priv, "kid-1", "subject-1", "")
	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	current = current.Add(2 * time.Hour)
	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("Verify after expiry: %v", err)
	}
	if ks.fetches != 2 {
		t.Fatalf("expected a refresh after the TTL, got %d fetches", ks.fetches)
	}
}

func TestVerifyRefreshesOnUnknownKid(t *testing.T) {
	ks := newKeyServer(t)
	priv1 := ks.addKey(t, "kid-1")
	v := newTestVerifier(ks, "")

	if _, err := v.Verify(context.Background(), signProxyToken(t, priv1, "kid-1", "s", "")); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// Key rotation: a new kid appears before the cache TTL elapses.
	priv2 := ks.addKey(t, "kid-2")
	if _, err := v.Verify(context.Background(), signProxyToken(t, priv2, "kid-2", "s", "")); err != nil {
		t.Fatalf("Verify with rotated key: %v", err)
	}
	if ks.fetches != 2 {
		t.Fatalf("expected an immediate refresh for the unknown kid, got %d fetches", ks.fetches)
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	ks := newKeyServer(t)
	priv := ks.addKey(t, "kid-1")
	v := newTestVerifier(ks, "clipvault")

	if _, err := v.Verify(context.Background(), signProxyToken(t, priv, "kid-1", "s", "other-app")); err == nil {
		t.Fatal("expected rejection for a mismatched audience")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	ks := newKeyServer(t)
	ks.addKey(t, "kid-1")
	v := newTestVerifier(ks, "")

	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	if _, err := v.Verify(context.Background(), signProxyToken(t, other, "kid-1", "s", "")); err == nil {
		t.Fatal("expected rejection for a token signed with the wrong key")
	}
}

func TestVerifyRejectsMissingKid(t *testing.T) {
	ks := newKeyServer(t)
	priv := ks.addKey(t, "kid-1")
	v := newTestVerifier(ks, "")

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "s",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := v.Verify(context.Background(), signed); err == nil {
		t.Fatal("expected rejection for a token without a key id")
	}
}
