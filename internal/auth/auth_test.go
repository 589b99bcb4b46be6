package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123"

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"abc":          "abc",
		"":             "",
		"Bearer":       "Bearer",
	}
	for in, want := range cases {
		if got := BearerToken(in); got != want {
			t.Errorf("BearerToken(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestNewJWTVerifier_ShortSecret(t *testing.T) {
	if _, err := NewJWTVerifier("short", ""); err == nil {
		t.Fatalf("expected error for a short secret")
	}
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v, err := NewJWTVerifier(testSecret, "battle")
	if err != nil {
		t.Fatal(err)
	}
	tok, err := v.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	sub, err := v.Verify(context.Background(), tok)
	if err != nil || sub != "user-1" {
		t.Fatalf("Verify = %q, %v", sub, err)
	}
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v, _ := NewJWTVerifier(testSecret, "battle")
	other, _ := NewJWTVerifier(strings.Repeat("x", 32), "battle")
	wrongIss, _ := NewJWTVerifier(testSecret, "someone-else")

	past, _ := NewJWTVerifier(testSecret, "battle")
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := past.Issue("user-1", time.Minute)

	forged, _ := other.Issue("user-1", time.Hour)
	badIss, _ := wrongIss.Issue("user-1", time.Hour)
	noSub, _ := v.Issue("", time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1", Issuer: "battle"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"expired":  expired,
		"forged":   forged,
		"issuer":   badIss,
		"no sub":   noSub,
		"alg none": none,
		"garbage":  "not.a.token",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidCredential) {
				t.Fatalf("err = %v; want ErrInvalidCredential", err)
			}
		})
	}
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("empty: err = %v", err)
	}
}

func TestHeaderVerifier(t *testing.T) {
	var v Verifier = HeaderVerifier{}
	if sub, err := v.Verify(context.Background(), " u-7 "); err != nil || sub != "u-7" {
		t.Fatalf("Verify = %q, %v", sub, err)
	}
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := v.Verify(context.Background(), strings.Repeat("a", 200)); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("long: %v", err)
	}
}
