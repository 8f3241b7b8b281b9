package auth

import (
	"strings"
	"testing"
	"time"
)

func TestIssueParseRoundTrip(t *testing.T) {
	j := &JWTer{Secret: []byte("test-secret"), Issuer: "postboard"}
	tok, err := j.Issue(42)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok == "" {
		t.Fatalf("expected non-empty token")
	}
	claims, err := j.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("expected user id 42, got %d", claims.UserID)
	}
	if claims.ExpiresAt != nil {
		t.Fatalf("zero TTL must not set an expiry claim")
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	issuer := &JWTer{Secret: []byte("secret-a")}
	verifier := &JWTer{Secret: []byte("secret-b")}
	tok, err := issuer.Issue(1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Parse(tok); err == nil {
		t.Fatalf("expected signature mismatch error")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	j := &JWTer{Secret: []byte("test-secret")}
	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := j.Parse(tok); err == nil {
			t.Fatalf("expected error for token %q", tok)
		}
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	j := &JWTer{Secret: []byte("test-secret")}
	tok, err := j.Issue(7)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", tok)
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := j.Parse(tampered); err == nil {
		t.Fatalf("expected error for tampered payload")
	}
}

func TestIssueWithTTLSetsExpiry(t *testing.T) {
	j := &JWTer{Secret: []byte("test-secret"), TTL: time.Hour}
	tok, err := j.Issue(3)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := j.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.ExpiresAt == nil {
		t.Fatalf("expected expiry claim")
	}
}

func TestIssueWithoutSecretFails(t *testing.T) {
	j := &JWTer{}
	if _, err := j.Issue(1); err == nil {
		t.Fatalf("expected error without secret")
	}
}
