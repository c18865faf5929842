package auth

import (
	"context"
	"testing"
	"time"
)

func TestTokenIssuerIssuesValidatorCompatibleTokens(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }

	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "fieldlog-test",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresIn, err := issuer.IssueToken(context.Background(), Subject{
		PersonID:         12,
		DepartmentID:     4,
		DisplayName:      " Jane Observer ",
		Roles:            []string{"USER"},
		WritablePrograms: []string{"SIH-OBSDEB"},
	})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "fieldlog-test",
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	claims, err := validator.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if claims.Subject != "12" || claims.PersonID != 12 {
		t.Fatalf("unexpected subject %s / %d", claims.Subject, claims.PersonID)
	}
	if claims.DisplayName != "Jane Observer" {
		t.Fatalf("unexpected display name %q", claims.DisplayName)
	}
	if claims.DepartmentID != 4 {
		t.Fatalf("unexpected department %d", claims.DepartmentID)
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	_, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: nil,
		TokenTTL:      30 * time.Minute,
	})
	if err == nil {
		t.Fatalf("expected constructor error for missing secret")
	}
}

func TestTokenIssuerRejectsMissingPerson(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.IssueToken(context.Background(), Subject{}); err == nil {
		t.Fatalf("expected error for missing person")
	}
}

func TestTokenIssuerDefaultsTTL(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	_, expiresIn, err := issuer.IssueToken(context.Background(), Subject{PersonID: 1})
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}
	if expiresIn != int64(defaultTokenTTL.Seconds()) {
		t.Fatalf("expected default ttl, got %d", expiresIn)
	}
}
