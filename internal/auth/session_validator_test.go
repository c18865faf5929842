package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "device_session"
	testSessionPersonID      = int64(42)
	testSessionSubject       = "42"
	testSessionEmail         = "observer@example.com"
)

func signTestClaims(testContext *testing.T, claims SessionClaims) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signTestClaims(t, SessionClaims{
		PersonID:         testSessionPersonID,
		Email:            testSessionEmail,
		Roles:            []string{"SUPERVISOR"},
		WritablePrograms: []string{"SIH-OBSMER"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   testSessionSubject,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.PersonID != testSessionPersonID {
		t.Fatalf("unexpected person id: %d", claims.PersonID)
	}
	if len(claims.WritablePrograms) != 1 || claims.WritablePrograms[0] != "SIH-OBSMER" {
		t.Fatalf("unexpected writable programs: %#v", claims.WritablePrograms)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signTestClaims(t, SessionClaims{
		PersonID: testSessionPersonID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   testSessionSubject,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(-time.Hour)),
		},
	})

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsMismatchedSubject(t *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte(testSessionSigningSecret)})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signTestClaims(t, SessionClaims{
		PersonID: testSessionPersonID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrMissingSessionSubject) {
		t.Fatalf("expected subject error, got %v", err)
	}
}

func TestSessionValidatorValidateRequestUsesCookie(t *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signTestClaims(t, SessionClaims{
		PersonID: testSessionPersonID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   testSessionSubject,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	request := httptest.NewRequest(http.MethodPost, "/api/queries/Vessel", http.NoBody)
	request.AddCookie(&http.Cookie{
		Name:  testSessionCookieName,
		Value: signed,
	})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.PersonID != testSessionPersonID {
		t.Fatalf("unexpected person id: %d", claims.PersonID)
	}
}

func TestSessionValidatorValidateRequestPrefersBearer(t *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte(testSessionSigningSecret)})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	signed := signTestClaims(t, SessionClaims{
		PersonID: testSessionPersonID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   testSessionSubject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	request := httptest.NewRequest(http.MethodPost, "/api/mutations/save", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+signed)
	request.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "garbage"})

	if _, err := validator.ValidateRequest(request); err != nil {
		t.Fatalf("validation failed: %v", err)
	}

	request.Header.Set("Authorization", "Basic abc")
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token for basic scheme, got %v", err)
	}
}

func TestReadClaimsSkipsSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		PersonID:     testSessionPersonID,
		DepartmentID: 3,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  DefaultIssuer,
			Subject: testSessionSubject,
		},
	})
	signed, err := token.SignedString([]byte("device-does-not-know-this"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	claims, err := ReadClaims(signed)
	if err != nil {
		t.Fatalf("unexpected read failure: %v", err)
	}
	if claims.DepartmentID != 3 {
		t.Fatalf("unexpected department id: %d", claims.DepartmentID)
	}

	if _, err := ReadClaims("invalid.token"); err == nil {
		t.Fatalf("expected malformed token to fail")
	}
}
