package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func withSecret(t *testing.T) {
	t.Helper()
	ResetSecretForTests()
	t.Setenv(secretEnvVariable, "test-secret")
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t)

	token, err := GenerateToken("ops@example.com", []string{"Operator", "operator", " "}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "ops@example.com" {
		t.Fatalf("subject %q", claims.Subject)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != RoleOperator {
		t.Fatalf("roles %v", claims.Roles)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	withSecret(t)

	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := ParseAndValidate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: %v", tok, err)
		}
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	withSecret(t)

	token, err := GenerateToken("ops", []string{RoleOperator}, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	ResetSecretForTests()
	t.Setenv(secretEnvVariable, "")
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("ops", nil, time.Minute); err == nil {
		t.Fatal("expected error without a secret")
	}
}

func TestContextRoles(t *testing.T) {
	ctx := ContextWithSubject(context.Background(), "ops", []string{RoleOperator})

	if sub, ok := SubjectFromContext(ctx); !ok || sub != "ops" {
		t.Fatalf("subject %q ok=%v", sub, ok)
	}
	if !HasRole(ctx, "OPERATOR") {
		t.Fatal("role check should be case-insensitive")
	}
	if HasRole(ctx, "admin") {
		t.Fatal("unexpected role")
	}
	if HasRole(context.Background(), RoleOperator) {
		t.Fatal("empty context has roles")
	}
}
