package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAuthorize(t *testing.T) {
	svc := New("secret")
	token, err := svc.IssueToken("owner-1", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	principal, err := svc.Authorize(context.Background(), "  "+token+" ")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if principal.UserID != "owner-1" {
		t.Fatalf("UserID = %q, want owner-1", principal.UserID)
	}
}

func TestAuthorizeRejects(t *testing.T) {
	svc := New("secret")
	foreign, _ := New("other").IssueToken("owner-1", time.Minute)
	anonymous, _ := svc.IssueToken("", time.Minute)

	for name, token := range map[string]string{
		"empty":     "",
		"garbage":   "not-a-jwt",
		"foreign":   foreign,
		"anonymous": anonymous,
	} {
		if _, err := svc.Authorize(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}
