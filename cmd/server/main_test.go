package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"fleetops/internal/testutil"
	"fleetops/models"
)

func TestIssueToken(t *testing.T) {
	if err := issueToken(true, "ada:admin", 0); err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if err := issueToken(true, "ada", 0); err == nil {
		t.Fatalf("expected error without kind")
	}
	if err := issueToken(true, "ada:root", 0); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestBootstrapAdmin_Idempotent(t *testing.T) {
	store := testutil.NewStore(t, "mainbootstrap")
	ctx := context.Background()

	if err := bootstrapAdmin(ctx, store, "", zerolog.Nop()); err != nil {
		t.Fatalf("empty name: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := bootstrapAdmin(ctx, store, "root", zerolog.Nop()); err != nil {
			t.Fatalf("bootstrap #%d: %v", i, err)
		}
	}
	u, err := store.Users.GetByUsername(ctx, "root")
	if err != nil || u == nil || u.Role != models.RoleAdmin {
		t.Fatalf("expected admin root, got %+v err=%v", u, err)
	}
}
