package repository

import (
	"context"
	"errors"
	"testing"

	"fleetops/internal/db"
	"fleetops/models"
)

func TestUserRepository_CRUDAndRoles(t *testing.T) {
	d, err := db.Open("file:userrepo?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	repo := NewUserRepository(d)
	ctx := context.Background()

	u, err := repo.Create(ctx, "alice", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == 0 || u.Username != "alice" || u.Role != models.RoleViewer {
		t.Fatalf("unexpected created user: %+v", u)
	}
	if _, err := repo.Create(ctx, "mallory", "superuser"); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
	if _, err := repo.Create(ctx, "  ", models.RoleAdmin); err == nil {
		t.Fatalf("expected empty username to be rejected")
	}
	if _, err := repo.Create(ctx, "alice", models.RoleAdmin); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
	bob, err := repo.Create(ctx, "bob", " Operator ")
	if err != nil || bob.Role != models.RoleOperator {
		t.Fatalf("create bob: %v %+v", err, bob)
	}

	g, err := repo.GetByUsername(ctx, "alice")
	if err != nil || g == nil || g.ID != u.ID {
		t.Fatalf("get by username: %v %+v", err, g)
	}
	if missing, err := repo.GetByUsername(ctx, "nobody"); err != nil || missing != nil {
		t.Fatalf("expected nil, nil for unknown user: %+v %v", missing, err)
	}

	up, err := repo.UpdateRole(ctx, "alice", models.RoleOperator)
	if err != nil || up == nil || up.Role != models.RoleOperator {
		t.Fatalf("update role: %v %+v", err, up)
	}
	if _, err := repo.UpdateRole(ctx, "nobody", models.RoleAdmin); !errors.Is(err, ErrNoUser) {
		t.Fatalf("expected ErrNoUser, got %v", err)
	}

	list, err := repo.List(ctx, 10, 0)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v len=%d", err, len(list))
	}
	page, err := repo.List(ctx, 10, u.ID)
	if err != nil || len(page) != 1 || page[0].Username != "bob" {
		t.Fatalf("list after alice: %v %+v", err, page)
	}

	if err := repo.Delete(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, u.ID); !errors.Is(err, ErrNoUser) {
		t.Fatalf("expected ErrNoUser on second delete, got %v", err)
	}
	gone, err := repo.GetByID(ctx, u.ID)
	if err != nil || gone != nil {
		t.Fatalf("expected user deleted, got: %+v err=%v", gone, err)
	}
}
