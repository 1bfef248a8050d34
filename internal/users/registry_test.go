package users

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/syntaxvpn/vpnpool/internal/db"
)

func TestEnsureUser(t *testing.T) {
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "users-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	r := NewRegistry(conn)
	ctx := context.Background()

	isNew, err := r.EnsureUser(ctx, 555, "alice", "Alice A")
	if err != nil || !isNew {
		t.Fatalf("first EnsureUser = %v, %v", isNew, err)
	}
	isNew, err = r.EnsureUser(ctx, 555, "", "Alice B")
	if err != nil || isNew {
		t.Fatalf("second EnsureUser = %v, %v", isNew, err)
	}

	user, err := r.Get(ctx, 555)
	if err != nil || user == nil {
		t.Fatalf("get: %+v %v", user, err)
	}
	if user.Username != "alice" || user.FullName != "Alice B" {
		t.Fatalf("unexpected display fields %+v", user)
	}

	missing, err := r.Get(ctx, 1)
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown user, got %+v %v", missing, err)
	}
	if _, errZero := r.EnsureUser(ctx, 0, "", ""); errZero == nil {
		t.Fatalf("expected error for zero id")
	}
}
