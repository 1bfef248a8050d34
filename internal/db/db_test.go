package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/syntaxvpn/vpnpool/internal/models"
	"gorm.io/gorm"
)

func openMigrated(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := Open("file:" + filepath.Join(t.TempDir(), "vpnpool-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = Close(conn) })
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestOpen_RejectsEmptyDSN(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestIsSQLiteDSN(t *testing.T) {
	cases := map[string]bool{
		"file:vpn.db":                            true,
		":memory:":                               true,
		"/var/lib/vpnpool/vpn.db":                true,
		"postgres://u:p@localhost:5432/vpnpool":  false,
		"host=localhost user=vpn dbname=vpnpool": false,
	}
	for dsn, want := range cases {
		if got := IsSQLiteDSN(dsn); got != want {
			t.Fatalf("IsSQLiteDSN(%q) = %v, want %v", dsn, got, want)
		}
	}
}

func TestMigrate_IsRepeatable(t *testing.T) {
	conn := openMigrated(t)
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
	if SupportsRowLocks(conn) {
		t.Fatalf("sqlite must not use row locks")
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("second migrate: %v", errMigrate)
	}
}

func TestMigrate_OneActiveSubscriptionPerUser(t *testing.T) {
	conn := openMigrated(t)
	now := time.Now().UTC()
	first := models.Subscription{
		TelegramID: 42, PlanID: "plan_1", UUID: "u-1", Server: "germany", Link: "vless://u-1",
		StartDate: now, EndDate: now.Add(24 * time.Hour), IsActive: true,
	}
	if errCreate := conn.Create(&first).Error; errCreate != nil {
		t.Fatalf("create first: %v", errCreate)
	}
	second := first
	second.ID = 0
	second.UUID = "u-2"
	errCreate := conn.Create(&second).Error
	if errCreate == nil {
		t.Fatalf("expected unique violation for second active subscription")
	}
	if !IsUniqueViolation(errCreate) {
		t.Fatalf("expected unique violation, got %v", errCreate)
	}

	inactive := first
	inactive.ID = 0
	inactive.UUID = "u-3"
	inactive.IsActive = false
	if errInactive := conn.Create(&inactive).Error; errInactive != nil {
		t.Fatalf("inactive rows must not conflict: %v", errInactive)
	}
}

func TestIsUniqueViolation_Postgres(t *testing.T) {
	err := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(err) {
		t.Fatalf("expected 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(nil) {
		t.Fatalf("nil is not a unique violation")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("serialization failure should be transient")
	}
	if !IsTransient(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatalf("sqlite busy should be transient")
	}
	if IsTransient(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded must not be retried")
	}
	if IsTransient(errors.New("record not found")) {
		t.Fatalf("plain errors are not transient")
	}
}

func TestRetry_RetriesTransientOnly(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	err = Retry(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", calls)
	}
}
