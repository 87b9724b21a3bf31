package audit

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nerrad567/warden-core/internal/infrastructure/database"
	"github.com/nerrad567/warden-core/migrations"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "audit-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []*AuditLog{
		{Action: "login", EntityType: "user", EntityID: "usr-1", UserID: "usr-1", Source: "auth", CreatedAt: base},
		{Action: "login_failed", EntityType: "user", Source: "auth", Details: map[string]any{"user_name": "bob"}, CreatedAt: base.Add(time.Minute)},
		{Action: "logout", EntityType: "session", EntityID: "fam-1", UserID: "usr-1", Source: "auth", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if e.ID == "" {
			t.Fatal("Create() should generate an ID")
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Logs) != 3 || all.Limit != defaultPageSize {
		t.Fatalf("List() = %+v", all)
	}
	if all.Logs[0].Action != "logout" {
		t.Errorf("newest first: got %q", all.Logs[0].Action)
	}
	if all.Logs[1].Details["user_name"] != "bob" {
		t.Errorf("details not round-tripped: %+v", all.Logs[1].Details)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by user", Filter{UserID: "usr-1"}, 2},
		{"by action", Filter{Action: "login_failed"}, 1},
		{"by entity", Filter{EntityType: "session", EntityID: "fam-1"}, 1},
		{"since", Filter{Since: base.Add(time.Minute)}, 2},
		{"no match", Filter{UserID: "usr-2"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.want || len(res.Logs) != tt.want {
				t.Errorf("List() total=%d logs=%d, want %d", res.Total, len(res.Logs), tt.want)
			}
		})
	}
}

func TestSQLiteRepository_ListPaging(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := context.Background()

	for i := range 5 {
		e := &AuditLog{Action: "login", EntityType: "user", Source: "auth", CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := repo.Create(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 5 || len(page.Logs) != 1 {
		t.Errorf("List() total=%d logs=%d, want 5 and 1", page.Total, len(page.Logs))
	}

	clamped, _ := repo.List(ctx, Filter{Limit: 10_000, Offset: -3})
	if clamped.Limit != maxPageSize || clamped.Offset != 0 {
		t.Errorf("limit/offset not clamped: %d/%d", clamped.Limit, clamped.Offset)
	}
}

func TestSQLiteRepository_Errors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	boom := errors.New("database is locked")
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(boom)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_logs WHERE user_id = \\?").
		WithArgs("usr-1").
		WillReturnError(boom)

	repo := NewSQLiteRepository(db)
	if err := repo.Create(context.Background(), &AuditLog{Action: "login", EntityType: "user", Source: "auth"}); !errors.Is(err, boom) {
		t.Errorf("Create() error = %v, want wrapped %v", err, boom)
	}
	if _, err := repo.List(context.Background(), Filter{UserID: "usr-1"}); !errors.Is(err, boom) {
		t.Errorf("List() error = %v, want wrapped %v", err, boom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLiteRepository_SubSecondOrdering(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)

	// 12:00:05 and 12:00:05.1 compare wrongly as variable-width text.
	for i, action := range []string{"first", "second", "third"} {
		e := &AuditLog{Action: action, EntityType: "user", Source: "auth", CreatedAt: base.Add(time.Duration(i) * 100 * time.Millisecond)}
		if err := repo.Create(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	res, err := repo.List(ctx, Filter{Since: base.Add(50 * time.Millisecond)})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(res.Logs) != 2 || res.Logs[0].Action != "third" || res.Logs[1].Action != "second" {
		t.Fatalf("List() = %+v, want third then second", res.Logs)
	}
	if !res.Logs[0].CreatedAt.Equal(base.Add(200 * time.Millisecond)) {
		t.Errorf("CreatedAt = %v, lost precision", res.Logs[0].CreatedAt)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	for _, in := range []string{"2026-03-01T12:00:05.000000000Z", "2026-03-01T12:00:05Z", "2026-03-01T13:00:05+01:00"} {
		got, err := parseTimestamp(in)
		if err != nil {
			t.Errorf("parseTimestamp(%q) error = %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseTimestamp("yesterday"); err == nil {
		t.Error("parseTimestamp(\"yesterday\") should fail")
	}
}
