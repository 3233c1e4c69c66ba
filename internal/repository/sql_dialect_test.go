package repository

import "testing"

func TestDayTextExprByDialectSQLite(t *testing.T) {
	got := dayTextExprByDialect("sqlite", "created_at")
	want := "CAST(date(created_at) AS TEXT)"
	if got != want {
		t.Fatalf("sqlite day expr mismatch, want %s got %s", want, got)
	}
}

func TestDayTextExprByDialectPostgres(t *testing.T) {
	want := "to_char(created_at::date, 'YYYY-MM-DD')"
	for _, dialect := range []string{"postgres", "postgresql", " Postgres "} {
		if got := dayTextExprByDialect(dialect, "created_at"); got != want {
			t.Fatalf("postgres day expr mismatch for %q, want %s got %s", dialect, want, got)
		}
	}
}

func TestDayTextExprByDialectUnknownFallsBackToSQLite(t *testing.T) {
	got := dayTextExprByDialect("", "paid_at")
	want := "CAST(date(paid_at) AS TEXT)"
	if got != want {
		t.Fatalf("fallback day expr mismatch, want %s got %s", want, got)
	}
}

func TestDBDialectNameNilDB(t *testing.T) {
	if got := dbDialectName(nil); got != "sqlite" {
		t.Fatalf("nil db must default to sqlite, got %s", got)
	}
}
