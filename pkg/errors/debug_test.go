package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpCollectsPostgresDiagnostics(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23514", ConstraintName: "ck_stock_items_on_hand", TableName: "stock_items", Message: "violates check"}
	err := Wrap(CodeInvalidAdjustment, fmt.Errorf("update: %w", pgErr), "adjust")

	d := Dump(err)
	if d.Code != CodeInvalidAdjustment || d.Retryable {
		t.Fatalf("unexpected code/retryable %s/%v", d.Code, d.Retryable)
	}
	if d.PG == nil || d.PG.Code != "23514" || d.PG.Constraint != "ck_stock_items_on_hand" {
		t.Fatalf("unexpected pg diagnostics %+v", d.PG)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected 3 chain links, got %v", d.Chain)
	}

	fields := d.Fields()
	if fields["pg_table"] != "stock_items" || fields["error_code"] != CodeInvalidAdjustment {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatalf("empty diagnostics should be omitted: %v", fields)
	}
}

func TestPostgresDiagnosticsFromPQ(t *testing.T) {
	diag := PostgresDiagnostics(&pq.Error{Code: "55P03", Table: "stock_reservations"})
	if diag == nil || diag.Code != "55P03" || diag.Table != "stock_reservations" {
		t.Fatalf("unexpected diagnostics %+v", diag)
	}
	if PostgresDiagnostics(stdErrors.New("plain")) != nil {
		t.Fatalf("plain errors carry no diagnostics")
	}
}

func TestDumpPlainError(t *testing.T) {
	d := Dump(stdErrors.New("boom"))
	fields := d.Fields()
	if fields["error"] != "boom" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["error_chain"]; ok {
		t.Fatalf("single-link chains are not logged")
	}
	if empty := Dump(nil); empty.TopMessage != "" || empty.Chain != nil || empty.PG != nil {
		t.Fatalf("nil error should dump empty")
	}
}
