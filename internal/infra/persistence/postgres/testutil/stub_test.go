package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	insert := "INSERT INTO accounts(address, owner) VALUES($1,$2) ON CONFLICT(address) DO UPDATE SET owner=EXCLUDED.owner"
	for _, owner := range []string{"o1", "o2"} {
		if _, err := conn.ExecContext(ctx, insert, []driver.NamedValue{{Value: "a1"}, {Value: owner}}); err != nil {
			t.Fatalf("ExecContext insert: %v", err)
		}
	}
	if rows := conn.Tables["accounts"]; len(rows) != 1 || rows[0]["owner"] != "o2" {
		t.Fatalf("expected upserted row, got %v", rows)
	}

	rows, err := conn.QueryContext(ctx, "SELECT address, owner FROM accounts", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "a1" || dest[1] != "o2" {
		t.Fatalf("unexpected row values: %v", dest)
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM accounts WHERE address = $1", []driver.NamedValue{{Value: "a1"}}); err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if len(conn.Tables["accounts"]) != 0 {
		t.Fatalf("expected row deleted, got %v", conn.Tables["accounts"])
	}
}

func TestStubTxRollbackRestoresTables(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "INSERT INTO accounts(address) VALUES($1)", []driver.NamedValue{{Value: "a1"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(conn.Tables["accounts"]) != 0 {
		t.Fatalf("expected rollback to discard rows")
	}
}

func TestStubParsersRejectUnknownShapes(t *testing.T) {
	if _, _, err := parseInsert("INSERT accounts"); err == nil {
		t.Fatalf("expected insert parse error")
	}
	if _, _, err := parseDelete("DELETE FROM accounts"); err == nil {
		t.Fatalf("expected delete parse error")
	}
	if _, _, err := parseSelect("SELECT address"); err == nil {
		t.Fatalf("expected select parse error")
	}
}
