package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubConnUpsertsAndQueries(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	insert := "INSERT INTO state (bucket, payload) VALUES ($1,$2) ON CONFLICT (bucket) DO UPDATE SET payload=EXCLUDED.payload"
	for _, payload := range []string{"one", "two"} {
		if _, err := conn.ExecContext(ctx, insert, []driver.NamedValue{{Value: "corpus"}, {Value: payload}}); err != nil {
			t.Fatalf("exec: %v", err)
		}
	}
	if len(conn.Tables["state"]) != 1 {
		t.Fatalf("expected upsert to keep one row, got %v", conn.Tables["state"])
	}
	rows, err := conn.QueryContext(ctx, "SELECT bucket, payload FROM state", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("next: %v", err)
	}
	if dest[0] != "corpus" || dest[1] != "two" {
		t.Fatalf("unexpected row %v", dest)
	}
}
