//go:build postgres_integration

package store

import (
	"context"
	"os"
	"testing"
)

func TestPostgresRunRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	r := Run{ID: "it-run", Method: "SINGLE_OBJECTIVE", Status: "CREATED", Request: []byte(`{"flights":[]}`)}
	if err := p.SaveRun(context.Background(), r); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	r.Status = "DONE"
	if err := p.SaveRun(context.Background(), r); err != nil {
		t.Fatalf("SaveRun replace: %v", err)
	}
	got, err := p.GetRun(context.Background(), "it-run")
	if err != nil || got.Status != "DONE" {
		t.Fatalf("GetRun: %+v %v", got, err)
	}
	if err := p.DeleteRun(context.Background(), "it-run"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
}
