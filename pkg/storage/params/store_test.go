package params

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "params.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestGetParametersByPath tests that only direct children of the path are returned.
func TestGetParametersByPath(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	params := map[string]string{
		"/pullplatypus/prod/WEBHOOK_URL":            "https://hooks.slack.com/services/T/B/X",
		"/pullplatypus/prod/WEBHOOK_SECRET":         "s3cret",
		"/pullplatypus/prod/nested/WEBHOOK_URL":     "https://nested",
		"/pullplatypus/staging/WEBHOOK_URL":         "https://staging",
		"/pullplatypusXprod/WEBHOOK_URL":            "https://lookalike",
		"/pullplatypus/prod/BITBUCKET_TO_SLACK_MAP": `{"alice@x.com":"U1"}`,
	}
	for name, value := range params {
		if err := store.PutParameter(ctx, name, value); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}

	got, err := store.GetParametersByPath(ctx, "/pullplatypus/prod/")
	if err != nil {
		t.Fatalf("get parameters: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 parameters, got %d: %v", len(got), got)
	}
	if got["WEBHOOK_URL"] != "https://hooks.slack.com/services/T/B/X" {
		t.Fatalf("unexpected WEBHOOK_URL %q", got["WEBHOOK_URL"])
	}
	if got["BITBUCKET_TO_SLACK_MAP"] != `{"alice@x.com":"U1"}` {
		t.Fatalf("unexpected map %q", got["BITBUCKET_TO_SLACK_MAP"])
	}
}

// TestPutParameterReplaces tests that writing an existing name updates its value.
func TestPutParameterReplaces(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.PutParameter(ctx, "/app/WEBHOOK_SECRET", "old"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutParameter(ctx, "/app/WEBHOOK_SECRET", "new"); err != nil {
		t.Fatalf("put again: %v", err)
	}

	got, err := store.GetParametersByPath(ctx, "/app")
	if err != nil {
		t.Fatalf("get parameters: %v", err)
	}
	if got["WEBHOOK_SECRET"] != "new" {
		t.Fatalf("expected replaced value, got %q", got["WEBHOOK_SECRET"])
	}
}

func TestOpenValidatesConfig(t *testing.T) {
	if _, err := Open(Config{Driver: "sqlite"}); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
	if _, err := Open(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
