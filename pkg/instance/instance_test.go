package instance

import (
	"strings"
	"testing"
)

func TestIDPrefersExplicitInstance(t *testing.T) {
	t.Setenv("PACKFINDERZ_INSTANCE_ID", "api-7")
	t.Setenv("DYNO", "web.1")
	if got := ID("api"); got != "api-7" {
		t.Fatalf("expected api-7, got %s", got)
	}
}

func TestIDFallsBackToDyno(t *testing.T) {
	t.Setenv("PACKFINDERZ_INSTANCE_ID", "")
	t.Setenv("DYNO", "worker.2")
	if got := ID("cron-worker"); got != "worker.2" {
		t.Fatalf("expected worker.2, got %s", got)
	}
}

func TestIDUsesHostname(t *testing.T) {
	t.Setenv("PACKFINDERZ_INSTANCE_ID", "")
	t.Setenv("DYNO", "")
	if got := ID("cron-worker"); !strings.HasPrefix(got, "cron-worker@") {
		t.Fatalf("expected service-prefixed hostname, got %s", got)
	}
}
