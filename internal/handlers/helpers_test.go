package handlers

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vastramart/api/internal/platform/auth"
)

func TestReadLimitedBody(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", bytes.NewReader([]byte(`{"ok":true}`)))
		data, err := readLimitedBody(req, 64)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(data) != `{"ok":true}` {
			t.Fatalf("data = %q", data)
		}
	})

	t.Run("over limit", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 65)))
		if _, err := readLimitedBody(req, 64); !errors.Is(err, errBodyTooLarge) {
			t.Fatalf("expected too-large error, got %v", err)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader("  \n "))
		if _, err := readLimitedBody(req, 64); !errors.Is(err, errEmptyBody) {
			t.Fatalf("expected empty-body error, got %v", err)
		}
	})
}

func TestParseFilterValues(t *testing.T) {
	got := parseFilterValues([]string{"Shipped, delivered", "shipped", " ,OUT_FOR_DELIVERY"})
	want := []string{"shipped", "delivered", "out_for_delivery"}
	if len(got) != len(want) {
		t.Fatalf("filters = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("filters = %v, want %v", got, want)
		}
	}
	if parseFilterValues(nil) != nil {
		t.Fatalf("nil input must return nil")
	}
}

func TestParseTimeParam(t *testing.T) {
	ts, err := parseTimeParam("2026-08-15T12:00:00+05:30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ts.Equal(time.Date(2026, 8, 15, 6, 30, 0, 0, time.UTC)) {
		t.Fatalf("offset timestamps must normalise to UTC, got %s", ts)
	}
	if _, err := parseTimeParam("15/08/2026"); err == nil {
		t.Fatalf("expected error for non-RFC3339 input")
	}
	if _, err := parseTimeParam(""); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestFormatTime(t *testing.T) {
	if formatTime(time.Time{}) != "" {
		t.Fatalf("zero time must format empty")
	}
	ts := time.Date(2026, 8, 15, 12, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))
	if got := formatTime(ts); got != "2026-08-15T06:30:00Z" {
		t.Fatalf("formatted = %q", got)
	}
}

func TestActorFromIdentity(t *testing.T) {
	actor := actorFromIdentity(&auth.Identity{UID: " user-1 ", Email: " asha@example.com ", Roles: []string{"admin"}})
	if actor.UserID != "user-1" || actor.Email != "asha@example.com" || !actor.Admin {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if got := actorFromIdentity(nil); got.UserID != "" || got.Admin {
		t.Fatalf("nil identity must map to a zero actor, got %+v", got)
	}
}
