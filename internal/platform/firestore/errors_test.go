package firestore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vastramart/api/internal/repositories"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		name        string
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{"not found", codes.NotFound, true, false, false},
		{"already exists", codes.AlreadyExists, false, true, false},
		{"failed precondition", codes.FailedPrecondition, false, true, false},
		{"aborted", codes.Aborted, false, true, false},
		{"unavailable", codes.Unavailable, false, false, true},
		{"resource exhausted", codes.ResourceExhausted, false, false, true},
		{"unclassified", codes.InvalidArgument, false, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError("orders.update", status.Errorf(tc.code, "boom"))

			var repoErr repositories.RepositoryError
			if !errors.As(wrapped, &repoErr) {
				t.Fatalf("expected a classified error, got %T", wrapped)
			}
			if repoErr.IsNotFound() != tc.notFound {
				t.Fatalf("IsNotFound = %v, want %v", repoErr.IsNotFound(), tc.notFound)
			}
			if repoErr.IsConflict() != tc.conflict {
				t.Fatalf("IsConflict = %v, want %v", repoErr.IsConflict(), tc.conflict)
			}
			if repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("IsUnavailable = %v, want %v", repoErr.IsUnavailable(), tc.unavailable)
			}
		})
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestWrapErrorContextPassthrough(t *testing.T) {
	if err := WrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation must pass through, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline must pass through, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.DeadlineExceeded, "rpc timeout")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("grpc deadline must normalise, got %v", err)
	}
}

func TestWrapErrorKeepsExistingClassification(t *testing.T) {
	inner := WrapError("counters.next", status.Errorf(codes.NotFound, "no counter"))
	outer := WrapError("orders.create", inner)

	var classified *Error
	if !errors.As(outer, &classified) {
		t.Fatalf("expected classified error, got %T", outer)
	}
	if !classified.IsNotFound() {
		t.Fatalf("rewrapping must keep the original classification")
	}
	if classified.op != "counters.next" {
		t.Fatalf("rewrapping must keep the original op, got %q", classified.op)
	}
}

func TestWrapErrorMessageIncludesOp(t *testing.T) {
	err := WrapError("orders.get", status.Errorf(codes.NotFound, "missing doc"))
	if got := err.Error(); got == "" || !errors.As(err, new(*Error)) {
		t.Fatalf("unexpected error %q", got)
	}
	if !strings.Contains(err.Error(), "orders.get") {
		t.Fatalf("error %q must name the operation", err.Error())
	}
}
