package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/cryptosat/bounce"
)

type stubCoordinator struct {
	result bounce.Commit
	err    error
}

func (s *stubCoordinator) Bounce(ctx context.Context, c0 bounce.Commit) (bounce.Commit, error) {
	return s.result, s.err
}

func TestHandleBounceSuccess(t *testing.T) {
	want := bounce.Commit{Type: bounce.Precommit, I: 1, Aggregated: true, Msg: []byte("ping")}
	srv := New(&stubCoordinator{result: want}, nil, Config{}, nil)

	body, _ := json.Marshal(bounce.Commit{Type: bounce.Precommit, I: 1, Msg: []byte("ping")})
	req := httptest.NewRequest("POST", "/bounce", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got bounce.Commit
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !got.Aggregated || got.I != 1 {
		t.Errorf("got = %+v, want aggregated i=1", got)
	}
}

func TestHandleBounceCoordinatorError(t *testing.T) {
	srv := New(&stubCoordinator{err: errors.New("deadline exceeded")}, nil, Config{}, nil)

	body, _ := json.Marshal(bounce.Commit{})
	req := httptest.NewRequest("POST", "/bounce", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 504 {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestHandleBounceRejectsGet(t *testing.T) {
	srv := New(&stubCoordinator{}, nil, Config{}, nil)

	req := httptest.NewRequest("GET", "/bounce", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 405 {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
