package missions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGetProgress_OK(t *testing.T) {
	missionSetID := uuid.MustParse("6f1a2d3c-4b5e-4f60-8a71-9b82c3d4e5f6")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		wantPath := fmt.Sprintf("/api/mission-sets/%s/users/42", missionSetID)
		if r.URL.Path != wantPath {
			t.Fatalf("path = %s, want %s", r.URL.Path, wantPath)
		}

		resp := Progress{
			UserID:    42,
			Completed: 5,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := client.GetProgress(ctx, missionSetID, 42)
	if err != nil {
		t.Fatalf("GetProgress error: %v", err)
	}
	if res == nil || res.UserID != 42 || res.Completed != 5 {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestGetProgress_NoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := client.GetProgress(ctx, uuid.New(), 7)
	if err != nil {
		t.Fatalf("GetProgress error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil progress for 204, got %+v", res)
	}
}

func TestGetProgress_UnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.GetProgress(ctx, uuid.New(), 7); err == nil {
		t.Fatalf("expected error for status 500")
	}
}

func TestGetProgress_NotConfigured(t *testing.T) {
	var client *Client

	if _, err := client.GetProgress(context.Background(), uuid.New(), 7); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
