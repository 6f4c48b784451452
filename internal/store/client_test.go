package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/credman/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	c := NewHTTPClient(server.Client(), newTestLogger(&buf), nil, HTTPClientConfig{
		BaseURL:           server.URL,
		APIToken:          "test-token",
		RequestsPerSecond: 1000, // テストではレート制限で待たない
	})
	return c, server
}

func TestHTTPClient_List_ReturnsCredentials(t *testing.T) {
	due := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("HTTPメソッド = %s, want GET", r.Method)
		}
		if r.URL.Path != "/credentials" {
			t.Errorf("パス = %s, want /credentials", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer test-token")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]record{
			{
				ID:              "cred-1",
				Provider:        "Netflix",
				Kind:            "profile",
				Label:           "Profile #1",
				SourceUser:      "shared@example.com",
				SourceKey:       "secret",
				ProviderDueDate: due,
				Active:          true,
				LeaseState:      "available",
			},
		})
	})

	creds, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List がエラーを返した: %v", err)
	}
	if len(creds) != 1 {
		t.Fatalf("件数 = %d, want 1", len(creds))
	}
	if creds[0].ID != "cred-1" {
		t.Errorf("ID = %s, want cred-1", creds[0].ID)
	}
	if creds[0].Kind != model.KindProfile {
		t.Errorf("Kind = %s, want %s", creds[0].Kind, model.KindProfile)
	}
	if !creds[0].ProviderDueDate.Equal(due) {
		t.Errorf("ProviderDueDate = %v, want %v", creds[0].ProviderDueDate, due)
	}
	if creds[0].LeaseState != model.LeaseStateAvailable {
		t.Errorf("LeaseState = %s, want available", creds[0].LeaseState)
	}
}

func TestHTTPClient_Create_ServerAssignsID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("HTTPメソッド = %s, want POST", r.Method)
		}

		var rec record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Fatalf("リクエストボディのデコードに失敗した: %v", err)
		}
		if rec.ID != "" {
			t.Errorf("作成リクエストにIDが含まれている: %q", rec.ID)
		}

		rec.ID = "assigned-by-store"
		rec.CreatedAt = time.Now()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(rec)
	})

	created, err := c.Create(context.Background(), model.Credential{
		Provider:   "Netflix",
		Kind:       model.KindWholeAccount,
		SourceUser: "shared@example.com",
		SourceKey:  "secret",
		Active:     true,
		LeaseState: model.LeaseStateAvailable,
	})
	if err != nil {
		t.Fatalf("Create がエラーを返した: %v", err)
	}
	if created.ID != "assigned-by-store" {
		t.Errorf("ID = %s, want assigned-by-store", created.ID)
	}
}

func TestHTTPClient_Delete_NotFoundIsSuccess(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("HTTPメソッド = %s, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	})

	// 404は既に削除済みとみなして成功（冪等）
	if err := c.Delete(context.Background(), "gone-id"); err != nil {
		t.Fatalf("存在しないIDの削除は成功として扱うべき: %v", err)
	}
}

func TestHTTPClient_Delete_EmptyID_ReturnsValidationError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("空IDの削除でHTTPリクエストが発行された")
	})

	err := c.Delete(context.Background(), "")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}

func TestHTTPClient_List_ServerError_ReturnsStoreUnavailable(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.List(context.Background())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Code != model.ErrCodeStoreUnavailable {
		t.Errorf("Code = %s, want %s", apiErr.Code, model.ErrCodeStoreUnavailable)
	}
}

func TestHTTPClient_List_ConnectionRefused_ReturnsStoreUnavailable(t *testing.T) {
	var buf bytes.Buffer
	c := NewHTTPClient(http.DefaultClient, newTestLogger(&buf), nil, HTTPClientConfig{
		BaseURL:           "http://127.0.0.1:1", // 接続不能なアドレス
		APIToken:          "t",
		RequestsPerSecond: 1000,
	})

	_, err := c.List(context.Background())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeStoreUnavailable {
		t.Fatalf("err = %v, want STORE_UNAVAILABLE", err)
	}
}

func TestHTTPClient_Create_RoundTripPreservesLeaseFields(t *testing.T) {
	clientDue := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var rec record
		json.NewDecoder(r.Body).Decode(&rec)
		if rec.LeaseState != "leased" {
			t.Errorf("LeaseState = %s, want leased", rec.LeaseState)
		}
		if rec.ClientID != "client@x.com" {
			t.Errorf("ClientID = %s, want client@x.com", rec.ClientID)
		}
		if rec.ClientDueDate == nil || !rec.ClientDueDate.Equal(clientDue) {
			t.Errorf("ClientDueDate = %v, want %v", rec.ClientDueDate, clientDue)
		}
		rec.ID = "new-id"
		json.NewEncoder(w).Encode(rec)
	})

	created, err := c.Create(context.Background(), model.Credential{
		Provider:      "Netflix",
		Kind:          model.KindProfile,
		Label:         "Profile #2",
		SourceUser:    "shared@example.com",
		SourceKey:     "secret",
		Active:        true,
		LeaseState:    model.LeaseStateLeased,
		ClientID:      "client@x.com",
		ClientDueDate: &clientDue,
	})
	if err != nil {
		t.Fatalf("Create がエラーを返した: %v", err)
	}
	if created.ClientID != "client@x.com" {
		t.Errorf("ClientID = %s, want client@x.com", created.ClientID)
	}
}
