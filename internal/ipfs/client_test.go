package ipfs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/store" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}

		var meta Metadata
		if err := json.Unmarshal([]byte(r.FormValue("meta")), &meta); err != nil {
			t.Errorf("parse meta field: %v", err)
		}
		if meta.Name != "item 42" {
			t.Errorf("meta name mismatch: %s", meta.Name)
		}
		if _, _, err := r.FormFile("image"); err != nil {
			t.Errorf("missing image part: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true, "value": {"url": "ipfs://abc", "ipnft": "bafy123"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second, nil)
	result, err := client.Pin(context.Background(), Metadata{
		Name:        "item 42",
		Description: "desc",
		Image:       []byte{0x89, 0x50},
		ImageName:   "42.png",
		Properties:  Properties{ContentURL: "https://example.com/42.png", Price: "1000"},
	})
	if err != nil {
		t.Fatalf("pin failed: %v", err)
	}
	if result.URL != "ipfs://abc" || result.CID != "bafy123" {
		t.Fatalf("result mismatch: %+v", result)
	}
}

func TestPinRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok": false, "error": {"message": "bad token"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "wrong", time.Second, nil)
	if _, err := client.Pin(context.Background(), Metadata{Name: "x"}); err == nil {
		t.Fatalf("expected rejection error")
	}
}
