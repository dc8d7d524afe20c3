package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateSignerParsesResponse(t *testing.T) {
	var gotIdempotencyKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/signer" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signer_uuid":"sig-1","public_key":"0xpub","status":"pending_approval","signer_approval_url":"https://approve.example/sig-1"}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "key"})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	signer, err := client.CreateSigner(context.Background(), true)
	if err != nil {
		t.Fatalf("create signer failed: %v", err)
	}
	if signer.Handle != "sig-1" {
		t.Fatalf("unexpected handle: %q", signer.Handle)
	}
	if signer.Status.Kind != SignerStatusPendingApproval {
		t.Fatalf("unexpected status kind: %v", signer.Status.Kind)
	}
	if signer.ApprovalURL != "https://approve.example/sig-1" {
		t.Fatalf("unexpected approval url: %q", signer.ApprovalURL)
	}
	if gotIdempotencyKey == "" {
		t.Fatalf("expected idempotency key header on signer creation")
	}
}

func TestLookupSignerKeepsUnknownStatusRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("signer_uuid") != "sig-2" {
			t.Fatalf("unexpected signer uuid: %q", r.URL.Query().Get("signer_uuid"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signer_uuid":"sig-2","status":"expired","fid":99}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	signer, err := client.LookupSigner(context.Background(), "sig-2")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if signer.Status.Kind != SignerStatusOther {
		t.Fatalf("expected unknown status kind, got %v", signer.Status.Kind)
	}
	if signer.Status.Raw != "expired" {
		t.Fatalf("expected raw status preserved, got %q", signer.Status.Raw)
	}
	if signer.FID != 99 {
		t.Fatalf("unexpected fid: %d", signer.FID)
	}
}

func TestLookupSignerRejectsEmptyHandle(t *testing.T) {
	client, err := NewClient(ClientConfig{BaseURL: "https://identity.example"})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if _, err := client.LookupSigner(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty handle")
	}
}

func TestFetchProfilesSendsJoinedFIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fids") != "1,2" {
			t.Fatalf("unexpected fids query: %q", r.URL.Query().Get("fids"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"users":[{"fid":1,"display_name":"One","pfp_url":"https://img.example/1.png"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	profiles, err := client.FetchProfiles(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("fetch profiles failed: %v", err)
	}
	if len(profiles) != 1 || profiles[0].DisplayName != "One" {
		t.Fatalf("unexpected profiles: %+v", profiles)
	}
}

func TestClientSurfacesUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if _, err := client.LookupSigner(context.Background(), "sig-3"); err == nil {
		t.Fatalf("expected error for upstream 503")
	}
}
