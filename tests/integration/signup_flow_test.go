package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/FlashLinkLabs/flashlink/internal/flashes"
	"github.com/FlashLinkLabs/flashlink/internal/identity"
	"github.com/FlashLinkLabs/flashlink/internal/linkage"
	"github.com/FlashLinkLabs/flashlink/internal/secretbox"
	"github.com/FlashLinkLabs/flashlink/internal/server"
	"github.com/FlashLinkLabs/flashlink/internal/signup"
	"github.com/FlashLinkLabs/flashlink/internal/stats"
)

const (
	integrationSignerHandle = "signer-integration-1"
	integrationFID          = int64(42)
	integrationPlayerName   = "neonfox"
	integrationSecretKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"
	integrationAdminSecret  = "integration-admin-secret"
)

// fakeIdentityUpstream mimics the signer lifecycle of the social-identity
// service. The signer starts pending and is flipped to approved by the test.
type fakeIdentityUpstream struct {
	mu     sync.Mutex
	status string
	fid    int64
}

func (f *fakeIdentityUpstream) approve(fid int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = "approved"
	f.fid = fid
}

func (f *fakeIdentityUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/signer", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status, fid := f.status, f.fid
		f.mu.Unlock()
		payload := map[string]any{
			"signer_uuid":         integrationSignerHandle,
			"public_key":          "0xintegration",
			"status":              status,
			"signer_approval_url": "https://identity.test/approve/" + integrationSignerHandle,
		}
		if fid != 0 {
			payload["fid"] = fid
		}
		json.NewEncoder(w).Encode(payload)
	})
	mux.HandleFunc("/user/bulk", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"users": []map[string]any{
				{"fid": integrationFID, "display_name": "Neon Fox", "pfp_url": "https://identity.test/avatar.png"},
			},
		})
	})
	return mux
}

// fakeActivityUpstream serves a small flash catalog filtered by player name.
func fakeActivityUpstream(t *testing.T) http.Handler {
	t.Helper()
	catalog := []flashes.Flash{
		{ID: 1, PlayerName: integrationPlayerName, City: "Lisbon", ImageURL: "https://activity.test/1.jpg"},
		{ID: 2, PlayerName: integrationPlayerName, City: "Porto", ImageURL: "https://activity.test/2.jpg"},
		{ID: 3, PlayerName: "someoneelse", City: "Lisbon", ImageURL: "https://activity.test/3.jpg"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/flashes", func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("player_name")
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		matched := make([]flashes.Flash, 0, len(catalog))
		for _, flash := range catalog {
			if filter == "" || flash.PlayerName == filter {
				matched = append(matched, flash)
			}
		}
		if offset > len(matched) {
			offset = len(matched)
		}
		json.NewEncoder(w).Encode(flashes.Page{Items: matched[offset:], HasMore: false})
	})
	return mux
}

func TestSignupFlowEndToEnd(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&linkage.LinkedUser{}, &linkage.FlashAttribution{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	identityUpstream := &fakeIdentityUpstream{status: "pending_approval"}
	identityServer := httptest.NewServer(identityUpstream.handler())
	defer identityServer.Close()
	activityServer := httptest.NewServer(fakeActivityUpstream(testContext))
	defer activityServer.Close()

	identityClient, err := identity.NewClient(identity.ClientConfig{BaseURL: identityServer.URL, APIKey: "test-key"})
	if err != nil {
		testContext.Fatalf("failed to build identity client: %v", err)
	}
	activityClient, err := flashes.NewClient(flashes.ClientConfig{BaseURL: activityServer.URL})
	if err != nil {
		testContext.Fatalf("failed to build activity client: %v", err)
	}
	store, err := linkage.NewStore(linkage.StoreConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	sealer, err := secretbox.New(integrationSecretKeyHex)
	if err != nil {
		testContext.Fatalf("failed to build sealer: %v", err)
	}
	orchestrator, err := signup.NewOrchestrator(signup.OrchestratorConfig{
		Identity: identityClient,
		Activity: activityClient,
		Store:    store,
		Sealer:   sealer,
	})
	if err != nil {
		testContext.Fatalf("failed to build orchestrator: %v", err)
	}
	statsService, err := stats.NewService(stats.ServiceConfig{
		Store:    store,
		Activity: activityClient,
		Cache:    stats.NewCache(stats.CacheConfig{TTL: time.Minute}),
	})
	if err != nil {
		testContext.Fatalf("failed to build stats service: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Signup:      orchestrator,
		Store:       store,
		Stats:       statsService,
		Activity:    activityClient,
		AdminSecret: integrationAdminSecret,
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	// Initiate the signup. The signer is pending, so only the approval URL
	// comes back and no local rows exist yet.
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader(`{"username":"neonfox"}`))
	request.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("initiate returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var initiated struct {
		SignerHandle string  `json:"signer_handle"`
		ApprovalURL  *string `json:"approval_url"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &initiated); err != nil {
		testContext.Fatalf("failed to decode initiate response: %v", err)
	}
	if initiated.SignerHandle != integrationSignerHandle {
		testContext.Fatalf("unexpected signer handle %q", initiated.SignerHandle)
	}
	if initiated.ApprovalURL == nil {
		testContext.Fatalf("expected approval url for pending signer")
	}

	pollTarget := "/signup/" + integrationSignerHandle + "/status?username=" + integrationPlayerName

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, pollTarget, http.NoBody))
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("pending poll returned %d", recorder.Code)
	}
	var pendingPoll struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &pendingPoll); err != nil {
		testContext.Fatalf("failed to decode pending poll: %v", err)
	}
	if pendingPoll.Status != string(signup.StatusPendingApproval) {
		testContext.Fatalf("expected pending status, got %q", pendingPoll.Status)
	}
	if _, err := store.GetLinkedUser(context.Background(), integrationFID); err == nil {
		testContext.Fatalf("expected no linked user before approval")
	}

	// Approve out of band and poll again. This poll must finalize: persist
	// the linked user, import attributions, and report the final status.
	identityUpstream.approve(integrationFID)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, pollTarget, http.NoBody))
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("approved poll returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var approvedPoll struct {
		Status     string `json:"status"`
		FID        *int64 `json:"fid"`
		LinkedUser *struct {
			PlayerName  string `json:"player_name"`
			AutoPublish bool   `json:"auto_publish"`
		} `json:"linked_user"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &approvedPoll); err != nil {
		testContext.Fatalf("failed to decode approved poll: %v", err)
	}
	if approvedPoll.Status != string(signup.StatusApprovedFinalized) {
		testContext.Fatalf("expected finalized status, got %q: %s", approvedPoll.Status, recorder.Body.String())
	}
	if approvedPoll.FID == nil || *approvedPoll.FID != integrationFID {
		testContext.Fatalf("unexpected fid %v", approvedPoll.FID)
	}
	if approvedPoll.LinkedUser == nil || approvedPoll.LinkedUser.PlayerName != integrationPlayerName || !approvedPoll.LinkedUser.AutoPublish {
		testContext.Fatalf("unexpected linked user %+v", approvedPoll.LinkedUser)
	}

	// The signer secret must round-trip through the sealer, never stored raw.
	persisted, err := store.GetLinkedUser(context.Background(), integrationFID)
	if err != nil {
		testContext.Fatalf("failed to load persisted user: %v", err)
	}
	if persisted.EncryptedSigner == integrationSignerHandle {
		testContext.Fatalf("signer material stored in the clear")
	}
	opened, err := sealer.Open(persisted.EncryptedSigner)
	if err != nil {
		testContext.Fatalf("failed to open sealed signer: %v", err)
	}
	if opened != integrationSignerHandle {
		testContext.Fatalf("sealed signer round-trip mismatch: %q", opened)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/users/42/flashes", http.NoBody))
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("flashes read returned %d", recorder.Code)
	}
	var flashesResponse struct {
		Flashes []struct {
			FlashID     int64  `json:"flash_id"`
			DisplayName string `json:"display_name"`
		} `json:"flashes"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &flashesResponse); err != nil {
		testContext.Fatalf("failed to decode flashes response: %v", err)
	}
	if len(flashesResponse.Flashes) != 2 {
		testContext.Fatalf("expected 2 imported attributions, got %d", len(flashesResponse.Flashes))
	}
	for _, flash := range flashesResponse.Flashes {
		if flash.DisplayName != "Neon Fox" {
			testContext.Fatalf("expected social display name on attribution, got %q", flash.DisplayName)
		}
	}

	// A repeated poll after approval must converge, not duplicate rows.
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, pollTarget, http.NoBody))
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("repeated poll returned %d", recorder.Code)
	}
	var userCount int64
	if err := db.Model(&linkage.LinkedUser{}).Where("fid = ?", integrationFID).Count(&userCount).Error; err != nil {
		testContext.Fatalf("failed to count users: %v", err)
	}
	if userCount != 1 {
		testContext.Fatalf("expected single linked user row, got %d", userCount)
	}

	// Admin removal hides the user from subsequent reads.
	recorder = httptest.NewRecorder()
	removeRequest := httptest.NewRequest(http.MethodDelete, "/users/42", http.NoBody)
	removeRequest.Header.Set("X-Admin-Secret", integrationAdminSecret)
	handler.ServeHTTP(recorder, removeRequest)
	if recorder.Code != http.StatusNoContent {
		testContext.Fatalf("removal returned %d", recorder.Code)
	}
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/users/42", http.NoBody))
	if recorder.Code != http.StatusNotFound {
		testContext.Fatalf("expected removed user to vanish, got %d", recorder.Code)
	}
}
