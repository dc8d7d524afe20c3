package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/FlashLinkLabs/flashlink/internal/flashes"
	"github.com/FlashLinkLabs/flashlink/internal/linkage"
	"github.com/FlashLinkLabs/flashlink/internal/signup"
	"github.com/FlashLinkLabs/flashlink/internal/stats"
)

const testAdminSecret = "router-test-secret"

type stubSignupService struct {
	initiateFn func(ctx context.Context, desiredName string) (signup.InitiateResult, error)
	pollFn     func(ctx context.Context, signerHandle, desiredName string) signup.PollResult
}

func (s stubSignupService) Initiate(ctx context.Context, desiredName string) (signup.InitiateResult, error) {
	if s.initiateFn == nil {
		return signup.InitiateResult{}, nil
	}
	return s.initiateFn(ctx, desiredName)
}

func (s stubSignupService) PollStatus(ctx context.Context, signerHandle, desiredName string) signup.PollResult {
	if s.pollFn == nil {
		return signup.PollResult{Status: signup.StatusPendingApproval}
	}
	return s.pollFn(ctx, signerHandle, desiredName)
}

type stubActivityClient struct {
	page flashes.Page
}

func (s stubActivityClient) List(context.Context, int, int, string) (flashes.Page, error) {
	return s.page, nil
}

func newTestHandler(t *testing.T, signupService SignupService) (http.Handler, *linkage.Store) {
	t.Helper()
	return newTestHandlerWithActivity(t, signupService, stubActivityClient{})
}

func newTestHandlerWithActivity(t *testing.T, signupService SignupService, activity ActivityClient) (http.Handler, *linkage.Store) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&linkage.LinkedUser{}, &linkage.FlashAttribution{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := linkage.NewStore(linkage.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	statsService, err := stats.NewService(stats.ServiceConfig{
		Store:    store,
		Activity: activity,
		Cache:    stats.NewCache(stats.CacheConfig{TTL: time.Minute}),
	})
	if err != nil {
		t.Fatalf("failed to create stats service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Signup:      signupService,
		Store:       store,
		Stats:       statsService,
		Activity:    activity,
		AdminSecret: testAdminSecret,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler, store
}
