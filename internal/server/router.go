package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/FlashLinkLabs/flashlink/internal/flashes"
	"github.com/FlashLinkLabs/flashlink/internal/linkage"
	"github.com/FlashLinkLabs/flashlink/internal/signup"
	"github.com/FlashLinkLabs/flashlink/internal/stats"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200

	adminSecretHeader = "X-Admin-Secret"
)

var (
	errMissingSignupService  = errors.New("signup service dependency required")
	errMissingLinkageStore   = errors.New("linkage store dependency required")
	errMissingStatsService   = errors.New("stats service dependency required")
	errMissingActivityClient = errors.New("activity client dependency required")
	errMissingAdminSecret    = errors.New("admin secret configuration required")
)

// SignupService is the slice of the orchestrator the transport exposes.
type SignupService interface {
	Initiate(ctx context.Context, desiredName string) (signup.InitiateResult, error)
	PollStatus(ctx context.Context, signerHandle, desiredName string) signup.PollResult
}

// ActivityClient serves the raw catalog passthrough view.
type ActivityClient interface {
	List(ctx context.Context, offset, limit int, playerNameFilter string) (flashes.Page, error)
}

// Dependencies wires the HTTP surface to the services behind it.
type Dependencies struct {
	Signup      SignupService
	Store       *linkage.Store
	Stats       *stats.Service
	Activity    ActivityClient
	AdminSecret string
	Logger      *zap.Logger
}

// NewHTTPHandler builds the JSON API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Signup == nil {
		return nil, errMissingSignupService
	}
	if deps.Store == nil {
		return nil, errMissingLinkageStore
	}
	if deps.Stats == nil {
		return nil, errMissingStatsService
	}
	if deps.Activity == nil {
		return nil, errMissingActivityClient
	}
	if strings.TrimSpace(deps.AdminSecret) == "" {
		return nil, errMissingAdminSecret
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", adminSecretHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		signup:      deps.Signup,
		store:       deps.Store,
		stats:       deps.Stats,
		activity:    deps.Activity,
		adminSecret: deps.AdminSecret,
		logger:      logger,
	}

	router.POST("/signup", handler.handleInitiateSignup)
	router.GET("/signup/:handle/status", handler.handlePollSignupStatus)
	router.GET("/users", handler.handleListUsers)
	router.GET("/users/:fid", handler.handleGetUser)
	router.GET("/users/:fid/flashes", handler.handleListUserFlashes)
	router.GET("/flashes", handler.handleListCatalogFlashes)
	router.GET("/stats/leaderboard", handler.handleLeaderboard)
	router.GET("/stats/trending", handler.handleTrendingCities)

	admin := router.Group("/")
	admin.Use(handler.authorizeAdmin)
	admin.PATCH("/users/:fid/preferences", handler.handleSetPreferences)
	admin.DELETE("/users/:fid", handler.handleRemoveUser)

	return router, nil
}

type httpHandler struct {
	signup      SignupService
	store       *linkage.Store
	stats       *stats.Service
	activity    ActivityClient
	adminSecret string
	logger      *zap.Logger
}

type linkedUserPayload struct {
	FID         int64     `json:"fid"`
	PlayerName  string    `json:"player_name"`
	AutoPublish bool      `json:"auto_publish"`
	LinkedAt    time.Time `json:"linked_at"`
}

func toLinkedUserPayload(user linkage.LinkedUser) linkedUserPayload {
	return linkedUserPayload{
		FID:         user.FID,
		PlayerName:  user.PlayerName,
		AutoPublish: user.AutoPublish,
		LinkedAt:    user.CreatedAt,
	}
}

type attributionPayload struct {
	FlashID     int64   `json:"flash_id"`
	FID         int64   `json:"fid"`
	DisplayName string  `json:"display_name"`
	AvatarURL   string  `json:"avatar_url"`
	CastHash    *string `json:"cast_hash,omitempty"`
}

type initiateRequestPayload struct {
	Username string `json:"username"`
}

type initiateResponsePayload struct {
	SignerHandle string  `json:"signer_handle"`
	PublicKey    string  `json:"public_key"`
	Status       string  `json:"status"`
	ApprovalURL  *string `json:"approval_url,omitempty"`
	FID          *int64  `json:"fid,omitempty"`
}

func (h *httpHandler) handleInitiateSignup(c *gin.Context) {
	var request initiateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_USER_INPUT"})
		return
	}

	result, err := h.signup.Initiate(c.Request.Context(), request.Username)
	if errors.Is(err, signup.ErrEmptyUsername) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_USER_INPUT"})
		return
	}
	if err != nil {
		h.logger.Error("signup initiation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "signup_initiation_failed"})
		return
	}

	response := initiateResponsePayload{
		SignerHandle: result.SignerHandle,
		PublicKey:    result.PublicKey,
		Status:       result.RawStatus,
	}
	if result.ApprovalURL != "" {
		response.ApprovalURL = lo.ToPtr(result.ApprovalURL)
	}
	if result.FID != 0 {
		response.FID = lo.ToPtr(result.FID)
	}
	c.JSON(http.StatusOK, response)
}

type pollResponsePayload struct {
	Status     string             `json:"status"`
	FID        *int64             `json:"fid,omitempty"`
	LinkedUser *linkedUserPayload `json:"linked_user,omitempty"`
	Message    *string            `json:"message,omitempty"`
}

func (h *httpHandler) handlePollSignupStatus(c *gin.Context) {
	handle := strings.TrimSpace(c.Param("handle"))
	username := strings.TrimSpace(c.Query("username"))
	if handle == "" || username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_USER_INPUT"})
		return
	}

	result := h.signup.PollStatus(c.Request.Context(), handle, username)

	response := pollResponsePayload{Status: string(result.Status)}
	if result.FID != 0 {
		response.FID = lo.ToPtr(result.FID)
	}
	if result.LinkedUser != nil {
		response.LinkedUser = lo.ToPtr(toLinkedUserPayload(*result.LinkedUser))
	}
	if result.Message != "" {
		response.Message = lo.ToPtr(result.Message)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	offset, limit := pageWindow(c)
	users, err := h.store.ListLinkedUsers(c.Request.Context(), offset, limit)
	if err != nil {
		h.logger.Error("failed to list linked users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": lo.Map(users, func(user linkage.LinkedUser, _ int) linkedUserPayload {
		return toLinkedUserPayload(user)
	})})
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	fid, ok := fidParam(c)
	if !ok {
		return
	}
	user, err := h.store.GetLinkedUser(c.Request.Context(), fid)
	if errors.Is(err, linkage.ErrLinkedUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get linked user", zap.Int64("fid", fid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, toLinkedUserPayload(user))
}

func (h *httpHandler) handleListUserFlashes(c *gin.Context) {
	fid, ok := fidParam(c)
	if !ok {
		return
	}
	offset, limit := pageWindow(c)
	attributions, err := h.store.ListAttributionsByOwner(c.Request.Context(), fid, offset, limit)
	if err != nil {
		h.logger.Error("failed to list attributions", zap.Int64("fid", fid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flashes": lo.Map(attributions, func(attribution linkage.FlashAttribution, _ int) attributionPayload {
		return attributionPayload{
			FlashID:     attribution.FlashID,
			FID:         attribution.FID,
			DisplayName: attribution.DisplayName,
			AvatarURL:   attribution.AvatarURL,
			CastHash:    attribution.CastHash,
		}
	})})
}

// handleListCatalogFlashes proxies a read-only window of the upstream flash
// catalog. The optional player_name query is passed through as an exact
// match; metacharacter escaping is the caller's concern here because the
// value is forwarded verbatim, unlike the signup import path.
func (h *httpHandler) handleListCatalogFlashes(c *gin.Context) {
	offset, limit := pageWindow(c)
	page, err := h.activity.List(c.Request.Context(), offset, limit, c.Query("player_name"))
	if err != nil {
		h.logger.Error("failed to list catalog flashes", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "catalog_unavailable"})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	limit := queryLimit(c, 10)
	rows, err := h.stats.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to compute leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "leaderboard_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": rows})
}

func (h *httpHandler) handleTrendingCities(c *gin.Context) {
	limit := queryLimit(c, 10)
	counts, err := h.stats.TrendingCities(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to compute trending cities", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "trending_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trending": counts})
}

type preferencesRequestPayload struct {
	AutoPublish *bool `json:"auto_publish"`
}

func (h *httpHandler) handleSetPreferences(c *gin.Context) {
	fid, ok := fidParam(c)
	if !ok {
		return
	}
	var request preferencesRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.AutoPublish == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.store.SetAutoPublish(c.Request.Context(), fid, *request.AutoPublish)
	if errors.Is(err, linkage.ErrLinkedUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to set preferences", zap.Int64("fid", fid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRemoveUser(c *gin.Context) {
	fid, ok := fidParam(c)
	if !ok {
		return
	}
	err := h.store.RemoveLinkedUser(c.Request.Context(), fid)
	if errors.Is(err, linkage.ErrLinkedUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to remove linked user", zap.Int64("fid", fid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "removal_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	provided := c.GetHeader(adminSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.adminSecret)) != 1 {
		h.logger.Warn("admin request rejected", zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func fidParam(c *gin.Context) (int64, bool) {
	fid, err := strconv.ParseInt(c.Param("fid"), 10, 64)
	if err != nil || fid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_fid"})
		return 0, false
	}
	return fid, true
}

func pageWindow(c *gin.Context) (int, int) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	limit := queryLimit(c, defaultPageLimit)
	return offset, limit
}

func queryLimit(c *gin.Context, fallback int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(fallback)))
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}
