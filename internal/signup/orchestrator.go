package signup

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/FlashLinkLabs/flashlink/internal/flashes"
	"github.com/FlashLinkLabs/flashlink/internal/identity"
	"github.com/FlashLinkLabs/flashlink/internal/linkage"
)

const (
	// flashPageSize is the fixed window used when paging the flash catalog.
	flashPageSize = 20
	// importCeiling bounds how many flashes a single finalize may attribute.
	// A pathological player-name match above this writes nothing.
	importCeiling = 7000
)

var (
	errMissingIdentityClient = errors.New("signup: identity client is required")
	errMissingActivityClient = errors.New("signup: activity client is required")
	errMissingStore          = errors.New("signup: linkage store is required")

	// ErrEmptyUsername rejects initiate calls with a blank desired name.
	ErrEmptyUsername = errors.New("signup: username must not be empty")
	// ErrUpstream wraps identity-service failures during initiate.
	ErrUpstream = errors.New("signup: identity service request failed")
	// ErrEncryptionKeyMissing means the operator did not configure a secret key.
	ErrEncryptionKeyMissing = errors.New("signup: secret encryption key not configured")
	// ErrStorage wraps fatal linkage-store failures during finalize.
	ErrStorage = errors.New("signup: linkage store operation failed")
	// ErrLinkReadBack means the linked user vanished right after its upsert.
	ErrLinkReadBack = errors.New("signup: linked user missing after upsert")
)

// IdentityClient is the slice of the social-identity service this package uses.
type IdentityClient interface {
	CreateSigner(ctx context.Context, sponsored bool) (identity.Signer, error)
	LookupSigner(ctx context.Context, handle string) (identity.Signer, error)
	FetchProfiles(ctx context.Context, fids []int64) ([]identity.Profile, error)
}

// ActivityClient pages the external flash catalog.
type ActivityClient interface {
	List(ctx context.Context, offset, limit int, playerNameFilter string) (flashes.Page, error)
}

// LinkageStore is the slice of the persistence layer finalize depends on.
type LinkageStore interface {
	UpsertLinkedUser(ctx context.Context, user linkage.LinkedUser) (linkage.LinkedUser, error)
	BulkUpsertAttributions(ctx context.Context, attributions []linkage.FlashAttribution) error
	GetLinkedUser(ctx context.Context, fid int64) (linkage.LinkedUser, error)
}

// Sealer encrypts the signer secret before it is persisted.
type Sealer interface {
	Seal(plaintext string) (string, error)
}

// OrchestratorConfig describes the dependencies of the signup workflow.
// Sealer may be nil at startup; finalize then fails with
// ErrEncryptionKeyMissing instead of preventing the service from booting.
type OrchestratorConfig struct {
	Identity IdentityClient
	Activity ActivityClient
	Store    LinkageStore
	Sealer   Sealer
	Logger   *zap.Logger
}

// Orchestrator drives the multi-step identity-linking workflow. It holds no
// per-signup state: every poll re-derives the state from the identity
// service and finalize is idempotent, so concurrent polls for the same
// signer are safe.
type Orchestrator struct {
	identity IdentityClient
	activity ActivityClient
	store    LinkageStore
	sealer   Sealer
	logger   *zap.Logger
}

// NewOrchestrator constructs the signup orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Identity == nil {
		return nil, errMissingIdentityClient
	}
	if cfg.Activity == nil {
		return nil, errMissingActivityClient
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		identity: cfg.Identity,
		activity: cfg.Activity,
		store:    cfg.Store,
		sealer:   cfg.Sealer,
		logger:   logger,
	}, nil
}

// InitiateResult carries the signer handle the caller polls with and the
// URL the user must visit to approve it.
type InitiateResult struct {
	SignerHandle string
	PublicKey    string
	ApprovalURL  string
	RawStatus    string
	FID          int64
}

// Initiate provisions a sponsored signer for the desired player name.
// No local state is written; the caller is expected to poll afterwards.
func (o *Orchestrator) Initiate(ctx context.Context, desiredName string) (InitiateResult, error) {
	if strings.TrimSpace(desiredName) == "" {
		return InitiateResult{}, ErrEmptyUsername
	}

	signer, err := o.identity.CreateSigner(ctx, true)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	o.logger.Info("signup initiated",
		zap.String("signer_handle", signer.Handle),
		zap.String("status", signer.Status.Raw))

	return InitiateResult{
		SignerHandle: signer.Handle,
		PublicKey:    signer.PublicKey,
		ApprovalURL:  signer.ApprovalURL,
		RawStatus:    signer.Status.Raw,
		FID:          signer.FID,
	}, nil
}

// PollResult is the structured answer a polling client receives. Message is
// populated for the ERROR_* statuses so clients can display a reason while
// still retrying on the status alone.
type PollResult struct {
	Status     Status
	FID        int64
	LinkedUser *linkage.LinkedUser
	Message    string
}

// PollStatus looks up the signer and, once it is approved, attempts
// finalization. It never returns an error: failures are encoded in the
// result status so polling clients retry without special-casing.
func (o *Orchestrator) PollStatus(ctx context.Context, signerHandle, desiredName string) PollResult {
	signer, err := o.identity.LookupSigner(ctx, signerHandle)
	if err != nil {
		o.logger.Warn("signer lookup failed",
			zap.String("signer_handle", signerHandle),
			zap.Error(err))
		return PollResult{Status: StatusErrorLookup, Message: err.Error()}
	}

	switch signer.Status.Kind {
	case identity.SignerStatusApproved:
		if signer.FID == 0 {
			return PollResult{
				Status:  StatusErrorFinalization,
				Message: "approved signer carries no identity handle",
			}
		}
		user, err := o.Finalize(ctx, signer.FID, signer.Handle, desiredName)
		if err != nil {
			o.logger.Error("finalize failed",
				zap.Int64("fid", signer.FID),
				zap.String("signer_handle", signerHandle),
				zap.Error(err))
			return PollResult{Status: StatusErrorFinalization, FID: signer.FID, Message: err.Error()}
		}
		return PollResult{Status: StatusApprovedFinalized, FID: signer.FID, LinkedUser: &user}
	case identity.SignerStatusPendingApproval:
		return PollResult{Status: StatusPendingApproval}
	case identity.SignerStatusRevoked:
		return PollResult{Status: StatusRevoked}
	default:
		return PollResult{Status: UnknownStatus(signer.Status.Raw)}
	}
}

// Finalize reconciles the social profile with the in-game player name,
// imports matching flashes, and persists the link. Profile resolution and
// flash import are best effort; only the LinkedUser upsert and its
// read-back can fail the call. Repeated calls converge on the same rows.
func (o *Orchestrator) Finalize(ctx context.Context, fid int64, signerSecret, playerName string) (linkage.LinkedUser, error) {
	displayName, avatarURL := o.resolveProfile(ctx, fid, playerName)
	imported := o.importFlashes(ctx, playerName)

	if o.sealer == nil {
		return linkage.LinkedUser{}, ErrEncryptionKeyMissing
	}
	sealed, err := o.sealer.Seal(signerSecret)
	if err != nil {
		return linkage.LinkedUser{}, fmt.Errorf("signup: seal signer secret: %w", err)
	}

	if _, err := o.store.UpsertLinkedUser(ctx, linkage.LinkedUser{
		FID:             fid,
		PlayerName:      playerName,
		EncryptedSigner: sealed,
		AutoPublish:     true,
	}); err != nil {
		return linkage.LinkedUser{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if len(imported) > importCeiling {
		o.logger.Warn("flash import skipped, match count above ceiling",
			zap.Int64("fid", fid),
			zap.Int("matched", len(imported)),
			zap.Int("ceiling", importCeiling))
	} else if len(imported) > 0 {
		attributions := make([]linkage.FlashAttribution, 0, len(imported))
		for _, flash := range imported {
			attributions = append(attributions, linkage.FlashAttribution{
				FlashID:     flash.ID,
				FID:         fid,
				DisplayName: displayName,
				AvatarURL:   avatarURL,
			})
		}
		if err := o.store.BulkUpsertAttributions(ctx, attributions); err != nil {
			// The link itself already succeeded; re-polling re-runs the import.
			o.logger.Error("flash attribution import failed",
				zap.Int64("fid", fid),
				zap.Int("count", len(attributions)),
				zap.Error(err))
		}
	}

	stored, err := o.store.GetLinkedUser(ctx, fid)
	if errors.Is(err, linkage.ErrLinkedUserNotFound) {
		o.logger.Error("linked user missing immediately after upsert", zap.Int64("fid", fid))
		return linkage.LinkedUser{}, ErrLinkReadBack
	}
	if err != nil {
		return linkage.LinkedUser{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return stored, nil
}

// resolveProfile prefers the social display name for attribution and falls
// back to the in-game player name when the profile cannot be fetched.
func (o *Orchestrator) resolveProfile(ctx context.Context, fid int64, playerName string) (string, string) {
	profiles, err := o.identity.FetchProfiles(ctx, []int64{fid})
	if err != nil {
		o.logger.Warn("profile lookup failed, falling back to player name",
			zap.Int64("fid", fid),
			zap.Error(err))
		return playerName, ""
	}
	for _, profile := range profiles {
		if profile.FID == fid && profile.DisplayName != "" {
			return profile.DisplayName, profile.AvatarURL
		}
	}
	return playerName, ""
}

// importFlashes pages the catalog for exact player-name matches. The
// upstream filter is a pattern, so the name is escaped to match literally.
func (o *Orchestrator) importFlashes(ctx context.Context, playerName string) []flashes.Flash {
	filter := regexp.QuoteMeta(playerName)

	var collected []flashes.Flash
	offset := 0
	for {
		page, err := o.activity.List(ctx, offset, flashPageSize, filter)
		if err != nil {
			o.logger.Warn("flash import abandoned",
				zap.String("player_name", playerName),
				zap.Int("offset", offset),
				zap.Error(err))
			return nil
		}
		collected = append(collected, page.Items...)
		if !page.HasMore {
			return collected
		}
		offset += flashPageSize
	}
}
