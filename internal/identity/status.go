package identity

import "strings"

// SignerStatusKind enumerates the signer states this service understands.
type SignerStatusKind int

const (
	// SignerStatusPendingApproval means the user has not yet approved the signer.
	SignerStatusPendingApproval SignerStatusKind = iota
	// SignerStatusApproved means the signer is active and carries an FID.
	SignerStatusApproved
	// SignerStatusRevoked means the user rejected or withdrew the signer.
	SignerStatusRevoked
	// SignerStatusOther covers any status string the upstream adds later.
	SignerStatusOther
)

// SignerStatus is a closed view over the upstream status vocabulary. The
// raw string is kept so unrecognized statuses can be surfaced verbatim.
type SignerStatus struct {
	Kind SignerStatusKind
	Raw  string
}

// ParseSignerStatus maps the upstream status string onto the closed set.
func ParseSignerStatus(raw string) SignerStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending_approval":
		return SignerStatus{Kind: SignerStatusPendingApproval, Raw: raw}
	case "approved":
		return SignerStatus{Kind: SignerStatusApproved, Raw: raw}
	case "revoked":
		return SignerStatus{Kind: SignerStatusRevoked, Raw: raw}
	default:
		return SignerStatus{Kind: SignerStatusOther, Raw: raw}
	}
}
