package signup

import "strings"

// Status is the caller-observable signup state returned from PollStatus.
type Status string

const (
	// StatusPendingApproval means the signer is waiting for out-of-band approval.
	StatusPendingApproval Status = "PENDING_APPROVAL"
	// StatusApprovedFinalized means the signer was approved and the link persisted.
	StatusApprovedFinalized Status = "APPROVED_FINALIZED"
	// StatusRevoked means the user rejected the signer; terminal.
	StatusRevoked Status = "REVOKED"
	// StatusErrorFinalization means finalize failed; polling again retries it.
	StatusErrorFinalization Status = "ERROR_FINALIZATION"
	// StatusErrorLookup means the identity service could not be reached.
	StatusErrorLookup Status = "ERROR_LOOKUP"
)

// UnknownStatus renders an upstream status this service does not recognize.
// Keeping the raw value visible lets clients handle new upstream states
// before this service learns about them.
func UnknownStatus(raw string) Status {
	return Status("UNKNOWN_" + strings.ToUpper(strings.TrimSpace(raw)))
}
