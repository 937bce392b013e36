package types

import "errors"

// Error taxonomy. Everything the collaborators can do wrong folds into one of
// these sentinels; callers branch with errors.Is and wrap with %w.
var (
	// ErrConfiguration: bad setup parameters. Fatal, fails startup entirely.
	ErrConfiguration = errors.New("configuration invalid")

	// ErrUnauthorized: caller is not the operator (or not the registered
	// lending pool, inside the flash-loan callback). Local reject, no state
	// change.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRiskRejected: paused, over the gas ceiling, ineligible token, or a
	// concurrent attempt in flight. Reported, never retried automatically.
	ErrRiskRejected = errors.New("risk rejected")

	// ErrOracleInvalid: non-positive or stale price/gas read. Aborts the
	// current attempt only.
	ErrOracleInvalid = errors.New("oracle read invalid")

	// ErrCollaborator: a venue or lending call failed, reverted or returned
	// an unacceptable output. The whole attempt rolls back; the system never
	// ends an attempt holding unrepaid debt.
	ErrCollaborator = errors.New("collaborator failure")
)
