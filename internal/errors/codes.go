// Package errors provides structured error codes shared across the service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidArgument represents a malformed or incomplete request.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Graph errors
	CodeGraphNotFound       Code = "GRAPH_NOT_FOUND"
	CodeGraphInvalid        Code = "GRAPH_INVALID"
	CodeNodeNotFound        Code = "NODE_NOT_FOUND"
	CodeOptionNotFound      Code = "OPTION_NOT_FOUND"
	CodeBranchNotFound      Code = "BRANCH_NOT_FOUND"

	// Skill check errors
	CodeCheckRollOutOfRange      Code = "CHECK_ROLL_OUT_OF_RANGE"
	CodeCheckRollCountMismatch   Code = "CHECK_ROLL_COUNT_MISMATCH"
	CodeCheckDuplicateModifier   Code = "CHECK_DUPLICATE_MODIFIER_SOURCE"
	CodeCheckInvalidDifficulty   Code = "CHECK_INVALID_DIFFICULTY"
	CodeCheckModifierMismatch    Code = "CHECK_MODIFIER_MISMATCH"
	CodeCheckMissingRoll         Code = "CHECK_MISSING_ROLL"

	// Context errors
	CodeContextNotFound Code = "CONTEXT_NOT_FOUND"
	CodeContextArchived Code = "CONTEXT_ARCHIVED"

	// Branch activation errors
	CodeBranchExcluded        Code = "BRANCH_EXCLUDED_BY_PEER"
	CodeBranchAlreadyActive   Code = "BRANCH_ALREADY_ACTIVE"
	CodeBranchConditionsUnmet Code = "BRANCH_CONDITIONS_UNMET"

	// Concurrency errors
	CodeVersionConflict Code = "CONTEXT_VERSION_CONFLICT"

	// Collaborator errors
	CodeLedgerUnavailable Code = "LEDGER_UNAVAILABLE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Dice errors
	CodeDiceMissing     Code = "DICE_MISSING"
	CodeDiceInvalidSpec Code = "DICE_INVALID_SPEC"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, malformed input
	case CodeInvalidArgument,
		CodeGraphInvalid,
		CodeCheckRollOutOfRange,
		CodeCheckRollCountMismatch,
		CodeCheckDuplicateModifier,
		CodeCheckInvalidDifficulty,
		CodeCheckModifierMismatch,
		CodeCheckMissingRoll,
		CodeDiceMissing,
		CodeDiceInvalidSpec:
		return http.StatusBadRequest

	// Conflict - state disallows the operation or the write lost a race
	case CodeBranchExcluded,
		CodeBranchAlreadyActive,
		CodeBranchConditionsUnmet,
		CodeContextArchived,
		CodeVersionConflict:
		return http.StatusConflict

	// Not found - resource doesn't exist
	case CodeGraphNotFound,
		CodeNodeNotFound,
		CodeOptionNotFound,
		CodeBranchNotFound,
		CodeContextNotFound,
		CodeNotFound:
		return http.StatusNotFound

	// Collaborator outage - retryable, nothing was applied
	case CodeLedgerUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
