package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentlease/leaseguard/pkg/calldata"
)

// AuthorizationError: the caller never had any role on the entity.
type AuthorizationError struct {
	Caller calldata.Address
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("caller %s has no role on this entity", e.Caller.Hex())
}

func NewAuthorization(caller calldata.Address) error {
	return &AuthorizationError{Caller: caller}
}

func IsAuthorization(err error) bool {
	_, ok := errors.AsType[*AuthorizationError](err)
	return ok
}

// LeaseExpiredError: the caller held renter rights that have lapsed.
// Distinct from AuthorizationError: "no longer has access" is not
// "never had access".
type LeaseExpiredError struct {
	ExpiredAt time.Time
}

func (e *LeaseExpiredError) Error() string {
	return fmt.Sprintf("lease expired at %s", e.ExpiredAt.UTC().Format(time.RFC3339))
}

func NewLeaseExpired(expiredAt time.Time) error {
	return &LeaseExpiredError{ExpiredAt: expiredAt}
}

func IsLeaseExpired(err error) bool {
	_, ok := errors.AsType[*LeaseExpiredError](err)
	return ok
}

// PolicyViolationError carries the rejecting plugin's reason verbatim.
type PolicyViolationError struct {
	Plugin string
	Reason string
}

func (e *PolicyViolationError) Error() string {
	if e.Plugin == "" {
		return "policy violation: " + e.Reason
	}
	return fmt.Sprintf("policy violation (%s): %s", e.Plugin, e.Reason)
}

func NewPolicyViolation(plugin, reason string) error {
	return &PolicyViolationError{Plugin: plugin, Reason: reason}
}

func IsPolicyViolation(err error) bool {
	_, ok := errors.AsType[*PolicyViolationError](err)
	return ok
}

// PolicyViolationReason extracts the reason when err is a policy
// violation.
func PolicyViolationReason(err error) (string, bool) {
	e, ok := errors.AsType[*PolicyViolationError](err)
	if !ok {
		return "", false
	}
	return e.Reason, true
}

// Entity lifecycle states that block execution.
const (
	StatePaused     = "paused"
	StateTerminated = "terminated"
)

// EntityStateError: paused blocks everyone including the owner;
// terminated blocks everyone, irreversibly.
type EntityStateError struct {
	State string
}

func (e *EntityStateError) Error() string { return "entity is " + e.State }

func NewEntityState(state string) error { return &EntityStateError{State: state} }

func IsEntityState(err error) bool {
	_, ok := errors.AsType[*EntityStateError](err)
	return ok
}

// DelegationCause discriminates operator-delegation failures; each mode
// is distinct and surfaced as such.
type DelegationCause string

const (
	DelegationExpired           DelegationCause = "expired"
	DelegationReplayed          DelegationCause = "replayed"
	DelegationBadSignature      DelegationCause = "mis-signed"
	DelegationSubmitterMismatch DelegationCause = "submitter-mismatch"
	DelegationStaleSignature    DelegationCause = "stale-signature"
	DelegationExceedsLease      DelegationCause = "exceeds-lease"
)

type DelegationError struct {
	Cause DelegationCause
}

func (e *DelegationError) Error() string { return "delegation " + string(e.Cause) }

func NewDelegation(cause DelegationCause) error { return &DelegationError{Cause: cause} }

func IsDelegation(err error) bool {
	_, ok := errors.AsType[*DelegationError](err)
	return ok
}

func DelegationCauseOf(err error) (DelegationCause, bool) {
	e, ok := errors.AsType[*DelegationError](err)
	if !ok {
		return "", false
	}
	return e.Cause, true
}

// ConfigurationError: unapproved plugin, duplicate binding, cap
// exceeded, ceiling violation and similar configuration-time rejects.
type ConfigurationError struct {
	msg string
}

func (e *ConfigurationError) Error() string { return e.msg }

func NewConfiguration(msg string) error { return &ConfigurationError{msg: msg} }

func NewConfigurationf(format string, args ...any) error {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

func IsConfiguration(err error) bool {
	_, ok := errors.AsType[*ConfigurationError](err)
	return ok
}
