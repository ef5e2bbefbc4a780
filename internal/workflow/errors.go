package workflow

import (
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

var reasonCodes = map[Reason]pkgerrors.Code{
	ReasonInvalidTransition:      pkgerrors.CodeStateConflict,
	ReasonRoleNotAllowed:         pkgerrors.CodeStateConflict,
	ReasonBusinessRuleViolation:  pkgerrors.CodeStateConflict,
	ReasonNotFound:               pkgerrors.CodeNotFound,
	ReasonStoreWriteFailure:      pkgerrors.CodeDependency,
	ReasonInsufficientPermission: pkgerrors.CodeForbidden,
}

// ReasonError builds the coded error carrying reason in its details.
func ReasonError(reason Reason, message string) error {
	return newReasonError(reason, "", message, nil)
}

func newReasonError(reason Reason, rule string, message string, cause error) *pkgerrors.Error {
	code, ok := reasonCodes[reason]
	if !ok {
		code = pkgerrors.CodeInternal
	}
	details := map[string]string{"reason": string(reason)}
	if rule != "" {
		details["rule"] = rule
	}
	return pkgerrors.Wrap(code, cause, message).WithDetails(details)
}

func validationError(v Validation) error {
	return newReasonError(v.Reason, string(v.Rule), v.Message, nil)
}

// ReasonOf extracts the workflow reason from err, or "" when err carries none.
func ReasonOf(err error) Reason {
	typed := pkgerrors.As(err)
	if typed == nil {
		return ""
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		return ""
	}
	return Reason(details["reason"])
}
