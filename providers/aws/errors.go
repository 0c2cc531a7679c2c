package aws

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/yairfalse/snapwarden/providers"
)

// classify wraps an SDK error into a providers.Error with a matching kind
func classify(op, resourceID string, err error) error {
	if err == nil {
		return nil
	}
	return providers.NewError(op, resourceID, kindOf(err), err)
}

func kindOf(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}

	code := apiErr.ErrorCode()
	switch {
	case code == "UnauthorizedOperation", code == "AuthFailure", code == "AccessDenied",
		code == "AccessDeniedException", code == "OptInRequired":
		return providers.ErrPermissionDenied
	case code == "IncorrectInstanceState", code == "IncorrectState",
		code == "InvalidVolume.NotAttached", code == "VolumeInUse", code == "InvalidSnapshot.InUse":
		return providers.ErrInvalidState
	case code == "RequestLimitExceeded", code == "Throttling", code == "ThrottlingException":
		return providers.ErrThrottled
	case strings.HasSuffix(code, ".NotFound"), strings.HasSuffix(code, ".Malformed"):
		return providers.ErrNotFound
	}
	return nil
}

// classifyWait maps waiter failures. The SDK reports an exhausted wait as a
// plain error, so the message is the only signal.
func classifyWait(op, resourceID string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "exceeded max wait time"):
		return providers.NewError(op, resourceID, providers.ErrWaitTimeout, err)
	case strings.Contains(msg, "waiter state transitioned to Failure"):
		return providers.NewError(op, resourceID, providers.ErrInvalidState, err)
	}
	return classify(op, resourceID, err)
}
