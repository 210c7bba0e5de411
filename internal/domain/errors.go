package domain

import "errors"

// Admission rejections returned by the dispatcher. None of them leave persisted state behind.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrDuplicateRequest = errors.New("duplicate business id")
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateDisabled = errors.New("template disabled")
	ErrRateLimited      = errors.New("template rate limit exceeded")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrChannelDisabled  = errors.New("channel disabled")
	ErrNoRecipients     = errors.New("no recipients resolved")
	ErrHandlerNotFound  = errors.New("no handler for channel type")
)

var reasons = map[error]string{
	ErrInvalidRequest:   "INVALID_REQUEST",
	ErrDuplicateRequest: "DUPLICATE_REQUEST",
	ErrTemplateNotFound: "TEMPLATE_NOT_FOUND",
	ErrTemplateDisabled: "TEMPLATE_DISABLED",
	ErrRateLimited:      "RATE_LIMITED",
	ErrChannelNotFound:  "CHANNEL_NOT_FOUND",
	ErrChannelDisabled:  "CHANNEL_DISABLED",
	ErrNoRecipients:     "NO_RECIPIENTS",
	ErrHandlerNotFound:  "HANDLER_NOT_FOUND",
}

// Reason returns the stable rejection code for err, or "" when err is not an admission rejection.
func Reason(err error) string {
	for target, code := range reasons {
		if errors.Is(err, target) {
			return code
		}
	}
	return ""
}

func IsRejection(err error) bool { return Reason(err) != "" }
