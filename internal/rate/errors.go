package rate

import "errors"

var (
	// ErrRateLimited is returned by Decision.Err for denied decisions.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrUnknownAction is returned for actions missing from the policy table.
	ErrUnknownAction = errors.New("rate: unknown action")
)
