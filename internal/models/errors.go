package models

import "errors"

// Error kinds returned by the registry and the lifecycle engine. None of
// them is transient.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrNotDriver        = errors.New("not a driver")
	ErrNotReady         = errors.New("ride not ready")
	ErrPendingRequests  = errors.New("pending requests")
	ErrInvalidState     = errors.New("invalid state")
	ErrSelfJoin         = errors.New("self join")
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrNoCapacity       = errors.New("no capacity")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "not_found"},
	{ErrConflict, "conflict"},
	{ErrNotDriver, "not_driver"},
	{ErrNotReady, "not_ready"},
	{ErrPendingRequests, "pending_requests"},
	{ErrInvalidState, "invalid_state"},
	{ErrSelfJoin, "self_join"},
	{ErrDuplicateRequest, "duplicate_request"},
	{ErrNoCapacity, "no_capacity"},
}

// Error pairs a kind with the message shown to the caller.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string { return e.Detail }

func (e *Error) Unwrap() error { return e.Kind }

func Fail(kind error, detail string) error {
	return &Error{Kind: kind, Detail: detail}
}

// KindOf names the kind of err for metric labels; "internal" when err
// carries none.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
