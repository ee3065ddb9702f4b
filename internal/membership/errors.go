package membership

import "errors"

// Error kinds surfaced to the request boundary. Handlers map these to HTTP
// statuses; everything else is an internal failure.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrGroupNotFound   = errors.New("group not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrFileNotFound    = errors.New("file not found")
	ErrWrongPassword   = errors.New("wrong password")
	ErrNotAuthorized   = errors.New("not authorized to perform this action")
	ErrNotMember       = errors.New("not a member of this group")
	ErrOwnerImmutable  = errors.New("the group owner cannot be removed")
)
