package archive

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Not-found errors. Each matches ErrNotFound via errors.Is.
var (
	ErrProfileNotFound  = fmt.Errorf("profile %w", ErrNotFound)
	ErrPostNotFound     = fmt.Errorf("post %w", ErrNotFound)
	ErrPostItemNotFound = fmt.Errorf("post item %w", ErrNotFound)
	ErrTaskNotFound     = fmt.Errorf("task %w", ErrNotFound)
)

var (
	// ErrInvalidTransition is returned when a task status change is not allowed
	// or the stored status no longer matches the expected one.
	ErrInvalidTransition = errors.New("invalid task status transition")
	// ErrInvalidRequest is returned for malformed task-creation requests.
	ErrInvalidRequest = errors.New("invalid task request")
	// ErrUnsupportedPost is returned for remote posts without storable media.
	ErrUnsupportedPost = errors.New("unsupported post")
)

// PostNotFoundError reports that a shortcode does not exist at the source.
type PostNotFoundError struct {
	Shortcode string
}

func (e *PostNotFoundError) Error() string {
	return fmt.Sprintf("post with shortcode %s does not exist", e.Shortcode)
}

// Is lets errors.Is(err, ErrPostNotFound) match.
func (e *PostNotFoundError) Is(target error) bool {
	return target == ErrPostNotFound || target == ErrNotFound
}
