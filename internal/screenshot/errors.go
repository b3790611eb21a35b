package screenshot

import (
	"errors"
	"fmt"
)

// Kind classifies a render failure.
type Kind string

const (
	KindLaunch            Kind = "launch"
	KindPage              Kind = "page"
	KindNavigationTimeout Kind = "navigation_timeout"
	KindNavigation        Kind = "navigation"
	KindCapture           Kind = "capture"
)

// ErrEmptyCapture is returned when the browser produced no image bytes.
var ErrEmptyCapture = errors.New("browser returned an empty screenshot")

// Error is a render failure tagged with the step that failed.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindLaunch:
		return fmt.Sprintf("failed to launch browser: %v", e.Err)
	case KindPage:
		return fmt.Sprintf("failed to prepare page: %v", e.Err)
	case KindNavigationTimeout:
		return fmt.Sprintf("timed out loading content: %v", e.Err)
	case KindNavigation:
		return fmt.Sprintf("failed to load content: %v", e.Err)
	case KindCapture:
		return fmt.Sprintf("failed to capture screenshot: %v", e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or "" when err is not a render Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}
