package transport

import (
	"errors"
	"fmt"
)

var (
	ErrBodyTooLarge = errors.New("response body too large")
	ErrProxy        = errors.New("proxy error")
	// ErrALPNChanged means a host known to speak HTTP/1.1 selected h2
	ErrALPNChanged = errors.New("server selected h2 on an HTTP/1.1 connection")
)

// Error describes a failed exchange: which operation broke, against which
// host, and the underlying cause
type Error struct {
	Op   string
	Host string
	Err  error
}

func (e *Error) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Host, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the cause was a timeout
func (e *Error) Timeout() bool {
	return IsTimeout(e.Err)
}

// WrapError wraps err unless it already is an *Error
func WrapError(op, host string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, Host: host, Err: err}
}
