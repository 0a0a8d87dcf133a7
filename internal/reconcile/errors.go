package reconcile

import (
	"errors"
	"fmt"
)

// Parse failures. Each EntryError wraps exactly one of these.
var (
	ErrMissingPublicKey           = errors.New("no wgPublicKey found on wgPeer")
	ErrInvalidKey                 = errors.New("wgPublicKey or wgPresharedKey has the wrong length")
	ErrInvalidAllowedIP           = errors.New("cannot parse wgAllowedIp")
	ErrInvalidEndpoint            = errors.New("cannot parse wgEndpoint")
	ErrEndpointDoesNotResolve     = errors.New("cannot resolve wgEndpoint to an address")
	ErrInvalidPersistentKeepalive = errors.New("cannot parse wgPersistentKeepalive")
)

// Kind identifies the stage an Error came from.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindDirectory
	KindParse
	KindDevice
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindDirectory:
		return "directory"
	case KindParse:
		return "parse"
	case KindDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Error tags a failure with the stage it happened in. The wrapped error keeps
// its specific kind, so errors.Is against the sentinels above still works.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the stage kind of err, or 0 when err carries none.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// EntryError describes why a single directory entry was rejected.
type EntryError struct {
	DN        string
	Attribute string
	Err       error // one of the Err* sentinels
	Cause     error // underlying library error, may be nil
}

func (e *EntryError) Error() string {
	msg := e.Err.Error()
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.DN != "" {
		return fmt.Sprintf("entry %q: %s", e.DN, msg)
	}
	return msg
}

func (e *EntryError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}
