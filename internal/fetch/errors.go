package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrHostUnreachable  = errors.New("host unreachable")
	ErrTransientStatus  = errors.New("transient status")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrBlocked          = errors.New("blocked by bot protection")
	ErrNoHosts          = errors.New("no host candidates")
)

// FailureKind classifies why a fetch did not succeed.
type FailureKind int

const (
	Transient FailureKind = iota + 1
	HostUnreachable
	Fatal
)

func (k FailureKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case HostUnreachable:
		return "host_unreachable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// FetchError is the terminal failure of a Fetch call. Kind is Fatal for
// anything surfaced to callers; the wrapped error keeps the last observed
// cause so errors.Is works against ErrHostUnreachable, ErrBlocked, etc.
type FetchError struct {
	Kind       FailureKind
	URL        string
	Host       string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (%s, host %s, status %d, %d attempts): %v", e.URL, e.Kind, e.Host, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s, host %s, %d attempts): %v", e.URL, e.Kind, e.Host, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the FailureKind of err, or 0 if err is not a FetchError.
func KindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// resolverSignatures are substrings of network errors that mean the host as a
// whole is unusable, so retrying it only burns the backoff budget.
var resolverSignatures = []string{
	"no such host",
	"name not known",
	"name or service not known",
	"nodename nor servname",
	"getaddrinfo failed",
	"temporary failure in name resolution",
	"server misbehaving",
	"connection refused",
	"no route to host",
	"network is unreachable",
}

// classifyNetworkError decides whether err is host-level (failover) or a
// transient blip (retry the same host). A per-request timeout matches
// context.DeadlineExceeded and is transient; the caller's own cancellation
// is detected by classify before this runs.
func classifyNetworkError(err error) FailureKind {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return HostUnreachable
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range resolverSignatures {
		if strings.Contains(msg, sig) {
			return HostUnreachable
		}
	}
	return Transient
}
