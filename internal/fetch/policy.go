package fetch

import (
	"net/url"
	"slices"
	"strings"
	"time"
)

type RetryPolicy struct {
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	TransientStatusCodes []int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          4,
		BaseDelay:            500 * time.Millisecond,
		MaxDelay:             10 * time.Second,
		TransientStatusCodes: []int{429, 500, 502, 503, 504},
	}
}

// Delay is the pause after a failed attempt: min(MaxDelay, BaseDelay*2^attempt).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
		// stop doubling before overflow
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) IsTransient(status int) bool {
	return slices.Contains(p.TransientStatusCodes, status)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// HostTable maps a logical host to its ordered list of equivalent origins,
// e.g. "shop.example.com" -> ["shop.example.com", "example.myshopify.com"].
type HostTable map[string][]string

// Candidates returns the hosts to try for u, defaulting to u's own host.
func (t HostTable) Candidates(u *url.URL) []string {
	host := strings.ToLower(u.Host)
	if hosts, ok := t[host]; ok && len(hosts) > 0 {
		return hosts
	}
	return []string{u.Host}
}
