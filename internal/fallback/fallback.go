// Package fallback classifies remote session-pool errors. Transient
// infrastructure failures trigger the store's one-way switch to the local
// cache; genuine client errors are propagated untouched.
package fallback

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/cloverlabs/sessionpool/internal/remote"
)

// transientCodes are the network error codes treated as retry-via-fallback.
// The names double as substrings for the loose tier-5 match, covering errors
// that only expose the code in their message text.
var transientCodes = []string{
	"ECONNREFUSED",
	"ECONNRESET",
	"EAI_AGAIN",
	"ETIMEDOUT",
	"ENOTFOUND",
}

var transientErrnos = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ETIMEDOUT,
}

// ShouldFallback reports whether err warrants the permanent switch to local
// mode. Classification tiers, evaluated in order:
//
//  1. structured transient network codes (connection refused/reset, DNS
//     failures, kernel-level timeouts)
//  2. request sent but no response received
//  3. HTTP status >= 500
//  4. aggregate errors: true iff any sub-error classifies as transient
//  5. transient code name appearing as a substring of the message
//
// Everything else, 4xx statuses in particular, is a real failure and
// returns false.
func ShouldFallback(err error) bool {
	if err == nil {
		return false
	}

	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		// Covers both EAI_AGAIN (temporary resolver failure) and
		// ENOTFOUND (no such host).
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// A *url.Error whose cause is a stream break means the request went
		// out but the remote never answered.
		if cause := urlErr.Unwrap(); cause != nil && isClosedStream(cause) {
			return true
		}
	}

	var statusErr *remote.StatusError
	if errors.As(err, &statusErr) && statusErr.Code >= 500 {
		return true
	}

	if agg, ok := err.(interface{ Unwrap() []error }); ok {
		for _, sub := range agg.Unwrap() {
			if ShouldFallback(sub) {
				return true
			}
		}
	}

	msg := err.Error()
	for _, code := range transientCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}

	return false
}

func isClosedStream(err error) bool {
	if errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "server closed")
}
