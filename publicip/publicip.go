// Package publicip resolves the host's current public IPv4 address by
// querying a prioritized list of independent HTTP lookup services,
// stopping at the first usable answer.
package publicip

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yllada/vpn-rotator/common"
)

// userAgent is sent with every lookup request. Some services reject
// requests without one.
const userAgent = "curl/7.74.0"

// maxBodySize caps how much of a lookup response is read. A bare IPv4
// literal fits in 16 bytes; anything near the cap is garbage anyway.
const maxBodySize = 1 << 20

// Resolver queries public IP lookup endpoints in a fixed priority order.
// It is a pure query with no side effects and is safe to call repeatedly.
type Resolver struct {
	endpoints []string
	client    *http.Client
}

// NewResolver creates a resolver for the given endpoints with a
// per-request timeout. The HTTP transport is pinned to IPv4 so the
// answer always reflects the tunnel's v4 exit address.
func NewResolver(endpoints []string, timeout time.Duration) *Resolver {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 15 * time.Second,
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp4", addr)
		},
	}

	return &Resolver{
		endpoints: endpoints,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Resolve returns the first validated IPv4 address any endpoint reports.
// Network errors, timeouts, non-success statuses, and malformed bodies
// all mean "this endpoint failed" and fall through to the next one.
// When every endpoint fails, common.ErrNoAddress is returned.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	for _, endpoint := range r.endpoints {
		ip, err := r.query(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		return ip, nil
	}

	return "", common.ErrNoAddress
}

// query fetches a single endpoint and validates its body.
func (r *Resolver) query(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("http status %d", resp.StatusCode)
	}

	ip := strings.TrimSpace(string(body))
	if !IsIPv4(ip) {
		return "", common.ErrInvalidAddress
	}
	return ip, nil
}

// IsIPv4 reports whether s is a dotted-quad IPv4 literal: exactly four
// dot-separated fields, each composed only of decimal digits and
// numerically within [0,255]. Leading zeros are accepted ("01" parses
// as 1), matching plain integer-parse semantics. IPv6 literals and
// empty strings are not valid.
func IsIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}

	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, c := range part {
			if c < '0' || c > '9' {
				return false
			}
		}
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return false
		}
	}

	return true
}
