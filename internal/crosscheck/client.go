// Package crosscheck compares the refclock offsets with independent NTP
// servers. A diverging GPS receiver shows up as a growing difference
// between both offsets.
package crosscheck

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"

	"github.com/maximewewer/gpsd-refclock/pkg/logger"
	"github.com/maximewewer/gpsd-refclock/pkg/mathutil"
)

// Query defaults
const (
	DefaultTimeout = 5 * time.Second
	DefaultVersion = 4

	// delay between consecutive samples of one server
	sampleDelay = 100 * time.Millisecond

	// offsets beyond this are not trusted
	suspiciousOffset = time.Hour
	maxAcceptableRTT = 10 * time.Second
)

// Querier performs a single NTP query
type Querier interface {
	Query(ctx context.Context, server string) (*Response, error)
}

// Response is the subset of an NTP reply used by the checker
type Response struct {
	Server        string
	Offset        time.Duration
	RTT           time.Duration
	Stratum       uint8
	LeapIndicator uint8
	ReferenceID   uint32
	KissCode      string
	ValidateError error
}

// IsValid checks if the response passed validation
func (r *Response) IsValid() bool {
	return r.ValidateError == nil
}

// IsSuspicious reports responses that must not be compared against the refclock
func (r *Response) IsSuspicious() bool {
	switch {
	case r.Stratum == 0 || r.Stratum > 15:
		return true
	case r.KissCode != "":
		return true
	case !r.IsValid():
		return true
	case mathutil.AbsDuration(r.Offset) > suspiciousOffset:
		return true
	case r.RTT > maxAcceptableRTT:
		return true
	}
	return false
}

// Client queries NTP servers with beevik/ntp
type Client struct {
	timeout     time.Duration
	version     int
	rateLimiter *RateLimiter
	query       func(host string, opt ntp.QueryOptions) (*ntp.Response, error)
}

// NewClient creates a client. limiter may be nil.
func NewClient(timeout time.Duration, version int, limiter *RateLimiter) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if version == 0 {
		version = DefaultVersion
	}
	return &Client{
		timeout:     timeout,
		version:     version,
		rateLimiter: limiter,
		query:       ntp.QueryWithOptions,
	}
}

// Query performs a single NTP query to the specified server
func (c *Client) Query(ctx context.Context, server string) (*Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, server); err != nil {
			return nil, fmt.Errorf("rate limit exceeded: %w", err)
		}
	}

	opts := ntp.QueryOptions{
		Timeout: c.timeout,
		Version: c.version,
	}

	type queryResult struct {
		response *ntp.Response
		err      error
	}
	// buffered so the query goroutine never blocks
	resultChan := make(chan queryResult, 1)

	go func() {
		resp, err := c.query(server, opts)
		resultChan <- queryResult{response: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("query context cancelled: %w", ctx.Err())
	case result := <-resultChan:
		if result.err != nil {
			logger.SafeDebug("crosscheck", "NTP query failed", map[string]interface{}{
				"server": server,
				"error":  result.err.Error(),
			})
			return nil, fmt.Errorf("ntp query to %s failed: %w", server, result.err)
		}

		r := result.response
		resp := &Response{
			Server:        server,
			Offset:        r.ClockOffset,
			RTT:           r.RTT,
			Stratum:       r.Stratum,
			LeapIndicator: uint8(r.Leap),
			ReferenceID:   r.ReferenceID,
			KissCode:      r.KissCode,
			ValidateError: r.Validate(),
		}
		if resp.ValidateError != nil {
			logger.SafeWarn("crosscheck", "NTP response validation failed", map[string]interface{}{
				"server": server,
				"error":  resp.ValidateError.Error(),
			})
		}
		return resp, nil
	}
}

// QueryMultiple queries server count times and returns the successful replies
func QueryMultiple(ctx context.Context, q Querier, server string, count int) ([]*Response, error) {
	if count <= 0 {
		count = 1
	}
	responses := make([]*Response, 0, count)

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return responses, err
		}

		resp, err := q.Query(ctx, server)
		if err != nil {
			logger.SafeDebug("crosscheck", "NTP query attempt failed", map[string]interface{}{
				"server":  server,
				"attempt": i + 1,
				"error":   err.Error(),
			})
			continue
		}
		responses = append(responses, resp)

		if i < count-1 {
			select {
			case <-time.After(sampleDelay):
			case <-ctx.Done():
				return responses, ctx.Err()
			}
		}
	}

	if len(responses) == 0 {
		return nil, fmt.Errorf("all %d NTP queries failed for server %s", count, server)
	}
	return responses, nil
}
