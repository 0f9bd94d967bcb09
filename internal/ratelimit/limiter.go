// Package ratelimit throttles actor iterations with a token bucket shared by
// every actor thread of a phase.
package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Rate is a number of events allowed per period, written "50 per 1s" in
// workload files. A bare number means events per second.
type Rate struct {
	Events int
	Per    time.Duration
}

// Zero reports whether r imposes no limit.
func (r Rate) Zero() bool {
	return r.Events <= 0
}

func (r Rate) String() string {
	if r.Zero() {
		return "unlimited"
	}
	return strconv.Itoa(r.Events) + " per " + r.Per.String()
}

func (r Rate) limit() rate.Limit {
	if r.Zero() {
		return rate.Inf
	}
	per := r.Per
	if per <= 0 {
		per = time.Second
	}
	return rate.Limit(float64(r.Events) / per.Seconds())
}

// ParseRate parses "N per D" or "N".
func ParseRate(s string) (Rate, error) {
	fields := strings.Fields(s)
	switch {
	case len(fields) == 1:
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 0 {
			return Rate{}, errors.Errorf("invalid rate %q", s)
		}
		return Rate{Events: n, Per: time.Second}, nil
	case len(fields) == 3 && fields[1] == "per":
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 0 {
			return Rate{}, errors.Errorf("invalid rate %q: bad event count", s)
		}
		per, err := time.ParseDuration(fields[2])
		if err != nil || per <= 0 {
			return Rate{}, errors.Errorf("invalid rate %q: bad period", s)
		}
		return Rate{Events: n, Per: per}, nil
	}
	return Rate{}, errors.Errorf("invalid rate %q: expected \"N per duration\"", s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Rate) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseRate(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*r = parsed
	return nil
}

// RateLimiter is a token bucket safe for use by every actor thread of a
// phase.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter admitting r. The bucket holds one
// period's worth of events so a burst at phase start is allowed.
func NewRateLimiter(r Rate) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(r.limit(), r.Events),
	}
}

// Wait blocks until one event is admitted or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.limiter.Limit() == rate.Inf {
		return nil
	}
	return r.limiter.Wait(ctx)
}
