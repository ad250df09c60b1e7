package pagecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// DefaultStaleAge is one year in seconds.
const DefaultStaleAge = int64(60 * 60 * 24 * 365)

// Revalidate is a revalidation interval in seconds, zero or negative value means no interval was supplied.
type Revalidate int64

// MarshalJSON encodes missing interval as false.
func (r Revalidate) MarshalJSON() ([]byte, error) {
	if r <= 0 {
		return []byte("false"), nil
	}

	return strconv.AppendInt(nil, int64(r), 10), nil
}

// UnmarshalJSON accepts number, false or null.
func (r *Revalidate) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "false", "null":
		*r = 0

		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("revalidate: %w", err)
	}

	*r = Revalidate(math.Floor(f))

	return nil
}

// Lifespan is a freshness and expiry policy snapshot computed at write time.
//
// All values are in seconds, ExpireAt >= StaleAt >= LastModifiedAt.
type Lifespan struct {
	LastModifiedAt int64      `json:"lastModifiedAt"`
	StaleAge       int64      `json:"staleAge"`
	StaleAt        int64      `json:"staleAt"`
	ExpireAge      int64      `json:"expireAge"`
	ExpireAt       int64      `json:"expireAt"`
	Revalidate     Revalidate `json:"revalidate"`
}

// IsStale returns true if entry should be regenerated at a given unix time.
func (l *Lifespan) IsStale(nowSec int64) bool {
	return l != nil && l.StaleAt <= nowSec
}

// IsExpired returns true if entry must be evicted at a given unix time.
func (l *Lifespan) IsExpired(nowSec int64) bool {
	return l != nil && l.ExpireAt < nowSec
}

// ExpiresIn returns duration left until expiration, it is capped at time.Duration range.
func (l *Lifespan) ExpiresIn(now time.Time) time.Duration {
	const maxSeconds = int64(math.MaxInt64 / time.Second)

	left := l.ExpireAt - now.Unix()

	switch {
	case left >= maxSeconds:
		return time.Duration(math.MaxInt64)
	case left <= -maxSeconds:
		return time.Duration(math.MinInt64)
	}

	return time.Duration(left)*time.Second - time.Duration(now.Nanosecond())
}

// TTL controls lifespan of cache entries.
//
// Lifespan timestamps are saturated at math.MaxInt64, so huge ages mean no expiration.
type TTL struct {
	// DefaultStaleAge is used when revalidation interval is not supplied.
	// Zero or negative value means DefaultStaleAge of 1 year, NewTTL reports negative values.
	DefaultStaleAge int64

	// EstimateExpireAge calculates expire age from stale age, default is identity.
	// Returned value must not be less than stale age.
	EstimateExpireAge func(staleAge int64) int64
}

// NewTTL creates TTL with validated expire age estimator.
//
// Zero default stale age means DefaultStaleAge, negative value is replaced with DefaultStaleAge
// and reported with ErrInvalidStaleAge.
//
// If estimator returns age below stale age for any of sampled stale ages,
// ErrInvalidEstimator is returned together with TTL that uses identity estimator.
func NewTTL(defaultStaleAge int64, estimateExpireAge func(staleAge int64) int64) (TTL, error) {
	var err error

	t := TTL{DefaultStaleAge: defaultStaleAge}
	if t.DefaultStaleAge <= 0 {
		if t.DefaultStaleAge < 0 {
			err = fmt.Errorf("%w: %d", ErrInvalidStaleAge, t.DefaultStaleAge)
		}

		t.DefaultStaleAge = DefaultStaleAge
	}

	if estimateExpireAge == nil {
		return t, err
	}

	for _, staleAge := range []int64{1, 60, 60 * 60, 24 * 60 * 60, 7 * 24 * 60 * 60, t.DefaultStaleAge} {
		if expireAge := estimateExpireAge(staleAge); expireAge < staleAge {
			return t, errors.Join(err,
				fmt.Errorf("%w: %d for stale age %d", ErrInvalidEstimator, expireAge, staleAge))
		}
	}

	t.EstimateExpireAge = estimateExpireAge

	return t, err
}

// Lifespan calculates lifespan for a write at lastModified milliseconds.
func (t TTL) Lifespan(lastModified int64, revalidate Revalidate) Lifespan {
	lastModifiedAt := int64(math.Floor(float64(lastModified) / 1000))

	staleAge := int64(revalidate)
	if staleAge <= 0 {
		staleAge = t.DefaultStaleAge
		if staleAge <= 0 {
			staleAge = DefaultStaleAge
		}
	}

	expireAge := staleAge
	if t.EstimateExpireAge != nil {
		// Samples passed validation, but estimator may still misbehave on other inputs.
		if e := t.EstimateExpireAge(staleAge); e > staleAge {
			expireAge = e
		}
	}

	return Lifespan{
		LastModifiedAt: lastModifiedAt,
		StaleAge:       staleAge,
		StaleAt:        addAge(lastModifiedAt, staleAge),
		ExpireAge:      expireAge,
		ExpireAt:       addAge(lastModifiedAt, expireAge),
		Revalidate:     revalidate,
	}
}

// addAge returns at + age saturated at math.MaxInt64, age is positive.
func addAge(at, age int64) int64 {
	if at > 0 && age > math.MaxInt64-at {
		return math.MaxInt64
	}

	return at + age
}
