// Package failure classifies errors raised while processing a work item into
// the four kinds the batch runner reacts to.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

type Kind int

const (
	// Transient failures reset the item to eligible for a later retry.
	Transient Kind = iota
	// RateLimit stops the batch; the next run waits for a short cooldown.
	RateLimit
	// Quota stops the batch; the next run waits for a day-scale cooldown.
	Quota
	// Permanent failures mark the item errored and the batch moves on.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case RateLimit:
		return "rate_limit"
	case Quota:
		return "quota"
	case Permanent:
		return "permanent"
	default:
		return "transient"
	}
}

// StopsBatch reports whether a failure of this kind ends the current batch.
func (k Kind) StopsBatch() bool {
	return k == RateLimit || k == Quota
}

// Error carries an explicit classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func AsPermanent(err error) error   { return wrap(Permanent, err) }
func AsTransient(err error) error   { return wrap(Transient, err) }
func AsRateLimited(err error) error { return wrap(RateLimit, err) }
func AsQuota(err error) error       { return wrap(Quota, err) }

var (
	rateLimitReasons = map[string]bool{
		"rateLimitExceeded":     true,
		"userRateLimitExceeded": true,
	}
	quotaReasons = map[string]bool{
		"dailyLimitExceeded":      true,
		"dailyLimitExceededUnreg": true,
		"quotaExceeded":           true,
		"storageQuotaExceeded":    true,
	}

	// Matched against lower-cased error text, quota before rate limit.
	quotaSignatures = []string{
		"quota",
		"daily limit",
		"too many times for one day",
		"sending limit",
	}
	rateLimitSignatures = []string{
		"rate limit",
		"ratelimit",
		"too many requests",
		"too many concurrent",
		"try again later",
	}
	permanentSignatures = []string{
		"not found",
		"invalid argument",
		"malformed",
	}
)

// Classify maps an error to a Kind. Explicit *Error wrappers win, then
// Google API status codes and reasons, then message signatures. Anything
// unrecognised is Transient.
func Classify(err error) Kind {
	if err == nil {
		return Transient
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if kind, ok := classifyAPIError(gerr); ok {
			return kind
		}
	}

	return classifyMessage(err.Error())
}

func classifyAPIError(gerr *googleapi.Error) (Kind, bool) {
	for _, item := range gerr.Errors {
		if quotaReasons[item.Reason] {
			return Quota, true
		}
		if rateLimitReasons[item.Reason] {
			return RateLimit, true
		}
	}

	switch {
	case gerr.Code == http.StatusTooManyRequests:
		if kind := classifyMessage(gerr.Message); kind == Quota {
			return Quota, true
		}
		return RateLimit, true
	case gerr.Code == http.StatusBadRequest,
		gerr.Code == http.StatusNotFound,
		gerr.Code == http.StatusGone:
		return Permanent, true
	case gerr.Code >= 500:
		return Transient, true
	}
	return Transient, false
}

func classifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, sig := range quotaSignatures {
		if strings.Contains(lower, sig) {
			return Quota
		}
	}
	for _, sig := range rateLimitSignatures {
		if strings.Contains(lower, sig) {
			return RateLimit
		}
	}
	for _, sig := range permanentSignatures {
		if strings.Contains(lower, sig) {
			return Permanent
		}
	}
	return Transient
}
