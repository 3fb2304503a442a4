package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a row does not exist or is not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded matches every QuotaExceededError via errors.Is.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrInvalidStatus is returned for a lifecycle transition the current status forbids.
	ErrInvalidStatus = errors.New("invalid status transition")
	// ErrCampaignActive is returned when a run of the campaign is still queued or executing.
	ErrCampaignActive = errors.New("campaign run already in progress")
)

// QuotaKind names the daily counter an admission was checked against.
type QuotaKind string

const (
	QuotaExtract QuotaKind = "extract"
	QuotaDM      QuotaKind = "dm"
)

// QuotaExceededError carries the numbers the caller needs to explain a rejection.
type QuotaExceededError struct {
	Kind      QuotaKind
	Required  int
	Remaining int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded: required %d, remaining %d", e.Kind, e.Required, e.Remaining)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
