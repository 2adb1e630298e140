package engine

// Error taxonomy for simulation runs

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration    = errors.New("configuration error")
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrInvalidSize      = errors.New("invalid size")
	ErrIndex            = errors.New("index out of range")
)

// SimError carries enough context to reproduce a failure: the group,
// asset and bar it occurred at. Indexes are -1 when not applicable.
type SimError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Group   int    `json:"group"`
	Asset   int    `json:"asset"`
	Bar     int    `json:"bar"`
	base    error
}

func (e *SimError) Error() string {
	if e.Group < 0 && e.Asset < 0 && e.Bar < 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (group=%d asset=%d bar=%d)", e.Code, e.Message, e.Group, e.Asset, e.Bar)
}

func (e *SimError) Unwrap() error { return e.base }

func configError(format string, args ...any) *SimError {
	return &SimError{
		Code:    "CONFIGURATION",
		Message: fmt.Sprintf(format, args...),
		Group:   -1, Asset: -1, Bar: -1,
		base: ErrConfiguration,
	}
}

func cashError(group, asset, bar int, format string, args ...any) *SimError {
	return &SimError{
		Code:    "INSUFFICIENT_CASH",
		Message: fmt.Sprintf(format, args...),
		Group:   group, Asset: asset, Bar: bar,
		base: ErrInsufficientCash,
	}
}

func sizeError(group, asset, bar int, format string, args ...any) *SimError {
	return &SimError{
		Code:    "INVALID_SIZE",
		Message: fmt.Sprintf(format, args...),
		Group:   group, Asset: asset, Bar: bar,
		base: ErrInvalidSize,
	}
}

func indexError(format string, args ...any) *SimError {
	return &SimError{
		Code:    "INDEX",
		Message: fmt.Sprintf(format, args...),
		Group:   -1, Asset: -1, Bar: -1,
		base: ErrIndex,
	}
}
