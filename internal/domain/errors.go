package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrNoRoute        = errors.New("no route for quote")
	ErrExpired        = errors.New("opportunity expired")
	ErrConfirmTimeout = errors.New("confirmation timed out")
	ErrBundleTimeout  = errors.New("bundle status poll timed out")
	ErrLockHeld       = errors.New("lock already held")
	ErrEngineStopped  = errors.New("engine not running")
)
