package models

import "errors"

var (
	// ErrSourceUnavailable means the backing series could not be obtained.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrUnresumableIndex means an append run found no usable last record.
	ErrUnresumableIndex = errors.New("cannot resume from profile index")
	// ErrEmptyWindow means the selected time range holds no samples.
	ErrEmptyWindow = errors.New("no samples in selected window")
	// ErrNoProfilesFound means a non-empty series produced no valid profile.
	ErrNoProfilesFound = errors.New("no profiles found")
	// ErrMalformedTimestamp means a timestamp could not be parsed.
	ErrMalformedTimestamp = errors.New("malformed timestamp")
)
