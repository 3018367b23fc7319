// Package nfc implements cabinet user identification: a tag scan on the NFC
// reader followed by a user lookup keyed by the scanned tag.
//
// The RequestPoller is ticked once per frame by the game engine and never
// blocks it. Hardware and directory calls run on driver goroutines and are
// only ever observed through a non-blocking Poll.
package nfc

import (
	"errors"
	"fmt"
)

// TagID is the opaque identifier read from an NFC tag (usually the hex UID).
type TagID string

// UserRecord is what a directory knows about the owner of a tag.
type UserRecord struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// RequestKind distinguishes the two identification request types.
type RequestKind int

const (
	KindTagScan RequestKind = iota
	KindUserLookup
)

func (k RequestKind) String() string {
	switch k {
	case KindTagScan:
		return "tag_scan"
	case KindUserLookup:
		return "user_lookup"
	default:
		return "unknown"
	}
}

// TagResult is the outcome of a resolved tag scan.
// Found is false when the scan window closed without a tag.
type TagResult struct {
	Tag   TagID
	Found bool
	Err   error
}

// UserResult is the outcome of a resolved user lookup.
type UserResult struct {
	User UserRecord
	Err  error
}

// ErrUnknownTag is returned by directories for tags with no registered user.
var ErrUnknownTag = errors.New("unknown tag")

// ScanError wraps a reader failure (hardware fault, agent disconnect).
type ScanError struct {
	Err error
}

func (e *ScanError) Error() string { return fmt.Sprintf("tag scan failed: %v", e.Err) }
func (e *ScanError) Unwrap() error { return e.Err }

// LookupError wraps a directory failure for a specific tag.
type LookupError struct {
	Tag TagID
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("user lookup for tag %s failed: %v", e.Tag, e.Err)
}
func (e *LookupError) Unwrap() error { return e.Err }

func isUnknownTag(err error) bool {
	return errors.Is(err, ErrUnknownTag)
}
