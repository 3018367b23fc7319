package nfc

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TagPoll is an outstanding tag scan. Poll returns false while the scan is
// still running and delivers the result exactly once.
type TagPoll interface {
	Poll() (TagResult, bool)
}

// UserPoll is an outstanding user lookup with the same delivery contract.
type UserPoll interface {
	Poll() (UserResult, bool)
}

// RequestFactory issues identification requests. Both methods must return
// immediately; the hardware or network call runs elsewhere.
type RequestFactory interface {
	ScanTag() TagPoll
	LookupUser(tag TagID) UserPoll
}

// asyncCall runs fn on its own goroutine and hands the single result over a
// one-slot channel so the worker never blocks on an absent reader.
type asyncCall[T any] struct {
	done     chan T
	consumed bool
}

func startCall[T any](fn func() T, onPanic func(any) T) *asyncCall[T] {
	c := &asyncCall[T]{done: make(chan T, 1)}
	go func() {
		defer func() {
			if p := recover(); p != nil {
				c.done <- onPanic(p)
			}
		}()
		c.done <- fn()
	}()
	return c
}

func (c *asyncCall[T]) poll() (T, bool) {
	var zero T
	if c.consumed {
		return zero, false
	}
	select {
	case res := <-c.done:
		c.consumed = true
		return res, true
	default:
		return zero, false
	}
}

// TagRequest is a tag scan running against a TagReader.
type TagRequest struct {
	call *asyncCall[TagResult]
}

// NewTagRequest starts a scan that lasts at most one scan window.
func NewTagRequest(reader TagReader, window time.Duration) *TagRequest {
	return &TagRequest{call: startCall(func() TagResult {
		ctx, cancel := context.WithTimeout(context.Background(), window)
		defer cancel()

		tag, err := reader.Read(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			// The scan window itself ran out.
			return TagResult{}
		case err != nil:
			return TagResult{Err: &ScanError{Err: err}}
		case tag == "":
			return TagResult{}
		default:
			return TagResult{Tag: tag, Found: true}
		}
	}, func(p any) TagResult {
		return TagResult{Err: &ScanError{Err: fmt.Errorf("reader panic: %v", p)}}
	})}
}

// Poll implements TagPoll.
func (r *TagRequest) Poll() (TagResult, bool) {
	return r.call.poll()
}

// UserRequest is a directory lookup for one tag.
type UserRequest struct {
	Tag  TagID
	call *asyncCall[UserResult]
}

// NewUserRequest starts a lookup bounded by timeout.
func NewUserRequest(directory UserDirectory, tag TagID, timeout time.Duration) *UserRequest {
	return &UserRequest{Tag: tag, call: startCall(func() UserResult {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		user, err := directory.Lookup(ctx, tag)
		if err != nil {
			return UserResult{Err: &LookupError{Tag: tag, Err: err}}
		}
		if user.Username == "" {
			return UserResult{Err: &LookupError{Tag: tag, Err: errors.New("directory returned empty username")}}
		}
		return UserResult{User: user}
	}, func(p any) UserResult {
		return UserResult{Err: &LookupError{Tag: tag, Err: fmt.Errorf("directory panic: %v", p)}}
	})}
}

// Poll implements UserPoll.
func (r *UserRequest) Poll() (UserResult, bool) {
	return r.call.poll()
}

// DriverConfig bounds the duration of driver calls.
type DriverConfig struct {
	ScanWindow    time.Duration // How long one scan waits for a tag
	LookupTimeout time.Duration // Upper bound on one directory lookup
}

// DefaultDriverConfig returns the cabinet defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		ScanWindow:    2 * time.Second,
		LookupTimeout: 5 * time.Second,
	}
}

// Driver is the production RequestFactory backed by a reader and a directory.
type Driver struct {
	reader    TagReader
	directory UserDirectory
	config    DriverConfig
}

// NewDriver creates a driver. Zero durations fall back to the defaults.
func NewDriver(reader TagReader, directory UserDirectory, config DriverConfig) *Driver {
	defaults := DefaultDriverConfig()
	if config.ScanWindow <= 0 {
		config.ScanWindow = defaults.ScanWindow
	}
	if config.LookupTimeout <= 0 {
		config.LookupTimeout = defaults.LookupTimeout
	}
	return &Driver{reader: reader, directory: directory, config: config}
}

// ScanTag implements RequestFactory.
func (d *Driver) ScanTag() TagPoll {
	return NewTagRequest(d.reader, d.config.ScanWindow)
}

// LookupUser implements RequestFactory.
func (d *Driver) LookupUser(tag TagID) UserPoll {
	return NewUserRequest(d.directory, tag, d.config.LookupTimeout)
}
