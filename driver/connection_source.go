// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrConnectionSourceReleased is returned when a connection is requested from
// a ConnectionSource whose reference count has already reached zero.
var ErrConnectionSourceReleased = errors.New("attempted to get a connection from a released connection source")

// ConnectionSource is a reference counted lease on a Server. It hands out
// connections for follow-up commands, such as a cursor's getMore and
// killCursors, for as long as at least one holder retains it. The zero value
// is not usable; use NewConnectionSource.
type ConnectionSource struct {
	server Server
	refs   int64
}

// NewConnectionSource returns a ConnectionSource for the given server with a
// reference count of one. The creating holder owns that reference and must
// pair it with a Release call.
func NewConnectionSource(srvr Server) *ConnectionSource {
	return &ConnectionSource{server: srvr, refs: 1}
}

// Retain increments the reference count and returns the source so that
// handing a retained source to a new holder reads as a single expression.
func (cs *ConnectionSource) Retain() *ConnectionSource {
	atomic.AddInt64(&cs.refs, 1)
	return cs
}

// Release decrements the reference count. When the count reaches zero the
// source stops handing out connections. Release is idempotent per holder but
// must not be called more times than Retain plus the initial reference;
// extra calls leave the count negative, which is treated the same as zero.
func (cs *ConnectionSource) Release() {
	atomic.AddInt64(&cs.refs, -1)
}

// RefCount returns the current reference count.
func (cs *ConnectionSource) RefCount() int64 { return atomic.LoadInt64(&cs.refs) }

// Connection implements the Server interface. It returns a connection from
// the leased server, or ErrConnectionSourceReleased if every holder has
// already released the source.
func (cs *ConnectionSource) Connection(ctx context.Context) (Connection, error) {
	if atomic.LoadInt64(&cs.refs) <= 0 {
		return nil, ErrConnectionSourceReleased
	}
	return cs.server.Connection(ctx)
}

// ConnectionAsync acquires a connection on a background goroutine and
// delivers it to callback exactly once. Exactly one of the connection and the
// error is non-nil.
func (cs *ConnectionSource) ConnectionAsync(ctx context.Context, callback func(Connection, error)) {
	if callback == nil {
		callback = func(Connection, error) {}
	}
	go func() { callback(cs.Connection(ctx)) }()
}
