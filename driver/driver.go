// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver is the command execution and cursor streaming core. It
// translates operation configurations into wire protocol commands, dispatches
// them over connections obtained from a Deployment, and exposes server-side
// cursors through BatchCursor.
package driver

import (
	"context"

	"github.com/ikmak/mongocore/address"
	"github.com/ikmak/mongocore/description"
)

// Deployment is implemented by types that can select a server from a
// deployment. Topology discovery and monitoring are intentionally external to
// this package; a Deployment is the seam they plug into.
type Deployment interface {
	SelectServer(context.Context, description.ServerSelector) (Server, error)
	Kind() description.TopologyKind
}

// Server represents a server. Implementations should pool connections and
// handle the retrieving and returning of connections.
type Server interface {
	Connection(context.Context) (Connection, error)
}

// Connection represents a connection to a server.
type Connection interface {
	WriteWireMessage(context.Context, []byte) error
	ReadWireMessage(ctx context.Context, dst []byte) ([]byte, error)
	Description() description.Server
	Close() error
	ID() string
	Address() address.Address
}

// StreamerConnection represents a Connection that supports streaming wire
// protocol messages (exhaust mode).
type StreamerConnection interface {
	Connection
	SetStreaming(bool)
	CurrentlyStreaming() bool
	SupportsStreaming() bool
}

// PinnedConnection represents a Connection that can be pinned by one or more
// cursors. Implementations should maintain the following invariants:
//
// 1. Each Pin* call should increment the number of references for the connection.
// 2. Each Unpin* call should decrement the number of references for the connection.
// 3. Calls to Close() should be ignored until all resources have unpinned the connection.
type PinnedConnection interface {
	Connection
	PinToCursor() error
	UnpinFromCursor() error
}

// ErrorProcessor implementations can handle processing errors, which may
// modify their internal state. If this type is implemented by a Server, then
// Operation.Execute will call its ProcessError method after it decodes a wire
// message.
type ErrorProcessor interface {
	ProcessError(err error, conn Connection)
}

// Handshaker is the interface implemented by types that can perform a
// connection handshake. Authentication mechanisms are implemented as
// Handshaker decorators outside of this package.
type Handshaker interface {
	Handshake(ctx context.Context, addr address.Address, conn Connection) (description.Server, error)
}

// Type specifies whether an operation is a read or a write.
type Type uint

// The valid operation types.
const (
	_ Type = iota
	Write
	Read
)

// SingleServerDeployment is an implementation of Deployment that always
// returns a single server.
type SingleServerDeployment struct{ Server }

// SelectServer implements the Deployment interface. This method does not use
// the description.ServerSelector provided and instead returns the embedded
// Server.
func (ssd SingleServerDeployment) SelectServer(context.Context, description.ServerSelector) (Server, error) {
	return ssd.Server, nil
}

// Kind implements the Deployment interface. It always returns
// description.Single.
func (SingleServerDeployment) Kind() description.TopologyKind { return description.Single }

// SingleConnectionDeployment is an implementation of Deployment that always
// returns the same Connection. Closing the connection at the end of an
// operation returns it to its owner rather than tearing it down, so the
// deployment can be reused for further operations.
type SingleConnectionDeployment struct{ C Connection }

// SelectServer implements the Deployment interface. This method does not use
// the description.ServerSelector provided and instead returns itself. The
// Connection method returns the embedded Connection.
func (scd SingleConnectionDeployment) SelectServer(context.Context, description.ServerSelector) (Server, error) {
	return scd, nil
}

// Kind implements the Deployment interface. It always returns
// description.Single.
func (SingleConnectionDeployment) Kind() description.TopologyKind { return description.Single }

// Connection implements the Server interface. It always returns the embedded
// connection.
func (scd SingleConnectionDeployment) Connection(context.Context) (Connection, error) {
	return scd.C, nil
}
