// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package drivertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/address"
	"github.com/ikmak/mongocore/description"
	"github.com/ikmak/mongocore/driver"
)

// Reply is one scripted server response.
type Reply struct {
	Doc bsoncore.Document
	// MoreToCome marks the response as part of an exhaust stream with more
	// responses to follow.
	MoreToCome bool
	// Err, if set, is returned from the read instead of a wire message.
	Err error
}

// MockDeployment is a driver.Deployment backed by a single MockServer.
type MockDeployment struct {
	Srv          *MockServer
	TopologyKind description.TopologyKind
}

// SelectServer implements the driver.Deployment interface.
func (md *MockDeployment) SelectServer(context.Context, description.ServerSelector) (driver.Server, error) {
	return md.Srv, nil
}

// Kind implements the driver.Deployment interface.
func (md *MockDeployment) Kind() description.TopologyKind {
	if md.TopologyKind == 0 {
		return description.Single
	}
	return md.TopologyKind
}

// MockServer is a driver.Server that hands out connections which replay
// scripted replies. It counts connection checkouts and checkins so tests can
// assert that every connection taken for a command is returned.
type MockServer struct {
	Desc    description.Server
	ConnErr error

	mu      sync.Mutex
	replies []Reply

	checkOuts int64
	checkIns  int64
}

// NewMockServer returns a MockServer whose description reports the given
// maximum wire version.
func NewMockServer(maxWireVersion int32, replies ...Reply) *MockServer {
	return &MockServer{
		Desc: description.Server{
			Addr:            address.Address("mock:27017"),
			Kind:            description.Standalone,
			MaxBatchCount:   100000,
			MaxDocumentSize: 16777216,
			MaxMessageSize:  48000000,
			WireVersion:     &description.VersionRange{Max: maxWireVersion},
		},
		replies: replies,
	}
}

// AddReplies appends scripted replies to the server.
func (ms *MockServer) AddReplies(replies ...Reply) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.replies = append(ms.replies, replies...)
}

// Connection implements the driver.Server interface.
func (ms *MockServer) Connection(context.Context) (driver.Connection, error) {
	if ms.ConnErr != nil {
		return nil, ms.ConnErr
	}
	atomic.AddInt64(&ms.checkOuts, 1)
	return &MockConnection{server: ms, id: uuid.NewString()}, nil
}

// CheckOuts returns the number of connections handed out.
func (ms *MockServer) CheckOuts() int64 { return atomic.LoadInt64(&ms.checkOuts) }

// CheckIns returns the number of connections returned or closed.
func (ms *MockServer) CheckIns() int64 { return atomic.LoadInt64(&ms.checkIns) }

func (ms *MockServer) nextReply() (Reply, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if len(ms.replies) == 0 {
		return Reply{}, errors.New("no scripted replies remain")
	}
	reply := ms.replies[0]
	ms.replies = ms.replies[1:]
	return reply, nil
}

// MockConnection replays the scripted replies of its MockServer. It records
// every wire message written to it and supports exhaust streaming and cursor
// pinning.
type MockConnection struct {
	server *MockServer
	id     string

	mu        sync.Mutex
	written   [][]byte
	streaming bool
	pinCount  int64
	closed    bool
}

var _ driver.Connection = (*MockConnection)(nil)
var _ driver.StreamerConnection = (*MockConnection)(nil)
var _ driver.PinnedConnection = (*MockConnection)(nil)

// WriteWireMessage implements the driver.Connection interface.
func (mc *MockConnection) WriteWireMessage(_ context.Context, wm []byte) error {
	b := make([]byte, len(wm))
	copy(b, wm)
	mc.mu.Lock()
	mc.written = append(mc.written, b)
	mc.mu.Unlock()
	return nil
}

// ReadWireMessage implements the driver.Connection interface. The next
// scripted reply is encoded as an OP_MSG response.
func (mc *MockConnection) ReadWireMessage(_ context.Context, dst []byte) ([]byte, error) {
	reply, err := mc.server.nextReply()
	if err != nil {
		return dst, err
	}
	if reply.Err != nil {
		return dst, reply.Err
	}
	return append(dst[:0], MakeMsgReply(reply.Doc, reply.MoreToCome)...), nil
}

// Written returns copies of the wire messages written to this connection in
// order.
func (mc *MockConnection) Written() [][]byte {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([][]byte, len(mc.written))
	copy(out, mc.written)
	return out
}

// Description implements the driver.Connection interface.
func (mc *MockConnection) Description() description.Server { return mc.server.Desc }

// Close implements the driver.Connection interface. A pinned connection stays
// open until every pin is released.
func (mc *MockConnection) Close() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.pinCount > 0 || mc.closed {
		return nil
	}
	mc.closed = true
	atomic.AddInt64(&mc.server.checkIns, 1)
	return nil
}

// Closed returns true once the connection has been returned to the server.
func (mc *MockConnection) Closed() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.closed
}

// ID implements the driver.Connection interface. Each checked out connection
// gets a unique identifier so tests can tell connections apart.
func (mc *MockConnection) ID() string { return mc.id }

// Address implements the driver.Connection interface.
func (mc *MockConnection) Address() address.Address { return mc.server.Desc.Addr }

// SetStreaming implements the driver.StreamerConnection interface.
func (mc *MockConnection) SetStreaming(streaming bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.streaming = streaming
}

// CurrentlyStreaming implements the driver.StreamerConnection interface.
func (mc *MockConnection) CurrentlyStreaming() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.streaming
}

// SupportsStreaming implements the driver.StreamerConnection interface.
func (mc *MockConnection) SupportsStreaming() bool { return true }

// PinToCursor implements the driver.PinnedConnection interface.
func (mc *MockConnection) PinToCursor() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.closed {
		return errors.New("cannot pin a closed connection")
	}
	mc.pinCount++
	return nil
}

// UnpinFromCursor implements the driver.PinnedConnection interface.
func (mc *MockConnection) UnpinFromCursor() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.pinCount == 0 {
		return errors.New("attempted to unpin a connection that is not pinned")
	}
	mc.pinCount--
	return nil
}
