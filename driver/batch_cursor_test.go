// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/address"
	"github.com/ikmak/mongocore/description"
	"github.com/ikmak/mongocore/wiremessage"
)

func TestBatchCursor(t *testing.T) {
	t.Parallel()

	t.Run("setBatchSize", func(t *testing.T) {
		t.Parallel()

		var size int32
		bc := &BatchCursor{
			batchSize: size,
		}
		assert.Equal(t, size, bc.batchSize, "expected batchSize %v, got %v", size, bc.batchSize)

		size = int32(4)
		bc.SetBatchSize(size)
		assert.Equal(t, size, bc.batchSize, "expected batchSize %v, got %v", size, bc.batchSize)
	})

	t.Run("calcGetMoreBatchSize", func(t *testing.T) {
		t.Parallel()

		for _, tcase := range []struct {
			name                               string
			size, limit, numReturned, expected int32
			ok                                 bool
		}{
			{
				name:     "empty",
				expected: 0,
				ok:       true,
			},
			{
				name:     "batchSize NEQ 0",
				size:     4,
				expected: 4,
				ok:       true,
			},
			{
				name:     "limit NEQ 0",
				limit:    4,
				expected: 0,
				ok:       true,
			},
			{
				name:        "limit NEQ and batchSize + numReturned EQ limit",
				size:        4,
				limit:       8,
				numReturned: 4,
				expected:    4,
				ok:          true,
			},
			{
				name:        "limit makes batchSize negative",
				numReturned: 4,
				limit:       2,
				expected:    -2,
				ok:          false,
			},
			{
				name:        "limit reached with batchSize 0",
				limit:       4,
				numReturned: 4,
				expected:    0,
				ok:          false,
			},
		} {
			tcase := tcase
			t.Run(tcase.name, func(t *testing.T) {
				t.Parallel()

				bc := &BatchCursor{
					limit:       tcase.limit,
					batchSize:   tcase.size,
					numReturned: tcase.numReturned,
				}

				bc.SetBatchSize(tcase.size)

				size, ok := calcGetMoreBatchSize(*bc)

				assert.Equal(t, tcase.expected, size, "expected batchSize %v, got %v", tcase.expected, size)
				assert.Equal(t, tcase.ok, ok, "expected ok %v, got %v", tcase.ok, ok)
			})
		}
	})
}

func TestBatchCursorSetMaxTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dur  time.Duration
		want int64
	}{
		{
			name: "empty",
			dur:  0,
			want: 0,
		},
		{
			name: "partial milliseconds are truncated",
			dur:  10_900 * time.Microsecond,
			want: 10,
		},
		{
			name: "millisecond input",
			dur:  10 * time.Millisecond,
			want: 10,
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			bc := BatchCursor{}
			bc.SetMaxTime(test.dur)

			got := bc.maxTimeMS
			assert.Equal(t, test.want, got, "expected and actual maxTimeMS are different")
		})
	}
}

func TestBatchCursorFromDocuments(t *testing.T) {
	t.Parallel()

	docs := []bsoncore.Document{
		bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "x", 1)),
		bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "x", 2)),
	}
	var data []byte
	for _, doc := range docs {
		data = append(data, doc...)
	}

	bc := NewBatchCursorFromDocuments(data)
	assert.Equal(t, int64(0), bc.ID(), "expected a local cursor to have ID 0")
	assert.Nil(t, bc.Server(), "expected a local cursor to have no connection source")

	require.True(t, bc.Next(context.Background()), "expected one batch of documents")
	got, err := bc.Batch().Documents()
	require.NoError(t, err, "Documents error: %v", err)
	assert.Equal(t, docs, got, "expected documents %v, got %v", docs, got)

	assert.False(t, bc.Next(context.Background()), "expected the cursor to be exhausted after one batch")
	assert.NoError(t, bc.Err(), "Err: %v", bc.Err())
	assert.NoError(t, bc.Close(context.Background()), "Close error")
}

func TestBatchCursorClosed(t *testing.T) {
	t.Parallel()

	t.Run("Close is idempotent", func(t *testing.T) {
		t.Parallel()

		bc := NewBatchCursorFromDocuments(nil)
		require.NoError(t, bc.Close(context.Background()), "Close error")
		require.NoError(t, bc.Close(context.Background()), "Close should be idempotent")

		assert.False(t, bc.Next(context.Background()), "expected Next to return false on a closed cursor")
		assert.Equal(t, ErrCursorClosed, bc.Err(), "expected ErrCursorClosed, got %v", bc.Err())
	})

	t.Run("zero value can be closed", func(t *testing.T) {
		t.Parallel()

		var bc BatchCursor
		require.NoError(t, bc.Close(context.Background()), "Close error")
		require.NoError(t, bc.Close(context.Background()), "Close should be idempotent")
		assert.False(t, bc.Next(context.Background()), "expected Next to return false on a closed cursor")
	})
}

func TestBatchCursorLimitEnforcement(t *testing.T) {
	t.Parallel()

	t.Run("first batch is truncated to the limit", func(t *testing.T) {
		t.Parallel()

		cr := CursorResponse{
			FirstBatch: makeTestArray(testDocs(3)...),
			Database:   "foo",
			Collection: "bar",
			ID:         0,
		}
		bc, err := NewBatchCursor(cr, CursorOptions{Limit: 1})
		require.NoError(t, err, "NewBatchCursor error: %v", err)

		require.True(t, bc.Next(context.Background()), "expected a batch")
		docs, err := bc.Batch().Documents()
		require.NoError(t, err, "Documents error: %v", err)
		assert.Equal(t, 1, len(docs), "expected the batch to be truncated to 1 document, got %d", len(docs))
	})

	t.Run("getMore batch sizes shrink to the remaining limit", func(t *testing.T) {
		t.Parallel()

		server := newScriptedServer(
			makeGetMoreReply(1, testDocs(2)...), // numReturned 2 -> 4
			makeGetMoreReply(1, testDocs(1)...), // numReturned 4 -> 5
			makeOKReply(),                       // killCursors
		)
		cr := CursorResponse{
			Server:     server,
			Desc:       server.desc,
			FirstBatch: makeTestArray(testDocs(2)...),
			Database:   "foo",
			Collection: "bar",
			ID:         1,
			Address:    server.desc.Addr,
		}
		bc, err := NewBatchCursor(cr, CursorOptions{BatchSize: 2, Limit: 5})
		require.NoError(t, err, "NewBatchCursor error: %v", err)

		var returned int
		for bc.Next(context.Background()) {
			docs, err := bc.Batch().Documents()
			require.NoError(t, err, "Documents error: %v", err)
			returned += len(docs)
		}
		require.NoError(t, bc.Err(), "cursor error: %v", bc.Err())
		assert.Equal(t, 5, returned, "expected exactly 5 documents, got %d", returned)
		assert.Equal(t, int64(0), bc.ID(), "expected the cursor to be exhausted")

		// The cursor should have sent getMore(batchSize:2), then
		// getMore(batchSize:1) for the single remaining document, then
		// killCursors once the limit was reached.
		cmds := server.commands(t)
		require.Equal(t, 3, len(cmds), "expected 3 commands, got %d", len(cmds))

		assert.Equal(t, "getMore", cmds[0].Index(0).Key(), "expected a getMore command")
		size, ok := cmds[0].Lookup("batchSize").Int32OK()
		require.True(t, ok, "expected batchSize in getMore command")
		assert.Equal(t, int32(2), size, "expected batchSize 2, got %d", size)

		size, ok = cmds[1].Lookup("batchSize").Int32OK()
		require.True(t, ok, "expected batchSize in getMore command")
		assert.Equal(t, int32(1), size, "expected batchSize 1, got %d", size)

		assert.Equal(t, "killCursors", cmds[2].Index(0).Key(), "expected a killCursors command")
		id, ok := cmds[2].Lookup("cursors", "0").Int64OK()
		require.True(t, ok, "expected a cursor ID in the killCursors command")
		assert.Equal(t, int64(1), id, "expected cursor 1 to be killed, got %d", id)
	})

	t.Run("limit met without a batchSize kills the cursor instead of a getMore", func(t *testing.T) {
		t.Parallel()

		server := newScriptedServer(
			makeOKReply(), // killCursors
		)
		cr := CursorResponse{
			Server:     server,
			Desc:       server.desc,
			FirstBatch: makeTestArray(testDocs(2)...),
			Database:   "foo",
			Collection: "bar",
			ID:         1,
			Address:    server.desc.Addr,
		}
		bc, err := NewBatchCursor(cr, CursorOptions{Limit: 2})
		require.NoError(t, err, "NewBatchCursor error: %v", err)

		require.True(t, bc.Next(context.Background()), "expected the first batch")
		assert.False(t, bc.Next(context.Background()), "expected the cursor to be exhausted at the limit")
		require.NoError(t, bc.Err(), "cursor error: %v", bc.Err())
		assert.Equal(t, int64(0), bc.ID(), "expected the cursor ID to be zeroed")

		// Without a batchSize the getMore would be unrestricted, so once the
		// limit is met the cursor must be killed rather than queried again.
		cmds := server.commands(t)
		require.Equal(t, 1, len(cmds), "expected 1 command, got %d", len(cmds))
		assert.Equal(t, "killCursors", cmds[0].Index(0).Key(), "expected a killCursors command")
	})
}

func TestBatchCursorTailable(t *testing.T) {
	t.Parallel()

	t.Run("TryNext returns false without a batch", func(t *testing.T) {
		t.Parallel()

		server := newScriptedServer(
			makeGetMoreReply(1), // empty batch
		)
		bc := newTailableCursor(t, server, true)

		assert.False(t, bc.TryNext(context.Background()), "expected TryNext to return false for an empty batch")
		require.NoError(t, bc.Err(), "cursor error: %v", bc.Err())
		assert.Equal(t, int64(1), bc.ID(), "expected the cursor to stay alive")
	})

	t.Run("Next polls until a batch arrives", func(t *testing.T) {
		t.Parallel()

		server := newScriptedServer(
			makeGetMoreReply(1),                 // empty batch
			makeGetMoreReply(1, testDocs(1)...), // document arrives
		)
		bc := newTailableCursor(t, server, true)

		require.True(t, bc.Next(context.Background()), "expected Next to poll until a document arrived")
		docs, err := bc.Batch().Documents()
		require.NoError(t, err, "Documents error: %v", err)
		assert.Equal(t, 1, len(docs), "expected 1 document, got %d", len(docs))
		assert.Equal(t, 2, len(server.commands(t)), "expected 2 getMore commands")
	})

	t.Run("Next stops polling when the context expires", func(t *testing.T) {
		t.Parallel()

		server := newScriptedServer(
			makeGetMoreReply(1),
		)
		bc := newTailableCursor(t, server, true)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, bc.Next(ctx), "expected Next to return false for an expired context")
		assert.ErrorIs(t, bc.Err(), context.Canceled, "expected a context error, got %v", bc.Err())
	})
}

func TestBatchCursorGetMoreErrors(t *testing.T) {
	t.Parallel()

	t.Run("cursor not found becomes CursorNotFoundError", func(t *testing.T) {
		t.Parallel()

		notFound := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDoubleElement(nil, "ok", 0),
			bsoncore.AppendStringElement(nil, "errmsg", "cursor id 1 not found"),
			bsoncore.AppendInt32Element(nil, "code", 43),
			bsoncore.AppendStringElement(nil, "codeName", "CursorNotFound"),
		)
		server := newScriptedServer(makeMsgReply(notFound))
		cr := CursorResponse{
			Server:     server,
			Desc:       server.desc,
			FirstBatch: makeTestArray(testDocs(1)...),
			Database:   "foo",
			Collection: "bar",
			ID:         1,
			Address:    server.desc.Addr,
		}
		bc, err := NewBatchCursor(cr, CursorOptions{})
		require.NoError(t, err, "NewBatchCursor error: %v", err)

		require.True(t, bc.Next(context.Background()), "expected the first batch")
		assert.False(t, bc.Next(context.Background()), "expected the getMore to fail")

		var cnfe CursorNotFoundError
		require.True(t, errors.As(bc.Err(), &cnfe), "expected CursorNotFoundError, got %v", bc.Err())
		assert.Equal(t, int64(1), cnfe.CursorID, "expected the dead cursor's ID, got %d", cnfe.CursorID)
		assert.Equal(t, int64(0), bc.ID(), "expected the cursor ID to be zeroed")

		// There is nothing left to kill server-side; Close must not send
		// killCursors for a cursor the server already forgot.
		require.NoError(t, bc.Close(context.Background()), "Close error")
		assert.Equal(t, 1, len(server.commands(t)), "expected only the failed getMore to be sent")
	})
}

func TestBatchCursorKillCursor(t *testing.T) {
	t.Parallel()

	server := newScriptedServer(makeOKReply())
	cr := CursorResponse{
		Server:     server,
		Desc:       server.desc,
		FirstBatch: makeTestArray(testDocs(1)...),
		Database:   "foo",
		Collection: "bar",
		ID:         7,
		Address:    server.desc.Addr,
	}
	bc, err := NewBatchCursor(cr, CursorOptions{})
	require.NoError(t, err, "NewBatchCursor error: %v", err)

	require.NoError(t, bc.KillCursor(context.Background()), "KillCursor error")
	assert.Equal(t, int64(0), bc.ID(), "expected the cursor ID to be zeroed")

	// KillCursor is idempotent once the ID is zeroed.
	require.NoError(t, bc.KillCursor(context.Background()), "KillCursor error")
	assert.Equal(t, 1, len(server.commands(t)), "expected exactly one killCursors command")
}

func TestBatchCursorReleasesSource(t *testing.T) {
	t.Parallel()

	server := newScriptedServer(makeOKReply())
	cr := CursorResponse{
		Server:     server,
		Desc:       server.desc,
		FirstBatch: makeTestArray(testDocs(1)...),
		Database:   "foo",
		Collection: "bar",
		ID:         7,
		Address:    server.desc.Addr,
	}
	bc, err := NewBatchCursor(cr, CursorOptions{})
	require.NoError(t, err, "NewBatchCursor error: %v", err)

	source := bc.Server()
	require.NotNil(t, source, "expected the cursor to hold a connection source")
	assert.Equal(t, int64(1), source.RefCount(), "expected a single reference")

	require.NoError(t, bc.Close(context.Background()), "Close error")
	assert.Equal(t, int64(0), source.RefCount(), "expected the reference to be released on Close")
	_, err = source.Connection(context.Background())
	assert.Equal(t, ErrConnectionSourceReleased, err, "expected ErrConnectionSourceReleased, got %v", err)
}

func TestBatchCursorExhaust(t *testing.T) {
	t.Parallel()

	t.Run("pins the streaming connection and closes it on Close", func(t *testing.T) {
		t.Parallel()

		conn := &exhaustConn{streaming: true}
		response := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDocumentElement(nil, "cursor", bsoncore.BuildDocumentFromElements(nil,
				bsoncore.AppendInt64Element(nil, "id", 1),
				bsoncore.AppendStringElement(nil, "ns", "foo.bar"),
				bsoncore.AppendArrayElement(nil, "firstBatch", makeTestArray(testDocs(1)...)),
			)),
			bsoncore.AppendDoubleElement(nil, "ok", 1),
		)

		cr, err := NewCursorResponse(ResponseInfo{
			ServerResponse: response,
			Connection:     conn,
		})
		require.NoError(t, err, "NewCursorResponse error: %v", err)
		require.NotNil(t, cr.Connection, "expected the streaming connection to be captured")
		assert.Equal(t, 1, conn.pins, "expected the connection to be pinned once")

		bc, err := NewBatchCursor(cr, CursorOptions{})
		require.NoError(t, err, "NewBatchCursor error: %v", err)

		// Closing an exhaust cursor tears down the pinned connection instead
		// of sending killCursors; the remaining stream cannot be drained.
		require.NoError(t, bc.Close(context.Background()), "Close error")
		assert.Equal(t, 0, conn.pins, "expected the connection to be unpinned")
		assert.True(t, conn.closed, "expected the pinned connection to be closed")
		assert.Nil(t, conn.written, "expected no killCursors on the exhaust connection")
		assert.Equal(t, int64(0), bc.ID(), "expected the cursor ID to be zeroed")
	})

	t.Run("non-streaming connections are not captured", func(t *testing.T) {
		t.Parallel()

		conn := &exhaustConn{streaming: false}
		response := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendDocumentElement(nil, "cursor", bsoncore.BuildDocumentFromElements(nil,
				bsoncore.AppendInt64Element(nil, "id", 0),
				bsoncore.AppendStringElement(nil, "ns", "foo.bar"),
				bsoncore.AppendArrayElement(nil, "firstBatch", makeTestArray()),
			)),
			bsoncore.AppendDoubleElement(nil, "ok", 1),
		)

		cr, err := NewCursorResponse(ResponseInfo{
			ServerResponse: response,
			Connection:     conn,
		})
		require.NoError(t, err, "NewCursorResponse error: %v", err)
		assert.Nil(t, cr.Connection, "expected no connection to be captured")
		assert.Equal(t, 0, conn.pins, "expected the connection to remain unpinned")
	})
}

func newTailableCursor(t *testing.T, server *scriptedServer, awaitData bool) *BatchCursor {
	t.Helper()
	cr := CursorResponse{
		Server:     server,
		Desc:       server.desc,
		FirstBatch: makeTestArray(),
		Database:   "foo",
		Collection: "bar",
		ID:         1,
		Address:    server.desc.Addr,
	}
	bc, err := NewBatchCursor(cr, CursorOptions{Tailable: true, AwaitData: awaitData})
	require.NoError(t, err, "NewBatchCursor error: %v", err)
	return bc
}

func testDocs(n int) []bsoncore.Document {
	docs := make([]bsoncore.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "x", int32(i))))
	}
	return docs
}

func makeTestArray(docs ...bsoncore.Document) bsoncore.Array {
	idx, arr := bsoncore.AppendArrayStart(nil)
	for i, doc := range docs {
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), doc)
	}
	arr, _ = bsoncore.AppendArrayEnd(arr, idx)
	return arr
}

func makeMsgReply(doc bsoncore.Document) []byte {
	idx, wm := wiremessage.AppendHeaderStart(nil, 0, wiremessage.NextRequestID(), wiremessage.OpMsg)
	wm = wiremessage.AppendMsgFlags(wm, 0)
	wm = wiremessage.AppendMsgSectionType(wm, wiremessage.SingleDocument)
	wm = append(wm, doc...)
	return bsoncore.UpdateLength(wm, idx, int32(len(wm)))
}

func makeOKReply() []byte {
	return makeMsgReply(bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendDoubleElement(nil, "ok", 1)))
}

func makeGetMoreReply(id int64, batch ...bsoncore.Document) []byte {
	return makeMsgReply(bsoncore.BuildDocumentFromElements(nil,
		bsoncore.AppendDocumentElement(nil, "cursor", bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt64Element(nil, "id", id),
			bsoncore.AppendStringElement(nil, "ns", "foo.bar"),
			bsoncore.AppendArrayElement(nil, "nextBatch", makeTestArray(batch...)),
		)),
		bsoncore.AppendDoubleElement(nil, "ok", 1),
	))
}

// scriptedServer is a Server whose connections replay a fixed sequence of
// replies and record every command written to them.
type scriptedServer struct {
	replies [][]byte
	written [][]byte
	desc    description.Server
}

func newScriptedServer(replies ...[]byte) *scriptedServer {
	return &scriptedServer{
		replies: replies,
		desc: description.Server{
			Addr:        address.Address("scripted:27017"),
			Kind:        description.Standalone,
			WireVersion: &description.VersionRange{Max: 6},
		},
	}
}

func (ss *scriptedServer) Connection(context.Context) (Connection, error) {
	return &scriptedConn{server: ss}, nil
}

// commands parses the commands written to this server's connections.
func (ss *scriptedServer) commands(t *testing.T) []bsoncore.Document {
	t.Helper()
	cmds := make([]bsoncore.Document, 0, len(ss.written))
	for _, wm := range ss.written {
		_, _, _, opcode, rem, ok := wiremessage.ReadHeader(wm)
		require.True(t, ok, "could not read wire message header")
		require.Equal(t, wiremessage.OpMsg, opcode, "expected an OP_MSG")
		_, rem, ok = wiremessage.ReadMsgFlags(rem)
		require.True(t, ok, "could not read wire message flags")
		_, rem, ok = wiremessage.ReadMsgSectionType(rem)
		require.True(t, ok, "could not read section type")
		doc, _, ok := wiremessage.ReadMsgSectionSingleDocument(rem)
		require.True(t, ok, "could not read command document")
		cmds = append(cmds, doc)
	}
	return cmds
}

type scriptedConn struct {
	server *scriptedServer
}

func (sc *scriptedConn) WriteWireMessage(_ context.Context, wm []byte) error {
	b := make([]byte, len(wm))
	copy(b, wm)
	sc.server.written = append(sc.server.written, b)
	return nil
}

func (sc *scriptedConn) ReadWireMessage(_ context.Context, dst []byte) ([]byte, error) {
	if len(sc.server.replies) == 0 {
		return nil, errors.New("no scripted replies remain")
	}
	wm := sc.server.replies[0]
	sc.server.replies = sc.server.replies[1:]
	return append(dst[:0], wm...), nil
}

func (sc *scriptedConn) Description() description.Server { return sc.server.desc }
func (sc *scriptedConn) Close() error                    { return nil }
func (sc *scriptedConn) ID() string                      { return "scripted-1" }
func (sc *scriptedConn) Address() address.Address        { return sc.server.desc.Addr }

// exhaustConn is a streaming, pinnable connection for exhaust cursor tests.
type exhaustConn struct {
	streaming bool
	pins      int
	closed    bool
	written   [][]byte
}

func (ec *exhaustConn) WriteWireMessage(_ context.Context, wm []byte) error {
	b := make([]byte, len(wm))
	copy(b, wm)
	ec.written = append(ec.written, b)
	return nil
}

func (ec *exhaustConn) ReadWireMessage(_ context.Context, dst []byte) ([]byte, error) {
	return nil, errors.New("no replies")
}

func (ec *exhaustConn) Description() description.Server {
	return description.Server{WireVersion: &description.VersionRange{Max: 6}}
}

func (ec *exhaustConn) Close() error {
	if ec.pins > 0 {
		return nil
	}
	ec.closed = true
	return nil
}

func (ec *exhaustConn) ID() string               { return "exhaust-1" }
func (ec *exhaustConn) Address() address.Address { return address.Address("exhaust:27017") }

func (ec *exhaustConn) SetStreaming(streaming bool) { ec.streaming = streaming }
func (ec *exhaustConn) CurrentlyStreaming() bool    { return ec.streaming }
func (ec *exhaustConn) SupportsStreaming() bool     { return true }

func (ec *exhaustConn) PinToCursor() error {
	ec.pins++
	return nil
}

func (ec *exhaustConn) UnpinFromCursor() error {
	if ec.pins == 0 {
		return errors.New("not pinned")
	}
	ec.pins--
	return nil
}
