// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/address"
	"github.com/ikmak/mongocore/description"
	"github.com/ikmak/mongocore/readconcern"
	"github.com/ikmak/mongocore/readpref"
	"github.com/ikmak/mongocore/wiremessage"
	"github.com/ikmak/mongocore/writeconcern"
)

func noerr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
		t.FailNow()
	}
}

func compareErrors(err1, err2 error) bool {
	if err1 == nil && err2 == nil {
		return true
	}

	if err1 == nil || err2 == nil {
		return false
	}

	if err1.Error() != err2.Error() {
		return false
	}

	return true
}

func TestOperation(t *testing.T) {
	t.Run("selectServer", func(t *testing.T) {
		t.Run("returns validation error", func(t *testing.T) {
			op := &Operation{}
			_, err := op.selectServer(context.Background())
			if err == nil {
				t.Error("Expected a validation error from selectServer, but got <nil>")
			}
		})
		t.Run("uses specified server selector", func(t *testing.T) {
			want := new(mockServerSelector)
			d := new(mockDeployment)
			op := &Operation{
				CommandFn:  func([]byte, description.SelectedServer) ([]byte, error) { return nil, nil },
				Deployment: d,
				Database:   "testing",
				Selector:   want,
			}
			_, err := op.selectServer(context.Background())
			noerr(t, err)
			got := d.params.selector
			if !cmp.Equal(got, want) {
				t.Errorf("Did not get expected server selector. got %v; want %v", got, want)
			}
		})
		t.Run("uses a default server selector", func(t *testing.T) {
			d := new(mockDeployment)
			op := &Operation{
				CommandFn:  func([]byte, description.SelectedServer) ([]byte, error) { return nil, nil },
				Deployment: d,
				Database:   "testing",
			}
			_, err := op.selectServer(context.Background())
			noerr(t, err)
			if d.params.selector == nil {
				t.Error("The selectServer method should use a default selector when not specified on Operation, but it passed <nil>.")
			}
		})
	})
	t.Run("Validate", func(t *testing.T) {
		cmdFn := func([]byte, description.SelectedServer) ([]byte, error) { return nil, nil }
		d := new(mockDeployment)
		testCases := []struct {
			name string
			op   *Operation
			err  error
		}{
			{"CommandFn", &Operation{}, InvalidOperationError{MissingField: "CommandFn"}},
			{"Deployment", &Operation{CommandFn: cmdFn}, InvalidOperationError{MissingField: "Deployment"}},
			{"Database", &Operation{CommandFn: cmdFn, Deployment: d}, InvalidOperationError{MissingField: "Database"}},
			{"<nil>", &Operation{CommandFn: cmdFn, Deployment: d, Database: "test"}, nil},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				if tc.op == nil {
					t.Fatal("op cannot be <nil>")
				}
				want := tc.err
				got := tc.op.Validate()
				if !cmp.Equal(got, want, cmp.Comparer(compareErrors)) {
					t.Errorf("Did not validate properly. got %v; want %v", got, want)
				}
			})
		}
	})
	t.Run("addReadConcern", func(t *testing.T) {
		supported := description.SelectedServer{
			Server: description.Server{WireVersion: &description.VersionRange{Max: 4}},
		}
		majorityRc := bsoncore.AppendDocumentElement(nil, "readConcern", bsoncore.BuildDocument(nil,
			bsoncore.AppendStringElement(nil, "level", "majority"),
		))

		testCases := []struct {
			name string
			rc   *readconcern.ReadConcern
			want bsoncore.Document
		}{
			{"nil", nil, nil},
			{"empty", readconcern.New(), nil},
			{"non-empty", readconcern.Majority(), majorityRc},
		}

		for _, tc := range testCases {
			got, err := Operation{ReadConcern: tc.rc}.addReadConcern(nil, supported)
			noerr(t, err)
			if !bytes.Equal(got, tc.want) {
				t.Errorf("ReadConcern elements do not match. got %v; want %v", got, tc.want)
			}
		}
	})
	t.Run("addReadConcern fails fast below minimum wire version", func(t *testing.T) {
		unsupported := description.SelectedServer{
			Server: description.Server{WireVersion: &description.VersionRange{Max: 3}},
		}
		_, err := Operation{ReadConcern: readconcern.Majority()}.addReadConcern(nil, unsupported)
		assert.Error(t, err, "expected an error for a read concern on an unsupported server")

		// A higher per-operation minimum raises the gate even when the
		// protocol-level minimum is met.
		atProtocolMin := description.SelectedServer{
			Server: description.Server{WireVersion: &description.VersionRange{Max: 4}},
		}
		_, err = Operation{
			ReadConcern:                   readconcern.Majority(),
			MinimumReadConcernWireVersion: 5,
		}.addReadConcern(nil, atProtocolMin)
		assert.Error(t, err, "expected an error when the operation minimum exceeds the server version")
	})
	t.Run("addWriteConcern", func(t *testing.T) {
		want := bsoncore.AppendDocumentElement(nil, "writeConcern", bsoncore.BuildDocumentFromElements(
			nil, bsoncore.AppendStringElement(nil, "w", "majority"),
		))
		got, err := Operation{WriteConcern: writeconcern.New(writeconcern.WMajority())}.addWriteConcern(nil, description.SelectedServer{})
		noerr(t, err)
		if !bytes.Equal(got, want) {
			t.Errorf("WriteConcern elements do not match. got %v; want %v", got, want)
		}
	})
	t.Run("addWriteConcern omitted below minimum wire version", func(t *testing.T) {
		tooOld := description.SelectedServer{
			Server: description.Server{WireVersion: &description.VersionRange{Max: 4}},
		}
		got, err := Operation{
			WriteConcern:                   writeconcern.New(writeconcern.WMajority()),
			MinimumWriteConcernWireVersion: 5,
		}.addWriteConcern(nil, tooOld)
		noerr(t, err)
		assert.Nil(t, got, "expected the write concern to be omitted, got %v", got)
	})
	t.Run("createReadPref", func(t *testing.T) {
		rpWithTags := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendStringElement(nil, "mode", "secondaryPreferred"),
			bsoncore.BuildArrayElement(nil, "tags",
				bsoncore.Value{Type: bsontype.EmbeddedDocument,
					Data: bsoncore.BuildDocumentFromElements(nil,
						bsoncore.AppendStringElement(nil, "disk", "ssd"),
						bsoncore.AppendStringElement(nil, "use", "reporting"),
					),
				},
			),
		)
		rpWithMaxStaleness := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendStringElement(nil, "mode", "secondaryPreferred"),
			bsoncore.AppendInt32Element(nil, "maxStalenessSeconds", 25),
		)

		rpPrimaryPreferred := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendStringElement(nil, "mode", "primaryPreferred"))
		rpPrimary := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendStringElement(nil, "mode", "primary"))
		rpSecondaryPreferred := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendStringElement(nil, "mode", "secondaryPreferred"))
		rpSecondary := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendStringElement(nil, "mode", "secondary"))
		rpNearest := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendStringElement(nil, "mode", "nearest"))

		testCases := []struct {
			name       string
			rp         *readpref.ReadPref
			serverKind description.ServerKind
			topoKind   description.TopologyKind
			opQuery    bool
			want       bsoncore.Document
		}{
			{"nil/single/mongos", nil, description.Mongos, description.Single, false, nil},
			{"nil/single/secondary", nil, description.RSSecondary, description.Single, false, rpPrimaryPreferred},
			{"primary/mongos", readpref.Primary(), description.Mongos, description.Sharded, false, nil},
			{"primary/single", readpref.Primary(), description.RSPrimary, description.Single, false, rpPrimaryPreferred},
			{"primary/primary", readpref.Primary(), description.RSPrimary, description.ReplicaSet, false, rpPrimary},
			{"primaryPreferred", readpref.PrimaryPreferred(), description.RSSecondary, description.ReplicaSet, false, rpPrimaryPreferred},
			{"secondaryPreferred/mongos/opquery", readpref.SecondaryPreferred(), description.Mongos, description.Sharded, true, nil},
			{"secondaryPreferred", readpref.SecondaryPreferred(), description.RSSecondary, description.ReplicaSet, false, rpSecondaryPreferred},
			{"secondary", readpref.Secondary(), description.RSSecondary, description.ReplicaSet, false, rpSecondary},
			{"nearest", readpref.Nearest(), description.RSSecondary, description.ReplicaSet, false, rpNearest},
			{
				"secondaryPreferred/withTags",
				readpref.SecondaryPreferred(readpref.WithTags("disk", "ssd", "use", "reporting")),
				description.RSSecondary, description.ReplicaSet, false, rpWithTags,
			},
			{
				"secondaryPreferred/withMaxStaleness",
				readpref.SecondaryPreferred(readpref.WithMaxStaleness(25 * time.Second)),
				description.RSSecondary, description.ReplicaSet, false, rpWithMaxStaleness,
			},
		}

		for _, tc := range testCases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				desc := description.SelectedServer{
					Kind:   tc.topoKind,
					Server: description.Server{Kind: tc.serverKind},
				}
				got, err := Operation{ReadPreference: tc.rp}.createReadPref(desc, tc.opQuery)
				if err != nil {
					t.Fatalf("error creating read pref: %v", err)
				}
				if !bytes.Equal(got, tc.want) {
					t.Errorf("Returned documents do not match. got %v; want %v", got, tc.want)
				}
			})
		}
	})
	t.Run("slaveOK", func(t *testing.T) {
		t.Run("description.SelectedServer", func(t *testing.T) {
			want := wiremessage.SlaveOK
			desc := description.SelectedServer{
				Kind:   description.Single,
				Server: description.Server{Kind: description.RSSecondary},
			}
			got := Operation{}.slaveOK(desc)
			if got != want {
				t.Errorf("Did not receive expected query flags. got %v; want %v", got, want)
			}
		})
		t.Run("readPreference", func(t *testing.T) {
			want := wiremessage.SlaveOK
			got := Operation{ReadPreference: readpref.Secondary()}.slaveOK(description.SelectedServer{})
			if got != want {
				t.Errorf("Did not receive expected query flags. got %v; want %v", got, want)
			}
		})
		t.Run("not slaveOK", func(t *testing.T) {
			var want wiremessage.QueryFlag
			got := Operation{}.slaveOK(description.SelectedServer{})
			if got != want {
				t.Errorf("Did not receive expected query flags. got %v; want %v", got, want)
			}
		})
	})
	t.Run("$query to mongos only", func(t *testing.T) {
		testCases := []struct {
			name   string
			server description.ServerKind
			topo   description.TopologyKind
			rp     *readpref.ReadPref
			want   bool
		}{
			{"mongos/primaryPreferred", description.Mongos, description.Sharded, readpref.PrimaryPreferred(), true},
			{"mongos/primary", description.Mongos, description.Sharded, readpref.Primary(), false},
			{"primary/primaryPreferred", description.RSPrimary, description.ReplicaSet, readpref.PrimaryPreferred(), false},
			{"primary/primary", description.RSPrimary, description.ReplicaSet, readpref.Primary(), false},
			{"secondary/primaryPreferred", description.RSSecondary, description.ReplicaSet, readpref.PrimaryPreferred(), false},
			{"secondary/primary", description.RSSecondary, description.ReplicaSet, readpref.Primary(), false},
			{"none/none", description.ServerKind(0), description.TopologyKind(0), nil, false},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				op := Operation{
					Database:   "foobar",
					Deployment: SingleConnectionDeployment{C: new(mockConnection)},
					CommandFn: func(dst []byte, desc description.SelectedServer) ([]byte, error) {
						dst = bsoncore.AppendInt32Element(dst, "ping", 1)
						return dst, nil
					},
					ReadPreference: tc.rp,
				}
				var wm []byte
				desc := description.SelectedServer{
					Kind: tc.topo,
					Server: description.Server{
						Kind: tc.server,
					},
				}
				wm, _, err := op.createQueryWireMessage(wm, desc)
				noerr(t, err)

				// We know where the $query would be within the OP_QUERY, so we'll just index into there.
				// 16 (msg header) + 4 (flags) + 12 (foobar.$cmd) + 4 (number to skip) + 4 (number to return) + 4 (length) + 1 (document type)
				if len(wm) < 45 {
					t.Fatalf("wire message is too short. Need at least 45 bytes, but only have %d", len(wm))
				}
				got := bytes.HasPrefix(wm[45:], []byte{'$', 'q', 'u', 'e', 'r', 'y', 0x00})
				if got != tc.want {
					t.Errorf("Wiremessage did not have the proper setting for $query. got %t; want %t", got, tc.want)
				}
			})
		}
	})
	t.Run("read concern validation happens before any bytes are written", func(t *testing.T) {
		conn := &mockConnection{
			rDesc: description.Server{WireVersion: &description.VersionRange{Max: 3}},
		}
		op := Operation{
			CommandFn: func(dst []byte, desc description.SelectedServer) ([]byte, error) {
				return bsoncore.AppendInt32Element(dst, "find", 1), nil
			},
			Database:    "foo",
			Deployment:  SingleConnectionDeployment{C: conn},
			ReadConcern: readconcern.Majority(),
			Type:        Read,
		}
		err := op.Execute(context.Background())
		assert.Error(t, err, "expected a read concern version gate error")
		assert.Nil(t, conn.pWriteWM, "no wire message should have been written, got %v", conn.pWriteWM)
	})
	t.Run("unacknowledged write", func(t *testing.T) {
		conn := &mockConnection{
			rDesc: description.Server{WireVersion: &description.VersionRange{Max: 6}},
		}
		op := Operation{
			CommandFn: func(dst []byte, desc description.SelectedServer) ([]byte, error) {
				return bsoncore.AppendInt32Element(dst, "insert", 1), nil
			},
			Database:     "foo",
			Deployment:   SingleConnectionDeployment{C: conn},
			WriteConcern: writeconcern.New(writeconcern.W(0)),
			Type:         Write,
		}
		err := op.Execute(context.Background())
		assert.Equal(t, ErrUnacknowledgedWrite, err, "expected ErrUnacknowledgedWrite, got %v", err)

		// The request must carry moreToCome so the server does not respond,
		// and no read should have been attempted.
		require.NotNil(t, conn.pWriteWM, "expected a wire message to be written")
		_, _, _, _, rem, ok := wiremessage.ReadHeader(conn.pWriteWM)
		require.True(t, ok, "could not read wire message header")
		flags, _, ok := wiremessage.ReadMsgFlags(rem)
		require.True(t, ok, "could not read wire message flags")
		assert.Equal(t, wiremessage.MoreToCome, flags&wiremessage.MoreToCome,
			"expected moreToCome to be set on an unacknowledged write")
		assert.False(t, conn.readCalled, "the connection should not be read for an unacknowledged write")
	})
	t.Run("ExecuteExhaust", func(t *testing.T) {
		t.Run("errors if connection is not streaming", func(t *testing.T) {
			conn := &mockConnection{
				rStreaming: false,
			}
			err := Operation{}.ExecuteExhaust(context.TODO(), conn)
			assert.Error(t, err, "expected error, got nil")
		})
	})
	t.Run("exhaustAllowed and moreToCome", func(t *testing.T) {
		// Test the interaction between exhaustAllowed and moreToCome on
		// requests and responses when using the Execute and ExecuteExhaust
		// methods.
		serverResponseDoc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendInt32Element(nil, "ok", 1),
		)
		nonStreamingResponse := createExhaustServerResponse(serverResponseDoc, false)

		conn := &mockConnection{
			rDesc: description.Server{
				WireVersion: &description.VersionRange{
					Max: 6,
				},
			},
			rReadWM: nonStreamingResponse,
		}
		op := Operation{
			CommandFn: func(dst []byte, desc description.SelectedServer) ([]byte, error) {
				return bsoncore.AppendInt32Element(dst, "isMaster", 1), nil
			},
			Database:   "admin",
			Deployment: SingleConnectionDeployment{C: conn},
		}
		err := op.Execute(context.TODO())
		assert.NoError(t, err, "Execute error: %v", err)

		// The wire message sent to the server should not have
		// exhaustAllowed=true. After execution, the connection should not be
		// in a streaming state.
		assertExhaustAllowedSet(t, conn.pWriteWM, false)
		assert.False(t, conn.CurrentlyStreaming(), "expected CurrentlyStreaming to be false")

		// Enable exhaust on the operation and script a server response with
		// moreToCome=true.
		streamingResponse := createExhaustServerResponse(serverResponseDoc, true)
		conn.rReadWM = streamingResponse
		op.ExhaustAllowed = true
		err = op.Execute(context.TODO())
		assert.NoError(t, err, "Execute error: %v", err)
		assertExhaustAllowedSet(t, conn.pWriteWM, true)
		assert.True(t, conn.CurrentlyStreaming(), "expected CurrentlyStreaming to be true")

		// Reset the server response and go through ExecuteExhaust to mimic
		// streaming the next response. After execution, the connection should
		// still be in a streaming state.
		conn.rReadWM = streamingResponse
		err = op.ExecuteExhaust(context.TODO(), conn)
		assert.NoError(t, err, "ExecuteExhaust error: %v", err)
		assert.True(t, conn.CurrentlyStreaming(), "expected CurrentlyStreaming to be true")

		// Once the server sends a reply without moreToCome, the stream ends.
		conn.rReadWM = nonStreamingResponse
		err = op.ExecuteExhaust(context.TODO(), conn)
		assert.NoError(t, err, "ExecuteExhaust error: %v", err)
		assert.False(t, conn.CurrentlyStreaming(), "expected CurrentlyStreaming to be false")
	})
	t.Run("ExecuteAsync delivers the synchronous result", func(t *testing.T) {
		errs := make(chan error, 1)
		Operation{}.ExecuteAsync(context.Background(), func(err error) { errs <- err })
		select {
		case err := <-errs:
			assert.Equal(t, InvalidOperationError{MissingField: "CommandFn"}, err,
				"expected the async callback to receive the validation error, got %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for async callback")
		}
	})
}

func TestOperation_decodeResult(t *testing.T) {
	t.Run("OP_REPLY query failure flag", func(t *testing.T) {
		failureDoc := bsoncore.BuildDocumentFromElements(nil,
			bsoncore.AppendStringElement(nil, "$err", "unauthorized"),
		)
		var wm []byte
		wm = wiremessage.AppendReplyFlags(wm, wiremessage.QueryFailure)
		wm = wiremessage.AppendReplyCursorID(wm, 0)
		wm = wiremessage.AppendReplyStartingFrom(wm, 0)
		wm = wiremessage.AppendReplyNumberReturned(wm, 1)
		wm = append(wm, failureDoc...)

		_, err := Operation{}.decodeResult(wiremessage.OpReply, wm)
		var qfe QueryFailureError
		require.True(t, errors.As(err, &qfe), "expected QueryFailureError, got %T", err)
		assert.True(t, bytes.Equal(failureDoc, qfe.Response), "expected response %v, got %v", failureDoc, qfe.Response)
	})
	t.Run("OP_REPLY cursor not found flag", func(t *testing.T) {
		var wm []byte
		wm = wiremessage.AppendReplyFlags(wm, wiremessage.CursorNotFound)
		wm = wiremessage.AppendReplyCursorID(wm, 42)
		wm = wiremessage.AppendReplyStartingFrom(wm, 0)
		wm = wiremessage.AppendReplyNumberReturned(wm, 0)

		_, err := Operation{}.decodeResult(wiremessage.OpReply, wm)
		var serverErr Error
		require.True(t, errors.As(err, &serverErr), "expected Error, got %T", err)
		assert.True(t, serverErr.CursorNotFound(), "expected a cursor not found error, got %v", serverErr)
	})
	t.Run("OP_REPLY no documents", func(t *testing.T) {
		var wm []byte
		wm = wiremessage.AppendReplyFlags(wm, 0)
		wm = wiremessage.AppendReplyCursorID(wm, 0)
		wm = wiremessage.AppendReplyStartingFrom(wm, 0)
		wm = wiremessage.AppendReplyNumberReturned(wm, 0)

		_, err := Operation{}.decodeResult(wiremessage.OpReply, wm)
		assert.Equal(t, ErrNoDocCommandResponse, err, "expected ErrNoDocCommandResponse, got %v", err)
	})
	t.Run("OP_MSG single document", func(t *testing.T) {
		want := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "ok", 1))
		var wm []byte
		wm = wiremessage.AppendMsgFlags(wm, 0)
		wm = wiremessage.AppendMsgSectionType(wm, wiremessage.SingleDocument)
		wm = append(wm, want...)

		got, err := Operation{}.decodeResult(wiremessage.OpMsg, wm)
		noerr(t, err)
		assert.True(t, bytes.Equal(want, got), "expected document %v, got %v", want, got)
	})
}

func TestOperation_getCommandName(t *testing.T) {
	op := Operation{Name: "fallback"}
	cmd := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendStringElement(nil, "find", "coll"))
	assert.Equal(t, "find", op.getCommandName(cmd), "expected command name from document")
	assert.Equal(t, "fallback", op.getCommandName(nil), "expected fallback name for an empty document")
}

func TestRedactCommand(t *testing.T) {
	testCases := []struct {
		name string
		cmd  string
		doc  bsoncore.Document
		want bool
	}{
		{"saslStart", "saslStart", nil, true},
		{"authenticate", "authenticate", nil, true},
		{"find", "find", nil, false},
		{
			"isMaster with speculativeAuthenticate",
			"isMaster",
			bsoncore.BuildDocumentFromElements(nil,
				bsoncore.AppendInt32Element(nil, "isMaster", 1),
				bsoncore.AppendDocumentElement(nil, "speculativeAuthenticate", bsoncore.BuildDocumentFromElements(nil)),
			),
			true,
		},
		{
			"isMaster without speculativeAuthenticate",
			"isMaster",
			bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "isMaster", 1)),
			false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := redactCommand(tc.cmd, tc.doc)
			assert.Equal(t, tc.want, got, "expected redaction %v, got %v", tc.want, got)
		})
	}
}

func createExhaustServerResponse(response bsoncore.Document, moreToCome bool) []byte {
	idx, wm := wiremessage.AppendHeaderStart(nil, 0, wiremessage.NextRequestID(), wiremessage.OpMsg)
	var flags wiremessage.MsgFlag
	if moreToCome {
		flags = wiremessage.MoreToCome
	}
	wm = wiremessage.AppendMsgFlags(wm, flags)
	wm = wiremessage.AppendMsgSectionType(wm, wiremessage.SingleDocument)
	wm = append(wm, response...)
	return bsoncore.UpdateLength(wm, idx, int32(len(wm)))
}

func assertExhaustAllowedSet(t *testing.T, wm []byte, expected bool) {
	t.Helper()
	_, _, _, _, wm, ok := wiremessage.ReadHeader(wm)
	if !ok {
		t.Fatal("could not read wm header")
	}
	flags, _, ok := wiremessage.ReadMsgFlags(wm)
	if !ok {
		t.Fatal("could not read wm flags")
	}

	actual := flags&wiremessage.ExhaustAllowed > 0
	assert.Equal(t, expected, actual, "expected exhaustAllowed set %v, got %v", expected, actual)
}

type mockDeployment struct {
	params struct {
		selector description.ServerSelector
	}
	returns struct {
		server Server
		err    error
		kind   description.TopologyKind
	}
}

func (m *mockDeployment) SelectServer(ctx context.Context, desc description.ServerSelector) (Server, error) {
	m.params.selector = desc
	return m.returns.server, m.returns.err
}

func (m *mockDeployment) Kind() description.TopologyKind { return m.returns.kind }

type mockServerSelector struct{}

func (m *mockServerSelector) SelectServer(description.Topology, []description.Server) ([]description.Server, error) {
	panic("not implemented")
}

type mockConnection struct {
	// parameters
	pWriteWM []byte
	pReadDst []byte

	// returns
	rWriteErr  error
	rReadWM    []byte
	rReadErr   error
	rDesc      description.Server
	rCloseErr  error
	rID        string
	rAddr      address.Address
	rStreaming bool

	readCalled bool
}

func (m *mockConnection) Description() description.Server { return m.rDesc }
func (m *mockConnection) Close() error                    { return m.rCloseErr }
func (m *mockConnection) ID() string                      { return m.rID }
func (m *mockConnection) Address() address.Address        { return m.rAddr }
func (m *mockConnection) SupportsStreaming() bool         { return true }
func (m *mockConnection) CurrentlyStreaming() bool        { return m.rStreaming }
func (m *mockConnection) SetStreaming(streaming bool)     { m.rStreaming = streaming }

func (m *mockConnection) WriteWireMessage(_ context.Context, wm []byte) error {
	m.pWriteWM = wm
	return m.rWriteErr
}

func (m *mockConnection) ReadWireMessage(_ context.Context, dst []byte) ([]byte, error) {
	m.pReadDst = dst
	m.readCalled = true
	return m.rReadWM, m.rReadErr
}
