// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/address"
	"github.com/ikmak/mongocore/description"
	"github.com/ikmak/mongocore/event"
	"github.com/ikmak/mongocore/internal/logger"
)

// ErrCursorClosed is returned when an operation is attempted on a cursor that
// has already been closed.
var ErrCursorClosed = errors.New("attempted to use a closed cursor")

// CursorResponse represents the response from a command that created a
// server-side cursor, such as find or aggregate.
type CursorResponse struct {
	Server     Server
	Desc       description.Server
	FirstBatch bsoncore.Array
	Database   string
	Collection string
	ID         int64
	Address    address.Address

	// Connection is only populated when the command was executed in exhaust
	// mode and the server started streaming; the cursor is then pinned to
	// this connection for its remaining lifetime.
	Connection StreamerConnection
}

// NewCursorResponse constructs a CursorResponse from the given response
// document, which must contain a "cursor" subdocument with "firstBatch",
// "ns", and "id" fields.
func NewCursorResponse(info ResponseInfo) (CursorResponse, error) {
	response := info.ServerResponse
	cur, err := response.LookupErr("cursor")
	if err != nil {
		return CursorResponse{}, fmt.Errorf("cursor should be an embedded document but is BSON element of type %v", cur.Type)
	}
	curDoc, ok := cur.DocumentOK()
	if !ok {
		return CursorResponse{}, fmt.Errorf("cursor should be an embedded document but is BSON element of type %v", cur.Type)
	}

	curresp := CursorResponse{Server: info.Server, Desc: info.ConnectionDescription}
	if info.Connection != nil {
		curresp.Address = info.Connection.Address()
	}

	elems, err := curDoc.Elements()
	if err != nil {
		return CursorResponse{}, err
	}
	for _, elem := range elems {
		switch elem.Key() {
		case "firstBatch":
			arr, ok := elem.Value().ArrayOK()
			if !ok {
				return CursorResponse{}, fmt.Errorf("firstBatch should be an array but is a BSON %s", elem.Value().Type)
			}
			curresp.FirstBatch = arr
		case "ns":
			ns, ok := elem.Value().StringValueOK()
			if !ok {
				return CursorResponse{}, fmt.Errorf("ns should be a string but is a BSON %s", elem.Value().Type)
			}
			namespace, err := ParseNamespace(ns)
			if err != nil {
				return CursorResponse{}, err
			}
			curresp.Database = namespace.DB
			curresp.Collection = namespace.Collection
		case "id":
			curresp.ID, ok = elem.Value().Int64OK()
			if !ok {
				return CursorResponse{}, fmt.Errorf("id should be an int64 but is a BSON %s", elem.Value().Type)
			}
		}
	}

	// If the server began streaming before the cursor was even constructed,
	// the cursor owns the connection until it is closed.
	if streamer, ok := info.Connection.(StreamerConnection); ok && streamer.CurrentlyStreaming() {
		curresp.Connection = streamer
		if pinner, ok := info.Connection.(PinnedConnection); ok {
			if err := pinner.PinToCursor(); err != nil {
				return CursorResponse{}, err
			}
		}
	}

	return curresp, nil
}

// CursorOptions are extra options that are required to construct a BatchCursor.
type CursorOptions struct {
	BatchSize      int32
	Limit          int32
	MaxTimeMS      int64
	Tailable       bool
	AwaitData      bool
	CommandMonitor *event.CommandMonitor
	Logger         *logger.Logger
}

// BatchCursor is a batch implementation of a cursor. It returns documents in
// entire batches instead of one at a time. An individual document cursor can
// be built on top of this batch cursor.
type BatchCursor struct {
	id                   int64
	database             string
	collection           string
	err                  error
	source               *ConnectionSource
	addr                 address.Address
	batchSize            int32
	maxTimeMS            int64
	currentBatch         *bsoncore.DocumentSequence
	firstBatch           bool
	cmdMonitor           *event.CommandMonitor
	logger               *logger.Logger
	postBatchResumeToken bsoncore.Document

	// limit and numReturned track how many documents the cursor is allowed
	// to return in total and how many it has returned so far.
	limit       int32
	numReturned int32

	tailable  bool
	awaitData bool
	closed    bool

	// connection is only non-nil for an exhaust cursor, which is pinned to
	// the connection the server is streaming on.
	connection StreamerConnection
}

// NewBatchCursor creates a new BatchCursor from the provided parameters.
func NewBatchCursor(cr CursorResponse, opts CursorOptions) (*BatchCursor, error) {
	ds := &bsoncore.DocumentSequence{Style: bsoncore.ArrayStyle, Data: cr.FirstBatch}

	bc := &BatchCursor{
		id:           cr.ID,
		database:     cr.Database,
		collection:   cr.Collection,
		addr:         cr.Address,
		batchSize:    opts.BatchSize,
		maxTimeMS:    opts.MaxTimeMS,
		cmdMonitor:   opts.CommandMonitor,
		logger:       opts.Logger,
		firstBatch:   true,
		limit:        opts.Limit,
		tailable:     opts.Tailable,
		awaitData:    opts.AwaitData,
		currentBatch: ds,
		connection:   cr.Connection,
	}
	if cr.Server != nil {
		bc.source = NewConnectionSource(cr.Server)
	}

	bc.numReturned = int32(ds.DocumentCount())
	if bc.limit != 0 && bc.numReturned > bc.limit {
		// The first batch should never overrun the limit because the initial
		// command carries it, but a misbehaving server must not leak extra
		// documents to the caller.
		if err := bc.truncateBatchToLimit(); err != nil {
			return nil, err
		}
	}

	return bc, nil
}

// NewBatchCursorFromDocuments returns a batch cursor with current batch set
// to a sequence-style DocumentSequence containing the provided documents.
// Such a cursor has no server-side state: its ID is zero and it never runs
// getMore or killCursors.
func NewBatchCursorFromDocuments(documents []byte) *BatchCursor {
	return &BatchCursor{
		currentBatch: &bsoncore.DocumentSequence{
			Style: bsoncore.SequenceStyle,
			Data:  documents,
		},
		firstBatch: true,
	}
}

// ID returns the cursor ID for this batch cursor.
func (bc *BatchCursor) ID() int64 {
	return bc.id
}

// Batch will return a DocumentSequence for the current batch of documents.
// The returned DocumentSequence is only valid until the next call to Next,
// TryNext, or Close.
func (bc *BatchCursor) Batch() *bsoncore.DocumentSequence { return bc.currentBatch }

// Err returns the latest error encountered.
func (bc *BatchCursor) Err() error { return bc.err }

// Address returns the address of the server this cursor's documents come from.
func (bc *BatchCursor) Address() address.Address { return bc.addr }

// PostBatchResumeToken returns the latest seen post batch resume token.
func (bc *BatchCursor) PostBatchResumeToken() bsoncore.Document { return bc.postBatchResumeToken }

// SetBatchSize sets the batchSize for future getMore operations.
func (bc *BatchCursor) SetBatchSize(size int32) { bc.batchSize = size }

// SetMaxTime sets the maximum amount of time the server will allow a getMore
// on a tailable await cursor to wait for new documents.
func (bc *BatchCursor) SetMaxTime(d time.Duration) { bc.maxTimeMS = int64(d / time.Millisecond) }

// Next indicates if there is another batch available. Returning false does
// not necessarily indicate that the cursor is closed or an error occurred;
// check Err and ID. For tailable await cursors, Next keeps requesting batches
// until one arrives, the cursor dies, or the context expires.
func (bc *BatchCursor) Next(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	res := bc.nextBatch(ctx)
	for !res && bc.err == nil && !bc.closed && bc.id != 0 && bc.tailable && bc.awaitData {
		if ctx.Err() != nil {
			bc.err = ctx.Err()
			return false
		}
		res = bc.nextBatch(ctx)
	}
	return res
}

// TryNext attempts to load the next available batch without blocking on a
// tailable cursor whose current end has been reached. It returns false when
// no batch was available.
func (bc *BatchCursor) TryNext(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	return bc.nextBatch(ctx)
}

func (bc *BatchCursor) nextBatch(ctx context.Context) bool {
	if bc.closed {
		bc.err = ErrCursorClosed
		return false
	}

	if bc.firstBatch {
		bc.firstBatch = false
		return !bc.currentBatch.Empty()
	}

	if bc.id == 0 {
		return false
	}

	bc.getMore(ctx)
	return bc.err == nil && !bc.currentBatch.Empty()
}

// Close closes this batch cursor. For a live server-side cursor a killCursors
// command is sent; for an exhaust cursor the pinned connection is torn down
// instead because the remaining stream cannot be drained. Close is
// idempotent.
func (bc *BatchCursor) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if bc.closed {
		return nil
	}
	bc.closed = true
	cursorID := bc.id

	var err error
	if bc.connection != nil {
		if pinner, ok := bc.connection.(PinnedConnection); ok {
			err = pinner.UnpinFromCursor()
		}
		if closeErr := bc.connection.Close(); err == nil {
			err = closeErr
		}
		bc.id = 0
		bc.connection = nil
	} else {
		err = bc.KillCursor(ctx)
	}

	// A zero-value BatchCursor has no batch to reset.
	if bc.currentBatch != nil {
		bc.currentBatch.Style = 0
		bc.currentBatch.Data = nil
		bc.currentBatch.ResetIterator()
	}

	if bc.source != nil {
		bc.source.Release()
	}
	bc.logger.CursorClosed(cursorID, bc.addr.String())
	return err
}

// Server returns the connection source this cursor holds a reference on, or
// nil for a cursor built from local documents.
func (bc *BatchCursor) Server() *ConnectionSource { return bc.source }

// KillCursor kills the in-use cursor on the server without closing this
// BatchCursor locally. This method should be used with caution: subsequent
// getMore calls will fail with a cursor not found error.
func (bc *BatchCursor) KillCursor(ctx context.Context) error {
	if bc.source == nil || bc.id == 0 {
		return nil
	}
	cursorID := bc.id
	bc.id = 0 // the server releases the cursor as a result of this command

	return Operation{
		CommandFn: func(dst []byte, desc description.SelectedServer) ([]byte, error) {
			dst = bsoncore.AppendStringElement(dst, "killCursors", bc.collection)
			aidx, dst := bsoncore.AppendArrayElementStart(dst, "cursors")
			dst = bsoncore.AppendInt64Element(dst, "0", cursorID)
			dst, _ = bsoncore.AppendArrayEnd(dst, aidx)
			return dst, nil
		},
		Database:       bc.database,
		Deployment:     SingleServerDeployment{Server: bc.source},
		Type:           Write,
		CommandMonitor: bc.cmdMonitor,
		Logger:         bc.logger,
		Name:           "killCursors",
	}.Execute(ctx)
}

// calcGetMoreBatchSize calculates the number of documents to return in the
// next getMore call based on the given limit, batchSize, and number of
// documents already returned.
func calcGetMoreBatchSize(bc BatchCursor) (int32, bool) {
	gmBatchSize := bc.batchSize

	// Account for limit, if set. The cursor is exhausted when the limit is
	// reached, so a getMore that could return nothing is not sent at all.
	// This must hold even when batchSize is zero, where an unrestricted
	// getMore would otherwise go out after the limit was already met.
	if bc.limit != 0 && bc.numReturned >= bc.limit {
		return bc.limit - bc.numReturned, false
	}
	if bc.limit != 0 && bc.numReturned+bc.batchSize > bc.limit {
		gmBatchSize = bc.limit - bc.numReturned
		if gmBatchSize <= 0 {
			return gmBatchSize, false
		}
	}

	return gmBatchSize, true
}

func (bc *BatchCursor) getMore(ctx context.Context) {
	bc.clearBatch()
	if bc.id == 0 {
		return
	}

	numToReturn, ok := calcGetMoreBatchSize(*bc)
	if !ok {
		if err := bc.KillCursor(ctx); err != nil && bc.err == nil {
			bc.err = err
		}
		return
	}

	op := Operation{
		CommandFn: func(dst []byte, desc description.SelectedServer) ([]byte, error) {
			dst = bsoncore.AppendInt64Element(dst, "getMore", bc.id)
			dst = bsoncore.AppendStringElement(dst, "collection", bc.collection)
			if numToReturn > 0 {
				dst = bsoncore.AppendInt32Element(dst, "batchSize", numToReturn)
			}
			if bc.awaitData && bc.maxTimeMS > 0 {
				dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", bc.maxTimeMS)
			}
			return dst, nil
		},
		Database:          bc.database,
		Deployment:        SingleServerDeployment{Server: bc.source},
		Type:              Read,
		ProcessResponseFn: bc.processGetMoreResponse,
		CommandMonitor:    bc.cmdMonitor,
		Logger:            bc.logger,
		Name:              "getMore",
	}

	var err error
	if bc.connection != nil {
		// The server is already streaming batches on the pinned connection;
		// the next one is read rather than requested.
		err = op.ExecuteExhaust(ctx, bc.connection)
	} else {
		err = op.Execute(ctx)
	}
	if err != nil {
		var serverErr Error
		if errors.As(err, &serverErr) && serverErr.CursorNotFound() {
			// The server no longer tracks this cursor, either because it
			// timed out or was killed out of band. There is nothing left to
			// clean up server side.
			err = CursorNotFoundError{CursorID: bc.id, Address: bc.addr, Wrapped: serverErr}
			bc.id = 0
		}
		bc.err = err
	}
}

func (bc *BatchCursor) processGetMoreResponse(info ResponseInfo) error {
	response := info.ServerResponse
	id, ok := response.Lookup("cursor", "id").Int64OK()
	if !ok {
		return fmt.Errorf("cursor.id should be an int64 but is a BSON %s", response.Lookup("cursor", "id").Type)
	}
	batch, ok := response.Lookup("cursor", "nextBatch").ArrayOK()
	if !ok {
		return fmt.Errorf("cursor.nextBatch should be an array but is a BSON %s", response.Lookup("cursor", "nextBatch").Type)
	}
	if token, resumeOk := response.Lookup("cursor", "postBatchResumeToken").DocumentOK(); resumeOk {
		bc.postBatchResumeToken = token
	}

	bc.id = id
	bc.currentBatch.Style = bsoncore.ArrayStyle
	bc.currentBatch.Data = batch
	bc.currentBatch.ResetIterator()
	bc.numReturned += int32(bc.currentBatch.DocumentCount())

	if bc.limit != 0 && bc.numReturned > bc.limit {
		return bc.truncateBatchToLimit()
	}
	return nil
}

// truncateBatchToLimit discards the documents in the current batch beyond the
// cursor's limit and rewrites the batch as a sequence-style
// DocumentSequence.
func (bc *BatchCursor) truncateBatchToLimit() error {
	keep := int(int32(bc.currentBatch.DocumentCount()) - (bc.numReturned - bc.limit))
	if keep < 0 {
		keep = 0
	}

	docs, err := bc.currentBatch.Documents()
	if err != nil {
		return err
	}
	var data []byte
	for i := 0; i < keep && i < len(docs); i++ {
		data = append(data, docs[i]...)
	}

	bc.currentBatch.Style = bsoncore.SequenceStyle
	bc.currentBatch.Data = data
	bc.currentBatch.ResetIterator()
	bc.numReturned = bc.limit
	return nil
}

func (bc *BatchCursor) clearBatch() {
	bc.currentBatch.Data = bc.currentBatch.Data[:0]
	bc.currentBatch.ResetIterator()
}
