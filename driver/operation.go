// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/address"
	"github.com/ikmak/mongocore/description"
	"github.com/ikmak/mongocore/event"
	"github.com/ikmak/mongocore/internal/logger"
	"github.com/ikmak/mongocore/readconcern"
	"github.com/ikmak/mongocore/readpref"
	"github.com/ikmak/mongocore/wiremessage"
	"github.com/ikmak/mongocore/writeconcern"
)

const defaultLocalThreshold = 15 * time.Millisecond

const defaultZstdLevel = 6

var (
	// ErrNilDocument is returned when the document for a command is nil.
	ErrNilDocument = errors.New("command document cannot be nil")

	emptyDoc = bsoncore.NewDocumentBuilder().Build()
)

// ResponseInfo contains the context required to parse a server response.
type ResponseInfo struct {
	ServerResponse        bsoncore.Document
	Server                Server
	Connection            Connection
	ConnectionDescription description.Server
	CurrentIndex          int
}

// startedInformation keeps track of all of the information necessary for
// monitoring started events.
type startedInformation struct {
	cmd              bsoncore.Document
	requestID        int32
	cmdName          string
	documentSequence []bsoncore.Document
	connID           string
	serverAddress    address.Address
	redacted         bool
}

// finishedInformation keeps track of all of the information necessary for
// monitoring success and failure events.
type finishedInformation struct {
	cmdName       string
	requestID     int32
	response      bsoncore.Document
	cmdErr        error
	connID        string
	serverAddress address.Address
	duration      time.Duration
	redacted      bool
}

// success returns true if there was no command error or the command error is
// a "WriteCommandError". Commands that executed on the server and return a
// status of { ok: 1.0 } are considered successful commands and TOPOLOGY
// command errors are included in this success definition.
func (info finishedInformation) success() bool {
	if _, ok := info.cmdErr.(WriteCommandError); ok {
		return true
	}
	if info.cmdErr == ErrUnacknowledgedWrite {
		return true
	}
	return info.cmdErr == nil
}

// Operation is used to execute a command. Each Operation is built by a
// command constructor and sent exactly once; there is no retry machinery
// here, callers that want retries construct and execute again.
type Operation struct {
	// CommandFn is the command to be executed. This must be non-nil. The
	// command document is appended to dst and must not contain the $db field
	// or any read or write concern; those are appended by Execute based on
	// the other fields.
	CommandFn func(dst []byte, desc description.SelectedServer) ([]byte, error)

	// Database is the database against which the command is run. This must be
	// non-empty.
	Database string

	// Deployment is the MongoDB deployment to execute against. This must be
	// non-nil.
	Deployment Deployment

	// ProcessResponseFn is called after a response to the command is
	// returned. The server is provided for types like Cursor that are
	// required to run subsequent commands using the same server.
	ProcessResponseFn func(ResponseInfo) error

	// Selector is the server selector used during server selection. If this
	// is nil, a default selector derived from ReadPreference is used.
	Selector description.ServerSelector

	// ReadPreference is the read preference used with this operation. This
	// determines which server a command is sent to and, for OP_MSG capable
	// servers, whether a $readPreference field is appended.
	ReadPreference *readpref.ReadPref

	// ReadConcern is the read concern used when sending read commands. A
	// read concern the selected server cannot honor fails the operation
	// before any bytes are written to the network.
	ReadConcern *readconcern.ReadConcern

	// MinimumReadConcernWireVersion raises the wire version required for the
	// read concern on commands that gained support for it later than the
	// protocol did.
	MinimumReadConcernWireVersion int32

	// WriteConcern is the write concern used when sending write commands. It
	// is omitted, not an error, on servers that predate command write
	// concerns for this operation.
	WriteConcern *writeconcern.WriteConcern

	// MinimumWriteConcernWireVersion is the wire version below which the
	// write concern is not appended for this operation.
	MinimumWriteConcernWireVersion int32

	// Type specifies the kind of operation this is.
	Type Type

	// Batches contains the documents that are split when executing a write
	// command that potentially has more documents than can fit in a single
	// command.
	Batches *Batches

	// CommandMonitor specifies the monitor to use for APM events.
	CommandMonitor *event.CommandMonitor

	// Logger receives a structured record for each command start and finish.
	// A nil Logger is valid and disables logging.
	Logger *logger.Logger

	// Name is the name of the command. It is used for logging when the
	// command document is not otherwise inspected.
	Name string

	// ExhaustAllowed indicates whether the server is allowed to stream
	// multiple responses to this command without further requests.
	ExhaustAllowed bool

	// ZlibLevel and ZstdLevel override the compression levels used when the
	// selected server negotiated the corresponding compressor.
	ZlibLevel *int
	ZstdLevel *int
}

// Validate validates this operation, ensuring the fields are set properly.
func (op Operation) Validate() error {
	if op.CommandFn == nil {
		return InvalidOperationError{MissingField: "CommandFn"}
	}
	if op.Deployment == nil {
		return InvalidOperationError{MissingField: "Deployment"}
	}
	if op.Database == "" {
		return InvalidOperationError{MissingField: "Database"}
	}
	return nil
}

// selectServer handles performing server selection for an operation.
func (op Operation) selectServer(ctx context.Context) (Server, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	selector := op.Selector
	if selector == nil {
		rp := op.ReadPreference
		if rp == nil {
			rp = readpref.Primary()
		}
		selector = description.CompositeSelector([]description.ServerSelector{
			description.ReadPrefSelector(rp),
			description.LatencySelector(defaultLocalThreshold),
		})
	}

	return op.Deployment.SelectServer(ctx, selector)
}

// Execute runs this operation. It selects a server, checks out a connection,
// encodes and dispatches the command exactly once, decodes the result, and
// returns the connection to its owner before returning.
func (op Operation) Execute(ctx context.Context) error {
	err := op.Validate()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	srvr, err := op.selectServer(ctx)
	if err != nil {
		return err
	}
	conn, err := srvr.Connection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// A connection that is streaming responses for an exhaust cursor cannot
	// multiplex other commands.
	if streamer, ok := conn.(StreamerConnection); ok && streamer.CurrentlyStreaming() {
		return ErrConnectionStreaming
	}

	desc := description.SelectedServer{Server: conn.Description(), Kind: op.Deployment.Kind()}
	scratch := make([]byte, 0, 256)
	unacknowledged := !writeconcern.AckWrite(op.WriteConcern)

	var operationErr WriteCommandError
	batching := op.Batches.Valid()
	currIndex := 0
	for {
		if batching {
			err = op.Batches.AdvanceBatch(int(desc.MaxBatchCount), int(desc.MaxDocumentSize), int(desc.MaxDocumentSize))
			if err != nil {
				return err
			}
		}

		wm, startedInfo, err := op.createWireMessage(scratch[:0], desc)
		if err != nil {
			return err
		}

		startedInfo.connID = conn.ID()
		startedInfo.serverAddress = conn.Address()
		startedInfo.cmdName = op.getCommandName(startedInfo.cmd)
		startedInfo.redacted = redactCommand(startedInfo.cmdName, startedInfo.cmd)
		op.publishStartedEvent(ctx, startedInfo)

		wm, err = op.compressWireMessage(wm, desc, startedInfo.cmdName)
		if err != nil {
			return err
		}

		finishedInfo := finishedInformation{
			cmdName:       startedInfo.cmdName,
			requestID:     startedInfo.requestID,
			connID:        startedInfo.connID,
			serverAddress: startedInfo.serverAddress,
			redacted:      startedInfo.redacted,
		}

		start := time.Now()
		var res bsoncore.Document
		var moreToCome bool

		err = conn.WriteWireMessage(ctx, wm)
		switch {
		case err != nil:
			err = Error{Message: err.Error(), Labels: []string{NetworkError}, Wrapped: err}
		case unacknowledged:
			// The server does not respond to an unacknowledged write, so a
			// synthesized reply stands in for monitoring purposes.
			res = bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "ok", 1))
			err = ErrUnacknowledgedWrite
		default:
			res, moreToCome, err = op.readWireMessage(ctx, conn)
		}

		finishedInfo.response = res
		finishedInfo.cmdErr = err
		finishedInfo.duration = time.Since(start)
		op.publishFinishedEvent(ctx, finishedInfo)

		// The server starts an exhaust stream by setting moreToCome on its
		// reply; from here on responses arrive without further requests.
		if moreToCome && op.ExhaustAllowed {
			if streamer, ok := conn.(StreamerConnection); ok {
				streamer.SetStreaming(true)
			}
		}

		var perr error
		if err == nil && op.ProcessResponseFn != nil {
			perr = op.ProcessResponseFn(ResponseInfo{
				ServerResponse:        res,
				Server:                srvr,
				Connection:            conn,
				ConnectionDescription: desc.Server,
				CurrentIndex:          currIndex,
			})
		}

		if ep, ok := srvr.(ErrorProcessor); ok && err != nil && err != ErrUnacknowledgedWrite {
			ep.ProcessError(err, conn)
		}

		switch tt := err.(type) {
		case WriteCommandError:
			for i := range tt.WriteErrors {
				tt.WriteErrors[i].Index += int64(currIndex)
			}
			operationErr.WriteConcernError = tt.WriteConcernError
			operationErr.WriteErrors = append(operationErr.WriteErrors, tt.WriteErrors...)
			operationErr.Labels = tt.Labels
			operationErr.Raw = tt.Raw
			if batching && len(tt.WriteErrors) > 0 && op.Batches.Ordered != nil && *op.Batches.Ordered {
				return operationErr
			}
		case Error:
			return err
		case nil:
			if perr != nil {
				return perr
			}
		default:
			return err
		}

		if batching && len(op.Batches.Documents) > 0 {
			currIndex += len(op.Batches.Current)
			op.Batches.ClearBatch()
			continue
		}
		break
	}
	if len(operationErr.WriteErrors) > 0 || operationErr.WriteConcernError != nil {
		return operationErr
	}
	return nil
}

// ExecuteAsync runs this operation on a background goroutine and delivers the
// terminal result to callback. The callback is invoked exactly once. No
// intermediate state is observable; an async execution succeeds or fails
// exactly as the synchronous form does.
func (op Operation) ExecuteAsync(ctx context.Context, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	go func() {
		callback(op.Execute(ctx))
	}()
}

// readWireMessage reads and decodes the server's reply, returning the
// response document, whether the server has more responses in flight for an
// exhaust stream, and any error, including errors the server encoded into
// the response document.
func (op Operation) readWireMessage(ctx context.Context, conn Connection) (bsoncore.Document, bool, error) {
	wm, err := conn.ReadWireMessage(ctx, nil)
	if err != nil {
		return nil, false, Error{Message: err.Error(), Labels: []string{NetworkError}, Wrapped: err}
	}

	length, _, _, opcode, rem, ok := wiremessage.ReadHeader(wm)
	if !ok || int(length) > len(wm) {
		return nil, false, NewCommandResponseError("malformed wire message: insufficient bytes", nil)
	}

	if opcode == wiremessage.OpCompressed {
		opcode, rem, err = op.decompressWireMessage(rem)
		if err != nil {
			return nil, false, err
		}
	}

	var moreToCome bool
	if opcode == wiremessage.OpMsg {
		if flags, _, ok := wiremessage.ReadMsgFlags(rem); ok {
			moreToCome = flags&wiremessage.MoreToCome == wiremessage.MoreToCome
		}
	}

	res, err := op.decodeResult(opcode, rem)
	if err != nil {
		return res, moreToCome, err
	}
	return res, moreToCome, ExtractErrorFromServerResponse(res)
}

// decompressWireMessage decompresses the body of an OP_COMPRESSED message and
// returns the original opcode along with the uncompressed body.
func (op Operation) decompressWireMessage(rem []byte) (wiremessage.OpCode, []byte, error) {
	opcode, rem, ok := wiremessage.ReadCompressedOriginalOpCode(rem)
	if !ok {
		return 0, nil, NewCommandResponseError("malformed OP_COMPRESSED: missing original opcode", nil)
	}
	size, rem, ok := wiremessage.ReadCompressedUncompressedSize(rem)
	if !ok {
		return 0, nil, NewCommandResponseError("malformed OP_COMPRESSED: missing uncompressed size", nil)
	}
	compressorID, rem, ok := wiremessage.ReadCompressedCompressorID(rem)
	if !ok {
		return 0, nil, NewCommandResponseError("malformed OP_COMPRESSED: missing compressor ID", nil)
	}

	uncompressed, err := DecompressPayload(rem, CompressionOpts{
		Compressor:       compressorID,
		UncompressedSize: size,
	})
	if err != nil {
		return 0, nil, err
	}
	return opcode, uncompressed, nil
}

func (op Operation) createWireMessage(dst []byte, desc description.SelectedServer) ([]byte, startedInformation, error) {
	if desc.WireVersion == nil || desc.WireVersion.Max < description.OpmsgWireVersion {
		return op.createQueryWireMessage(dst, desc)
	}
	return op.createMsgWireMessage(dst, desc)
}

func (op Operation) createQueryWireMessage(dst []byte, desc description.SelectedServer) ([]byte, startedInformation, error) {
	var info startedInformation
	flags := op.slaveOK(desc)
	var wmindex int32
	info.requestID = wiremessage.NextRequestID()
	wmindex, dst = wiremessage.AppendHeaderStart(dst, info.requestID, 0, wiremessage.OpQuery)
	dst = wiremessage.AppendQueryFlags(dst, flags)
	dst = wiremessage.AppendQueryFullCollectionName(dst, op.Database+".$cmd")
	dst = wiremessage.AppendQueryNumberToSkip(dst, 0)
	dst = wiremessage.AppendQueryNumberToReturn(dst, -1)

	wrapper := int32(-1)
	rp, err := op.createReadPref(desc, true)
	if err != nil {
		return dst, info, err
	}
	if len(rp) > 0 {
		wrapper, dst = bsoncore.AppendDocumentStart(dst)
		dst = bsoncore.AppendHeader(dst, bsontype.EmbeddedDocument, "$query")
	}
	idx, dst := bsoncore.AppendDocumentStart(dst)
	dst, err = op.CommandFn(dst, desc)
	if err != nil {
		return dst, info, err
	}

	if op.Batches != nil && len(op.Batches.Current) > 0 {
		aidx, arr := bsoncore.AppendArrayElementStart(dst, op.Batches.Identifier)
		for i, doc := range op.Batches.Current {
			arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), doc)
		}
		dst, _ = bsoncore.AppendArrayEnd(arr, aidx)
	}

	dst, err = op.addReadConcern(dst, desc)
	if err != nil {
		return dst, info, err
	}
	dst, err = op.addWriteConcern(dst, desc)
	if err != nil {
		return dst, info, err
	}

	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	// Command monitoring only reports the document inside $query
	info.cmd = dst[idx:]

	if len(rp) > 0 {
		dst = bsoncore.AppendDocumentElement(dst, "$readPreference", rp)
		dst, err = bsoncore.AppendDocumentEnd(dst, wrapper)
		if err != nil {
			return dst, info, err
		}
	}

	return bsoncore.UpdateLength(dst, wmindex, int32(len(dst[wmindex:]))), info, nil
}

func (op Operation) createMsgWireMessage(dst []byte, desc description.SelectedServer) ([]byte, startedInformation, error) {
	var info startedInformation
	var flags wiremessage.MsgFlag
	var wmindex int32
	// An unacknowledged write sets moreToCome on the request, which tells
	// the server not to respond.
	if !writeconcern.AckWrite(op.WriteConcern) {
		flags = wiremessage.MoreToCome
	}
	if op.ExhaustAllowed {
		flags |= wiremessage.ExhaustAllowed
	}

	info.requestID = wiremessage.NextRequestID()
	wmindex, dst = wiremessage.AppendHeaderStart(dst, info.requestID, 0, wiremessage.OpMsg)
	dst = wiremessage.AppendMsgFlags(dst, flags)
	dst = wiremessage.AppendMsgSectionType(dst, wiremessage.SingleDocument)

	idx, dst := bsoncore.AppendDocumentStart(dst)

	dst, err := op.CommandFn(dst, desc)
	if err != nil {
		return dst, info, err
	}
	dst, err = op.addReadConcern(dst, desc)
	if err != nil {
		return dst, info, err
	}
	dst, err = op.addWriteConcern(dst, desc)
	if err != nil {
		return dst, info, err
	}

	dst = bsoncore.AppendStringElement(dst, "$db", op.Database)
	rp, err := op.createReadPref(desc, false)
	if err != nil {
		return dst, info, err
	}
	if len(rp) > 0 {
		dst = bsoncore.AppendDocumentElement(dst, "$readPreference", rp)
	}

	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	info.cmd = dst[idx:]

	if op.Batches != nil && len(op.Batches.Current) > 0 {
		info.documentSequence = op.Batches.Current
		dst = wiremessage.AppendMsgSectionType(dst, wiremessage.DocumentSequence)
		var seqIdx int32
		seqIdx, dst = bsoncore.ReserveLength(dst)
		dst = append(dst, op.Batches.Identifier...)
		dst = append(dst, 0x00)
		for _, doc := range op.Batches.Current {
			dst = append(dst, doc...)
		}
		dst = bsoncore.UpdateLength(dst, seqIdx, int32(len(dst[seqIdx:])))
	}

	return bsoncore.UpdateLength(dst, wmindex, int32(len(dst[wmindex:]))), info, nil
}

// compressWireMessage compresses the provided wire message using the first
// compressor the selected server negotiated during its handshake. Handshake
// and authentication commands are never compressed.
func (op Operation) compressWireMessage(wm []byte, desc description.SelectedServer, cmdName string) ([]byte, error) {
	if len(desc.Server.Compression) == 0 || !canCompress(cmdName) {
		return wm, nil
	}

	var compressorID wiremessage.CompressorID
	found := false
	for _, name := range desc.Server.Compression {
		if id, ok := wiremessage.CompressorIDFromString(name); ok {
			compressorID = id
			found = true
			break
		}
	}
	if !found {
		return wm, nil
	}

	_, reqid, respto, origcode, rem, ok := wiremessage.ReadHeader(wm)
	if !ok {
		return nil, errors.New("malformed wire message: insufficient bytes")
	}

	zlibLevel := zlib.DefaultCompression
	if op.ZlibLevel != nil {
		zlibLevel = *op.ZlibLevel
	}
	zstdLevel := defaultZstdLevel
	if op.ZstdLevel != nil {
		zstdLevel = *op.ZstdLevel
	}
	compressed, err := CompressPayload(rem, CompressionOpts{
		Compressor:       compressorID,
		UncompressedSize: int32(len(rem)),
		ZlibLevel:        zlibLevel,
		ZstdLevel:        zstdLevel,
	})
	if err != nil {
		return nil, err
	}

	dst := make([]byte, 0, len(compressed)+25)
	var wmindex int32
	wmindex, dst = wiremessage.AppendHeaderStart(dst, reqid, respto, wiremessage.OpCompressed)
	dst = wiremessage.AppendCompressedOriginalOpCode(dst, origcode)
	dst = wiremessage.AppendCompressedUncompressedSize(dst, int32(len(rem)))
	dst = wiremessage.AppendCompressedCompressorID(dst, compressorID)
	dst = wiremessage.AppendCompressedCompressedMessage(dst, compressed)
	return bsoncore.UpdateLength(dst, wmindex, int32(len(dst[wmindex:]))), nil
}

func (op Operation) addReadConcern(dst []byte, desc description.SelectedServer) ([]byte, error) {
	rc := op.ReadConcern
	if rc == nil {
		return dst, nil
	}
	level, ok := rc.Level()
	if !ok {
		return dst, nil
	}

	min := description.ReadConcernWireVersion
	if op.MinimumReadConcernWireVersion > min {
		min = op.MinimumReadConcernWireVersion
	}
	if desc.WireVersion == nil || !desc.WireVersion.Includes(min) {
		return dst, fmt.Errorf("the %q read concern is only supported for servers at wire version %d or above", level, min)
	}

	data, err := rc.Document()
	if err != nil {
		return dst, err
	}
	return bsoncore.AppendDocumentElement(dst, "readConcern", data), nil
}

func (op Operation) addWriteConcern(dst []byte, desc description.SelectedServer) ([]byte, error) {
	wc := op.WriteConcern
	if wc == nil {
		return dst, nil
	}
	if op.MinimumWriteConcernWireVersion > 0 &&
		(desc.WireVersion == nil || !desc.WireVersion.Includes(op.MinimumWriteConcernWireVersion)) {
		return dst, nil
	}

	data, err := wc.Document()
	if err != nil {
		return dst, err
	}
	if len(data) <= 5 { // empty document
		return dst, nil
	}
	return bsoncore.AppendDocumentElement(dst, "writeConcern", data), nil
}

func (op Operation) slaveOK(desc description.SelectedServer) wiremessage.QueryFlag {
	if desc.Kind == description.Single && desc.Server.Kind != description.Mongos {
		return wiremessage.SlaveOK
	}

	if rp := op.ReadPreference; rp != nil && rp.Mode() != readpref.PrimaryMode {
		return wiremessage.SlaveOK
	}

	return 0
}

func (op Operation) createReadPref(desc description.SelectedServer, isOpQuery bool) (bsoncore.Document, error) {
	if op.Type == Write {
		return nil, nil
	}

	idx, doc := bsoncore.AppendDocumentStart(nil)
	rp := op.ReadPreference

	if rp == nil {
		if desc.Kind == description.Single && desc.Server.Kind != description.Mongos {
			doc = bsoncore.AppendStringElement(doc, "mode", "primaryPreferred")
			doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
			return doc, nil
		}
		return nil, nil
	}

	switch rp.Mode() {
	case readpref.PrimaryMode:
		if desc.Server.Kind == description.Mongos {
			return nil, nil
		}
		if desc.Kind == description.Single {
			doc = bsoncore.AppendStringElement(doc, "mode", "primaryPreferred")
			doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
			return doc, nil
		}
		doc = bsoncore.AppendStringElement(doc, "mode", "primary")
	case readpref.PrimaryPreferredMode:
		doc = bsoncore.AppendStringElement(doc, "mode", "primaryPreferred")
	case readpref.SecondaryPreferredMode:
		_, ok := rp.MaxStaleness()
		if desc.Server.Kind == description.Mongos && isOpQuery && !ok && len(rp.TagSets()) == 0 {
			return nil, nil
		}
		doc = bsoncore.AppendStringElement(doc, "mode", "secondaryPreferred")
	case readpref.SecondaryMode:
		doc = bsoncore.AppendStringElement(doc, "mode", "secondary")
	case readpref.NearestMode:
		doc = bsoncore.AppendStringElement(doc, "mode", "nearest")
	}

	sets := make([]bsoncore.Document, 0, len(rp.TagSets()))
	for _, ts := range rp.TagSets() {
		if len(ts) == 0 {
			continue
		}
		i, set := bsoncore.AppendDocumentStart(nil)
		for _, t := range ts {
			set = bsoncore.AppendStringElement(set, t.Name, t.Value)
		}
		set, _ = bsoncore.AppendDocumentEnd(set, i)
		sets = append(sets, set)
	}
	if len(sets) > 0 {
		var aidx int32
		aidx, doc = bsoncore.AppendArrayElementStart(doc, "tags")
		for i, set := range sets {
			doc = bsoncore.AppendDocumentElement(doc, strconv.Itoa(i), set)
		}
		doc, _ = bsoncore.AppendArrayEnd(doc, aidx)
	}

	if d, ok := rp.MaxStaleness(); ok {
		if err := description.MaxStalenessSupported(desc.WireVersion); err != nil {
			return nil, err
		}
		doc = bsoncore.AppendInt32Element(doc, "maxStalenessSeconds", int32(d.Seconds()))
	}

	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc, nil
}

func (op Operation) decodeResult(opcode wiremessage.OpCode, wm []byte) (bsoncore.Document, error) {
	switch opcode {
	case wiremessage.OpReply:
		flags, wm, ok := wiremessage.ReadReplyFlags(wm)
		if !ok {
			return nil, NewCommandResponseError("malformed OP_REPLY: missing flags", nil)
		}
		cursorID, wm, ok := wiremessage.ReadReplyCursorID(wm)
		if !ok {
			return nil, NewCommandResponseError("malformed OP_REPLY: missing cursorID", nil)
		}
		_, wm, ok = wiremessage.ReadReplyStartingFrom(wm)
		if !ok {
			return nil, NewCommandResponseError("malformed OP_REPLY: missing startingFrom", nil)
		}
		_, wm, ok = wiremessage.ReadReplyNumberReturned(wm)
		if !ok {
			return nil, NewCommandResponseError("malformed OP_REPLY: missing numberReturned", nil)
		}
		docs, _, ok := wiremessage.ReadReplyDocuments(wm)
		if !ok {
			return nil, NewCommandResponseError("malformed OP_REPLY: could not read documents from reply", nil)
		}

		if flags&wiremessage.QueryFailure == wiremessage.QueryFailure {
			var resp bsoncore.Document
			if len(docs) > 0 {
				resp = docs[0]
			}
			return nil, QueryFailureError{Message: "command failure", Response: resp}
		}
		if flags&wiremessage.CursorNotFound == wiremessage.CursorNotFound {
			return nil, Error{
				Code:    43,
				Name:    "CursorNotFound",
				Message: fmt.Sprintf("cursor id %d not found", cursorID),
			}
		}

		if len(docs) == 0 {
			return nil, ErrNoDocCommandResponse
		}
		if len(docs) > 1 {
			return nil, ErrMultiDocCommandResponse
		}
		res := docs[0]
		if err := res.Validate(); err != nil {
			return nil, NewCommandResponseError("malformed OP_REPLY: invalid document", err)
		}
		return res, nil
	case wiremessage.OpMsg:
		_, wm, ok := wiremessage.ReadMsgFlags(wm)
		if !ok {
			return nil, NewCommandResponseError("malformed wire message: missing OP_MSG flags", nil)
		}

		var res bsoncore.Document
		for len(wm) > 0 {
			var stype wiremessage.SectionType
			stype, wm, ok = wiremessage.ReadMsgSectionType(wm)
			if !ok {
				return nil, NewCommandResponseError("malformed wire message: insufficient bytes to read section type", nil)
			}

			switch stype {
			case wiremessage.SingleDocument:
				res, wm, ok = wiremessage.ReadMsgSectionSingleDocument(wm)
				if !ok {
					return nil, NewCommandResponseError("malformed wire message: insufficient bytes to read single document", nil)
				}
			case wiremessage.DocumentSequence:
				_, _, wm, ok = wiremessage.ReadMsgSectionDocumentSequence(wm)
				if !ok {
					return nil, NewCommandResponseError("malformed wire message: insufficient bytes to read document sequence", nil)
				}
			default:
				return nil, fmt.Errorf("malformed wire message: unknown section type %v", stype)
			}
		}

		if res == nil {
			return nil, ErrNoDocCommandResponse
		}
		if err := res.Validate(); err != nil {
			return nil, NewCommandResponseError("malformed OP_MSG: invalid document", err)
		}
		return res, nil
	default:
		return nil, fmt.Errorf("cannot decode result from %s", opcode)
	}
}

// getCommandName returns the name of the command from the given BSON document.
func (op Operation) getCommandName(doc []byte) string {
	if len(doc) < 6 {
		return op.Name
	}
	// skip 4 bytes for document length and 1 byte for element type
	idx := bytes.IndexByte(doc[5:], 0x00)
	if idx < 0 {
		return op.Name
	}
	return string(doc[5 : idx+5])
}

// Commands involved in the handshake or in authentication are never
// compressed and always have their documents redacted from monitoring.
func isSecuritySensitiveCommand(cmd string) bool {
	switch cmd {
	case "authenticate", "saslStart", "saslContinue", "getnonce", "createUser", "updateUser",
		"copydbgetnonce", "copydbsaslstart", "copydb":
		return true
	}
	return false
}

func canCompress(cmd string) bool {
	if cmd == "isMaster" || cmd == "ismaster" || cmd == "hello" {
		return false
	}
	return !isSecuritySensitiveCommand(cmd)
}

func redactCommand(cmd string, doc bsoncore.Document) bool {
	if isSecuritySensitiveCommand(cmd) {
		return true
	}
	if strings.EqualFold(cmd, "isMaster") || cmd == "hello" {
		// An isMaster without speculative authentication can be exposed.
		_, err := doc.LookupErr("speculativeAuthenticate")
		return err == nil
	}
	return false
}

// publishStartedEvent publishes a CommandStartedEvent to the operation's
// command monitor if one is configured.
func (op Operation) publishStartedEvent(ctx context.Context, info startedInformation) {
	op.Logger.CommandStarted(info.cmdName, op.Database, int64(info.requestID), info.serverAddress.String())

	if op.CommandMonitor == nil || op.CommandMonitor.Started == nil {
		return
	}

	// The actual command document cannot be exposed for redacted commands,
	// and must be reassembled for commands sent with a document sequence.
	var cmdCopy bsoncore.Document
	if info.redacted {
		cmdCopy = emptyDoc
	} else {
		cmdCopy = make(bsoncore.Document, len(info.cmd))
		copy(cmdCopy, info.cmd)
		if len(info.documentSequence) > 0 && op.Batches != nil {
			cmdCopy = cmdCopy[:len(cmdCopy)-1] // remove the null byte
			aidx, arr := bsoncore.AppendArrayElementStart(cmdCopy, op.Batches.Identifier)
			for i, doc := range info.documentSequence {
				arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), doc)
			}
			cmdCopy, _ = bsoncore.AppendArrayEnd(arr, aidx)
			cmdCopy = append(cmdCopy, 0x00)
			cmdCopy = bsoncore.UpdateLength(cmdCopy, 0, int32(len(cmdCopy)))
		}
	}

	started := &event.CommandStartedEvent{
		Command:       cmdCopy,
		DatabaseName:  op.Database,
		CommandName:   info.cmdName,
		RequestID:     int64(info.requestID),
		ConnectionID:  info.connID,
		ServerAddress: info.serverAddress,
	}
	op.CommandMonitor.Started(ctx, started)
}

// publishFinishedEvent publishes either a CommandSucceededEvent or a
// CommandFailedEvent to the operation's command monitor if one is configured.
func (op Operation) publishFinishedEvent(ctx context.Context, info finishedInformation) {
	success := info.success()

	if success {
		op.Logger.CommandSucceeded(info.cmdName, int64(info.requestID), info.serverAddress.String(), info.duration)
	} else {
		op.Logger.CommandFailed(info.cmdName, int64(info.requestID), info.serverAddress.String(), info.duration, info.cmdErr)
	}

	if op.CommandMonitor == nil {
		return
	}

	finished := event.CommandFinishedEvent{
		DurationNanos: info.duration.Nanoseconds(),
		CommandName:   info.cmdName,
		RequestID:     int64(info.requestID),
		ConnectionID:  info.connID,
		ServerAddress: info.serverAddress,
	}

	if success {
		if op.CommandMonitor.Succeeded == nil {
			return
		}
		res := info.response
		if info.redacted {
			res = emptyDoc
		}
		successEvent := &event.CommandSucceededEvent{
			CommandFinishedEvent: finished,
			Reply:                res,
		}
		op.CommandMonitor.Succeeded(ctx, successEvent)
		return
	}

	if op.CommandMonitor.Failed == nil {
		return
	}
	failedEvent := &event.CommandFailedEvent{
		CommandFinishedEvent: finished,
		Failure:              info.cmdErr.Error(),
	}
	op.CommandMonitor.Failed(ctx, failedEvent)
}
