// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

func TestNextRequestID(t *testing.T) {
	t.Parallel()

	first := NextRequestID()
	second := NextRequestID()
	assert.NotEqual(t, first, second, "expected distinct request IDs")
}

func TestOpCodeString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		opcode OpCode
		want   string
	}{
		{OpReply, "OP_REPLY"},
		{OpUpdate, "OP_UPDATE"},
		{OpInsert, "OP_INSERT"},
		{OpQuery, "OP_QUERY"},
		{OpGetMore, "OP_GET_MORE"},
		{OpDelete, "OP_DELETE"},
		{OpKillCursors, "OP_KILL_CURSORS"},
		{OpCompressed, "OP_COMPRESSED"},
		{OpMsg, "OP_MSG"},
		{OpCode(9999), "<invalid opcode>"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, tc.opcode.String(), "unexpected string for opcode %d", int32(tc.opcode))
	}
}

func TestHeader(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		idx, wm := AppendHeaderStart(nil, 10, 20, OpMsg)
		wm = bsoncore.UpdateLength(wm, idx, int32(len(wm)))

		length, requestID, responseTo, opcode, rem, ok := ReadHeader(wm)
		require.True(t, ok, "could not read header")
		assert.Equal(t, int32(16), length, "expected length 16, got %d", length)
		assert.Equal(t, int32(10), requestID, "expected request ID 10, got %d", requestID)
		assert.Equal(t, int32(20), responseTo, "expected responseTo 20, got %d", responseTo)
		assert.Equal(t, OpMsg, opcode, "expected OP_MSG, got %v", opcode)
		assert.Equal(t, 0, len(rem), "expected no remaining bytes")
	})

	t.Run("short read", func(t *testing.T) {
		t.Parallel()

		_, _, _, _, _, ok := ReadHeader(make([]byte, 15))
		assert.False(t, ok, "expected ReadHeader to fail on a short buffer")
	})
}

func TestQueryFields(t *testing.T) {
	t.Parallel()

	query := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "find", 1))

	var wm []byte
	wm = AppendQueryFlags(wm, SlaveOK|Exhaust)
	wm = AppendQueryFullCollectionName(wm, "foo.$cmd")
	wm = AppendQueryNumberToSkip(wm, 3)
	wm = AppendQueryNumberToReturn(wm, -1)
	wm = append(wm, query...)

	flags, rem, ok := ReadQueryFlags(wm)
	require.True(t, ok, "could not read flags")
	assert.Equal(t, SlaveOK|Exhaust, flags, "unexpected flags %v", flags)

	collName, rem, ok := ReadQueryFullCollectionName(rem)
	require.True(t, ok, "could not read collection name")
	assert.Equal(t, "foo.$cmd", collName, "unexpected collection name %q", collName)

	skip, rem, ok := ReadQueryNumberToSkip(rem)
	require.True(t, ok, "could not read numberToSkip")
	assert.Equal(t, int32(3), skip, "unexpected numberToSkip %d", skip)

	ntr, rem, ok := ReadQueryNumberToReturn(rem)
	require.True(t, ok, "could not read numberToReturn")
	assert.Equal(t, int32(-1), ntr, "unexpected numberToReturn %d", ntr)

	doc, rem, ok := ReadQueryQuery(rem)
	require.True(t, ok, "could not read query document")
	assert.Equal(t, bsoncore.Document(query), doc, "unexpected query document")
	assert.Equal(t, 0, len(rem), "expected no remaining bytes")
}

func TestReplyFields(t *testing.T) {
	t.Parallel()

	doc1 := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "x", 1))
	doc2 := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "x", 2))

	var wm []byte
	wm = AppendReplyFlags(wm, QueryFailure|AwaitCapable)
	wm = AppendReplyCursorID(wm, 42)
	wm = AppendReplyStartingFrom(wm, 5)
	wm = AppendReplyNumberReturned(wm, 2)
	wm = append(wm, doc1...)
	wm = append(wm, doc2...)

	flags, rem, ok := ReadReplyFlags(wm)
	require.True(t, ok, "could not read flags")
	assert.Equal(t, QueryFailure|AwaitCapable, flags, "unexpected flags %v", flags)

	cursorID, rem, ok := ReadReplyCursorID(rem)
	require.True(t, ok, "could not read cursor ID")
	assert.Equal(t, int64(42), cursorID, "unexpected cursor ID %d", cursorID)

	startingFrom, rem, ok := ReadReplyStartingFrom(rem)
	require.True(t, ok, "could not read startingFrom")
	assert.Equal(t, int32(5), startingFrom, "unexpected startingFrom %d", startingFrom)

	numReturned, rem, ok := ReadReplyNumberReturned(rem)
	require.True(t, ok, "could not read numberReturned")
	assert.Equal(t, int32(2), numReturned, "unexpected numberReturned %d", numReturned)

	docs, rem, ok := ReadReplyDocuments(rem)
	require.True(t, ok, "could not read documents")
	require.Equal(t, 2, len(docs), "expected 2 documents, got %d", len(docs))
	assert.Equal(t, bsoncore.Document(doc1), docs[0], "unexpected first document")
	assert.Equal(t, bsoncore.Document(doc2), docs[1], "unexpected second document")
	assert.Equal(t, 0, len(rem), "expected no remaining bytes")
}

func TestMsgSections(t *testing.T) {
	t.Parallel()

	t.Run("single document", func(t *testing.T) {
		t.Parallel()

		cmd := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "ping", 1))

		var wm []byte
		wm = AppendMsgFlags(wm, ExhaustAllowed)
		wm = AppendMsgSectionType(wm, SingleDocument)
		wm = append(wm, cmd...)

		flags, rem, ok := ReadMsgFlags(wm)
		require.True(t, ok, "could not read flags")
		assert.Equal(t, ExhaustAllowed, flags, "unexpected flags %v", flags)

		stype, rem, ok := ReadMsgSectionType(rem)
		require.True(t, ok, "could not read section type")
		assert.Equal(t, SingleDocument, stype, "unexpected section type %v", stype)

		doc, rem, ok := ReadMsgSectionSingleDocument(rem)
		require.True(t, ok, "could not read document")
		assert.Equal(t, bsoncore.Document(cmd), doc, "unexpected document")
		assert.Equal(t, 0, len(rem), "expected no remaining bytes")
	})

	t.Run("document sequence", func(t *testing.T) {
		t.Parallel()

		doc1 := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "x", 1))
		doc2 := bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendInt32Element(nil, "x", 2))

		// size(4) + identifier cstring + documents
		var seq []byte
		seq = appendCString(seq, "documents")
		seq = append(seq, doc1...)
		seq = append(seq, doc2...)
		var wm []byte
		wm = appendi32(wm, int32(4+len(seq)))
		wm = append(wm, seq...)
		wm = append(wm, 0xDE, 0xAD) // trailing bytes belong to the next section

		identifier, docs, rem, ok := ReadMsgSectionDocumentSequence(wm)
		require.True(t, ok, "could not read document sequence")
		assert.Equal(t, "documents", identifier, "unexpected identifier %q", identifier)
		require.Equal(t, 2, len(docs), "expected 2 documents, got %d", len(docs))
		assert.Equal(t, bsoncore.Document(doc1), docs[0], "unexpected first document")
		assert.Equal(t, bsoncore.Document(doc2), docs[1], "unexpected second document")
		assert.Equal(t, []byte{0xDE, 0xAD}, rem, "expected the trailing bytes to be returned")
	})

	t.Run("document sequence with bad length", func(t *testing.T) {
		t.Parallel()

		var wm []byte
		wm = appendi32(wm, 3)
		_, _, _, ok := ReadMsgSectionDocumentSequence(wm)
		assert.False(t, ok, "expected a length below 4 to be rejected")

		wm = appendi32(nil, 1024)
		_, _, _, ok = ReadMsgSectionDocumentSequence(wm)
		assert.False(t, ok, "expected a length beyond the buffer to be rejected")
	})
}

func TestIsMsgMoreToCome(t *testing.T) {
	t.Parallel()

	build := func(opcode OpCode, flags MsgFlag) []byte {
		idx, wm := AppendHeaderStart(nil, NextRequestID(), 0, opcode)
		wm = AppendMsgFlags(wm, flags)
		wm = AppendMsgSectionType(wm, SingleDocument)
		wm = append(wm, bsoncore.BuildDocumentFromElements(nil, bsoncore.AppendDoubleElement(nil, "ok", 1))...)
		return bsoncore.UpdateLength(wm, idx, int32(len(wm)))
	}

	testCases := []struct {
		name string
		wm   []byte
		want bool
	}{
		{"OP_MSG with MoreToCome", build(OpMsg, MoreToCome), true},
		{"OP_MSG with MoreToCome and other flags", build(OpMsg, MoreToCome|ExhaustAllowed), true},
		{"OP_MSG without MoreToCome", build(OpMsg, 0), false},
		{"not an OP_MSG", build(OpQuery, MoreToCome), false},
		{"too short", make([]byte, 19), false},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := IsMsgMoreToCome(tc.wm)
			assert.Equal(t, tc.want, got, "expected IsMsgMoreToCome to return %v", tc.want)
		})
	}
}

func TestCompressedFields(t *testing.T) {
	t.Parallel()

	var wm []byte
	wm = AppendCompressedOriginalOpCode(wm, OpMsg)
	wm = AppendCompressedUncompressedSize(wm, 256)
	wm = AppendCompressedCompressorID(wm, CompressorSnappy)
	wm = AppendCompressedCompressedMessage(wm, []byte{0x01, 0x02, 0x03})

	opcode, rem, ok := ReadCompressedOriginalOpCode(wm)
	require.True(t, ok, "could not read original opcode")
	assert.Equal(t, OpMsg, opcode, "unexpected opcode %v", opcode)

	size, rem, ok := ReadCompressedUncompressedSize(rem)
	require.True(t, ok, "could not read uncompressed size")
	assert.Equal(t, int32(256), size, "unexpected uncompressed size %d", size)

	id, rem, ok := ReadCompressedCompressorID(rem)
	require.True(t, ok, "could not read compressor ID")
	assert.Equal(t, CompressorSnappy, id, "unexpected compressor ID %v", id)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, rem, "unexpected compressed payload")
}

func TestCompressorIDFromString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want CompressorID
		ok   bool
	}{
		{"snappy", CompressorSnappy, true},
		{"zlib", CompressorZLib, true},
		{"zstd", CompressorZstd, true},
		{"ZSTD", CompressorZstd, true},
		{"lz4", CompressorNoOp, false},
		{"", CompressorNoOp, false},
	}
	for _, tc := range testCases {
		id, ok := CompressorIDFromString(tc.in)
		assert.Equal(t, tc.want, id, "unexpected compressor ID for %q", tc.in)
		assert.Equal(t, tc.ok, ok, "unexpected ok for %q", tc.in)
	}
}
