// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package drivertest provides fake implementations of the driver's
// deployment, server, and connection interfaces for use in tests.
package drivertest

import (
	"context"
	"errors"
	"strconv"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/address"
	"github.com/ikmak/mongocore/description"
	"github.com/ikmak/mongocore/wiremessage"
)

// ChannelConn implements the driver.Connection interface by reading and
// writing wire messages to a channel.
type ChannelConn struct {
	WriteErr error
	Written  chan []byte
	ReadResp chan []byte
	ReadErr  chan error
	Desc     description.Server
}

// WriteWireMessage implements the driver.Connection interface.
func (c *ChannelConn) WriteWireMessage(ctx context.Context, wm []byte) error {
	// Copy wm in case it came from a buffer pool.
	b := make([]byte, len(wm))
	copy(b, wm)
	select {
	case c.Written <- b:
	default:
		c.WriteErr = errors.New("could not write wiremessage to written channel")
	}
	return c.WriteErr
}

// ReadWireMessage implements the driver.Connection interface.
func (c *ChannelConn) ReadWireMessage(ctx context.Context, dst []byte) ([]byte, error) {
	dst = dst[:0]
	var wm []byte
	var err error
	select {
	case wm = <-c.ReadResp:
	case err = <-c.ReadErr:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if l := len(wm); l > 0 {
		if l > cap(dst) {
			dst = make([]byte, 0, l)
		}
		dst = append(dst, wm...)
	}
	return dst, err
}

// Description implements the driver.Connection interface.
func (c *ChannelConn) Description() description.Server { return c.Desc }

// Close implements the driver.Connection interface.
func (c *ChannelConn) Close() error {
	return nil
}

// ID implements the driver.Connection interface.
func (c *ChannelConn) ID() string {
	return "faked"
}

// Address implements the driver.Connection interface.
func (c *ChannelConn) Address() address.Address { return address.Address("0.0.0.0") }

// MakeReply creates an OP_REPLY wiremessage from a BSON document.
func MakeReply(doc bsoncore.Document) []byte {
	var dst []byte
	idx, dst := bsoncore.ReserveLength(dst)
	dst = bsoncore.AppendInt32(dst, 10)                         // reqid
	dst = bsoncore.AppendInt32(dst, 9)                          // respto
	dst = bsoncore.AppendInt32(dst, int32(wiremessage.OpReply)) // opcode
	dst = bsoncore.AppendInt32(dst, 0)                          // reply flags
	dst = bsoncore.AppendInt64(dst, 0)                          // reply cursor ID
	dst = bsoncore.AppendInt32(dst, 0)                          // reply starting from
	dst = bsoncore.AppendInt32(dst, 1)                          // reply number returned
	dst = append(dst, doc...)
	return bsoncore.UpdateLength(dst, idx, int32(len(dst[idx:])))
}

// MakeMsgReply creates an OP_MSG wiremessage from a BSON document. If
// moreToCome is true, the MoreToCome flag is set, indicating the server will
// stream further responses without additional requests.
func MakeMsgReply(doc bsoncore.Document, moreToCome bool) []byte {
	var flags wiremessage.MsgFlag
	if moreToCome {
		flags = wiremessage.MoreToCome
	}

	var dst []byte
	idx, dst := wiremessage.AppendHeaderStart(dst, 10, 9, wiremessage.OpMsg)
	dst = wiremessage.AppendMsgFlags(dst, flags)
	dst = wiremessage.AppendMsgSectionType(dst, wiremessage.SingleDocument)
	dst = append(dst, doc...)
	return bsoncore.UpdateLength(dst, idx, int32(len(dst[idx:])))
}

// GetCommandFromQueryWireMessage returns the command sent in an OP_QUERY wire
// message. If the command was wrapped in a $query document to carry a read
// preference, the wrapper is returned.
func GetCommandFromQueryWireMessage(wm []byte) (bsoncore.Document, error) {
	var ok bool
	_, _, _, _, wm, ok = wiremessage.ReadHeader(wm)
	if !ok {
		return nil, errors.New("could not read header")
	}
	_, wm, ok = bsoncore.ReadInt32(wm)
	if !ok {
		return nil, errors.New("could not read flags")
	}
	_, wm, ok = wiremessage.ReadQueryFullCollectionName(wm)
	if !ok {
		return nil, errors.New("could not read fullCollectionName")
	}
	_, wm, ok = bsoncore.ReadInt32(wm)
	if !ok {
		return nil, errors.New("could not read numberToSkip")
	}
	_, wm, ok = bsoncore.ReadInt32(wm)
	if !ok {
		return nil, errors.New("could not read numberToReturn")
	}

	var query bsoncore.Document
	query, _, ok = bsoncore.ReadDocument(wm)
	if !ok {
		return nil, errors.New("could not read query")
	}
	return query, nil
}

// GetCommandFromMsgWireMessage returns the command document sent in an OP_MSG
// wire message. Documents sent in identifier sequence sections are appended
// to the command document as an array under the identifier, mirroring how the
// server interprets them.
func GetCommandFromMsgWireMessage(wm []byte) (bsoncore.Document, error) {
	length, _, _, opcode, rem, ok := wiremessage.ReadHeader(wm)
	if !ok || int(length) > len(wm) {
		return nil, errors.New("could not read header")
	}
	if opcode != wiremessage.OpMsg {
		return nil, errors.New("wire message is not an OP_MSG")
	}
	_, rem, ok = wiremessage.ReadMsgFlags(rem)
	if !ok {
		return nil, errors.New("could not read flags")
	}

	var cmdDoc bsoncore.Document
	type sequence struct {
		identifier string
		docs       []bsoncore.Document
	}
	var sequences []sequence
	for len(rem) > 0 {
		var stype wiremessage.SectionType
		stype, rem, ok = wiremessage.ReadMsgSectionType(rem)
		if !ok {
			return nil, errors.New("could not read section type")
		}
		switch stype {
		case wiremessage.SingleDocument:
			cmdDoc, rem, ok = wiremessage.ReadMsgSectionSingleDocument(rem)
			if !ok {
				return nil, errors.New("could not read command document")
			}
		case wiremessage.DocumentSequence:
			var identifier string
			var docs []bsoncore.Document
			identifier, docs, rem, ok = wiremessage.ReadMsgSectionDocumentSequence(rem)
			if !ok {
				return nil, errors.New("could not read document sequence")
			}
			sequences = append(sequences, sequence{identifier: identifier, docs: docs})
		default:
			return nil, errors.New("unknown section type")
		}
	}
	if cmdDoc == nil {
		return nil, errors.New("no command document found")
	}

	if len(sequences) == 0 {
		return cmdDoc, nil
	}

	merged := make([]byte, len(cmdDoc))
	copy(merged, cmdDoc)
	merged = merged[:len(merged)-1] // remove the null byte
	for _, seq := range sequences {
		aidx, arr := bsoncore.AppendArrayElementStart(merged, seq.identifier)
		for i, doc := range seq.docs {
			arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), doc)
		}
		merged, _ = bsoncore.AppendArrayEnd(arr, aidx)
	}
	merged = append(merged, 0x00)
	return bsoncore.UpdateLength(merged, 0, int32(len(merged))), nil
}
