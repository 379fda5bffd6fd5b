// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/address"
)

// Error labels applied by the execution core. Labels ride along with errors so
// callers can react to classes of failures without inspecting codes.
const (
	// NetworkError is the label applied to network errors.
	NetworkError = "NetworkError"
)

var (
	// ErrNoDocCommandResponse occurs when the server indicated a response
	// existed, but none was found.
	ErrNoDocCommandResponse = errors.New("command returned no documents")
	// ErrMultiDocCommandResponse occurs when the server sent multiple
	// documents in response to a command.
	ErrMultiDocCommandResponse = errors.New("command returned multiple documents")
	// ErrUnacknowledgedWrite is returned from the immediate write of an
	// unacknowledged write, where a response from the server cannot be
	// expected.
	ErrUnacknowledgedWrite = errors.New("unacknowledged write")
	// ErrUnsupportedOperation is returned if the operation is not supported
	// by the connected server.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrConnectionStreaming is returned when an operation is attempted on a
	// connection that is streaming an exhaust cursor.
	ErrConnectionStreaming = errors.New("connection is currently streaming messages and cannot be used for other commands")
)

// Error code tables consulted when classifying server errors. They are
// exported as variables so a newly deployed server version can be accommodated
// by extension rather than a code change.
var (
	// ExecutionTimeoutCodes holds the error codes that indicate the server
	// exceeded an operation's time limit.
	ExecutionTimeoutCodes = map[int32]bool{
		50: true, // MaxTimeMSExpired
	}
	// DuplicateKeyCodes holds the error codes that indicate a duplicate key
	// violation.
	DuplicateKeyCodes = map[int32]bool{
		11000: true, // DuplicateKey
		11001: true, // legacy DuplicateKey
		12582: true, // legacy DuplicateKey
	}
	// CursorNotFoundCodes holds the error codes that indicate the server no
	// longer knows the requested cursor.
	CursorNotFoundCodes = map[int32]bool{
		43: true, // CursorNotFound
	}
	// NotPrimaryCodes holds the error codes that indicate the selected server
	// is not the primary.
	NotPrimaryCodes = map[int32]bool{
		10107: true, // NotWritablePrimary
		13435: true, // NotPrimaryNoSecondaryOk
		10058: true, // legacy not primary
	}
	// NodeIsRecoveringCodes holds the error codes that indicate the selected
	// server is shutting down or recovering.
	NodeIsRecoveringCodes = map[int32]bool{
		11600: true, // InterruptedAtShutdown
		11602: true, // InterruptedDueToReplStateChange
		13436: true, // NotPrimaryOrSecondary
		189:   true, // PrimarySteppedDown
		91:    true, // ShutdownInProgress
	}
)

// InvalidOperationError is returned from Validate and indicates that a
// required field is missing from an instance of Operation.
type InvalidOperationError struct{ MissingField string }

func (err InvalidOperationError) Error() string {
	return "the " + err.MissingField + " field must be set on Operation"
}

// ResponseError is an error parsing the response to a command.
type ResponseError struct {
	Message string
	Wrapped error
}

// NewCommandResponseError creates a CommandResponseError.
func NewCommandResponseError(msg string, err error) ResponseError {
	return ResponseError{Message: msg, Wrapped: err}
}

func (e ResponseError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Wrapped)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e ResponseError) Unwrap() error { return e.Wrapped }

// QueryFailureError is an error representing a command failure as a document
// returned by a legacy OP_REPLY with the QueryFailure flag set.
type QueryFailureError struct {
	Message  string
	Response bsoncore.Document
	Wrapped  error
}

func (e QueryFailureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Response)
}

// Unwrap returns the underlying error.
func (e QueryFailureError) Unwrap() error { return e.Wrapped }

// CursorNotFoundError is returned from a getMore when the server no longer
// tracks the requested cursor, either because it timed out server-side or was
// killed. It is distinct from a closed cursor, whose terminal state is client
// local.
type CursorNotFoundError struct {
	CursorID int64
	Address  address.Address
	Wrapped  error
}

func (e CursorNotFoundError) Error() string {
	return fmt.Sprintf("cursor %d not found on server %s", e.CursorID, e.Address)
}

// Unwrap returns the underlying server error.
func (e CursorNotFoundError) Unwrap() error { return e.Wrapped }

// WriteError is a non-write concern failure that occurred as a result of a
// write operation.
type WriteError struct {
	Index   int64
	Code    int64
	Message string
	Details bsoncore.Document
}

func (we WriteError) Error() string { return we.Message }

// Is implements the error comparison interface. Two WriteErrors match when
// their codes match.
func (we WriteError) Is(err error) bool {
	var other WriteError
	if errors.As(err, &other) {
		return we.Code == other.Code
	}
	return false
}

// WriteErrors is a group of non-write concern failures that occurred as a
// result of a write operation.
type WriteErrors []WriteError

func (we WriteErrors) Error() string {
	var buf bytes.Buffer
	fmt.Fprint(&buf, "write errors: [")
	for idx, err := range we {
		if idx != 0 {
			fmt.Fprintf(&buf, ", ")
		}
		fmt.Fprintf(&buf, "{%s}", err)
	}
	fmt.Fprint(&buf, "]")
	return buf.String()
}

// WriteConcernError is a write concern failure that occurred as a result of a
// write operation.
type WriteConcernError struct {
	Name    string
	Code    int64
	Message string
	Details bsoncore.Document
	Raw     bsoncore.Document
}

func (wce WriteConcernError) Error() string {
	if wce.Name != "" {
		return fmt.Sprintf("(%v) %v", wce.Name, wce.Message)
	}
	return wce.Message
}

// Is implements the error comparison interface. Two WriteConcernErrors match
// when their codes match.
func (wce WriteConcernError) Is(err error) bool {
	var other WriteConcernError
	if errors.As(err, &other) {
		return wce.Code == other.Code
	}
	return false
}

// WriteTimeout returns true if the write concern error is a timeout.
func (wce WriteConcernError) WriteTimeout() bool {
	return wce.Code == 64 && wce.Name == "WriteConcernFailed"
}

// WriteCommandError is an error for a write command that occurs as a result
// of a write operation.
type WriteCommandError struct {
	WriteConcernError *WriteConcernError
	WriteErrors       WriteErrors
	Labels            []string
	Raw               bsoncore.Document
}

func (wce WriteCommandError) Error() string {
	var buf bytes.Buffer
	fmt.Fprint(&buf, "write command error: [")
	fmt.Fprintf(&buf, "{%s}, ", wce.WriteErrors)
	fmt.Fprintf(&buf, "{%s}]", wce.WriteConcernError)
	return buf.String()
}

// HasErrorLabel returns true if the error contains the specified label.
func (wce WriteCommandError) HasErrorLabel(label string) bool {
	for _, l := range wce.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Is implements the error comparison interface. Two WriteCommandErrors match
// when their write concern errors match and their write errors match
// pairwise.
func (wce WriteCommandError) Is(err error) bool {
	var other WriteCommandError
	if !errors.As(err, &other) {
		return false
	}
	switch {
	case wce.WriteConcernError == nil && other.WriteConcernError != nil:
		return false
	case wce.WriteConcernError != nil && other.WriteConcernError == nil:
		return false
	case wce.WriteConcernError != nil && other.WriteConcernError != nil:
		if !wce.WriteConcernError.Is(*other.WriteConcernError) {
			return false
		}
	}
	if len(wce.WriteErrors) != len(other.WriteErrors) {
		return false
	}
	for i := range wce.WriteErrors {
		if !wce.WriteErrors[i].Is(other.WriteErrors[i]) {
			return false
		}
	}
	return true
}

// Error is a command execution error from the database.
type Error struct {
	Code    int32
	Message string
	Labels  []string
	Name    string
	Wrapped error
	Raw     bsoncore.Document
}

// UnsupportedStorageEngine returns whether e came from an unsupported storage
// engine.
func (e Error) UnsupportedStorageEngine() bool {
	return e.Code == 20 && strings.HasPrefix(strings.ToLower(e.Message), "transaction numbers")
}

func (e Error) Error() string {
	var msg string
	if e.Name != "" {
		msg = fmt.Sprintf("(%v) %v", e.Name, e.Message)
	} else {
		msg = e.Message
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e Error) Unwrap() error { return e.Wrapped }

// Is implements the error comparison interface. Two Errors match when their
// codes match.
func (e Error) Is(err error) bool {
	var other Error
	if errors.As(err, &other) {
		return e.Code == other.Code
	}
	return false
}

// HasErrorLabel returns true if the error contains the specified label.
func (e Error) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// NetworkError returns true if the error resulted from a network failure
// rather than a server response.
func (e Error) NetworkError() bool { return e.HasErrorLabel(NetworkError) }

// ExecutionTimeout returns true if the error is an execution timeout.
func (e Error) ExecutionTimeout() bool { return ExecutionTimeoutCodes[e.Code] }

// CursorNotFound returns true if the error is a cursor not found error.
func (e Error) CursorNotFound() bool { return CursorNotFoundCodes[e.Code] }

// NotPrimary returns true if this error is a not primary error.
func (e Error) NotPrimary() bool { return NotPrimaryCodes[e.Code] }

// NodeIsRecovering returns true if this error is a node is recovering error.
func (e Error) NodeIsRecovering() bool { return NodeIsRecoveringCodes[e.Code] }

// NamespaceNotFound returns true if this error is a namespace not found
// error.
func (e Error) NamespaceNotFound() bool { return e.Code == 26 }

// IsDuplicateKeyError returns true if err represents a duplicate key
// violation, at either the command level or the individual write level.
func IsDuplicateKeyError(err error) bool {
	var e Error
	if errors.As(err, &e) {
		return DuplicateKeyCodes[e.Code] || strings.Contains(e.Message, "E11000")
	}
	var we WriteError
	if errors.As(err, &we) {
		return DuplicateKeyCodes[int32(we.Code)] || strings.Contains(we.Message, "E11000")
	}
	var wce WriteCommandError
	if errors.As(err, &wce) {
		for _, werr := range wce.WriteErrors {
			if IsDuplicateKeyError(werr) {
				return true
			}
		}
		if wce.WriteConcernError != nil {
			return strings.Contains(wce.WriteConcernError.Message, "E11000")
		}
	}
	return false
}

// ExtractErrorFromServerResponse extracts an error from a server response
// document. The response document is a result document for the command, so
// this function returns nil when the response indicates success. Command
// failures become an Error, write failures become a WriteCommandError.
func ExtractErrorFromServerResponse(doc bsoncore.Document) error {
	var errmsg, codeName string
	var code int32
	var labels []string
	var ok bool
	var wcError WriteCommandError
	elems, err := doc.Elements()
	if err != nil {
		return NewCommandResponseError("malformed command response", err)
	}

	for _, elem := range elems {
		switch elem.Key() {
		case "ok":
			switch elem.Value().Type {
			case bsontype.Int32:
				if elem.Value().Int32() == 1 {
					ok = true
				}
			case bsontype.Int64:
				if elem.Value().Int64() == 1 {
					ok = true
				}
			case bsontype.Double:
				if elem.Value().Double() == 1 {
					ok = true
				}
			case bsontype.Boolean:
				if elem.Value().Boolean() {
					ok = true
				}
			}
		case "errmsg":
			if str, okay := elem.Value().StringValueOK(); okay {
				errmsg = str
			}
		case "codeName":
			if str, okay := elem.Value().StringValueOK(); okay {
				codeName = str
			}
		case "code":
			if c, okay := elem.Value().Int32OK(); okay {
				code = c
			}
		case "errorLabels":
			if arr, okay := elem.Value().ArrayOK(); okay {
				vals, err := arr.Values()
				if err != nil {
					continue
				}
				for _, val := range vals {
					if str, okay := val.StringValueOK(); okay {
						labels = append(labels, str)
					}
				}
			}
		case "writeErrors":
			arr, exists := elem.Value().ArrayOK()
			if !exists {
				break
			}
			vals, err := arr.Values()
			if err != nil {
				continue
			}
			for _, val := range vals {
				var we WriteError
				doc, exists := val.DocumentOK()
				if !exists {
					continue
				}
				if index, exists := doc.Lookup("index").AsInt64OK(); exists {
					we.Index = index
				}
				if code, exists := doc.Lookup("code").AsInt64OK(); exists {
					we.Code = code
				}
				if msg, exists := doc.Lookup("errmsg").StringValueOK(); exists {
					we.Message = msg
				}
				if info, exists := doc.Lookup("errInfo").DocumentOK(); exists {
					we.Details = make([]byte, len(info))
					copy(we.Details, info)
				}
				wcError.WriteErrors = append(wcError.WriteErrors, we)
			}
		case "writeConcernError":
			doc, exists := elem.Value().DocumentOK()
			if !exists {
				break
			}
			wcError.WriteConcernError = new(WriteConcernError)
			wcError.WriteConcernError.Raw = doc
			if code, exists := doc.Lookup("code").AsInt64OK(); exists {
				wcError.WriteConcernError.Code = code
			}
			if name, exists := doc.Lookup("codeName").StringValueOK(); exists {
				wcError.WriteConcernError.Name = name
			}
			if msg, exists := doc.Lookup("errmsg").StringValueOK(); exists {
				wcError.WriteConcernError.Message = msg
			}
			if info, exists := doc.Lookup("errInfo").DocumentOK(); exists {
				wcError.WriteConcernError.Details = make([]byte, len(info))
				copy(wcError.WriteConcernError.Details, info)
			}
		}
	}

	if !ok {
		if errmsg == "" {
			errmsg = "command failed"
		}
		return Error{
			Code:    code,
			Message: errmsg,
			Name:    codeName,
			Labels:  labels,
			Raw:     doc,
		}
	}

	if len(wcError.WriteErrors) > 0 || wcError.WriteConcernError != nil {
		wcError.Labels = labels
		wcError.Raw = doc
		return wcError
	}

	return nil
}
