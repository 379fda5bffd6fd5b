// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logger provides the internal logging solution for the command
// execution core. Log records are structured and emitted through logrus; a
// nil *Logger disables logging entirely so callers never need to nil-check.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Component names used in the "component" field of every record.
const (
	ComponentCommand = "command"
	ComponentCursor  = "cursor"
)

// Logger wraps a logrus logger with the fields this module emits.
type Logger struct {
	sink logrus.FieldLogger
}

// New constructs a Logger writing through the given logrus sink. A nil sink
// returns a nil Logger, which is valid and silently discards all records.
func New(sink logrus.FieldLogger) *Logger {
	if sink == nil {
		return nil
	}
	return &Logger{sink: sink}
}

// CommandStarted logs the start of a command execution.
func (l *Logger) CommandStarted(name, database string, requestID int64, server string) {
	if l == nil {
		return
	}
	l.sink.WithFields(logrus.Fields{
		"component":     ComponentCommand,
		"commandName":   name,
		"databaseName":  database,
		"requestId":     requestID,
		"serverAddress": server,
	}).Debug("command started")
}

// CommandSucceeded logs the successful completion of a command execution.
func (l *Logger) CommandSucceeded(name string, requestID int64, server string, duration time.Duration) {
	if l == nil {
		return
	}
	l.sink.WithFields(logrus.Fields{
		"component":     ComponentCommand,
		"commandName":   name,
		"requestId":     requestID,
		"serverAddress": server,
		"durationMS":    duration.Milliseconds(),
	}).Debug("command succeeded")
}

// CommandFailed logs the failed completion of a command execution.
func (l *Logger) CommandFailed(name string, requestID int64, server string, duration time.Duration, failure error) {
	if l == nil {
		return
	}
	l.sink.WithFields(logrus.Fields{
		"component":     ComponentCommand,
		"commandName":   name,
		"requestId":     requestID,
		"serverAddress": server,
		"durationMS":    duration.Milliseconds(),
		"failure":       failure.Error(),
	}).Debug("command failed")
}

// CursorClosed logs the closing of a server-side cursor.
func (l *Logger) CursorClosed(cursorID int64, server string) {
	if l == nil {
		return
	}
	l.sink.WithFields(logrus.Fields{
		"component":     ComponentCursor,
		"cursorId":      cursorID,
		"serverAddress": server,
	}).Debug("cursor closed")
}
