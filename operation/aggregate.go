// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/description"
	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/event"
	"github.com/ikmak/mongocore/internal/logger"
	"github.com/ikmak/mongocore/readconcern"
	"github.com/ikmak/mongocore/readpref"
	"github.com/ikmak/mongocore/writeconcern"
)

// Aggregate represents an aggregate operation.
type Aggregate struct {
	allowDiskUse             *bool
	batchSize                *int32
	bypassDocumentValidation *bool
	collation                bsoncore.Document
	comment                  *string
	hint                     bsoncore.Value
	maxTime                  *time.Duration
	pipeline                 bsoncore.Document

	collection     string
	database       string
	deployment     driver.Deployment
	readConcern    *readconcern.ReadConcern
	readPreference *readpref.ReadPref
	writeConcern   *writeconcern.WriteConcern
	selector       description.ServerSelector
	monitor        *event.CommandMonitor
	logger         *logger.Logger

	result driver.CursorResponse
}

// NewAggregate constructs and returns a new Aggregate.
func NewAggregate(pipeline bsoncore.Document) *Aggregate {
	return &Aggregate{
		pipeline: pipeline,
	}
}

// Result returns the result of executing this operation as a BatchCursor.
func (a *Aggregate) Result(opts driver.CursorOptions) (*driver.BatchCursor, error) {
	if opts.BatchSize == 0 && a.batchSize != nil {
		opts.BatchSize = *a.batchSize
	}
	if opts.CommandMonitor == nil {
		opts.CommandMonitor = a.monitor
	}
	if opts.Logger == nil {
		opts.Logger = a.logger
	}
	return driver.NewBatchCursor(a.result, opts)
}

func (a *Aggregate) processResponse(info driver.ResponseInfo) error {
	var err error
	a.result, err = driver.NewCursorResponse(info)
	return err
}

// Execute runs this operations and returns an error if the operation did not
// execute successfully.
func (a *Aggregate) Execute(ctx context.Context) error {
	if a.deployment == nil {
		return errNoDeployment
	}

	return driver.Operation{
		CommandFn:                      a.command,
		ProcessResponseFn:              a.processResponse,
		Database:                       a.database,
		Deployment:                     a.deployment,
		Selector:                       a.selector,
		ReadConcern:                    a.readConcern,
		ReadPreference:                 a.readPreference,
		WriteConcern:                   a.writeConcern,
		MinimumWriteConcernWireVersion: 5,
		Type:                           driver.Read,
		CommandMonitor:                 a.monitor,
		Logger:                         a.logger,
		Name:                           "aggregate",
	}.Execute(ctx)
}

// ExecuteAsync runs this operation on a background goroutine and delivers
// the terminal result to callback exactly once.
func (a *Aggregate) ExecuteAsync(ctx context.Context, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	go func() { callback(a.Execute(ctx)) }()
}

func (a *Aggregate) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	// A database level aggregation does not name a collection.
	if a.collection == "" {
		dst = bsoncore.AppendInt32Element(dst, "aggregate", 1)
	} else {
		dst = bsoncore.AppendStringElement(dst, "aggregate", a.collection)
	}

	if a.pipeline != nil {
		dst = bsoncore.AppendArrayElement(dst, "pipeline", a.pipeline)
	}

	cursorIdx, cursorDoc := bsoncore.AppendDocumentStart(nil)
	if a.batchSize != nil {
		cursorDoc = bsoncore.AppendInt32Element(cursorDoc, "batchSize", *a.batchSize)
	}
	cursorDoc, _ = bsoncore.AppendDocumentEnd(cursorDoc, cursorIdx)
	dst = bsoncore.AppendDocumentElement(dst, "cursor", cursorDoc)

	if a.allowDiskUse != nil {
		dst = bsoncore.AppendBooleanElement(dst, "allowDiskUse", *a.allowDiskUse)
	}
	if a.bypassDocumentValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *a.bypassDocumentValidation)
	}
	if a.collation != nil {
		if desc.WireVersion == nil || !desc.WireVersion.Includes(description.CollationWireVersion) {
			return nil, errors.New("the 'collation' command parameter requires a minimum server wire version of 5")
		}
		dst = bsoncore.AppendDocumentElement(dst, "collation", a.collation)
	}
	if a.comment != nil {
		dst = bsoncore.AppendStringElement(dst, "comment", *a.comment)
	}
	if a.hint.Type != 0 {
		dst = bsoncore.AppendValueElement(dst, "hint", a.hint)
	}
	if a.maxTime != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", int64(*a.maxTime/time.Millisecond))
	}

	return dst, nil
}

// AllowDiskUse enables writing to temporary files. When true, aggregation
// stages can write data to the _tmp subdirectory of the dbPath directory.
func (a *Aggregate) AllowDiskUse(allowDiskUse bool) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.allowDiskUse = &allowDiskUse
	return a
}

// BatchSize specifies the number of documents to return in every batch.
func (a *Aggregate) BatchSize(batchSize int32) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.batchSize = &batchSize
	return a
}

// BypassDocumentValidation allows the write to opt-out of document level
// validation. This only applies when the $out stage is specified.
func (a *Aggregate) BypassDocumentValidation(bypassDocumentValidation bool) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.bypassDocumentValidation = &bypassDocumentValidation
	return a
}

// Collation specifies a collation. This option is only valid for server
// versions 3.4 and above.
func (a *Aggregate) Collation(collation bsoncore.Document) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.collation = collation
	return a
}

// Comment specifies an arbitrary string to help trace the operation through
// the database profiler, currentOp, and logs.
func (a *Aggregate) Comment(comment string) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.comment = &comment
	return a
}

// Hint specifies the index to use.
func (a *Aggregate) Hint(hint bsoncore.Value) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.hint = hint
	return a
}

// MaxTime specifies the maximum amount of time to allow the query to run on
// the server.
func (a *Aggregate) MaxTime(maxTime time.Duration) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.maxTime = &maxTime
	return a
}

// Pipeline determines how data is transformed for an aggregation.
func (a *Aggregate) Pipeline(pipeline bsoncore.Document) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.pipeline = pipeline
	return a
}

// Collection sets the collection that this command will run against.
func (a *Aggregate) Collection(collection string) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.collection = collection
	return a
}

// CommandMonitor sets the monitor to use for APM events.
func (a *Aggregate) CommandMonitor(monitor *event.CommandMonitor) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.monitor = monitor
	return a
}

// Database sets the database to run this operation against.
func (a *Aggregate) Database(database string) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.database = database
	return a
}

// Deployment sets the deployment to use for this operation.
func (a *Aggregate) Deployment(deployment driver.Deployment) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.deployment = deployment
	return a
}

// Logger sets the logger for this operation.
func (a *Aggregate) Logger(lgr *logger.Logger) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.logger = lgr
	return a
}

// ReadConcern specifies the read concern for this operation.
func (a *Aggregate) ReadConcern(readConcern *readconcern.ReadConcern) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.readConcern = readConcern
	return a
}

// ReadPreference set the read preference used with this operation.
func (a *Aggregate) ReadPreference(readPreference *readpref.ReadPref) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.readPreference = readPreference
	return a
}

// ServerSelector sets the selector used to retrieve a server.
func (a *Aggregate) ServerSelector(selector description.ServerSelector) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.selector = selector
	return a
}

// WriteConcern sets the write concern for this operation. It is only sent
// when the pipeline contains a writing stage such as $out.
func (a *Aggregate) WriteConcern(writeConcern *writeconcern.WriteConcern) *Aggregate {
	if a == nil {
		a = new(Aggregate)
	}

	a.writeConcern = writeConcern
	return a
}
