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

// MapReduce performs a mapReduce operation.
type MapReduce struct {
	mapFn    bsoncore.Value
	reduceFn bsoncore.Value
	out      bsoncore.Document

	query                    bsoncore.Document
	sort                     bsoncore.Document
	scope                    bsoncore.Document
	collation                bsoncore.Document
	finalize                 *bsoncore.Value
	limit                    *int64
	maxTime                  *time.Duration
	jsMode                   *bool
	verbose                  *bool
	bypassDocumentValidation *bool

	collection     string
	database       string
	deployment     driver.Deployment
	readConcern    *readconcern.ReadConcern
	readPreference *readpref.ReadPref
	selector       description.ServerSelector
	writeConcern   *writeconcern.WriteConcern
	monitor        *event.CommandMonitor
	logger         *logger.Logger

	result bsoncore.Document
}

// NewMapReduce constructs and returns a new MapReduce. The map and reduce
// parameters must be BSON javascript values.
func NewMapReduce(mapFn, reduceFn bsoncore.Value) *MapReduce {
	return &MapReduce{
		mapFn:    mapFn,
		reduceFn: reduceFn,
	}
}

// Result returns the raw result document of executing this operation.
func (mr *MapReduce) Result() bsoncore.Document { return mr.result }

// ResultCursor returns a BatchCursor over the inline results of this
// operation. This errors if the operation was not run with an inline output
// option.
func (mr *MapReduce) ResultCursor() (*driver.BatchCursor, error) {
	val, err := mr.result.LookupErr("results")
	if err != nil {
		return nil, errors.New("mapReduce was not run with inline output, no results array in response")
	}
	arr, ok := val.ArrayOK()
	if !ok {
		return nil, errors.New("invalid response from server, results field is not an array")
	}
	vals, err := arr.Values()
	if err != nil {
		return nil, err
	}
	var docs []byte
	for _, v := range vals {
		doc, ok := v.DocumentOK()
		if !ok {
			return nil, errors.New("invalid response from server, results element is not a document")
		}
		docs = append(docs, doc...)
	}
	return driver.NewBatchCursorFromDocuments(docs), nil
}

func (mr *MapReduce) processResponse(info driver.ResponseInfo) error {
	mr.result = info.ServerResponse
	return nil
}

// inlineOutput reports whether the output option requests inline results.
// An unset output option defaults to inline.
func (mr *MapReduce) inlineOutput() bool {
	if mr.out == nil {
		return true
	}
	_, err := mr.out.LookupErr("inline")
	return err == nil
}

// Execute runs this operations and returns an error if the operation did not
// execute successfully.
func (mr *MapReduce) Execute(ctx context.Context) error {
	if mr.deployment == nil {
		return errNoDeployment
	}

	op := driver.Operation{
		CommandFn:         mr.command,
		ProcessResponseFn: mr.processResponse,
		Database:          mr.database,
		Deployment:        mr.deployment,
		Selector:          mr.selector,
		CommandMonitor:    mr.monitor,
		Logger:            mr.logger,
		Name:              "mapReduce",
	}
	if mr.inlineOutput() {
		op.Type = driver.Read
		op.ReadConcern = mr.readConcern
		op.ReadPreference = mr.readPreference
	} else {
		// Writing results out to a collection requires the primary.
		op.Type = driver.Write
		op.WriteConcern = mr.writeConcern
		op.MinimumWriteConcernWireVersion = 4
	}
	return op.Execute(ctx)
}

// ExecuteAsync runs this operation on a background goroutine and delivers
// the terminal result to callback exactly once.
func (mr *MapReduce) ExecuteAsync(ctx context.Context, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	go func() { callback(mr.Execute(ctx)) }()
}

func (mr *MapReduce) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "mapReduce", mr.collection)
	dst = bsoncore.AppendValueElement(dst, "map", mr.mapFn)
	dst = bsoncore.AppendValueElement(dst, "reduce", mr.reduceFn)
	if mr.out != nil {
		dst = bsoncore.AppendDocumentElement(dst, "out", mr.out)
	} else {
		outIdx, outDoc := bsoncore.AppendDocumentStart(nil)
		outDoc = bsoncore.AppendInt32Element(outDoc, "inline", 1)
		outDoc, _ = bsoncore.AppendDocumentEnd(outDoc, outIdx)
		dst = bsoncore.AppendDocumentElement(dst, "out", outDoc)
	}
	if mr.query != nil {
		dst = bsoncore.AppendDocumentElement(dst, "query", mr.query)
	}
	if mr.sort != nil {
		dst = bsoncore.AppendDocumentElement(dst, "sort", mr.sort)
	}
	if mr.scope != nil {
		dst = bsoncore.AppendDocumentElement(dst, "scope", mr.scope)
	}
	if mr.finalize != nil {
		dst = bsoncore.AppendValueElement(dst, "finalize", *mr.finalize)
	}
	if mr.limit != nil {
		dst = bsoncore.AppendInt64Element(dst, "limit", *mr.limit)
	}
	if mr.jsMode != nil {
		dst = bsoncore.AppendBooleanElement(dst, "jsMode", *mr.jsMode)
	}
	if mr.verbose != nil {
		dst = bsoncore.AppendBooleanElement(dst, "verbose", *mr.verbose)
	}
	if mr.bypassDocumentValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *mr.bypassDocumentValidation)
	}
	if mr.collation != nil {
		if desc.WireVersion == nil || !desc.WireVersion.Includes(description.CollationWireVersion) {
			return nil, errors.New("the 'collation' command parameter requires a minimum server wire version of 5")
		}
		dst = bsoncore.AppendDocumentElement(dst, "collation", mr.collation)
	}
	if mr.maxTime != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", int64(*mr.maxTime/time.Millisecond))
	}
	return dst, nil
}

// Out specifies where to output the result of the map-reduce operation. If
// unset the results are returned inline.
func (mr *MapReduce) Out(out bsoncore.Document) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.out = out
	return mr
}

// Query specifies the selection criteria for determining which documents to
// process.
func (mr *MapReduce) Query(query bsoncore.Document) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.query = query
	return mr
}

// Sort specifies the order in which to process the input documents.
func (mr *MapReduce) Sort(sort bsoncore.Document) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.sort = sort
	return mr
}

// Scope specifies global variables that are accessible in the map, reduce,
// and finalize functions.
func (mr *MapReduce) Scope(scope bsoncore.Document) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.scope = scope
	return mr
}

// Finalize specifies a javascript function that follows the reduce function
// and modifies the output.
func (mr *MapReduce) Finalize(finalize bsoncore.Value) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.finalize = &finalize
	return mr
}

// Limit specifies a maximum number of documents for the input into the map
// function.
func (mr *MapReduce) Limit(limit int64) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.limit = &limit
	return mr
}

// JSMode specifies whether to convert intermediate data into BSON format
// between the execution of the map and reduce functions.
func (mr *MapReduce) JSMode(jsMode bool) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.jsMode = &jsMode
	return mr
}

// Verbose specifies whether to include the timing information in the result
// information.
func (mr *MapReduce) Verbose(verbose bool) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.verbose = &verbose
	return mr
}

// BypassDocumentValidation allows the results to opt out of document level
// validation when output to a collection.
func (mr *MapReduce) BypassDocumentValidation(bypassDocumentValidation bool) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.bypassDocumentValidation = &bypassDocumentValidation
	return mr
}

// Collation specifies a collation to be used.
func (mr *MapReduce) Collation(collation bsoncore.Document) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.collation = collation
	return mr
}

// MaxTime specifies the maximum amount of time to allow the operation to run
// on the server.
func (mr *MapReduce) MaxTime(maxTime time.Duration) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.maxTime = &maxTime
	return mr
}

// Collection sets the collection that this command will run against.
func (mr *MapReduce) Collection(collection string) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.collection = collection
	return mr
}

// CommandMonitor sets the monitor to use for APM events.
func (mr *MapReduce) CommandMonitor(monitor *event.CommandMonitor) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.monitor = monitor
	return mr
}

// Database sets the database to run this operation against.
func (mr *MapReduce) Database(database string) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.database = database
	return mr
}

// Deployment sets the deployment to use for this operation.
func (mr *MapReduce) Deployment(deployment driver.Deployment) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.deployment = deployment
	return mr
}

// Logger sets the logger for this operation.
func (mr *MapReduce) Logger(lgr *logger.Logger) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.logger = lgr
	return mr
}

// ReadConcern specifies the read concern for this operation.
func (mr *MapReduce) ReadConcern(readConcern *readconcern.ReadConcern) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.readConcern = readConcern
	return mr
}

// ReadPreference set the read preference used with this operation.
func (mr *MapReduce) ReadPreference(readPreference *readpref.ReadPref) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.readPreference = readPreference
	return mr
}

// ServerSelector sets the selector used to retrieve a server.
func (mr *MapReduce) ServerSelector(selector description.ServerSelector) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.selector = selector
	return mr
}

// WriteConcern sets the write concern for this operation. The write concern
// is only used when the results are output to a collection.
func (mr *MapReduce) WriteConcern(writeConcern *writeconcern.WriteConcern) *MapReduce {
	if mr == nil {
		mr = new(MapReduce)
	}

	mr.writeConcern = writeConcern
	return mr
}
