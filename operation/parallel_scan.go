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
)

// ParallelScan performs a parallelCollectionScan operation. The server
// returns up to numCursors cursors that partition the collection and can be
// iterated concurrently.
type ParallelScan struct {
	numCursors int32
	maxTime    *time.Duration

	collection     string
	database       string
	deployment     driver.Deployment
	readConcern    *readconcern.ReadConcern
	readPreference *readpref.ReadPref
	selector       description.ServerSelector
	monitor        *event.CommandMonitor
	logger         *logger.Logger

	results []driver.CursorResponse
}

// NewParallelScan constructs and returns a new ParallelScan.
func NewParallelScan(numCursors int32) *ParallelScan {
	return &ParallelScan{
		numCursors: numCursors,
	}
}

// Results returns the cursors created by this operation as BatchCursors. The
// server may return fewer cursors than requested.
func (ps *ParallelScan) Results(opts driver.CursorOptions) ([]*driver.BatchCursor, error) {
	if opts.CommandMonitor == nil {
		opts.CommandMonitor = ps.monitor
	}
	if opts.Logger == nil {
		opts.Logger = ps.logger
	}
	cursors := make([]*driver.BatchCursor, 0, len(ps.results))
	for _, res := range ps.results {
		bc, err := driver.NewBatchCursor(res, opts)
		if err != nil {
			for _, created := range cursors {
				_ = created.Close(context.Background())
			}
			return nil, err
		}
		cursors = append(cursors, bc)
	}
	return cursors, nil
}

func (ps *ParallelScan) processResponse(info driver.ResponseInfo) error {
	val, err := info.ServerResponse.LookupErr("cursors")
	if err != nil {
		return errors.New("invalid response from server, no cursors array in response")
	}
	arr, ok := val.ArrayOK()
	if !ok {
		return errors.New("invalid response from server, cursors field is not an array")
	}
	vals, err := arr.Values()
	if err != nil {
		return err
	}

	ps.results = ps.results[:0]
	for _, v := range vals {
		doc, ok := v.DocumentOK()
		if !ok {
			return errors.New("invalid response from server, cursors element is not a document")
		}
		// Each element carries its own cursor subdocument, so it can be
		// treated as a standalone cursor creating response.
		elemInfo := info
		elemInfo.ServerResponse = doc
		res, err := driver.NewCursorResponse(elemInfo)
		if err != nil {
			return err
		}
		ps.results = append(ps.results, res)
	}
	return nil
}

// Execute runs this operations and returns an error if the operation did not
// execute successfully.
func (ps *ParallelScan) Execute(ctx context.Context) error {
	if ps.deployment == nil {
		return errNoDeployment
	}

	return driver.Operation{
		CommandFn:         ps.command,
		ProcessResponseFn: ps.processResponse,
		Database:          ps.database,
		Deployment:        ps.deployment,
		Selector:          ps.selector,
		ReadConcern:       ps.readConcern,
		ReadPreference:    ps.readPreference,
		Type:              driver.Read,
		CommandMonitor:    ps.monitor,
		Logger:            ps.logger,
		Name:              "parallelCollectionScan",
	}.Execute(ctx)
}

// ExecuteAsync runs this operation on a background goroutine and delivers
// the terminal result to callback exactly once.
func (ps *ParallelScan) ExecuteAsync(ctx context.Context, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	go func() { callback(ps.Execute(ctx)) }()
}

func (ps *ParallelScan) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "parallelCollectionScan", ps.collection)
	dst = bsoncore.AppendInt32Element(dst, "numCursors", ps.numCursors)
	if ps.maxTime != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", int64(*ps.maxTime/time.Millisecond))
	}
	return dst, nil
}

// NumCursors specifies the maximum number of cursors the server should
// return.
func (ps *ParallelScan) NumCursors(numCursors int32) *ParallelScan {
	if ps == nil {
		ps = new(ParallelScan)
	}

	ps.numCursors = numCursors
	return ps
}

// MaxTime specifies the maximum amount of time to allow the operation to run
// on the server.
func (ps *ParallelScan) MaxTime(maxTime time.Duration) *ParallelScan {
	if ps == nil {
		ps = new(ParallelScan)
	}

	ps.maxTime = &maxTime
	return ps
}

// Collection sets the collection that this command will run against.
func (ps *ParallelScan) Collection(collection string) *ParallelScan {
	if ps == nil {
		ps = new(ParallelScan)
	}

	ps.collection = collection
	return ps
}

// CommandMonitor sets the monitor to use for APM events.
func (ps *ParallelScan) CommandMonitor(monitor *event.CommandMonitor) *ParallelScan {
	if ps == nil {
		ps = new(ParallelScan)
	}

	ps.monitor = monitor
	return ps
}

// Database sets the database to run this operation against.
func (ps *ParallelScan) Database(database string) *ParallelScan {
	if ps == nil {
		ps = new(ParallelScan)
	}

	ps.database = database
	return ps
}

// Deployment sets the deployment to use for this operation.
func (ps *ParallelScan) Deployment(deployment driver.Deployment) *ParallelScan {
	if ps == nil {
		ps = new(ParallelScan)
	}

	ps.deployment = deployment
	return ps
}

// Logger sets the logger for this operation.
func (ps *ParallelScan) Logger(lgr *logger.Logger) *ParallelScan {
	if ps == nil {
		ps = new(ParallelScan)
	}

	ps.logger = lgr
	return ps
}

// ReadConcern specifies the read concern for this operation.
func (ps *ParallelScan) ReadConcern(readConcern *readconcern.ReadConcern) *ParallelScan {
	if ps == nil {
		ps = new(ParallelScan)
	}

	ps.readConcern = readConcern
	return ps
}

// ReadPreference set the read preference used with this operation.
func (ps *ParallelScan) ReadPreference(readPreference *readpref.ReadPref) *ParallelScan {
	if ps == nil {
		ps = new(ParallelScan)
	}

	ps.readPreference = readPreference
	return ps
}

// ServerSelector sets the selector used to retrieve a server.
func (ps *ParallelScan) ServerSelector(selector description.ServerSelector) *ParallelScan {
	if ps == nil {
		ps = new(ParallelScan)
	}

	ps.selector = selector
	return ps
}
