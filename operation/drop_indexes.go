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
	"github.com/ikmak/mongocore/writeconcern"
)

// DropIndexes performs a dropIndexes operation.
type DropIndexes struct {
	index   *string
	maxTime *time.Duration

	collection   string
	database     string
	deployment   driver.Deployment
	selector     description.ServerSelector
	writeConcern *writeconcern.WriteConcern
	monitor      *event.CommandMonitor
	logger       *logger.Logger

	result DropIndexesResult
}

// DropIndexesResult represents a dropIndexes result returned by the server.
type DropIndexesResult struct {
	// Number of indexes that existed before the drop was executed.
	NIndexesWas int32
}

func buildDropIndexesResult(response bsoncore.Document) (DropIndexesResult, error) {
	elements, err := response.Elements()
	if err != nil {
		return DropIndexesResult{}, err
	}
	dir := DropIndexesResult{}
	for _, element := range elements {
		if element.Key() == "nIndexesWas" {
			i64, ok := element.Value().AsInt64OK()
			if !ok {
				return dir, errors.New("invalid response from server, nIndexesWas field is not a number")
			}
			dir.NIndexesWas = int32(i64)
		}
	}
	return dir, nil
}

// NewDropIndexes constructs and returns a new DropIndexes.
func NewDropIndexes(index string) *DropIndexes {
	return &DropIndexes{
		index: &index,
	}
}

// Result returns the result of executing this operation.
func (di *DropIndexes) Result() DropIndexesResult { return di.result }

func (di *DropIndexes) processResponse(info driver.ResponseInfo) error {
	var err error
	di.result, err = buildDropIndexesResult(info.ServerResponse)
	return err
}

// Execute runs this operations and returns an error if the operation did not
// execute successfully.
func (di *DropIndexes) Execute(ctx context.Context) error {
	if di.deployment == nil {
		return errNoDeployment
	}

	return driver.Operation{
		CommandFn:                      di.command,
		ProcessResponseFn:              di.processResponse,
		Database:                       di.database,
		Deployment:                     di.deployment,
		Selector:                       di.selector,
		WriteConcern:                   di.writeConcern,
		MinimumWriteConcernWireVersion: 5,
		Type:                           driver.Write,
		CommandMonitor:                 di.monitor,
		Logger:                         di.logger,
		Name:                           "dropIndexes",
	}.Execute(ctx)
}

// ExecuteAsync runs this operation on a background goroutine and delivers
// the terminal result to callback exactly once.
func (di *DropIndexes) ExecuteAsync(ctx context.Context, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	go func() { callback(di.Execute(ctx)) }()
}

func (di *DropIndexes) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "dropIndexes", di.collection)
	if di.index != nil {
		dst = bsoncore.AppendStringElement(dst, "index", *di.index)
	}
	if di.maxTime != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", int64(*di.maxTime/time.Millisecond))
	}
	return dst, nil
}

// Index specifies the name of the index to drop. If '*' is specified, all
// indexes will be dropped.
func (di *DropIndexes) Index(index string) *DropIndexes {
	if di == nil {
		di = new(DropIndexes)
	}

	di.index = &index
	return di
}

// MaxTime specifies the maximum amount of time to allow the query to run on
// the server.
func (di *DropIndexes) MaxTime(maxTime time.Duration) *DropIndexes {
	if di == nil {
		di = new(DropIndexes)
	}

	di.maxTime = &maxTime
	return di
}

// Collection sets the collection that this command will run against.
func (di *DropIndexes) Collection(collection string) *DropIndexes {
	if di == nil {
		di = new(DropIndexes)
	}

	di.collection = collection
	return di
}

// CommandMonitor sets the monitor to use for APM events.
func (di *DropIndexes) CommandMonitor(monitor *event.CommandMonitor) *DropIndexes {
	if di == nil {
		di = new(DropIndexes)
	}

	di.monitor = monitor
	return di
}

// Database sets the database to run this operation against.
func (di *DropIndexes) Database(database string) *DropIndexes {
	if di == nil {
		di = new(DropIndexes)
	}

	di.database = database
	return di
}

// Deployment sets the deployment to use for this operation.
func (di *DropIndexes) Deployment(deployment driver.Deployment) *DropIndexes {
	if di == nil {
		di = new(DropIndexes)
	}

	di.deployment = deployment
	return di
}

// Logger sets the logger for this operation.
func (di *DropIndexes) Logger(lgr *logger.Logger) *DropIndexes {
	if di == nil {
		di = new(DropIndexes)
	}

	di.logger = lgr
	return di
}

// ServerSelector sets the selector used to retrieve a server.
func (di *DropIndexes) ServerSelector(selector description.ServerSelector) *DropIndexes {
	if di == nil {
		di = new(DropIndexes)
	}

	di.selector = selector
	return di
}

// WriteConcern sets the write concern for this operation.
func (di *DropIndexes) WriteConcern(writeConcern *writeconcern.WriteConcern) *DropIndexes {
	if di == nil {
		di = new(DropIndexes)
	}

	di.writeConcern = writeConcern
	return di
}
