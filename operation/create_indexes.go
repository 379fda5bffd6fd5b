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

// CreateIndexes performs a createIndexes operation.
type CreateIndexes struct {
	indexes bsoncore.Array
	maxTime *time.Duration

	collection   string
	database     string
	deployment   driver.Deployment
	selector     description.ServerSelector
	writeConcern *writeconcern.WriteConcern
	monitor      *event.CommandMonitor
	logger       *logger.Logger

	result CreateIndexesResult
}

// CreateIndexesResult represents a createIndexes result returned by the
// server.
type CreateIndexesResult struct {
	// If the collection was created automatically.
	CreatedCollectionAutomatically bool
	// The number of indexes existing after this command.
	IndexesAfter int32
	// The number of indexes existing before this command.
	IndexesBefore int32
}

func buildCreateIndexesResult(response bsoncore.Document) (CreateIndexesResult, error) {
	elements, err := response.Elements()
	if err != nil {
		return CreateIndexesResult{}, err
	}
	cir := CreateIndexesResult{}
	for _, element := range elements {
		switch element.Key() {
		case "createdCollectionAutomatically":
			var ok bool
			cir.CreatedCollectionAutomatically, ok = element.Value().BooleanOK()
			if !ok {
				return cir, errors.New("invalid response from server, createdCollectionAutomatically field is not a boolean")
			}
		case "indexesAfter":
			i64, ok := element.Value().AsInt64OK()
			if !ok {
				return cir, errors.New("invalid response from server, indexesAfter field is not a number")
			}
			cir.IndexesAfter = int32(i64)
		case "indexesBefore":
			i64, ok := element.Value().AsInt64OK()
			if !ok {
				return cir, errors.New("invalid response from server, indexesBefore field is not a number")
			}
			cir.IndexesBefore = int32(i64)
		}
	}
	return cir, nil
}

// NewCreateIndexes constructs and returns a new CreateIndexes.
func NewCreateIndexes(indexes bsoncore.Array) *CreateIndexes {
	return &CreateIndexes{
		indexes: indexes,
	}
}

// Result returns the result of executing this operation.
func (ci *CreateIndexes) Result() CreateIndexesResult { return ci.result }

func (ci *CreateIndexes) processResponse(info driver.ResponseInfo) error {
	var err error
	ci.result, err = buildCreateIndexesResult(info.ServerResponse)
	return err
}

// Execute runs this operations and returns an error if the operation did not
// execute successfully.
func (ci *CreateIndexes) Execute(ctx context.Context) error {
	if ci.deployment == nil {
		return errNoDeployment
	}

	return driver.Operation{
		CommandFn:                      ci.command,
		ProcessResponseFn:              ci.processResponse,
		Database:                       ci.database,
		Deployment:                     ci.deployment,
		Selector:                       ci.selector,
		WriteConcern:                   ci.writeConcern,
		MinimumWriteConcernWireVersion: 5,
		Type:                           driver.Write,
		CommandMonitor:                 ci.monitor,
		Logger:                         ci.logger,
		Name:                           "createIndexes",
	}.Execute(ctx)
}

// ExecuteAsync runs this operation on a background goroutine and delivers
// the terminal result to callback exactly once.
func (ci *CreateIndexes) ExecuteAsync(ctx context.Context, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	go func() { callback(ci.Execute(ctx)) }()
}

func (ci *CreateIndexes) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "createIndexes", ci.collection)
	if ci.indexes != nil {
		// Collations inside index specifications require server support.
		if desc.WireVersion == nil || !desc.WireVersion.Includes(description.CollationWireVersion) {
			vals, err := bsoncore.Array(ci.indexes).Values()
			if err != nil {
				return nil, err
			}
			for _, val := range vals {
				if doc, ok := val.DocumentOK(); ok {
					if _, err := doc.LookupErr("collation"); err == nil {
						return nil, errors.New("the 'collation' command parameter requires a minimum server wire version of 5")
					}
				}
			}
		}
		dst = bsoncore.AppendArrayElement(dst, "indexes", ci.indexes)
	}
	if ci.maxTime != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", int64(*ci.maxTime/time.Millisecond))
	}
	return dst, nil
}

// Indexes specifies an array containing index specification documents for
// the indexes being created.
func (ci *CreateIndexes) Indexes(indexes bsoncore.Array) *CreateIndexes {
	if ci == nil {
		ci = new(CreateIndexes)
	}

	ci.indexes = indexes
	return ci
}

// MaxTime specifies the maximum amount of time to allow the query to run on
// the server.
func (ci *CreateIndexes) MaxTime(maxTime time.Duration) *CreateIndexes {
	if ci == nil {
		ci = new(CreateIndexes)
	}

	ci.maxTime = &maxTime
	return ci
}

// Collection sets the collection that this command will run against.
func (ci *CreateIndexes) Collection(collection string) *CreateIndexes {
	if ci == nil {
		ci = new(CreateIndexes)
	}

	ci.collection = collection
	return ci
}

// CommandMonitor sets the monitor to use for APM events.
func (ci *CreateIndexes) CommandMonitor(monitor *event.CommandMonitor) *CreateIndexes {
	if ci == nil {
		ci = new(CreateIndexes)
	}

	ci.monitor = monitor
	return ci
}

// Database sets the database to run this operation against.
func (ci *CreateIndexes) Database(database string) *CreateIndexes {
	if ci == nil {
		ci = new(CreateIndexes)
	}

	ci.database = database
	return ci
}

// Deployment sets the deployment to use for this operation.
func (ci *CreateIndexes) Deployment(deployment driver.Deployment) *CreateIndexes {
	if ci == nil {
		ci = new(CreateIndexes)
	}

	ci.deployment = deployment
	return ci
}

// Logger sets the logger for this operation.
func (ci *CreateIndexes) Logger(lgr *logger.Logger) *CreateIndexes {
	if ci == nil {
		ci = new(CreateIndexes)
	}

	ci.logger = lgr
	return ci
}

// ServerSelector sets the selector used to retrieve a server.
func (ci *CreateIndexes) ServerSelector(selector description.ServerSelector) *CreateIndexes {
	if ci == nil {
		ci = new(CreateIndexes)
	}

	ci.selector = selector
	return ci
}

// WriteConcern sets the write concern for this operation.
func (ci *CreateIndexes) WriteConcern(writeConcern *writeconcern.WriteConcern) *CreateIndexes {
	if ci == nil {
		ci = new(CreateIndexes)
	}

	ci.writeConcern = writeConcern
	return ci
}
