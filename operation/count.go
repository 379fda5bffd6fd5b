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

// Count represents a count operation.
type Count struct {
	collation bsoncore.Document
	hint      bsoncore.Value
	limit     *int64
	maxTime   *time.Duration
	query     bsoncore.Document
	skip      *int64

	collection     string
	database       string
	deployment     driver.Deployment
	readConcern    *readconcern.ReadConcern
	readPreference *readpref.ReadPref
	selector       description.ServerSelector
	monitor        *event.CommandMonitor
	logger         *logger.Logger

	result CountResult
}

// CountResult represents a count result returned by the server.
type CountResult struct {
	// The number of documents found.
	N int64
}

func buildCountResult(response bsoncore.Document) (CountResult, error) {
	elements, err := response.Elements()
	if err != nil {
		return CountResult{}, err
	}
	cr := CountResult{}
	for _, element := range elements {
		switch element.Key() {
		case "n":
			var ok bool
			cr.N, ok = element.Value().AsInt64OK()
			if !ok {
				return cr, errors.New("invalid response from server, value field is not a number")
			}
		}
	}
	return cr, nil
}

// NewCount constructs and returns a new Count.
func NewCount() *Count {
	return &Count{}
}

// Result returns the result of executing this operation.
func (c *Count) Result() CountResult { return c.result }

func (c *Count) processResponse(info driver.ResponseInfo) error {
	var err error
	c.result, err = buildCountResult(info.ServerResponse)
	return err
}

// Execute runs this operations and returns an error if the operation did not
// execute successfully.
func (c *Count) Execute(ctx context.Context) error {
	if c.deployment == nil {
		return errNoDeployment
	}

	return driver.Operation{
		CommandFn:         c.command,
		ProcessResponseFn: c.processResponse,
		Database:          c.database,
		Deployment:        c.deployment,
		Selector:          c.selector,
		ReadConcern:       c.readConcern,
		ReadPreference:    c.readPreference,
		Type:              driver.Read,
		CommandMonitor:    c.monitor,
		Logger:            c.logger,
		Name:              "count",
	}.Execute(ctx)
}

// ExecuteAsync runs this operation on a background goroutine and delivers
// the terminal result to callback exactly once.
func (c *Count) ExecuteAsync(ctx context.Context, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	go func() { callback(c.Execute(ctx)) }()
}

func (c *Count) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "count", c.collection)
	if c.query != nil {
		dst = bsoncore.AppendDocumentElement(dst, "query", c.query)
	}
	if c.limit != nil {
		dst = bsoncore.AppendInt64Element(dst, "limit", *c.limit)
	}
	if c.skip != nil {
		dst = bsoncore.AppendInt64Element(dst, "skip", *c.skip)
	}
	if c.hint.Type != 0 {
		dst = bsoncore.AppendValueElement(dst, "hint", c.hint)
	}
	if c.maxTime != nil {
		dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", int64(*c.maxTime/time.Millisecond))
	}
	if c.collation != nil {
		if desc.WireVersion == nil || !desc.WireVersion.Includes(description.CollationWireVersion) {
			return nil, errors.New("the 'collation' command parameter requires a minimum server wire version of 5")
		}
		dst = bsoncore.AppendDocumentElement(dst, "collation", c.collation)
	}
	return dst, nil
}

// Collation specifies a collation to be used.
func (c *Count) Collation(collation bsoncore.Document) *Count {
	if c == nil {
		c = new(Count)
	}

	c.collation = collation
	return c
}

// Hint specifies the index to use.
func (c *Count) Hint(hint bsoncore.Value) *Count {
	if c == nil {
		c = new(Count)
	}

	c.hint = hint
	return c
}

// Limit specifies the maximum number of documents to count.
func (c *Count) Limit(limit int64) *Count {
	if c == nil {
		c = new(Count)
	}

	c.limit = &limit
	return c
}

// MaxTime specifies the maximum amount of time to allow the query to run on
// the server.
func (c *Count) MaxTime(maxTime time.Duration) *Count {
	if c == nil {
		c = new(Count)
	}

	c.maxTime = &maxTime
	return c
}

// Query determines what results are returned from count.
func (c *Count) Query(query bsoncore.Document) *Count {
	if c == nil {
		c = new(Count)
	}

	c.query = query
	return c
}

// Skip specifies the number of documents to skip before counting.
func (c *Count) Skip(skip int64) *Count {
	if c == nil {
		c = new(Count)
	}

	c.skip = &skip
	return c
}

// Collection sets the collection that this command will run against.
func (c *Count) Collection(collection string) *Count {
	if c == nil {
		c = new(Count)
	}

	c.collection = collection
	return c
}

// CommandMonitor sets the monitor to use for APM events.
func (c *Count) CommandMonitor(monitor *event.CommandMonitor) *Count {
	if c == nil {
		c = new(Count)
	}

	c.monitor = monitor
	return c
}

// Database sets the database to run this operation against.
func (c *Count) Database(database string) *Count {
	if c == nil {
		c = new(Count)
	}

	c.database = database
	return c
}

// Deployment sets the deployment to use for this operation.
func (c *Count) Deployment(deployment driver.Deployment) *Count {
	if c == nil {
		c = new(Count)
	}

	c.deployment = deployment
	return c
}

// Logger sets the logger for this operation.
func (c *Count) Logger(lgr *logger.Logger) *Count {
	if c == nil {
		c = new(Count)
	}

	c.logger = lgr
	return c
}

// ReadConcern specifies the read concern for this operation.
func (c *Count) ReadConcern(readConcern *readconcern.ReadConcern) *Count {
	if c == nil {
		c = new(Count)
	}

	c.readConcern = readConcern
	return c
}

// ReadPreference set the read preference used with this operation.
func (c *Count) ReadPreference(readPreference *readpref.ReadPref) *Count {
	if c == nil {
		c = new(Count)
	}

	c.readPreference = readPreference
	return c
}

// ServerSelector sets the selector used to retrieve a server.
func (c *Count) ServerSelector(selector description.ServerSelector) *Count {
	if c == nil {
		c = new(Count)
	}

	c.selector = selector
	return c
}
