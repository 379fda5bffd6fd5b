// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/description"
	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/event"
	"github.com/ikmak/mongocore/internal/logger"
	"github.com/ikmak/mongocore/writeconcern"
)

// Delete performs a delete operation.
type Delete struct {
	deletes []bsoncore.Document
	ordered *bool

	collection   string
	database     string
	deployment   driver.Deployment
	selector     description.ServerSelector
	writeConcern *writeconcern.WriteConcern
	monitor      *event.CommandMonitor
	logger       *logger.Logger

	result DeleteResult
}

// DeleteResult represents a delete result returned by the server.
type DeleteResult struct {
	// Number of documents successfully deleted.
	N int64
}

func buildDeleteResult(response bsoncore.Document) (DeleteResult, error) {
	elements, err := response.Elements()
	if err != nil {
		return DeleteResult{}, err
	}
	dr := DeleteResult{}
	for _, element := range elements {
		switch element.Key() {
		case "n":
			var ok bool
			dr.N, ok = element.Value().AsInt64OK()
			if !ok {
				return dr, errors.New("invalid response from server, value field is not a number")
			}
		}
	}
	return dr, nil
}

// NewDelete constructs and returns a new Delete. Each delete document must
// have the form {q: <query>, limit: <limit>, ...} as accepted by the delete
// command.
func NewDelete(deletes ...bsoncore.Document) *Delete {
	return &Delete{
		deletes: deletes,
	}
}

// Result returns the result of executing this operation.
func (d *Delete) Result() DeleteResult { return d.result }

func (d *Delete) processResponse(info driver.ResponseInfo) error {
	dr, err := buildDeleteResult(info.ServerResponse)
	d.result.N += dr.N
	return err
}

// Execute runs this operations and returns an error if the operation did not
// execute successfully.
func (d *Delete) Execute(ctx context.Context) error {
	if d.deployment == nil {
		return errNoDeployment
	}

	d.result = DeleteResult{}

	return driver.Operation{
		CommandFn:         d.command,
		ProcessResponseFn: d.processResponse,
		Batches: &driver.Batches{
			Identifier: "deletes",
			Documents:  d.deletes,
			Ordered:    d.ordered,
		},
		Database:       d.database,
		Deployment:     d.deployment,
		Selector:       d.selector,
		WriteConcern:   d.writeConcern,
		Type:           driver.Write,
		CommandMonitor: d.monitor,
		Logger:         d.logger,
		Name:           "delete",
	}.Execute(ctx)
}

// ExecuteAsync runs this operation on a background goroutine and delivers
// the terminal result to callback exactly once.
func (d *Delete) ExecuteAsync(ctx context.Context, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	go func() { callback(d.Execute(ctx)) }()
}

func (d *Delete) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	for _, del := range d.deletes {
		if _, err := bsoncore.Document(del).LookupErr("collation"); err == nil {
			if desc.WireVersion == nil || !desc.WireVersion.Includes(description.CollationWireVersion) {
				return nil, errors.New("the 'collation' command parameter requires a minimum server wire version of 5")
			}
		}
	}

	dst = bsoncore.AppendStringElement(dst, "delete", d.collection)
	if d.ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *d.ordered)
	}
	return dst, nil
}

// Deletes adds documents to this operation that will be used to determine
// what documents to delete when this operation is executed.
func (d *Delete) Deletes(deletes ...bsoncore.Document) *Delete {
	if d == nil {
		d = new(Delete)
	}

	d.deletes = deletes
	return d
}

// Ordered sets ordered. If true, when a write fails, the operation will
// return the error, when false write failures do not stop execution of the
// operation.
func (d *Delete) Ordered(ordered bool) *Delete {
	if d == nil {
		d = new(Delete)
	}

	d.ordered = &ordered
	return d
}

// Collection sets the collection that this command will run against.
func (d *Delete) Collection(collection string) *Delete {
	if d == nil {
		d = new(Delete)
	}

	d.collection = collection
	return d
}

// CommandMonitor sets the monitor to use for APM events.
func (d *Delete) CommandMonitor(monitor *event.CommandMonitor) *Delete {
	if d == nil {
		d = new(Delete)
	}

	d.monitor = monitor
	return d
}

// Database sets the database to run this operation against.
func (d *Delete) Database(database string) *Delete {
	if d == nil {
		d = new(Delete)
	}

	d.database = database
	return d
}

// Deployment sets the deployment to use for this operation.
func (d *Delete) Deployment(deployment driver.Deployment) *Delete {
	if d == nil {
		d = new(Delete)
	}

	d.deployment = deployment
	return d
}

// Logger sets the logger for this operation.
func (d *Delete) Logger(lgr *logger.Logger) *Delete {
	if d == nil {
		d = new(Delete)
	}

	d.logger = lgr
	return d
}

// ServerSelector sets the selector used to retrieve a server.
func (d *Delete) ServerSelector(selector description.ServerSelector) *Delete {
	if d == nil {
		d = new(Delete)
	}

	d.selector = selector
	return d
}

// WriteConcern sets the write concern for this operation.
func (d *Delete) WriteConcern(writeConcern *writeconcern.WriteConcern) *Delete {
	if d == nil {
		d = new(Delete)
	}

	d.writeConcern = writeConcern
	return d
}
