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

// Update performs an update operation.
type Update struct {
	bypassDocumentValidation *bool
	ordered                  *bool
	updates                  []bsoncore.Document

	collection   string
	database     string
	deployment   driver.Deployment
	selector     description.ServerSelector
	writeConcern *writeconcern.WriteConcern
	monitor      *event.CommandMonitor
	logger       *logger.Logger

	result UpdateResult
}

// Upsert contains the information for an upsert in an UpdateResult.
type Upsert struct {
	Index int64
	ID    interface{} `bson:"_id"`
}

// UpdateResult contains information about an update operation.
type UpdateResult struct {
	// Number of documents matched.
	N int64
	// Number of documents modified.
	NModified int64
	// Information about upserted documents.
	Upserted []Upsert
}

func buildUpdateResult(response bsoncore.Document) (UpdateResult, error) {
	elements, err := response.Elements()
	if err != nil {
		return UpdateResult{}, err
	}
	ur := UpdateResult{}
	for _, element := range elements {
		switch element.Key() {
		case "nModified":
			var ok bool
			ur.NModified, ok = element.Value().AsInt64OK()
			if !ok {
				return ur, errors.New("invalid response from server, value field is not a number")
			}
		case "n":
			var ok bool
			ur.N, ok = element.Value().AsInt64OK()
			if !ok {
				return ur, errors.New("invalid response from server, value field is not a number")
			}
		case "upserted":
			arr, ok := element.Value().ArrayOK()
			if !ok {
				return ur, errors.New("invalid response from server, upserted field is not an array")
			}
			values, err := arr.Values()
			if err != nil {
				return ur, err
			}
			for _, val := range values {
				doc, ok := val.DocumentOK()
				if !ok {
					continue
				}
				var upsert Upsert
				if index, ok := doc.Lookup("index").AsInt64OK(); ok {
					upsert.Index = index
				}
				upsert.ID = doc.Lookup("_id")
				ur.Upserted = append(ur.Upserted, upsert)
			}
		}
	}
	return ur, nil
}

// NewUpdate constructs and returns a new Update. Each update document must
// have the form {q: <query>, u: <update>, ...} as accepted by the update
// command.
func NewUpdate(updates ...bsoncore.Document) *Update {
	return &Update{
		updates: updates,
	}
}

// Result returns the result of executing this operation.
func (u *Update) Result() UpdateResult { return u.result }

func (u *Update) processResponse(info driver.ResponseInfo) error {
	ur, err := buildUpdateResult(info.ServerResponse)
	u.result.N += ur.N
	u.result.NModified += ur.NModified
	for _, upsert := range ur.Upserted {
		upsert.Index += int64(info.CurrentIndex)
		u.result.Upserted = append(u.result.Upserted, upsert)
	}
	return err
}

// Execute runs this operations and returns an error if the operation did not
// execute successfully.
func (u *Update) Execute(ctx context.Context) error {
	if u.deployment == nil {
		return errNoDeployment
	}

	u.result = UpdateResult{}

	return driver.Operation{
		CommandFn:         u.command,
		ProcessResponseFn: u.processResponse,
		Batches: &driver.Batches{
			Identifier: "updates",
			Documents:  u.updates,
			Ordered:    u.ordered,
		},
		Database:       u.database,
		Deployment:     u.deployment,
		Selector:       u.selector,
		WriteConcern:   u.writeConcern,
		Type:           driver.Write,
		CommandMonitor: u.monitor,
		Logger:         u.logger,
		Name:           "update",
	}.Execute(ctx)
}

// ExecuteAsync runs this operation on a background goroutine and delivers
// the terminal result to callback exactly once.
func (u *Update) ExecuteAsync(ctx context.Context, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	go func() { callback(u.Execute(ctx)) }()
}

func (u *Update) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	// Collations and array filters are carried inside individual update
	// statements, so their version gates are enforced here.
	for _, update := range u.updates {
		if _, err := bsoncore.Document(update).LookupErr("collation"); err == nil {
			if desc.WireVersion == nil || !desc.WireVersion.Includes(description.CollationWireVersion) {
				return nil, errors.New("the 'collation' command parameter requires a minimum server wire version of 5")
			}
		}
		if _, err := bsoncore.Document(update).LookupErr("arrayFilters"); err == nil {
			if desc.WireVersion == nil || !desc.WireVersion.Includes(description.ArrayFiltersWireVersion) {
				return nil, errors.New("the 'arrayFilters' command parameter requires a minimum server wire version of 6")
			}
		}
	}

	dst = bsoncore.AppendStringElement(dst, "update", u.collection)
	if u.bypassDocumentValidation != nil {
		dst = bsoncore.AppendBooleanElement(dst, "bypassDocumentValidation", *u.bypassDocumentValidation)
	}
	if u.ordered != nil {
		dst = bsoncore.AppendBooleanElement(dst, "ordered", *u.ordered)
	}
	return dst, nil
}

// BypassDocumentValidation allows the operation to opt-out of document level
// validation.
func (u *Update) BypassDocumentValidation(bypassDocumentValidation bool) *Update {
	if u == nil {
		u = new(Update)
	}

	u.bypassDocumentValidation = &bypassDocumentValidation
	return u
}

// Ordered sets ordered. If true, when a write fails, the operation will
// return the error, when false write failures do not stop execution of the
// operation.
func (u *Update) Ordered(ordered bool) *Update {
	if u == nil {
		u = new(Update)
	}

	u.ordered = &ordered
	return u
}

// Updates specifies an array of update statements to perform when this
// operation is executed.
func (u *Update) Updates(updates ...bsoncore.Document) *Update {
	if u == nil {
		u = new(Update)
	}

	u.updates = updates
	return u
}

// Collection sets the collection that this command will run against.
func (u *Update) Collection(collection string) *Update {
	if u == nil {
		u = new(Update)
	}

	u.collection = collection
	return u
}

// CommandMonitor sets the monitor to use for APM events.
func (u *Update) CommandMonitor(monitor *event.CommandMonitor) *Update {
	if u == nil {
		u = new(Update)
	}

	u.monitor = monitor
	return u
}

// Database sets the database to run this operation against.
func (u *Update) Database(database string) *Update {
	if u == nil {
		u = new(Update)
	}

	u.database = database
	return u
}

// Deployment sets the deployment to use for this operation.
func (u *Update) Deployment(deployment driver.Deployment) *Update {
	if u == nil {
		u = new(Update)
	}

	u.deployment = deployment
	return u
}

// Logger sets the logger for this operation.
func (u *Update) Logger(lgr *logger.Logger) *Update {
	if u == nil {
		u = new(Update)
	}

	u.logger = lgr
	return u
}

// ServerSelector sets the selector used to retrieve a server.
func (u *Update) ServerSelector(selector description.ServerSelector) *Update {
	if u == nil {
		u = new(Update)
	}

	u.selector = selector
	return u
}

// WriteConcern sets the write concern for this operation.
func (u *Update) WriteConcern(writeConcern *writeconcern.WriteConcern) *Update {
	if u == nil {
		u = new(Update)
	}

	u.writeConcern = writeConcern
	return u
}
