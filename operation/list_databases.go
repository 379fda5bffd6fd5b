// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/ikmak/mongocore/description"
	"github.com/ikmak/mongocore/driver"
	"github.com/ikmak/mongocore/event"
	"github.com/ikmak/mongocore/internal/logger"
	"github.com/ikmak/mongocore/readpref"
)

// ListDatabases performs a listDatabases operation.
type ListDatabases struct {
	filter   bsoncore.Document
	nameOnly *bool

	database       string
	deployment     driver.Deployment
	readPreference *readpref.ReadPref
	selector       description.ServerSelector
	monitor        *event.CommandMonitor
	logger         *logger.Logger

	result ListDatabasesResult
}

// DatabaseRecord is a database record returned by listDatabases.
type DatabaseRecord struct {
	Name       string
	SizeOnDisk int64 `bson:"sizeOnDisk"`
	Empty      bool
}

// ListDatabasesResult represents a listDatabases result returned by the
// server.
type ListDatabasesResult struct {
	// An array of documents, one document for each database.
	Databases []DatabaseRecord
	// The sum of the size of all the database files on disk in bytes.
	TotalSize int64
}

func buildListDatabasesResult(response bsoncore.Document) (ListDatabasesResult, error) {
	elements, err := response.Elements()
	if err != nil {
		return ListDatabasesResult{}, err
	}
	ir := ListDatabasesResult{}
	for _, element := range elements {
		switch element.Key() {
		case "totalSize":
			var ok bool
			ir.TotalSize, ok = element.Value().AsInt64OK()
			if !ok {
				return ir, errors.New("invalid response from server, totalSize field is not a number")
			}
		case "databases":
			arr, ok := element.Value().ArrayOK()
			if !ok {
				return ir, errors.New("invalid response from server, databases field is not an array")
			}
			values, err := arr.Values()
			if err != nil {
				return ir, err
			}
			ir.Databases = make([]DatabaseRecord, 0, len(values))
			for _, val := range values {
				doc, ok := val.DocumentOK()
				if !ok {
					return ir, errors.New("invalid response from server, databases element is not a document")
				}
				var record DatabaseRecord
				recordElems, err := doc.Elements()
				if err != nil {
					return ir, err
				}
				for _, elem := range recordElems {
					switch elem.Key() {
					case "name":
						record.Name, ok = elem.Value().StringValueOK()
						if !ok {
							return ir, fmt.Errorf("invalid response from server, name field is type %s", elem.Value().Type)
						}
					case "sizeOnDisk":
						record.SizeOnDisk, ok = elem.Value().AsInt64OK()
						if !ok {
							return ir, fmt.Errorf("invalid response from server, sizeOnDisk field is type %s", elem.Value().Type)
						}
					case "empty":
						record.Empty, ok = elem.Value().BooleanOK()
						if !ok {
							return ir, fmt.Errorf("invalid response from server, empty field is type %s", elem.Value().Type)
						}
					}
				}
				ir.Databases = append(ir.Databases, record)
			}
		}
	}
	return ir, nil
}

// NewListDatabases constructs and returns a new ListDatabases.
func NewListDatabases(filter bsoncore.Document) *ListDatabases {
	return &ListDatabases{
		filter: filter,
	}
}

// Result returns the result of executing this operation.
func (ld *ListDatabases) Result() ListDatabasesResult { return ld.result }

func (ld *ListDatabases) processResponse(info driver.ResponseInfo) error {
	var err error
	ld.result, err = buildListDatabasesResult(info.ServerResponse)
	return err
}

// Execute runs this operations and returns an error if the operation did not
// execute successfully.
func (ld *ListDatabases) Execute(ctx context.Context) error {
	if ld.deployment == nil {
		return errNoDeployment
	}

	return driver.Operation{
		CommandFn:         ld.command,
		ProcessResponseFn: ld.processResponse,
		Database:          ld.database,
		Deployment:        ld.deployment,
		Selector:          ld.selector,
		ReadPreference:    ld.readPreference,
		Type:              driver.Read,
		CommandMonitor:    ld.monitor,
		Logger:            ld.logger,
		Name:              "listDatabases",
	}.Execute(ctx)
}

// ExecuteAsync runs this operation on a background goroutine and delivers
// the terminal result to callback exactly once.
func (ld *ListDatabases) ExecuteAsync(ctx context.Context, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	go func() { callback(ld.Execute(ctx)) }()
}

func (ld *ListDatabases) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendInt32Element(dst, "listDatabases", 1)
	if ld.filter != nil {
		dst = bsoncore.AppendDocumentElement(dst, "filter", ld.filter)
	}
	if ld.nameOnly != nil {
		dst = bsoncore.AppendBooleanElement(dst, "nameOnly", *ld.nameOnly)
	}
	return dst, nil
}

// Filter determines what results are returned from listDatabases.
func (ld *ListDatabases) Filter(filter bsoncore.Document) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}

	ld.filter = filter
	return ld
}

// NameOnly specifies whether to only return database names.
func (ld *ListDatabases) NameOnly(nameOnly bool) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}

	ld.nameOnly = &nameOnly
	return ld
}

// CommandMonitor sets the monitor to use for APM events.
func (ld *ListDatabases) CommandMonitor(monitor *event.CommandMonitor) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}

	ld.monitor = monitor
	return ld
}

// Database sets the database to run this operation against.
func (ld *ListDatabases) Database(database string) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}

	ld.database = database
	return ld
}

// Deployment sets the deployment to use for this operation.
func (ld *ListDatabases) Deployment(deployment driver.Deployment) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}

	ld.deployment = deployment
	return ld
}

// Logger sets the logger for this operation.
func (ld *ListDatabases) Logger(lgr *logger.Logger) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}

	ld.logger = lgr
	return ld
}

// ReadPreference set the read preference used with this operation.
func (ld *ListDatabases) ReadPreference(readPreference *readpref.ReadPref) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}

	ld.readPreference = readPreference
	return ld
}

// ServerSelector sets the selector used to retrieve a server.
func (ld *ListDatabases) ServerSelector(selector description.ServerSelector) *ListDatabases {
	if ld == nil {
		ld = new(ListDatabases)
	}

	ld.selector = selector
	return ld
}
