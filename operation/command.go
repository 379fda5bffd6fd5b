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
	"github.com/ikmak/mongocore/readconcern"
	"github.com/ikmak/mongocore/readpref"
)

// Command is used to run a generic operation.
type Command struct {
	command        bsoncore.Document
	database       string
	deployment     driver.Deployment
	readConcern    *readconcern.ReadConcern
	readPreference *readpref.ReadPref
	selector       description.ServerSelector
	monitor        *event.CommandMonitor
	logger         *logger.Logger

	// createCursor controls whether the response is interpreted as a cursor
	// creating response.
	createCursor bool
	cursorOpts   driver.CursorOptions
	cursorResult driver.CursorResponse
	result       bsoncore.Document
}

// NewCommand constructs and returns a new Command. The result of the
// operation is available through Result.
func NewCommand(command bsoncore.Document) *Command {
	return &Command{
		command: command,
	}
}

// NewCursorCommand constructs a Command whose response will be treated as a
// cursor creating response, available through ResultCursor.
func NewCursorCommand(command bsoncore.Document, opts driver.CursorOptions) *Command {
	return &Command{
		command:      command,
		cursorOpts:   opts,
		createCursor: true,
	}
}

// Result returns the result document of executing this operation.
func (c *Command) Result() bsoncore.Document { return c.result }

// ResultCursor returns the BatchCursor that was constructed from the command
// response. This errors if the Command was not created with
// NewCursorCommand.
func (c *Command) ResultCursor() (*driver.BatchCursor, error) {
	if !c.createCursor {
		return nil, errors.New("command was not created to return a cursor")
	}
	if c.cursorOpts.CommandMonitor == nil {
		c.cursorOpts.CommandMonitor = c.monitor
	}
	if c.cursorOpts.Logger == nil {
		c.cursorOpts.Logger = c.logger
	}
	return driver.NewBatchCursor(c.cursorResult, c.cursorOpts)
}

// Execute runs this operations and returns an error if the operation did not
// execute successfully.
func (c *Command) Execute(ctx context.Context) error {
	if c.deployment == nil {
		return errNoDeployment
	}

	return driver.Operation{
		CommandFn: func(dst []byte, desc description.SelectedServer) ([]byte, error) {
			elems, err := c.command.Elements()
			if err != nil {
				return dst, err
			}
			for _, elem := range elems {
				dst = append(dst, elem...)
			}
			return dst, nil
		},
		ProcessResponseFn: func(info driver.ResponseInfo) error {
			c.result = info.ServerResponse
			if c.createCursor {
				res, err := driver.NewCursorResponse(info)
				if err != nil {
					return err
				}
				c.cursorResult = res
			}
			return nil
		},
		Database:       c.database,
		Deployment:     c.deployment,
		Selector:       c.selector,
		ReadConcern:    c.readConcern,
		ReadPreference: c.readPreference,
		Type:           driver.Read,
		CommandMonitor: c.monitor,
		Logger:         c.logger,
	}.Execute(ctx)
}

// ExecuteAsync runs this operation on a background goroutine and delivers
// the terminal result to callback exactly once.
func (c *Command) ExecuteAsync(ctx context.Context, callback func(error)) {
	if callback == nil {
		callback = func(error) {}
	}
	go func() { callback(c.Execute(ctx)) }()
}

// CommandMonitor sets the monitor to use for APM events.
func (c *Command) CommandMonitor(monitor *event.CommandMonitor) *Command {
	if c == nil {
		c = new(Command)
	}

	c.monitor = monitor
	return c
}

// Database sets the database to run this operation against.
func (c *Command) Database(database string) *Command {
	if c == nil {
		c = new(Command)
	}

	c.database = database
	return c
}

// Deployment sets the deployment to use for this operation.
func (c *Command) Deployment(deployment driver.Deployment) *Command {
	if c == nil {
		c = new(Command)
	}

	c.deployment = deployment
	return c
}

// Logger sets the logger for this operation.
func (c *Command) Logger(lgr *logger.Logger) *Command {
	if c == nil {
		c = new(Command)
	}

	c.logger = lgr
	return c
}

// ReadConcern specifies the read concern for this operation.
func (c *Command) ReadConcern(readConcern *readconcern.ReadConcern) *Command {
	if c == nil {
		c = new(Command)
	}

	c.readConcern = readConcern
	return c
}

// ReadPreference set the read preference used with this operation.
func (c *Command) ReadPreference(readPreference *readpref.ReadPref) *Command {
	if c == nil {
		c = new(Command)
	}

	c.readPreference = readPreference
	return c
}

// ServerSelector sets the selector used to retrieve a server.
func (c *Command) ServerSelector(selector description.ServerSelector) *Command {
	if c == nil {
		c = new(Command)
	}

	c.selector = selector
	return c
}
