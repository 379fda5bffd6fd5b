// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"fmt"
)

// ExecuteExhaust reads a response from the provided StreamerConnection. This
// will error if the connection's CurrentlyStreaming function returns false.
func (op Operation) ExecuteExhaust(ctx context.Context, conn StreamerConnection) error {
	if !conn.CurrentlyStreaming() {
		return fmt.Errorf("exhaust read must be done with a connection that is currently streaming")
	}

	res, moreToCome, err := op.readWireMessage(ctx, conn)
	if err != nil {
		return err
	}
	if !moreToCome {
		// The server has ended the exhaust stream; the connection can run
		// request and response cycles again.
		conn.SetStreaming(false)
	}
	if op.ProcessResponseFn != nil {
		if err := op.ProcessResponseFn(ResponseInfo{
			ServerResponse:        res,
			Connection:            conn,
			ConnectionDescription: conn.Description(),
		}); err != nil {
			return err
		}
	}

	return nil
}
