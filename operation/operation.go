// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package operation contains one configuration type per database command.
// Each type collects the command's parameters through a fluent builder,
// validates them against the selected server's version when Execute is
// called, and delegates the wire level work to the driver package. The types
// here hold no connection state, so a configured operation can be executed
// any number of times, each execution dispatching a fresh command.
package operation

import "errors"

var errNoDeployment = errors.New("the operation must have a Deployment set before Execute can be called")
