// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"fmt"
)

// Wire protocol versions at which server features were introduced. A feature
// is usable when the connected server's wire version range includes the
// feature's version.
const (
	// ReadConcernWireVersion is the minimum wire version for read concern
	// support (server 3.2).
	ReadConcernWireVersion int32 = 4
	// CollationWireVersion is the minimum wire version for collation support
	// (server 3.4).
	CollationWireVersion int32 = 5
	// MaxStalenessWireVersion is the minimum wire version for max staleness
	// support (server 3.4).
	MaxStalenessWireVersion int32 = 5
	// ArrayFiltersWireVersion is the minimum wire version for arrayFilters
	// support (server 3.6).
	ArrayFiltersWireVersion int32 = 6
	// OpmsgWireVersion is the minimum wire version for OP_MSG support
	// (server 3.6).
	OpmsgWireVersion int32 = 6
	// SessionsWireVersion is the minimum wire version for session support
	// (server 3.6).
	SessionsWireVersion int32 = 6
)

// MaxStalenessSupported returns an error if the given wire version does not
// support max staleness.
func MaxStalenessSupported(wireVersion *VersionRange) error {
	if wireVersion != nil && wireVersion.Max < MaxStalenessWireVersion {
		return fmt.Errorf("max staleness is only supported for servers 3.4 or newer")
	}

	return nil
}

// CollationSupported returns true if the given wire version supports
// collations.
func CollationSupported(wireVersion *VersionRange) bool {
	return wireVersion != nil && wireVersion.Includes(CollationWireVersion)
}

// ReadConcernSupported returns true if the given wire version supports read
// concerns.
func ReadConcernSupported(wireVersion *VersionRange) bool {
	return wireVersion != nil && wireVersion.Includes(ReadConcernWireVersion)
}

// SessionsSupported returns true if the given wire version supports sessions.
func SessionsSupported(wireVersion *VersionRange) bool {
	return wireVersion != nil && wireVersion.Max >= SessionsWireVersion
}
