// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readpref defines read preferences for replica set reads.
package readpref

import (
	"time"

	"github.com/ikmak/mongocore/tag"
)

// Primary constructs a read preference with a PrimaryMode.
func Primary() *ReadPref {
	return newReadPref(PrimaryMode)
}

// PrimaryPreferred constructs a read preference with a PrimaryPreferredMode.
func PrimaryPreferred(opts ...Option) *ReadPref {
	return newReadPref(PrimaryPreferredMode, opts...)
}

// SecondaryPreferred constructs a read preference with a SecondaryPreferredMode.
func SecondaryPreferred(opts ...Option) *ReadPref {
	return newReadPref(SecondaryPreferredMode, opts...)
}

// Secondary constructs a read preference with a SecondaryMode.
func Secondary(opts ...Option) *ReadPref {
	return newReadPref(SecondaryMode, opts...)
}

// Nearest constructs a read preference with a NearestMode.
func Nearest(opts ...Option) *ReadPref {
	return newReadPref(NearestMode, opts...)
}

// WithMode takes a mode and creates a read preference using that mode.
func WithMode(m Mode) *ReadPref {
	return newReadPref(m)
}

func newReadPref(mode Mode, opts ...Option) *ReadPref {
	rp := &ReadPref{mode: mode}

	for _, opt := range opts {
		opt(rp)
	}

	return rp
}

// ReadPref determines which servers are considered suitable for read operations.
type ReadPref struct {
	maxStaleness    time.Duration
	maxStalenessSet bool
	mode            Mode
	tagSets         []tag.Set
}

// MaxStaleness is the maximum amount of time to allow a server to be
// considered eligible for selection. The second return value indicates if
// this value has been set.
func (r *ReadPref) MaxStaleness() (time.Duration, bool) {
	return r.maxStaleness, r.maxStalenessSet
}

// Mode indicates the mode of the read preference.
func (r *ReadPref) Mode() Mode {
	if r == nil {
		return PrimaryMode
	}
	return r.mode
}

// TagSets are multiple tag sets indicating which servers should be considered.
func (r *ReadPref) TagSets() []tag.Set {
	return r.tagSets
}

// Option configures a read preference.
type Option func(*ReadPref)

// WithMaxStaleness sets the maximum staleness a server is allowed.
func WithMaxStaleness(ms time.Duration) Option {
	return func(rp *ReadPref) {
		rp.maxStaleness = ms
		rp.maxStalenessSet = true
	}
}

// WithTags sets a single tag set used to match a server. The last call to
// WithTags or WithTagSets overrides all previous calls to either method.
func WithTags(pairs ...string) Option {
	set := make(tag.Set, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		set = append(set, tag.Tag{Name: pairs[i], Value: pairs[i+1]})
	}
	return WithTagSets(set)
}

// WithTagSets sets the tag sets used to match a server. The last call to
// WithTags or WithTagSets overrides all previous calls to either method.
func WithTagSets(tagSets ...tag.Set) Option {
	return func(rp *ReadPref) {
		rp.tagSets = tagSets
	}
}
