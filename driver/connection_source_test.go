// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConnectionSource(t *testing.T) {
	t.Parallel()

	t.Run("starts with one reference", func(t *testing.T) {
		t.Parallel()

		cs := NewConnectionSource(newScriptedServer())
		assert.Equal(t, int64(1), cs.RefCount(), "expected an initial reference count of 1")
	})

	t.Run("hands out connections while retained", func(t *testing.T) {
		t.Parallel()

		cs := NewConnectionSource(newScriptedServer())
		conn, err := cs.Connection(context.Background())
		require.NoError(t, err, "Connection error: %v", err)
		assert.NotNil(t, conn, "expected a connection")
	})

	t.Run("Retain returns the same source", func(t *testing.T) {
		t.Parallel()

		cs := NewConnectionSource(newScriptedServer())
		retained := cs.Retain()
		assert.Same(t, cs, retained, "expected Retain to return the receiver")
		assert.Equal(t, int64(2), cs.RefCount(), "expected a reference count of 2")
	})

	t.Run("released source stops handing out connections", func(t *testing.T) {
		t.Parallel()

		cs := NewConnectionSource(newScriptedServer())
		cs.Release()
		assert.Equal(t, int64(0), cs.RefCount(), "expected a reference count of 0")

		conn, err := cs.Connection(context.Background())
		assert.Nil(t, conn, "expected no connection from a released source")
		assert.Equal(t, ErrConnectionSourceReleased, err, "expected ErrConnectionSourceReleased, got %v", err)
	})

	t.Run("source stays alive until the last holder releases", func(t *testing.T) {
		t.Parallel()

		cs := NewConnectionSource(newScriptedServer())
		cs.Retain()
		cs.Release()

		_, err := cs.Connection(context.Background())
		require.NoError(t, err, "expected the source to remain usable with one reference outstanding")

		cs.Release()
		_, err = cs.Connection(context.Background())
		assert.Equal(t, ErrConnectionSourceReleased, err, "expected ErrConnectionSourceReleased, got %v", err)
	})

	t.Run("ConnectionAsync delivers the connection through the callback", func(t *testing.T) {
		t.Parallel()

		cs := NewConnectionSource(newScriptedServer())

		type result struct {
			conn Connection
			err  error
		}
		resCh := make(chan result, 1)
		cs.ConnectionAsync(context.Background(), func(conn Connection, err error) {
			resCh <- result{conn, err}
		})
		res := <-resCh
		require.NoError(t, res.err, "ConnectionAsync error: %v", res.err)
		assert.NotNil(t, res.conn, "expected a connection")

		cs.Release()
		cs.ConnectionAsync(context.Background(), func(conn Connection, err error) {
			resCh <- result{conn, err}
		})
		res = <-resCh
		assert.Nil(t, res.conn, "expected no connection from a released source")
		assert.Equal(t, ErrConnectionSourceReleased, res.err, "expected ErrConnectionSourceReleased, got %v", res.err)
	})

	t.Run("concurrent retain and release", func(t *testing.T) {
		t.Parallel()

		cs := NewConnectionSource(newScriptedServer())

		var g errgroup.Group
		for i := 0; i < 64; i++ {
			g.Go(func() error {
				cs.Retain()
				cs.Release()
				return nil
			})
		}
		require.NoError(t, g.Wait(), "unexpected error from the retain/release goroutines")

		assert.Equal(t, int64(1), cs.RefCount(), "expected the creating reference to remain")
	})
}
