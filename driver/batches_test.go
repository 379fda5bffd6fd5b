// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

func TestBatches(t *testing.T) {
	t.Parallel()

	t.Run("Valid", func(t *testing.T) {
		t.Parallel()

		testCases := []struct {
			name    string
			batches *Batches
			want    bool
		}{
			{"nil", nil, false},
			{"missing identifier", &Batches{Documents: make([]bsoncore.Document, 1)}, false},
			{"no documents", &Batches{Identifier: "documents"}, false},
			{"valid", &Batches{Identifier: "documents", Documents: make([]bsoncore.Document, 1)}, true},
		}
		for _, tc := range testCases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				got := tc.batches.Valid()
				assert.Equal(t, tc.want, got, "expected Valid to return %v", tc.want)
			})
		}
	})

	t.Run("ClearBatch", func(t *testing.T) {
		t.Parallel()

		batches := &Batches{Identifier: "documents", Current: make([]bsoncore.Document, 2, 10)}
		batches.ClearBatch()
		assert.Equal(t, 0, len(batches.Current), "expected Current to be empty")
		assert.Equal(t, 10, cap(batches.Current), "expected the capacity to be retained")
	})

	t.Run("AdvanceBatch", func(t *testing.T) {
		t.Parallel()

		documents := make([]bsoncore.Document, 0)
		for i := 0; i < 5; i++ {
			doc := make(bsoncore.Document, 100)
			documents = append(documents, doc)
		}

		testCases := []struct {
			name            string
			batches         *Batches
			maxCount        int
			targetBatchSize int
			maxDocSize      int
			err             error
			want            *Batches
		}{
			{
				name:            "current batch non-zero",
				batches:         &Batches{Current: make([]bsoncore.Document, 2, 10)},
				maxCount:        0,
				targetBatchSize: 0,
				maxDocSize:      0,
				want:            &Batches{Current: make([]bsoncore.Document, 2, 10)},
			},
			{
				// all of the documents fit in the batch
				name:            "documents fit in batch",
				batches:         &Batches{Documents: documents},
				maxCount:        10,
				targetBatchSize: 600,
				maxDocSize:      1000,
				want:            &Batches{Documents: documents[:0], Current: documents[0:]},
			},
			{
				// the first document is bigger than targetBatchSize but smaller than maxDocSize
				name:            "first document larger than targetBatchSize, smaller than maxDocSize",
				batches:         &Batches{Documents: documents},
				maxCount:        10,
				targetBatchSize: 50,
				maxDocSize:      1000,
				want:            &Batches{Documents: documents[1:], Current: documents[:1]},
			},
			{
				// the first document is bigger than maxDocSize
				name:            "first document larger than maxDocSize",
				batches:         &Batches{Documents: documents},
				maxCount:        10,
				targetBatchSize: 50,
				maxDocSize:      50,
				err:             ErrDocumentTooLarge,
			},
			{
				// maxCount is reached before targetBatchSize
				name:            "maxCount reached",
				batches:         &Batches{Documents: documents},
				maxCount:        2,
				targetBatchSize: 600,
				maxDocSize:      1000,
				want:            &Batches{Documents: documents[2:], Current: documents[:2]},
			},
			{
				// targetBatchSize is reached before maxCount
				name:            "targetBatchSize reached",
				batches:         &Batches{Documents: documents},
				maxCount:        10,
				targetBatchSize: 250,
				maxDocSize:      1000,
				want:            &Batches{Documents: documents[2:], Current: documents[:2]},
			},
		}

		for _, tc := range testCases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				err := tc.batches.AdvanceBatch(tc.maxCount, tc.targetBatchSize, tc.maxDocSize)
				if tc.err != nil {
					require.ErrorIs(t, err, tc.err, "expected error %v, got %v", tc.err, err)
					return
				}
				require.NoError(t, err, "AdvanceBatch error: %v", err)
				if diff := cmp.Diff(tc.want, tc.batches); diff != "" {
					t.Errorf("batches mismatch (-want +got):\n%s", diff)
				}
			})
		}
	})
}
