// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package archive_test

import (
	"testing"
	"time"

	"github.com/blinklabs-io/deed/archive"
	"github.com/blinklabs-io/deed/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEventType event.EventType = "test.event"

func setupTestArchive(t *testing.T, dataDir string) *archive.Archive {
	t.Helper()
	a, err := archive.NewArchive(archive.ArchiveConfig{DataDir: dataDir})
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
	})
	return a
}

func TestAppendAndRecords(t *testing.T) {
	a := setupTestArchive(t, "")
	for i := 1; i <= 3; i++ {
		require.NoError(t, a.Append(
			event.NewEvent(testEventType, map[string]int{"n": i}),
		))
	}
	n, err := a.Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	records, err := a.Records(1, ^uint64(0))
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, record := range records {
		assert.Equal(t, uint64(i+1), record.Seq)
		assert.Equal(t, string(testEventType), record.Type)
	}

	// Range queries are inclusive
	records, err = a.Records(2, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(2), records[0].Seq)
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dataDir := t.TempDir()
	a, err := archive.NewArchive(archive.ArchiveConfig{DataDir: dataDir})
	require.NoError(t, err)
	require.NoError(t, a.Append(event.NewEvent(testEventType, "one")))
	require.NoError(t, a.Append(event.NewEvent(testEventType, "two")))
	require.NoError(t, a.Close())

	a = setupTestArchive(t, dataDir)
	require.NoError(t, a.Append(event.NewEvent(testEventType, "three")))
	records, err := a.Records(1, ^uint64(0))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(3), records[2].Seq)
}

func TestAttach(t *testing.T) {
	a := setupTestArchive(t, "")
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	a.Attach(bus, testEventType)

	bus.Publish(testEventType, event.NewEvent(testEventType, "payload"))

	require.Eventually(t, func() bool {
		n, err := a.Len()
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond)
	records, err := a.Records(1, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, `"payload"`, string(records[0].Data))
}
