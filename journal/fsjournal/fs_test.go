package fsjournal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/journal"
)

func withMockClock(t *testing.T) *clock.Mock {
	mc := clock.NewMock()
	mc.Set(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	prev := build.Clock
	build.Clock = mc
	t.Cleanup(func() { build.Clock = prev })
	return mc
}

func TestRollingRemovesOldFiles(t *testing.T) {
	req := require.New(t)
	mc := withMockClock(t)

	path := t.TempDir()
	j, err := openFSJournal(path, nil, 1<<20, 3)
	req.NoError(err)
	defer j.Close() //nolint:errcheck

	dir := filepath.Join(path, "journal")
	for i := 0; i <= j.keep; i++ {
		mc.Add(time.Second)
		files, _ := os.ReadDir(dir)
		req.Lenf(files, i+1, "add one file for every roll before max keep")
		req.NoError(j.rollJournalFile())
	}
	// one rolled file should have been pruned
	files, _ := os.ReadDir(dir)
	req.Lenf(files, j.keep+1, "files are not being pruned from the journal directory")
}

func TestRecordEvent(t *testing.T) {
	withMockClock(t)

	path := t.TempDir()
	j, err := OpenFSJournal(path, journal.DisabledEvents{{System: "publisher", Event: "noisy"}}, Options{})
	require.NoError(t, err)

	on := j.RegisterEventType("publisher", "state_change")
	off := j.RegisterEventType("publisher", "noisy")

	j.RecordEvent(on, func() interface{} { return map[string]string{"listing": "lst_1"} })
	j.RecordEvent(off, func() interface{} { panic("disabled events must not be built") })
	require.NoError(t, j.Close())

	fi, err := os.Open(filepath.Join(path, "journal", currentName))
	require.NoError(t, err)
	defer fi.Close() //nolint:errcheck

	var lines []map[string]interface{}
	sc := bufio.NewScanner(fi)
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 1)
	require.Equal(t, "publisher", lines[0]["System"])
	require.Equal(t, "state_change", lines[0]["Event"])
}
