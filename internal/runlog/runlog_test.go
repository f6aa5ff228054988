package runlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	base := time.Now().Truncate(time.Millisecond)
	records := []Record{
		{At: base.Add(-2 * time.Second), Style: "single", Passed: true},
		{At: base.Add(-1 * time.Second), Style: "conversation", Passed: false, Failures: []string{"Error thrown in sender: boom"}, Missing: 3},
		{At: base, Style: "single", Passed: true},
	}
	for _, r := range records {
		require.NoError(t, s.Append(r))
	}

	recent, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "single", recent[0].Style)
	require.True(t, recent[0].At.After(recent[1].At), "newest first")
	require.Equal(t, "conversation", recent[1].Style)
	require.Equal(t, 3, recent[1].Missing)
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(Record{Style: "single", Passed: true}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	recent, err := s2.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.True(t, recent[0].Passed)
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
