package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, Entry{SessionID: "a", StudentID: "s1", ExamID: "e1", Kind: KindSessionStarted, CreatedAt: at}))
	require.NoError(t, s.Record(ctx, Entry{SessionID: "a", StudentID: "s1", ExamID: "e1", Kind: KindTabSwitch, Details: "1/15"}))
	require.NoError(t, s.Record(ctx, Entry{SessionID: "b", StudentID: "s2", ExamID: "e1", Kind: KindSessionStarted}))

	entries, err := s.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, KindSessionStarted, entries[0].Kind)
	require.Empty(t, entries[0].Details)
	require.True(t, at.Equal(entries[0].CreatedAt))

	require.Equal(t, KindTabSwitch, entries[1].Kind)
	require.Equal(t, "1/15", entries[1].Details)
	require.Equal(t, "s1", entries[1].StudentID)
	require.Greater(t, entries[1].ID, entries[0].ID)
}

func TestListUnknownSession(t *testing.T) {
	s := tempStore(t)
	entries, err := s.List(context.Background(), "missing")
	require.NoError(t, err)
	require.Empty(t, entries)
	require.NotNil(t, entries)
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Entry{SessionID: "a", StudentID: "s", ExamID: "e", Kind: KindTermination, Details: "tab_switch_limit"}))
	require.NoError(t, s.Close())

	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.List(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "tab_switch_limit", entries[0].Details)
}
