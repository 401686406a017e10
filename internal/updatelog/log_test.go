package updatelog

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendReadRoundTrip(t *testing.T) {
	t.Parallel()

	l := New(filepath.Join(t.TempDir(), "update-log.cbor"))

	first := Entry{
		Provider:     "signbank",
		ID:           "abc",
		Verb:         VerbDocumented,
		Words:        []string{"hello", "greeting"},
		Link:         "https://example.org/hello",
		Body:         "a greeting",
		ProviderLink: "https://example.org/",
		Timestamp:    time.Now().UnixMilli(),
	}
	require.NoError(t, l.Append(first))
	require.NoError(t, l.Append(Entry{Provider: "toddslan", ID: "def", Verb: VerbUpdated}))

	got, err := l.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, first, got[0])
	require.Equal(t, "toddslan", got[1].Provider)
}

func TestReadAllMissingFile(t *testing.T) {
	t.Parallel()

	l := New(filepath.Join(t.TempDir(), "absent.cbor"))
	got, err := l.ReadAll()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	t.Parallel()

	l := New(filepath.Join(t.TempDir(), "update-log.cbor"))

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				err := l.Append(Entry{
					Provider:  fmt.Sprintf("src-%d", w),
					ID:        fmt.Sprintf("%d-%d", w, i),
					Verb:      VerbDocumented,
					Timestamp: time.Now().UnixMilli(),
				})
				require.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	got, err := l.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, writers*perWriter)
	for _, e := range got {
		require.NotEmpty(t, e.Provider)
		require.NotEmpty(t, e.ID)
	}
}
