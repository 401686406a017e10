package spider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleEntry() Entry {
	return Entry{
		ID:       "abc",
		Title:    "hello",
		Words:    []string{"hello", "greeting"},
		Tags:     []string{"auslan"},
		Link:     "https://example.org/hello",
		Body:     "a greeting",
		Media:    []MediaSpec{{URL: "https://example.org/hello.mp4"}},
		Provider: "signbank",
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	t.Parallel()

	a, err := sampleEntry().ComputeHash()
	require.NoError(t, err)
	b, err := sampleEntry().ComputeHash()
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 16)
}

func TestComputeHashIgnoresHashAndSeen(t *testing.T) {
	t.Parallel()

	base, err := sampleEntry().ComputeHash()
	require.NoError(t, err)

	e := sampleEntry()
	e.Hash = "ffffffffffffffff"
	e.Seen = time.Now()
	got, err := e.ComputeHash()
	require.NoError(t, err)
	require.Equal(t, base, got)
}

func TestComputeHashSensitiveToEveryField(t *testing.T) {
	t.Parallel()

	base, err := sampleEntry().ComputeHash()
	require.NoError(t, err)

	mutations := map[string]func(*Entry){
		"id":       func(e *Entry) { e.ID = "xyz" },
		"title":    func(e *Entry) { e.Title = "different" },
		"words":    func(e *Entry) { e.Words = []string{"bye"} },
		"tags":     func(e *Entry) { e.Tags = append(e.Tags, "extra") },
		"link":     func(e *Entry) { e.Link = "https://example.org/other" },
		"body":     func(e *Entry) { e.Body = "changed" },
		"media":    func(e *Entry) { e.Media[0].URL = "https://example.org/other.mp4" },
		"provider": func(e *Entry) { e.Provider = "toddslan" },
	}
	for field, mutate := range mutations {
		e := sampleEntry()
		mutate(&e)
		got, err := e.ComputeHash()
		require.NoError(t, err)
		require.NotEqual(t, base, got, "field %s should change the hash", field)
	}
}

func TestDisplayTitle(t *testing.T) {
	t.Parallel()

	e := sampleEntry()
	require.Equal(t, "hello", e.DisplayTitle())
	e.Title = ""
	require.Equal(t, "hello, greeting", e.DisplayTitle())
}

func TestMediaSpecSharedKey(t *testing.T) {
	t.Parallel()

	direct := MediaSpec{URL: "https://example.org/a.mp4"}
	require.False(t, direct.Clip())
	require.Empty(t, direct.SharedKey())

	clip := MediaSpec{Source: "https://example.org/master.mp4", Start: 3, End: 9}
	require.True(t, clip.Clip())
	require.Equal(t, "https://example.org/master.mp4", clip.SharedKey())
}
