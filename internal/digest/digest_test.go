package digest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOfDeterministic(t *testing.T) {
	first := Of([]byte("hello world"))
	require.Len(t, first, Len)
	require.Equal(t, "b94d27b9934d3e08", first)
	require.Equal(t, first, Of([]byte("hello world")))
}

func TestOfDistinguishesInputs(t *testing.T) {
	require.NotEqual(t, Of([]byte("a")), Of([]byte("b")))
	require.Equal(t, OfString("a"), Of([]byte("a")))
}
