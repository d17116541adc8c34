package httpx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderBasicCheck(t *testing.T) {
	require.NoError(t, Header{Name: "X-Foo", Value: "bar baz"}.BasicCheck())
	require.Error(t, Header{Name: "X Foo", Value: "bar"}.BasicCheck())
	require.Error(t, Header{Name: "X:Foo", Value: "bar"}.BasicCheck())
	require.Error(t, Header{Name: "X-Foo", Value: "bar\r\n"}.BasicCheck())
}

func TestHeaderSize(t *testing.T) {
	h := Header{Name: "abc", Value: "de"}
	require.Equal(t, 7, h.Size())
	require.True(t, Header{}.Empty())
	require.False(t, h.Empty())
}

func TestParseHeaderLine(t *testing.T) {
	h, err := ParseHeaderLine("Content-Type:  text/html  ")
	require.NoError(t, err)
	require.Equal(t, "Content-Type", h.Name)
	require.Equal(t, "text/html", h.Value)

	_, err = ParseHeaderLine("no colon here")
	require.ErrorIs(t, err, ErrParse)
}
