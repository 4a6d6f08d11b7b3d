package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineParserHandlesSplitInput(t *testing.T) {
	sb := NewStreamBuffer(inlineScheduler{})
	out := sb.SetParser(LineParser([]byte("\n"), 0))

	// Feed the same logical lines byte-by-byte to exercise the parser
	// suspending on every single-byte Feed call.
	for _, b := range []byte("ab\ncd\n") {
		sb.FeedData([]byte{b})
	}

	line1, err := drainItem(t, out, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ab\n", string(line1))

	line2, err := drainItem(t, out, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "cd\n", string(line2))
}

func TestChunkedParserDecodesPayloadsAndEndsOnZeroChunk(t *testing.T) {
	sb := NewStreamBuffer(inlineScheduler{})
	out := sb.SetParser(ChunkedParser())

	sb.FeedData([]byte("4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"))

	chunk1, err := drainItem(t, out, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Wiki", string(chunk1))

	chunk2, err := drainItem(t, out, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pedia", string(chunk2))

	last, err := drainItem(t, out, time.Second)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestChunkedParserSplitAcrossFeeds(t *testing.T) {
	sb := NewStreamBuffer(inlineScheduler{})
	out := sb.SetParser(ChunkedParser())

	whole := "3\r\nfoo\r\n0\r\n\r\n"
	for i := 0; i < len(whole); i++ {
		sb.FeedData([]byte{whole[i]})
	}

	chunk, err := drainItem(t, out, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "foo", string(chunk))

	last, err := drainItem(t, out, time.Second)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestChunkedParserIncompleteReadAtEOF(t *testing.T) {
	sb := NewStreamBuffer(inlineScheduler{})
	out := sb.SetParser(ChunkedParser())

	sb.FeedData([]byte("10\r\nshort"))
	sb.FeedEOF()

	_, err := drainItem(t, out, time.Second)
	require.Error(t, err)
}
