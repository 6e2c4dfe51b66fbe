package publisher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := NewMemory()
	id1, err := pub.Publish(context.Background(), "crawl-completed", map[string]string{"job": "a"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "crawl-completed", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "crawl-completed", msgs[0].Topic)

	// Messages returns a copy.
	msgs[0].Topic = "modified"
	assert.Equal(t, "crawl-completed", pub.Messages()[0].Topic)
}
