package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "thread.synced", map[string]int64{"thread_id": 7})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	var decoded map[string]int64
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.EqualValues(t, 7, decoded["thread_id"])

	msgs[0].Topic = "modified"
	assert.Equal(t, "thread.synced", pub.Messages()[0].Topic)
	assert.Len(t, pub.ByTopic("thread.synced"), 1)
	assert.Empty(t, pub.ByTopic("missing"))
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)

	boom := errors.New("unavailable")
	pub.FailWith(boom)
	_, err = pub.Publish(context.Background(), "t", "x")
	require.ErrorIs(t, err, boom)
	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "t", "x")
	require.NoError(t, err)
	assert.Len(t, pub.Messages(), 1)
}
