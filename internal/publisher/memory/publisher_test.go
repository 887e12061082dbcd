package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notice struct{ term string }

func (n notice) Attributes() map[string]string { return map[string]string{"term": n.term} }

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", notice{term: "golang"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "topic-a", msgs[0].Topic)
	assert.Equal(t, map[string]string{"term": "golang"}, msgs[0].Attributes)
	assert.Nil(t, msgs[1].Attributes)

	msgs[0].Topic = "modified"
	assert.Equal(t, "topic-a", pub.Messages()[0].Topic, "Messages() must return a copy")
}

func TestPublisherKeepsMostRecent(t *testing.T) {
	t.Parallel()

	pub := NewWithLimit(2)
	for range 5 {
		_, err := pub.Publish(context.Background(), "crawls", "x")
		require.NoError(t, err)
	}
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "memory-4", msgs[0].ID)
	assert.Equal(t, "memory-5", msgs[1].ID)
	assert.Equal(t, 5, pub.Total())
	require.NoError(t, pub.Close())
}
