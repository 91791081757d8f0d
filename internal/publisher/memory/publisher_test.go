package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublisherRecordsHits(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	pub := New(zap.New(core))

	id1, err := pub.Publish(context.Background(), "offer-hits", map[string]any{"item_id": "ps5"})
	require.NoError(t, err)
	assert.Equal(t, "dryrun-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", map[string]any{"item_id": "switch"})
	require.NoError(t, err)
	assert.Equal(t, "dryrun-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "switch", msgs[1].Payload.(map[string]any)["item_id"])
	assert.Equal(t, 1, pub.Count("offer-hits"))
	assert.Equal(t, 0, pub.Count("unknown"))

	msgs[0].Topic = "modified"
	assert.Equal(t, "offer-hits", pub.Messages()[0].Topic, "Messages returns a copy")

	entries := logs.FilterMessage("dry run: hit not published").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "dryrun-1", entries[0].ContextMap()["message_id"])
}

func TestPublisherHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := New(nil)
	_, err := pub.Publish(ctx, "offer-hits", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.Messages())
}
