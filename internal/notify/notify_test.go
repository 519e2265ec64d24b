package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func fakePubSub(t *testing.T) (*pstest.Server, option.ClientOption) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, option.WithGRPCConn(conn)
}

func TestPubSubPublish(t *testing.T) {
	ctx := context.Background()
	srv, conn := fakePubSub(t)

	admin, err := pubsub.NewClient(ctx, "project-id", conn)
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, "harvests")
	require.NoError(t, err)

	p, err := NewPubSub(ctx, "project-id", "harvests", conn)
	require.NoError(t, err)

	id, err := p.Publish(ctx, "run-1", map[string]any{"run_id": "run-1", "records": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, p.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "run-1", msgs[0].Attributes["run_id"])
	assert.Equal(t, "harvest.completed", msgs[0].Attributes["event"])

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
	assert.EqualValues(t, 3, payload["records"])
}

func TestNewPubSubMissingTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, conn := fakePubSub(t)

	_, err := NewPubSub(ctx, "project-id", "absent", conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent")
}

func TestPubSubRequiresTopic(t *testing.T) {
	_, err := (&PubSub{}).Publish(context.Background(), "run", struct{}{})
	require.Error(t, err)

	_, err = NewPubSub(context.Background(), "", "t")
	require.Error(t, err)
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	id, err := p.Publish(context.Background(), "run", nil)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, p.Close())
}
