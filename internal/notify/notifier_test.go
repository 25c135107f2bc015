package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessFanOut(t *testing.T) {
	ctx := context.Background()
	n := NewInProcess()

	var a, b [][]byte
	n.Subscribe("topic.x", func(msg []byte) { a = append(a, msg) })
	n.Subscribe("topic.x", func(msg []byte) { b = append(b, msg) })
	n.Subscribe("topic.y", func(msg []byte) { t.Fatal("wrong topic delivered") })

	require.NoError(t, n.Publish(ctx, "topic.x", []byte("hello")))

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, []byte("hello"), a[0])
}

func TestInProcessNoSubscribers(t *testing.T) {
	n := NewInProcess()
	assert.NoError(t, n.Publish(context.Background(), "nobody.home", []byte("x")))
}

func TestNoopDeliversNothing(t *testing.T) {
	n := NewNoop()
	n.Subscribe("topic.x", func([]byte) { t.Fatal("noop must not deliver") })
	assert.NoError(t, n.Publish(context.Background(), "topic.x", []byte("x")))
	assert.NoError(t, n.Close())
}
