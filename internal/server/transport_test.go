package server

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexgo-dev/lexgo/pkg/protocol"
)

func TestTransport_RequestResponse(t *testing.T) {
	ctx := context.Background()
	h, srv, _ := newRunningHandler(t)
	require.NoError(t, srv.Tools().Register(EchoTool()))

	tr := NewTransport(h)
	defer tr.Close()

	resp, err := tr.Send(ctx, protocol.NewRequest("t1", protocol.CallToolParams{
		Name:      "echo",
		Arguments: protocol.Args{"message": "ping"},
	}))
	require.NoError(t, err)
	require.Equal(t, protocol.TypeCallToolResult, resp.Type)
	assert.Equal(t, "t1", resp.ID)
	assert.Equal(t, "ping", resp.Payload.(protocol.CallToolResult).Content[0].Text)

	resp, err = tr.Send(ctx, protocol.NewNotification("progress", nil))
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestTransport_ConcurrentSenders(t *testing.T) {
	ctx := context.Background()
	h, srv, _ := newRunningHandler(t)
	require.NoError(t, srv.Tools().Register(EchoTool()))

	tr := NewTransport(h)
	defer tr.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			resp, err := tr.Send(ctx, protocol.NewRequest(id, protocol.CallToolParams{
				Name:      "echo",
				Arguments: protocol.Args{"message": id},
			}))
			if assert.NoError(t, err) {
				// Responses stay correlated to their request.
				assert.Equal(t, id, resp.ID)
				assert.Equal(t, id, resp.Payload.(protocol.CallToolResult).Content[0].Text)
			}
		}(i)
	}
	wg.Wait()
}

func TestTransport_Close(t *testing.T) {
	ctx := context.Background()
	h, _, _ := newRunningHandler(t)

	tr := NewTransport(h)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.Send(ctx, protocol.NewRequest("t1", protocol.ListResourcesParams{}))
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeInvalidRequest))
}
