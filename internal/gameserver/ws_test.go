package gameserver_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/simverse/internal/game/grid"
	"github.com/cory-johannsen/simverse/internal/protocol"
	"github.com/cory-johannsen/simverse/internal/testutil"
)

const wait = 2 * time.Second

func TestWS_SnapshotFirst(t *testing.T) {
	for _, codec := range protocol.Codecs {
		t.Run(codec.Name(), func(t *testing.T) {
			w := newWorld(t, "", nil)
			viewer := testutil.NewViewerClient(t, w.srv.URL, codec)

			hello := viewer.Read(wait)
			require.Equal(t, protocol.TypeConnectionEstablished, hello.Type)
			assert.NotEmpty(t, hello.ClientID)
			require.Len(t, hello.States(), 2)
			assert.Equal(t, "npc_1", hello.States()[0].NPCID)
			assert.Equal(t, "idle", hello.States()[0].State)
		})
	}
}

func TestWS_MoveBroadcastsToEveryViewer(t *testing.T) {
	w := newWorld(t, "", nil)
	mover := testutil.NewViewerClient(t, w.srv.URL, protocol.MsgpackCodec{})
	watcher := testutil.NewViewerClient(t, w.srv.URL, protocol.JSONCodec{})
	mover.ReadUntil(protocol.TypeConnectionEstablished, wait)
	watcher.ReadUntil(protocol.TypeConnectionEstablished, wait)

	mover.Send(protocol.Message{Type: protocol.TypeMove, NPCID: "npc_1", Target: &grid.Point{X: 288, Y: 160}})

	result := mover.ReadUntil(protocol.TypeCommandResult, wait)
	assert.Equal(t, "accepted", result.Outcome)
	assert.NotEmpty(t, result.Path)
	assert.Empty(t, result.Error)

	broadcast := watcher.ReadUntil(protocol.TypeMoveAlongPath, wait)
	assert.Equal(t, "npc_1", broadcast.NPCID)
	assert.Equal(t, result.Path, broadcast.Path)
}

func TestWS_CommandErrors(t *testing.T) {
	w := newWorld(t, "", nil)
	viewer := testutil.NewViewerClient(t, w.srv.URL, protocol.JSONCodec{})
	viewer.ReadUntil(protocol.TypeConnectionEstablished, wait)

	viewer.Send(protocol.Message{Type: protocol.TypeMove, NPCID: "ghost", Target: &grid.Point{X: 1, Y: 1}})
	res := viewer.ReadUntil(protocol.TypeCommandResult, wait)
	assert.Equal(t, "not_found", res.Outcome)
	assert.NotEmpty(t, res.Error)

	viewer.Send(protocol.Message{Type: protocol.TypeMove, NPCID: "npc_1"})
	res = viewer.ReadUntil(protocol.TypeCommandResult, wait)
	assert.Equal(t, "malformed", res.Outcome)
}

func TestWS_PingAndMalformedFrames(t *testing.T) {
	w := newWorld(t, "", nil)
	viewer := testutil.NewViewerClient(t, w.srv.URL, protocol.JSONCodec{})
	viewer.ReadUntil(protocol.TypeConnectionEstablished, wait)

	viewer.SendRaw(`{not json`)
	viewer.SendRaw(`{"type": "dance"}`)
	viewer.Send(protocol.Message{Type: protocol.TypePing})

	pong := viewer.Read(wait)
	assert.Equal(t, protocol.TypePong, pong.Type)
	assert.NotZero(t, pong.Timestamp)
}

func TestWS_ViewerLeavesHubOnClose(t *testing.T) {
	w := newWorld(t, "", nil)
	viewer := testutil.NewViewerClient(t, w.srv.URL, protocol.JSONCodec{})
	viewer.ReadUntil(protocol.TypeConnectionEstablished, wait)
	require.Equal(t, 1, w.hub.Len())

	viewer.Close()
	assert.Eventually(t, func() bool { return w.hub.Len() == 0 }, wait, 10*time.Millisecond)
}

func TestWS_UnknownEncodingRejected(t *testing.T) {
	w := newWorld(t, "", nil)
	resp, err := http.Get(w.srv.URL + "/ws?encoding=xml")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
