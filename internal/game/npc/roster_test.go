package npc_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/simverse/internal/game/grid"
	"github.com/cory-johannsen/simverse/internal/game/npc"
)

const rosterYAML = `
npcs:
  - id: npc_1
    name: Player One
    kind: player
    color: "#4a90d9"
    x: 150
    y: 250
  - id: npc_2
    name: Guard
    kind: guard
    x: 200
    y: 500
`

func TestLoadRosterFromBytes(t *testing.T) {
	r, err := npc.LoadRosterFromBytes([]byte(rosterYAML))
	require.NoError(t, err)
	require.Len(t, r.NPCs, 2)
	assert.Equal(t, "npc_1", r.NPCs[0].ID)
	assert.Equal(t, "#4a90d9", r.NPCs[0].Color)
	assert.Equal(t, 500.0, r.NPCs[1].Y)
}

func TestLoadRosterFromBytes_RejectsDuplicates(t *testing.T) {
	_, err := npc.LoadRosterFromBytes([]byte("npcs:\n  - {id: a, name: x}\n  - {id: a, name: y}\n  - {id: '', name: z}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestLoadRoster_FileAndPopulate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rosterYAML), 0o644))

	r, err := npc.LoadRoster(path)
	require.NoError(t, err)

	reg := npc.NewRegistry(npc.Options{Speed: 1, MoveTimeout: time.Second})
	require.NoError(t, r.Populate(reg))
	assert.Equal(t, 2, reg.Len())

	st, ok := reg.Get("npc_2")
	require.True(t, ok)
	assert.Equal(t, npc.StateIdle, st.State)
	assert.Equal(t, "guard", st.Kind)
}

func TestLoadRoster_MissingFile(t *testing.T) {
	_, err := npc.LoadRoster(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRoster_CheckPlacement(t *testing.T) {
	m, err := grid.New(10, 10, 32, []grid.Cell{{X: 2, Y: 2}})
	require.NoError(t, err)

	ok := npc.Roster{NPCs: []npc.Spec{{ID: "a", Name: "a", X: 16, Y: 16}}}
	assert.NoError(t, ok.CheckPlacement(m))

	bad := npc.Roster{NPCs: []npc.Spec{
		{ID: "wall", Name: "w", X: 70, Y: 70},
		{ID: "outside", Name: "o", X: -1, Y: 5},
		{ID: "fine", Name: "f", X: 100, Y: 5},
	}}
	err = bad.CheckPlacement(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"wall"`)
	assert.Contains(t, err.Error(), `"outside"`)
	assert.NotContains(t, err.Error(), `"fine"`)
}

func TestBundledContent(t *testing.T) {
	m, err := grid.LoadFromFile(filepath.Join("..", "..", "..", "content", "maps", "farm.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 46, m.Width())
	assert.Equal(t, 34, m.Height())

	r, err := npc.LoadRoster(filepath.Join("..", "..", "..", "content", "npcs", "roster.yaml"))
	require.NoError(t, err)
	assert.Len(t, r.NPCs, 5)
	assert.NoError(t, r.CheckPlacement(m))
}
