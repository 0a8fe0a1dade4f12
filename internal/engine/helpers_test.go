package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneForge/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(t *testing.T) *models.SessionContext {
	t.Helper()
	return models.NewSessionContext("s-1", testNow)
}

func mustMerge(t *testing.T, sc *models.SessionContext, bt models.BlockType, payload string) {
	t.Helper()
	blocks, err := MergeBlock(sc.Blocks, bt, json.RawMessage(payload))
	require.NoError(t, err)
	sc.Blocks = blocks
}

func lockedScene(id string, seq int, out *models.EffectiveContext) *models.SceneDetail {
	d := &models.SceneDetail{
		SceneID:    id,
		Sequence:   seq,
		Status:     models.SceneLocked,
		ContextOut: out,
		Uses:       &models.VersionSnapshot{BackgroundV: 1},
	}
	d.Normalize()
	return d
}

func withChain(sc *models.SessionContext, status models.ChainStatus, ids ...string) *models.MacroChain {
	chain := &models.MacroChain{ChainID: "chain-1", Status: status}
	for i, id := range ids {
		chain.Scenes = append(chain.Scenes, models.MacroScene{ID: id, Order: i + 1, Title: id})
	}
	sc.MacroChains[chain.ChainID] = chain
	sc.CurrentChainID = chain.ChainID
	return chain
}
