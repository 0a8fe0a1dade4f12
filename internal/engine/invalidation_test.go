package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneForge/internal/models"
)

func TestOnBlockChangedBackgroundInvalidatesEverything(t *testing.T) {
	sc := newSession(t)
	chain := withChain(sc, models.ChainLocked, "scene-1", "scene-2")
	sc.SceneDetails["scene-1"] = lockedScene("scene-1", 1, nil)
	sc.SceneDetails["scene-2"] = lockedScene("scene-2", 2, nil)
	sc.SceneDetails["scene-2"].Status = models.SceneGenerated
	before := sc.Meta

	inv := OnBlockChanged(sc, models.BlockBackground, testNow)

	assert.True(t, inv.Triggered)
	assert.Equal(t, before.BackgroundV+1, sc.Meta.BackgroundV)
	assert.Equal(t, before.CharactersV, sc.Meta.CharactersV)
	assert.Equal(t, before.MacroSnapshotV, sc.Meta.MacroSnapshotV)
	assert.Equal(t, testNow, sc.Meta.UpdatedAt)
	assert.Equal(t, models.ChainNeedsRegen, chain.Status)
	assert.Equal(t, "chain-1", inv.ChainInvalidated)
	assert.Equal(t, []string{"scene-1", "scene-2"}, inv.ScenesInvalidated)
	for _, d := range sc.SceneDetails {
		assert.Equal(t, models.SceneNeedsRegen, d.Status)
		assert.Equal(t, "background changed", d.InvalidationReason)
		assert.Nil(t, d.LockedAt)
	}
}

func TestOnBlockChangedCharacters(t *testing.T) {
	sc := newSession(t)
	sc.SceneDetails["scene-1"] = lockedScene("scene-1", 1, nil)

	inv := OnBlockChanged(sc, models.BlockCharacters, testNow)

	assert.True(t, inv.Triggered)
	assert.Equal(t, int64(1), sc.Meta.CharactersV)
	assert.Equal(t, int64(0), sc.Meta.BackgroundV)
	assert.Empty(t, inv.ChainInvalidated)
	assert.Equal(t, models.SceneNeedsRegen, sc.SceneDetails["scene-1"].Status)
}

func TestOnBlockChangedIgnoresNonGatingBlocks(t *testing.T) {
	for _, bt := range []models.BlockType{models.BlockBlueprint, models.BlockPlayerHooks, models.BlockStylePrefs, models.BlockCustom, models.BlockStoryFacts} {
		sc := newSession(t)
		sc.SceneDetails["scene-1"] = lockedScene("scene-1", 1, nil)
		before := sc.Meta

		inv := OnBlockChanged(sc, bt, testNow)

		assert.False(t, inv.Triggered, bt)
		assert.Equal(t, before, sc.Meta, bt)
		assert.Equal(t, models.SceneLocked, sc.SceneDetails["scene-1"].Status, bt)
	}
}

func TestOnSceneUnlockedOnlyTouchesLaterLockedScenes(t *testing.T) {
	sc := newSession(t)
	sc.SceneDetails["scene-1"] = lockedScene("scene-1", 1, nil)
	sc.SceneDetails["scene-2"] = lockedScene("scene-2", 2, nil)
	sc.SceneDetails["scene-3"] = lockedScene("scene-3", 3, nil)
	sc.SceneDetails["scene-4"] = lockedScene("scene-4", 4, nil)
	sc.SceneDetails["scene-4"].Status = models.SceneGenerated

	inv := OnSceneUnlocked(sc, 2, testNow)

	assert.Equal(t, []string{"scene-3"}, inv.ScenesInvalidated)
	assert.Equal(t, models.SceneLocked, sc.SceneDetails["scene-1"].Status)
	assert.Equal(t, models.SceneLocked, sc.SceneDetails["scene-2"].Status)
	assert.Equal(t, models.SceneNeedsRegen, sc.SceneDetails["scene-3"].Status)
	assert.Equal(t, models.SceneGenerated, sc.SceneDetails["scene-4"].Status)
}

func TestChainEditsBumpMacroSnapshot(t *testing.T) {
	sc := newSession(t)
	sc.SceneDetails["scene-1"] = lockedScene("scene-1", 1, nil)

	inv := OnChainEdited(sc, testNow)
	require.True(t, inv.Triggered)
	assert.Equal(t, int64(1), sc.Meta.MacroSnapshotV)
	assert.Equal(t, "macro chain edited", sc.SceneDetails["scene-1"].InvalidationReason)

	OnChainRegenerated(sc, testNow)
	assert.Equal(t, int64(2), sc.Meta.MacroSnapshotV)
	assert.Equal(t, "macro chain regenerated", sc.SceneDetails["scene-1"].InvalidationReason)
}

func TestOnChainUnlockedKeepsCounters(t *testing.T) {
	sc := newSession(t)
	sc.SceneDetails["scene-1"] = lockedScene("scene-1", 1, nil)
	before := sc.Meta

	inv := OnChainUnlocked(sc, testNow)

	assert.True(t, inv.Triggered)
	assert.Equal(t, before, sc.Meta)
	assert.Equal(t, models.SceneNeedsRegen, sc.SceneDetails["scene-1"].Status)
}

func TestCountersNeverDecrease(t *testing.T) {
	sc := newSession(t)
	prev := sc.Meta
	steps := []func(){
		func() { OnBlockChanged(sc, models.BlockBackground, testNow) },
		func() { OnBlockChanged(sc, models.BlockCustom, testNow) },
		func() { OnChainEdited(sc, testNow) },
		func() { OnBlockChanged(sc, models.BlockCharacters, testNow) },
		func() { OnChainUnlocked(sc, testNow) },
		func() { OnSceneUnlocked(sc, 1, testNow) },
		func() { OnChainRegenerated(sc, testNow) },
	}
	for i, step := range steps {
		step()
		assert.GreaterOrEqual(t, sc.Meta.BackgroundV, prev.BackgroundV, "step %d", i)
		assert.GreaterOrEqual(t, sc.Meta.CharactersV, prev.CharactersV, "step %d", i)
		assert.GreaterOrEqual(t, sc.Meta.MacroSnapshotV, prev.MacroSnapshotV, "step %d", i)
		prev = sc.Meta
	}
}
