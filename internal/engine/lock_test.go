package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Corphon/SceneForge/internal/models"
)

func TestCanGenerateMacroChainRequiresLockedBackground(t *testing.T) {
	sc := newSession(t)

	check := CanGenerateMacroChain(sc)
	assert.False(t, check.OK)
	assert.Contains(t, check.Reason, "generated")

	mustMerge(t, sc, models.BlockBackground, `{"premise":"A drowned city"}`)
	check = CanGenerateMacroChain(sc)
	assert.False(t, check.OK)
	assert.Contains(t, check.Reason, "locked")

	LockBlock(sc, models.BlockBackground)
	assert.True(t, CanGenerateMacroChain(sc).OK)
}

func TestCharactersLockIsNotRequiredForChain(t *testing.T) {
	sc := newSession(t)
	mustMerge(t, sc, models.BlockBackground, `{"premise":"p"}`)
	mustMerge(t, sc, models.BlockCharacters, `[{"id":"c1","name":"Ava","role":"scout"}]`)
	LockBlock(sc, models.BlockBackground)

	assert.False(t, IsBlockLocked(sc, models.BlockCharacters))
	assert.True(t, CanGenerateMacroChain(sc).OK)
}

func TestLockBlockIsIdempotent(t *testing.T) {
	sc := newSession(t)
	before := sc.Meta

	LockBlock(sc, models.BlockBackground)
	LockBlock(sc, models.BlockBackground)

	assert.True(t, IsBlockLocked(sc, models.BlockBackground))
	assert.Equal(t, before, sc.Meta)

	UnlockBlock(sc, models.BlockBackground)
	assert.False(t, IsBlockLocked(sc, models.BlockBackground))
}

func TestCanGenerateScene(t *testing.T) {
	sc := newSession(t)

	assert.True(t, CanGenerateScene(sc, 1).OK)
	assert.False(t, CanGenerateScene(sc, 0).OK)
	assert.False(t, CanGenerateScene(sc, 2).OK)

	scene1 := lockedScene("scene-1", 1, nil)
	scene1.Status = models.SceneGenerated
	sc.SceneDetails["scene-1"] = scene1
	assert.False(t, CanGenerateScene(sc, 2).OK)

	scene1.Status = models.SceneEdited
	assert.False(t, CanGenerateScene(sc, 2).OK)

	scene1.Status = models.SceneLocked
	assert.True(t, CanGenerateScene(sc, 2).OK)
	assert.False(t, CanGenerateScene(sc, 3).OK)
}

func TestCanLockScene(t *testing.T) {
	sc := newSession(t)
	assert.False(t, CanLockScene(sc, "scene-1").OK)

	sc.SceneDetails["scene-1"] = &models.SceneDetail{SceneID: "scene-1", Sequence: 1, Status: models.SceneGenerated}
	assert.True(t, CanLockScene(sc, "scene-1").OK)

	sc.SceneDetails["scene-1"].Status = models.SceneEdited
	assert.True(t, CanLockScene(sc, "scene-1").OK)

	sc.SceneDetails["scene-1"].Status = models.SceneLocked
	assert.False(t, CanLockScene(sc, "scene-1").OK)

	sc.SceneDetails["scene-1"].Status = models.SceneNeedsRegen
	check := CanLockScene(sc, "scene-1")
	assert.False(t, check.OK)
	assert.Contains(t, check.Reason, "needs regeneration")

	sc.SceneDetails["scene-1"].Status = models.SceneEdited
	withChain(sc, models.ChainLocked, "scene-2")
	assert.False(t, CanLockScene(sc, "scene-1").OK, "scene outside the chain")
}

func TestCanEditChain(t *testing.T) {
	sc := newSession(t)
	assert.False(t, CanEditChain(sc).OK)

	chain := withChain(sc, models.ChainGenerated, "scene-1")
	assert.True(t, CanEditChain(sc).OK)

	chain.Status = models.ChainLocked
	assert.False(t, CanEditChain(sc).OK)
}

func TestCanGenerateCharacters(t *testing.T) {
	sc := newSession(t)
	assert.False(t, CanGenerateCharacters(sc).OK)
	mustMerge(t, sc, models.BlockBackground, `{"premise":"p"}`)
	assert.False(t, CanGenerateCharacters(sc).OK)
	LockBlock(sc, models.BlockBackground)
	assert.True(t, CanGenerateCharacters(sc).OK)
}
