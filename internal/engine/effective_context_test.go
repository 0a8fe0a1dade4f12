package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Corphon/SceneForge/internal/models"
)

func TestBuildEffectiveContextEmptyWithoutLockedPredecessors(t *testing.T) {
	sc := newSession(t)
	got := BuildEffectiveContext(sc, 1)
	assert.True(t, got.IsEmpty())
	assert.NotNil(t, got.KeyEvents)
	assert.NotNil(t, got.NPCRelationships)
}

func TestBuildEffectiveContextFoldsInSequence(t *testing.T) {
	sc := newSession(t)
	sc.SceneDetails["scene-2"] = lockedScene("scene-2", 2, &models.EffectiveContext{
		KeyEvents:          []string{"bridge burned", "ally lost"},
		StateChanges:       map[string]any{"alarm": "raised", "gold": 10.0},
		NPCRelationships:   map[string]models.NPCRelationship{"Mara": {TrustLevel: -1, Attitude: "hostile"}},
		EnvironmentalState: map[string]any{"weather": "storm"},
		PlotThreads:        []models.PlotThread{{ThreadID: "t2", Title: "Escape"}},
	})
	sc.SceneDetails["scene-1"] = lockedScene("scene-1", 1, &models.EffectiveContext{
		KeyEvents:        []string{"arrived", "ally lost"},
		RevealedInfo:     []string{"the map is fake"},
		StateChanges:     map[string]any{"alarm": "quiet", "door": "open"},
		NPCRelationships: map[string]models.NPCRelationship{"Mara": {TrustLevel: 2, Attitude: "friendly"}},
		PlayerDecisions:  []models.PlayerDecision{{DecisionID: "d1", Choice: "spare the guard"}},
	})
	sc.SceneDetails["scene-3"] = lockedScene("scene-3", 3, &models.EffectiveContext{KeyEvents: []string{"finale"}})

	got := BuildEffectiveContext(sc, 3)

	assert.Equal(t, []string{"arrived", "ally lost", "bridge burned", "ally lost"}, got.KeyEvents)
	assert.Equal(t, []string{"the map is fake"}, got.RevealedInfo)
	assert.Equal(t, map[string]any{"alarm": "raised", "door": "open", "gold": 10.0}, got.StateChanges)
	assert.Equal(t, "hostile", got.NPCRelationships["Mara"].Attitude)
	assert.Equal(t, map[string]any{"weather": "storm"}, got.EnvironmentalState)
	assert.Len(t, got.PlotThreads, 1)
	assert.Len(t, got.PlayerDecisions, 1)
}

func TestBuildEffectiveContextIgnoresUnlockedScenes(t *testing.T) {
	sc := newSession(t)
	sc.SceneDetails["scene-1"] = lockedScene("scene-1", 1, &models.EffectiveContext{KeyEvents: []string{"a"}})
	before := BuildEffectiveContext(sc, 3)

	draft := lockedScene("scene-2", 2, &models.EffectiveContext{KeyEvents: []string{"draft"}})
	draft.Status = models.SceneGenerated
	sc.SceneDetails["scene-2"] = draft
	assert.Equal(t, before, BuildEffectiveContext(sc, 3))

	draft.ContextOut.KeyEvents = []string{"edited again"}
	draft.Status = models.SceneEdited
	assert.Equal(t, before, BuildEffectiveContext(sc, 3))
	sc.SceneDetails["scene-9"] = lockedScene("scene-9", 0, &models.EffectiveContext{KeyEvents: []string{"detached"}})
	assert.Equal(t, before, BuildEffectiveContext(sc, 3), "scenes without a sequence are skipped")
}

func TestBuildEffectiveContextDoesNotAliasInput(t *testing.T) {
	sc := newSession(t)
	sc.SceneDetails["scene-1"] = lockedScene("scene-1", 1, &models.EffectiveContext{
		StateChanges: map[string]any{"inventory": map[string]any{"rope": true}},
	})

	got := BuildEffectiveContext(sc, 2)
	got.StateChanges["inventory"].(map[string]any)["rope"] = false

	assert.Equal(t, true, sc.SceneDetails["scene-1"].ContextOut.StateChanges["inventory"].(map[string]any)["rope"])
}
