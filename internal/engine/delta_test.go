package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneForge/internal/models"
)

func sampleDetail() *models.SceneDetail {
	d := &models.SceneDetail{
		SceneID:      "scene-1",
		Sequence:     1,
		KeyEvents:    []string{"ambush"},
		RevealedInfo: []string{"traitor exists"},
		StateChanges: map[string]any{"hp": 3.0},
		ContextOut: &models.EffectiveContext{
			KeyEvents:          []string{"ambush"},
			StateChanges:       map[string]any{"alarm": true},
			NPCRelationships:   map[string]models.NPCRelationship{"Mara": {TrustLevel: 1}},
			EnvironmentalState: map[string]any{"fog": "thick"},
		},
	}
	d.Normalize()
	return d
}

func cloneDetail(t *testing.T, d *models.SceneDetail) *models.SceneDetail {
	t.Helper()
	sc := newSession(t)
	sc.SceneDetails[d.SceneID] = d
	clone, err := sc.Clone()
	require.NoError(t, err)
	return clone.SceneDetails[d.SceneID]
}

func TestDiffIdenticalDetail(t *testing.T) {
	d := sampleDetail()
	got := Diff(d, d)
	assert.Equal(t, []string{}, got.Delta.KeysChanged)
	assert.Equal(t, "No significant changes detected", got.Delta.Summary)
	assert.Empty(t, got.AffectedScenes)

	got = Diff(d, cloneDetail(t, d))
	assert.Empty(t, got.Delta.KeysChanged)
}

func TestDiffNilAndEmptyContainersAreEqual(t *testing.T) {
	old := &models.SceneDetail{SceneID: "scene-1"}
	updated := &models.SceneDetail{SceneID: "scene-1", KeyEvents: []string{}, StateChanges: map[string]any{}}
	assert.Empty(t, Diff(old, updated).Delta.KeysChanged)
}

func TestDiffContextOutKeyEventsIsHard(t *testing.T) {
	old := sampleDetail()
	updated := cloneDetail(t, old)
	updated.ContextOut.KeyEvents = []string{"ambush", "bridge collapses"}

	got := Diff(old, updated)

	assert.Equal(t, []string{"contextOut.keyEvents"}, got.Delta.KeysChanged)
	assert.Equal(t, "contextOut.keyEvents changed (1 -> 2 entries)", got.Delta.Summary)
	require.Len(t, got.AffectedScenes, 3)
	for i, a := range got.AffectedScenes {
		assert.Equal(t, models.SeverityHard, a.Severity)
		assert.Equal(t, "Previous scene had major plot changes", a.Reason)
		assert.Equal(t, []string{"scene-2", "scene-3", "scene-4"}[i], a.SceneID)
	}
	assert.Equal(t, models.RegenerationPlan{"scene-2", "scene-3", "scene-4"}, PlanRegeneration(got.AffectedScenes, 10))
	assert.Equal(t, models.RegenerationPlan{"scene-2", "scene-3"}, PlanRegeneration(got.AffectedScenes, 3))
}

func TestDiffSoftChangesOnly(t *testing.T) {
	old := sampleDetail()
	updated := cloneDetail(t, old)
	updated.StateChanges["hp"] = 1.0
	updated.ContextOut.EnvironmentalState["fog"] = "thin"

	got := Diff(old, updated)

	assert.Equal(t, []string{"stateChanges", "contextOut.environmentalState"}, got.Delta.KeysChanged)
	assert.Equal(t, "stateChanges changed; contextOut.environmentalState changed", got.Delta.Summary)
	require.Len(t, got.AffectedScenes, 3)
	for _, a := range got.AffectedScenes {
		assert.Equal(t, models.SeveritySoft, a.Severity)
	}
}

func TestDiffMixedChangesAreHard(t *testing.T) {
	old := sampleDetail()
	updated := cloneDetail(t, old)
	updated.StateChanges["hp"] = 0.0
	updated.RevealedInfo = []string{"traitor is Mara"}

	got := Diff(old, updated)

	assert.ElementsMatch(t, []string{"revealedInfo", "stateChanges"}, got.Delta.KeysChanged)
	for _, a := range got.AffectedScenes {
		assert.Equal(t, models.SeverityHard, a.Severity)
	}
}

func TestDiffSkipsContextOutWhenOneSideMissing(t *testing.T) {
	old := sampleDetail()
	updated := cloneDetail(t, old)
	updated.ContextOut = nil

	got := Diff(old, updated)
	assert.Empty(t, got.Delta.KeysChanged)
	assert.Empty(t, got.AffectedScenes)
}

func TestDiffWithoutOrdinalAffectsNothing(t *testing.T) {
	old := sampleDetail()
	old.SceneID = "opening"
	updated := cloneDetail(t, old)
	updated.KeyEvents = []string{"different"}

	got := Diff(old, updated)
	assert.Equal(t, []string{"keyEvents"}, got.Delta.KeysChanged)
	assert.Empty(t, got.AffectedScenes)
}

func TestStructurallyEqual(t *testing.T) {
	assert.True(t, StructurallyEqual(map[string]any{"a": []any{1.0, "x"}}, map[string]any{"a": []any{1.0, "x"}}))
	assert.False(t, StructurallyEqual([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, StructurallyEqual(map[string]any{"a": 1.0}, map[string]any{"a": 1.0, "b": nil}))
	assert.True(t, StructurallyEqual(nil, []string{}))
	assert.False(t, StructurallyEqual("1", 1))
}

func TestStructurallyEqualNestedContainersAreStrict(t *testing.T) {
	assert.False(t, StructurallyEqual(map[string]any{"door": []any{}}, map[string]any{"door": map[string]any{}}))
	assert.False(t, StructurallyEqual(map[string]any{"door": nil}, map[string]any{"door": []any{}}))
	assert.False(t, StructurallyEqual([]any{nil}, []any{[]any{}}))
	assert.True(t, StructurallyEqual(map[string]any{"door": []any{}}, map[string]any{"door": []any{}}))

	old := &models.SceneDetail{SceneID: "scene-1", StateChanges: map[string]any{"door": []any{}}}
	updated := &models.SceneDetail{SceneID: "scene-1", StateChanges: map[string]any{"door": map[string]any{}}}
	assert.Equal(t, []string{"stateChanges"}, Diff(old, updated).Delta.KeysChanged)
}
