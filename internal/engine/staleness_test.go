package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Corphon/SceneForge/internal/models"
)

func TestCheckStaleness(t *testing.T) {
	tests := []struct {
		name       string
		uses       models.VersionSnapshot
		meta       models.Meta
		stale      bool
		mismatches []string
		message    string
	}{
		{
			name:       "background advanced",
			uses:       models.VersionSnapshot{BackgroundV: 1},
			meta:       models.Meta{BackgroundV: 2},
			stale:      true,
			mismatches: []string{DimensionBackground},
			message:    "background has changed since this content was generated",
		},
		{
			name:       "equal counters",
			uses:       models.VersionSnapshot{BackgroundV: 2, CharactersV: 1},
			meta:       models.Meta{BackgroundV: 2, CharactersV: 1},
			stale:      false,
			mismatches: []string{},
		},
		{
			name:       "characters and chain advanced",
			uses:       models.VersionSnapshot{BackgroundV: 1, CharactersV: 1, MacroSnapshotV: 0},
			meta:       models.Meta{BackgroundV: 1, CharactersV: 3, MacroSnapshotV: 1},
			stale:      true,
			mismatches: []string{DimensionCharacters, DimensionMacroSnapshot},
			message:    "characters and macro chain have changed since this content was generated",
		},
		{
			name:       "snapshot ahead is not stale",
			uses:       models.VersionSnapshot{BackgroundV: 5},
			meta:       models.Meta{BackgroundV: 4},
			stale:      false,
			mismatches: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckStaleness(tt.uses, tt.meta)
			assert.Equal(t, tt.stale, got.Stale)
			assert.Equal(t, tt.mismatches, got.Mismatches)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}
