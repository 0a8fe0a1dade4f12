// internal/models/character.go
package models

import "time"

// Character 故事中的一个角色
type Character struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Role              string   `json:"role"`
	Race              string   `json:"race,omitempty"`
	Class             string   `json:"class,omitempty"`
	Personality       string   `json:"personality,omitempty"`
	Motivation        string   `json:"motivation,omitempty"`
	ConnectionToStory string   `json:"connectionToStory,omitempty"`
	GMSecret          string   `json:"gmSecret,omitempty"`
	PotentialConflict string   `json:"potentialConflict,omitempty"`
	VoiceTone         string   `json:"voiceTone,omitempty"`
	InventoryHint     string   `json:"inventoryHint,omitempty"`
	MotifAlignment    []string `json:"motifAlignment,omitempty"`
	BackgroundHistory string   `json:"backgroundHistory,omitempty"`
	KeyRelationships  []string `json:"keyRelationships,omitempty"`
	FlawOrWeakness    string   `json:"flawOrWeakness,omitempty"`
	Status            string   `json:"status,omitempty"` // generated / saved
}

// CharactersBlock characters 块的内容
type CharactersBlock struct {
	Characters []Character `json:"characters"`
	LockedAt   *time.Time  `json:"lockedAt,omitempty"`
}

// Find 返回指定ID角色的下标，不存在返回 -1
func (b *CharactersBlock) Find(id string) int {
	if b == nil {
		return -1
	}
	for i, c := range b.Characters {
		if c.ID == id {
			return i
		}
	}
	return -1
}
