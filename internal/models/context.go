// internal/models/context.go
package models

// NPCRelationship 与某个NPC的关系状态
type NPCRelationship struct {
	TrustLevel      int    `json:"trust_level"`
	LastInteraction string `json:"last_interaction"`
	Attitude        string `json:"attitude"`
}

// PlotThread 剧情线索
type PlotThread struct {
	ThreadID    string `json:"thread_id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// PlayerDecision 玩家做出的决定
type PlayerDecision struct {
	DecisionID   string `json:"decision_id"`
	Context      string `json:"context"`
	Choice       string `json:"choice"`
	Consequences string `json:"consequences"`
	ImpactLevel  string `json:"impact_level"`
}

// EffectiveContext 一个场景产出的上下文增量，或者合并后提供给下一个场景的累计上下文。
// 两种用途结构完全相同。
type EffectiveContext struct {
	KeyEvents          []string                   `json:"keyEvents"`
	RevealedInfo       []string                   `json:"revealedInfo"`
	StateChanges       map[string]any             `json:"stateChanges"`
	NPCRelationships   map[string]NPCRelationship `json:"npcRelationships"`
	EnvironmentalState map[string]any             `json:"environmentalState"`
	PlotThreads        []PlotThread               `json:"plotThreads"`
	PlayerDecisions    []PlayerDecision           `json:"playerDecisions"`
}

// EffectiveContextDelta 单个场景产出的上下文
type EffectiveContextDelta = EffectiveContext

// NewEffectiveContext 返回所有容器都为空的上下文
func NewEffectiveContext() EffectiveContext {
	var ec EffectiveContext
	ec.Normalize()
	return ec
}

// Normalize 把 nil 容器替换为空容器
func (ec *EffectiveContext) Normalize() {
	if ec.KeyEvents == nil {
		ec.KeyEvents = []string{}
	}
	if ec.RevealedInfo == nil {
		ec.RevealedInfo = []string{}
	}
	if ec.StateChanges == nil {
		ec.StateChanges = map[string]any{}
	}
	if ec.NPCRelationships == nil {
		ec.NPCRelationships = map[string]NPCRelationship{}
	}
	if ec.EnvironmentalState == nil {
		ec.EnvironmentalState = map[string]any{}
	}
	if ec.PlotThreads == nil {
		ec.PlotThreads = []PlotThread{}
	}
	if ec.PlayerDecisions == nil {
		ec.PlayerDecisions = []PlayerDecision{}
	}
}

// IsEmpty 没有任何累计内容
func (ec EffectiveContext) IsEmpty() bool {
	return len(ec.KeyEvents) == 0 &&
		len(ec.RevealedInfo) == 0 &&
		len(ec.StateChanges) == 0 &&
		len(ec.NPCRelationships) == 0 &&
		len(ec.EnvironmentalState) == 0 &&
		len(ec.PlotThreads) == 0 &&
		len(ec.PlayerDecisions) == 0
}
