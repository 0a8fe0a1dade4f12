// internal/models/delta.go
package models

// Severity 场景修改对下游场景的影响程度
type Severity string

const (
	SeveritySoft Severity = "soft"
	SeverityHard Severity = "hard"
)

// Delta 两个版本场景细节之间的结构差异
type Delta struct {
	KeysChanged []string `json:"keysChanged"`
	Summary     string   `json:"summary"`
}

// AffectedScene 受上游修改影响、需要重新生成的场景
type AffectedScene struct {
	SceneID  string   `json:"sceneId"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

// RegenerationPlan 按顺序排列的待重新生成场景ID
type RegenerationPlan []string
