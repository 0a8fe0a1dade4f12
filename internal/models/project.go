// internal/models/project.go
package models

import (
	"encoding/json"
	"time"
)

// Project 项目登记表中的一条记录
type Project struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CharacterSheet 会话中保存的角色卡（SRD 2014 规则），Sheet 为客户端提交的完整内容
type CharacterSheet struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Sheet     json.RawMessage `json:"sheet"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
