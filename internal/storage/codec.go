// internal/storage/codec.go
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Corphon/SceneForge/internal/models"
)

// EncodeSession 序列化会话记录
func EncodeSession(sc *models.SessionContext) ([]byte, error) {
	sc.SchemaVersion = models.SchemaVersion
	data, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("序列化会话失败: %w", err)
	}
	return data, nil
}

// DecodeSession 解析会话记录，旧版本记录在这里升级到当前结构
func DecodeSession(data []byte) (*models.SessionContext, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("解析会话失败: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("解析会话失败: 记录为空")
	}

	if schemaVersionOf(raw) < models.SchemaVersion {
		upgradeRecord(raw)
		raw["schemaVersion"] = models.SchemaVersion
	}

	upgraded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("序列化升级后的会话失败: %w", err)
	}
	var sc models.SessionContext
	if err := json.Unmarshal(upgraded, &sc); err != nil {
		return nil, fmt.Errorf("解析会话失败: %w", err)
	}
	sc.EnsureContainers()
	return &sc, nil
}

func schemaVersionOf(raw map[string]any) int {
	n, ok := raw["schemaVersion"].(json.Number)
	if !ok {
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return int(v)
}

// upgradeRecord 旧记录的升级步骤：
// 默认 meta 和 locks；sceneDetails[*].detail 中的字段提升到顶层；
// blocks.custom.macroChain 提升为 macroChains 中的一条链；
// blocks.srd2014Characters 中的角色卡移到 characterSheets；
// 单值的 story_facts 包装成列表。
func upgradeRecord(raw map[string]any) {
	if _, ok := raw["meta"].(map[string]any); !ok {
		raw["meta"] = map[string]any{"backgroundV": 0, "charactersV": 0, "macroSnapshotV": 0}
	}
	if _, ok := raw["locks"].(map[string]any); !ok {
		raw["locks"] = map[string]any{}
	}

	blocks, _ := raw["blocks"].(map[string]any)
	if blocks == nil {
		blocks = map[string]any{}
		raw["blocks"] = blocks
	}
	if facts, ok := blocks["story_facts"]; ok && facts != nil {
		if _, isList := facts.([]any); !isList {
			blocks["story_facts"] = []any{facts}
		}
	}

	promoteLegacyChain(raw, blocks)
	promoteLegacySheets(raw, blocks)
	normalizeTimes(raw)

	details, _ := raw["sceneDetails"].(map[string]any)
	for id, value := range details {
		detail, ok := value.(map[string]any)
		if !ok {
			delete(details, id)
			continue
		}
		hoistNestedDetail(detail)
		if s, _ := detail["sceneId"].(string); s == "" {
			detail["sceneId"] = id
		}
		if status, _ := detail["status"].(string); status == "" || status == "Draft" {
			detail["status"] = string(models.SceneGenerated)
		}
	}
}

var hoistedDetailFields = []string{"contextOut", "title", "objective", "keyEvents", "revealedInfo", "stateChanges"}

func hoistNestedDetail(detail map[string]any) {
	nested, ok := detail["detail"].(map[string]any)
	if !ok {
		return
	}
	for _, field := range hoistedDetailFields {
		if _, exists := detail[field]; exists {
			continue
		}
		if value, ok := nested[field]; ok {
			detail[field] = value
		}
	}
	delete(detail, "detail")
}

func promoteLegacyChain(raw, blocks map[string]any) {
	custom, _ := blocks["custom"].(map[string]any)
	chain, _ := custom["macroChain"].(map[string]any)
	chainID, _ := chain["chainId"].(string)
	if chainID == "" {
		return
	}
	chains, _ := raw["macroChains"].(map[string]any)
	if chains == nil {
		chains = map[string]any{}
		raw["macroChains"] = chains
	}
	if _, exists := chains[chainID]; !exists {
		chains[chainID] = chain
	}
	if current, _ := raw["currentChainId"].(string); current == "" {
		raw["currentChainId"] = chainID
	}
}

func promoteLegacySheets(raw, blocks map[string]any) {
	legacy, ok := blocks["srd2014Characters"].(map[string]any)
	if !ok {
		return
	}
	delete(blocks, "srd2014Characters")
	characters, _ := legacy["characters"].([]any)
	if _, exists := raw["characterSheets"]; exists || len(characters) == 0 {
		return
	}
	sheets := make([]any, 0, len(characters))
	for _, value := range characters {
		character, ok := value.(map[string]any)
		if !ok {
			continue
		}
		id, _ := character["id"].(string)
		if id == "" {
			continue
		}
		sheet := map[string]any{"id": id, "sheet": character}
		if name, ok := character["name"].(string); ok {
			sheet["name"] = name
		}
		for _, field := range []string{"createdAt", "updatedAt"} {
			if ts, ok := character[field]; ok {
				sheet[field] = ts
			}
		}
		sheets = append(sheets, sheet)
	}
	raw["characterSheets"] = sheets
}

var timeFields = map[string]bool{"createdAt": true, "updatedAt": true, "lastUpdatedAt": true, "lockedAt": true}

// 旧记录的时间可能是不带时区的 ISO 字符串或毫秒时间戳
var legacyTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"}

func normalizeTimes(node any) {
	switch t := node.(type) {
	case map[string]any:
		for key, value := range t {
			if !timeFields[key] {
				normalizeTimes(value)
				continue
			}
			if ts, ok := parseLegacyTime(value); ok {
				t[key] = ts.UTC().Format(time.RFC3339Nano)
			} else {
				delete(t, key)
			}
		}
	case []any:
		for _, value := range t {
			normalizeTimes(value)
		}
	}
}

func parseLegacyTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		for _, layout := range legacyTimeLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts, true
			}
		}
	case json.Number:
		if ms, err := v.Int64(); err == nil {
			return time.UnixMilli(ms), true
		}
	}
	return time.Time{}, false
}
