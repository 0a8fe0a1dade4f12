package generation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/llm"
	"github.com/Corphon/SceneForge/internal/models"
)

type stubProvider struct {
	text string
	err  error
	last llm.CompletionRequest
}

func (p *stubProvider) Initialize(map[string]string) error { return nil }
func (p *stubProvider) GetName() string                    { return "stub" }
func (p *stubProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Text: p.text, ProviderName: "stub"}, nil
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Here you go: [1,2] hope it helps", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	_, err := ExtractJSON("no json at all")
	assert.Error(t, err)
	_, err = ExtractJSON(`{"a":`)
	assert.Error(t, err)
}

func TestLLMGeneratorValidatesResult(t *testing.T) {
	provider := &stubProvider{text: "```json\n{\"premise\":\"A sunken bell tolls\",\"stakes\":[\"the coast\"]}\n```"}
	gen := NewLLMGenerator(provider, newValidator(t), Options{Model: "m"})

	data, err := gen.Generate(context.Background(), Request{Kind: KindBackground, SessionID: "s-1"})
	require.NoError(t, err)

	var bg models.Background
	require.NoError(t, json.Unmarshal(data, &bg))
	assert.Equal(t, "A sunken bell tolls", bg.Premise)
	assert.True(t, provider.last.JSONMode)
	assert.Equal(t, "m", provider.last.Model)
	assert.Contains(t, provider.last.SystemPrompt, "premise")
}

func TestLLMGeneratorWrapsBareCharacterList(t *testing.T) {
	provider := &stubProvider{text: `[{"name":"Ava","role":"scout"}]`}
	gen := NewLLMGenerator(provider, newValidator(t), Options{})

	data, err := gen.Generate(context.Background(), Request{Kind: KindCharacters})
	require.NoError(t, err)
	assert.JSONEq(t, `{"characters":[{"name":"Ava","role":"scout"}]}`, string(data))
}

func TestLLMGeneratorFailures(t *testing.T) {
	v := newValidator(t)

	gen := NewLLMGenerator(&stubProvider{text: `{"stakes":["no premise"]}`}, v, Options{})
	_, err := gen.Generate(context.Background(), Request{Kind: KindBackground})
	assert.True(t, apperrors.IsGenerationFailure(err))

	gen = NewLLMGenerator(&stubProvider{text: "I cannot do that"}, v, Options{})
	_, err = gen.Generate(context.Background(), Request{Kind: KindMacroChain})
	assert.True(t, apperrors.IsGenerationFailure(err))

	gen = NewLLMGenerator(&stubProvider{err: errors.New("boom")}, v, Options{})
	_, err = gen.Generate(context.Background(), Request{Kind: KindSceneDetail})
	assert.True(t, apperrors.IsGenerationFailure(err))

	_, err = gen.Generate(context.Background(), Request{Kind: "poem"})
	assert.True(t, apperrors.IsValidationError(err))
}

func TestValidatorSceneDetail(t *testing.T) {
	v := newValidator(t)
	assert.NoError(t, v.Validate(KindSceneDetail, []byte(`{"title":"t","contextOut":{"keyEvents":["a"],"plotThreads":[{"thread_id":"p1"}]}}`)))
	assert.Error(t, v.Validate(KindSceneDetail, []byte(`{"title":"t"}`)))
	assert.Error(t, v.Validate(KindSceneDetail, []byte(`{"title":"t","contextOut":{"keyEvents":"not a list"}}`)))
	assert.Error(t, v.Validate(KindMacroChain, []byte(`{"scenes":[]}`)))
}

func TestOfflineGeneratorProducesValidContent(t *testing.T) {
	gen := NewOfflineGenerator(newValidator(t), 3)

	for _, kind := range []Kind{KindBackground, KindCharacters, KindMacroChain} {
		_, err := gen.Generate(context.Background(), Request{Kind: kind})
		require.NoError(t, err, kind)
	}

	data, err := gen.Generate(context.Background(), Request{
		Kind:  KindSceneDetail,
		Scene: &models.MacroScene{ID: "scene-2", Order: 2, Title: "Scene 2"},
	})
	require.NoError(t, err)
	var detail models.SceneDetail
	require.NoError(t, json.Unmarshal(data, &detail))
	assert.Equal(t, []string{"Scene 2 resolved"}, detail.ContextOut.KeyEvents)

	_, err = gen.Generate(context.Background(), Request{Kind: KindSceneDetail})
	assert.True(t, apperrors.IsGenerationFailure(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gen.Generate(ctx, Request{Kind: KindBackground})
	assert.True(t, apperrors.IsGenerationFailure(err))
}
