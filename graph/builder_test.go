package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/akg/llm"
	"github.com/brunobiangulo/akg/resolve"
)

type fakeChat struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	formats []string
}

func (f *fakeChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range req.Messages {
		f.prompts = append(f.prompts, m.Content)
	}
	f.formats = append(f.formats, req.ResponseFormat)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.reply}, nil
}

func (f *fakeChat) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

type fakeGuide map[resolve.Namespace][]string

func (g fakeGuide) Labels(ns resolve.Namespace) []string { return g[ns] }

const longText = "Alice Johnson leads the platform team and reports to the board on the migration plan every quarter."

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantEntities  int
		wantRelations int
		wantErr       bool
	}{
		{
			name:         "plain object",
			input:        `{"entities":[{"name":"Acme","type":"ORGANIZATION"}],"relationships":[]}`,
			wantEntities: 1,
		},
		{
			name:         "fenced code block",
			input:        "```json\n{\"entities\":[{\"name\":\"Acme\",\"type\":\"ORGANIZATION\"}]}\n```",
			wantEntities: 1,
		},
		{
			name:  "text around the object",
			input: `Sure! {"entities":[],"relationships":[]} hope this helps`,
		},
		{
			name:          "alternative key names",
			input:         `{"entities":[{"entity":"Acme","entity_type":"ORG"}],"relationships":[{"source":"A","target":"B","relation_type":"OWNS"}]}`,
			wantEntities:  1,
			wantRelations: 1,
		},
		{
			name:          "entries without names are dropped",
			input:         `{"entities":[{"type":"X"},{"name":"  "}],"relationships":[{"source_entity":"A","type":"OWNS"}]}`,
			wantEntities:  0,
			wantRelations: 0,
		},
		{
			name:    "invalid json",
			input:   `{not valid json`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := parseExtraction(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Len(t, ext.Entities, tt.wantEntities)
			assert.Len(t, ext.Relationships, tt.wantRelations)
			assert.Equal(t, MethodLLM, ext.Method)
		})
	}
}

func TestParseExtractionFields(t *testing.T) {
	ext, err := parseExtraction(`{
		"entities": [
			{"name": " IBM ", "type": "ORGANIZATION", "aliases": ["Big Blue", ""], "properties": {"hq": "Armonk"}, "confidence": 1.4},
			{"name": "Watson", "type": "PRODUCT"}
		],
		"relationships": [
			{"source_entity": "IBM", "target_entity": "Watson", "type": "BUILDS", "weight": -1}
		]
	}`)
	require.NoError(t, err)
	require.Len(t, ext.Entities, 2)

	ibm := ext.Entities[0]
	assert.Equal(t, "IBM", ibm.Name)
	assert.Equal(t, []string{"Big Blue"}, ibm.Aliases)
	assert.Equal(t, 1.0, ibm.Confidence, "confidence is clamped")
	assert.Equal(t, "Armonk", ibm.Properties["hq"])
	assert.Equal(t, MethodLLM, ibm.Properties["extraction_method"])

	assert.Equal(t, defaultConfidence, ext.Entities[1].Confidence, "missing confidence uses the default")

	require.Len(t, ext.Relationships, 1)
	rel := ext.Relationships[0]
	assert.Equal(t, "IBM", rel.Source)
	assert.Equal(t, "Watson", rel.Target)
	assert.Equal(t, "BUILDS", rel.Type)
	assert.Equal(t, 0.0, rel.Confidence)
}

func TestPreExtractIdentifiers(t *testing.T) {
	ids := preExtractIdentifiers("Certified to ISO 27001 on 2024-01-31, budget $1,200 and 10% margin. iso 27001 again.")
	assert.Contains(t, ids, "ISO 27001")
	assert.Contains(t, ids, "2024-01-31")
	assert.Contains(t, ids, "$1,200")
	assert.Contains(t, ids, "10%")
}

func TestLLMExtractor(t *testing.T) {
	chat := &fakeChat{reply: `{"entities":[{"name":"Alice Johnson","type":"PERSON","confidence":0.95}],
		"relationships":[{"source_entity":"Alice Johnson","target_entity":"Platform Team","type":"LEADS"}]}`}
	guide := fakeGuide{
		resolve.NamespaceEntity:       {"PERSON", "ORGANIZATION"},
		resolve.NamespaceRelationship: {"MANAGES"},
	}
	x := NewLLMExtractor(chat, guide, 0)

	ext, err := x.Extract(context.Background(), Chunk{DocumentID: "d1", Title: "Org chart", DocumentType: "internal", Text: longText})
	require.NoError(t, err)
	require.Len(t, ext.Entities, 1)
	assert.Equal(t, 0.95, ext.Entities[0].Confidence)
	require.Len(t, ext.Relationships, 1)
	assert.Equal(t, "LEADS", ext.Relationships[0].Type)

	require.Len(t, chat.prompts, 1)
	prompt := chat.prompts[0]
	assert.Contains(t, prompt, "Existing entity types in the knowledge graph: ORGANIZATION, PERSON")
	assert.Contains(t, prompt, "Existing relationship types in the knowledge graph: MANAGES")
	assert.Contains(t, prompt, "DOCUMENT TITLE: Org chart")
	assert.Contains(t, prompt, "DOMAIN: general")
	assert.Contains(t, prompt, longText)
	assert.Equal(t, []string{"json_object"}, chat.formats)
	assert.Equal(t, []string{"PERSON", "ORGANIZATION"}, guide[resolve.NamespaceEntity], "guide labels are not reordered")
}

func TestLLMExtractorWithoutTypes(t *testing.T) {
	chat := &fakeChat{reply: `{"entities":[]}`}
	_, err := NewLLMExtractor(chat, nil, 60).Extract(context.Background(), Chunk{Text: longText})
	require.NoError(t, err)
	require.Len(t, chat.prompts, 1)
	assert.Contains(t, chat.prompts[0], "No existing entity types found.")
}

func TestLLMExtractorSkipsTrivialChunks(t *testing.T) {
	chat := &fakeChat{reply: `{}`}
	ext, err := NewLLMExtractor(chat, nil, 0).Extract(context.Background(), Chunk{Text: "Table of contents"})
	require.NoError(t, err)
	assert.Empty(t, ext.Entities)
	assert.Empty(t, chat.prompts, "no model call for a trivial chunk")
}

func TestLLMExtractorErrors(t *testing.T) {
	t.Run("chat failure is wrapped", func(t *testing.T) {
		boom := errors.New("connection refused")
		_, err := NewLLMExtractor(&fakeChat{err: boom}, nil, 0).Extract(context.Background(), Chunk{Text: longText})
		require.ErrorIs(t, err, boom)
	})
	t.Run("malformed reply", func(t *testing.T) {
		_, err := NewLLMExtractor(&fakeChat{reply: "I cannot help with that."}, nil, 0).Extract(context.Background(), Chunk{Text: longText})
		require.ErrorIs(t, err, ErrMalformedResponse)
	})
	t.Run("cancelled while waiting for the limiter", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		chat := &fakeChat{reply: `{}`}
		_, err := NewLLMExtractor(chat, nil, 1).Extract(ctx, Chunk{Text: longText})
		require.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, chat.prompts)
	})
}

type funcExtractor func(ctx context.Context, c Chunk) (*Extraction, error)

func (f funcExtractor) Extract(ctx context.Context, c Chunk) (*Extraction, error) { return f(ctx, c) }

func TestChain(t *testing.T) {
	ok := funcExtractor(func(context.Context, Chunk) (*Extraction, error) {
		return &Extraction{Method: MethodPattern}, nil
	})
	primaryErr := errors.New("model down")
	failing := funcExtractor(func(context.Context, Chunk) (*Extraction, error) { return nil, primaryErr })

	t.Run("primary result is used when it succeeds", func(t *testing.T) {
		llmOK := funcExtractor(func(context.Context, Chunk) (*Extraction, error) {
			return &Extraction{Method: MethodLLM}, nil
		})
		ext, err := (&Chain{Primary: llmOK, Fallback: ok}).Extract(context.Background(), Chunk{})
		require.NoError(t, err)
		assert.Equal(t, MethodLLM, ext.Method)
	})
	t.Run("fallback runs on primary error", func(t *testing.T) {
		ext, err := (&Chain{Primary: failing, Fallback: ok}).Extract(context.Background(), Chunk{})
		require.NoError(t, err)
		assert.Equal(t, MethodPattern, ext.Method)
	})
	t.Run("no fallback on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		fb := funcExtractor(func(context.Context, Chunk) (*Extraction, error) {
			called = true
			return &Extraction{}, nil
		})
		_, err := (&Chain{Primary: failing, Fallback: fb}).Extract(ctx, Chunk{})
		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
	t.Run("both failures are reported", func(t *testing.T) {
		fbErr := errors.New("rules broke")
		fb := funcExtractor(func(context.Context, Chunk) (*Extraction, error) { return nil, fbErr })
		_, err := (&Chain{Primary: failing, Fallback: fb}).Extract(context.Background(), Chunk{})
		require.ErrorIs(t, err, primaryErr)
		require.ErrorIs(t, err, fbErr)
	})
	t.Run("nil primary goes straight to fallback", func(t *testing.T) {
		ext, err := (&Chain{Fallback: ok}).Extract(context.Background(), Chunk{})
		require.NoError(t, err)
		assert.Equal(t, MethodPattern, ext.Method)
	})
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.GreaterOrEqual(t, estimateTokens(strings.Repeat("word ", 10)), 13)
}
