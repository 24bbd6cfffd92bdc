package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/brunobiangulo/akg/llm"
	"github.com/brunobiangulo/akg/resolve"
)

// ErrMalformedResponse is returned when the model's reply holds no usable JSON.
var ErrMalformedResponse = errors.New("graph: malformed extraction response")

// estimateTokens approximates token count using a word-based heuristic.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// minChunkTokens skips chunks below this threshold (headers, TOC lines, etc.)
const minChunkTokens = 8

// defaultConfidence applies when the model omits a confidence value.
const defaultConfidence = 0.7

// extractionPrompt asks for entities and relationships in one JSON object.
// Arguments: type guidance, identifier hints, title, type, domain, text.
const extractionPrompt = `You are an AI assistant specialized in extracting structured knowledge from documents.
Analyze the following text and extract entities and relationships in JSON format.

TYPE GUIDANCE:
%s
%s
DOCUMENT TITLE: %s
DOCUMENT TYPE: %s
DOMAIN: %s

INSTRUCTIONS:
1. Extract every named entity clearly supported by the text.
2. Use the actual verbs of the text as relationship types, in upper snake case: "creates" -> "CREATES", "is responsible for" -> "RESPONSIBLE_FOR".
3. Replace pronouns ("we", "you", "they") with the entity they refer to. Never emit a bare pronoun as an entity.
4. Use confidence scores from 0.0 to 1.0 based on how directly the text states the fact.
5. Include aliases for entities when the text uses more than one name.
6. Prefer existing types when they fit; create new types only when needed.

RESPONSE FORMAT (JSON only):
{"entities": [{"name": "Entity Name", "type": "ENTITY_TYPE", "aliases": ["alias"], "properties": {"key": "value"}, "confidence": 0.9}],
 "relationships": [{"source_entity": "Source Name", "target_entity": "Target Name", "type": "RELATIONSHIP_TYPE", "properties": {"context": "..."}, "confidence": 0.8}]}

Only respond with valid JSON. Do not include any other text.

TEXT:
%s`

// ---------------------------------------------------------------------------
// Regex patterns for pre-extracting identifiers from text. They are fed as
// hints so the model does not skip structured values.
// ---------------------------------------------------------------------------
var (
	// Standards: ISO 27001, EN 1366-2, IEC 61850, MIL-STD-810
	reStandard = regexp.MustCompile(`\b(?:ISO|EN|IEC|MIL-STD|ASTM|IEEE|NIST|BS)\s*[-]?\s*\d[\w.-]*`)
	// Model numbers: AV-FM, GPT-4 style codes
	reModelNumber = regexp.MustCompile(`\b[A-Z]{2,4}-[A-Z0-9]{1,4}\b`)
	// Amounts: $1,200, €30.5M, 10%
	reAmount = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?\s?[KMB]?\b|\b\d+(?:\.\d+)?%`)
	// ISO dates
	reISODate = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
)

// preExtractIdentifiers returns the distinct identifiers found in text.
func preExtractIdentifiers(text string) []string {
	seen := make(map[string]bool)
	var identifiers []string
	for _, p := range []*regexp.Regexp{reStandard, reModelNumber, reAmount, reISODate} {
		for _, m := range p.FindAllString(text, -1) {
			m = strings.TrimSpace(m)
			key := strings.ToLower(m)
			if m != "" && !seen[key] {
				seen[key] = true
				identifiers = append(identifiers, m)
			}
		}
	}
	return identifiers
}

// LLMExtractor extracts candidates with a chat model in JSON mode.
type LLMExtractor struct {
	chat    llm.Provider
	types   TypeGuide
	limiter *rate.Limiter
	timeout time.Duration
	log     *slog.Logger
}

// LLMOption customises an LLMExtractor.
type LLMOption func(*LLMExtractor)

// WithLLMLogger sets the extractor's logger.
func WithLLMLogger(l *slog.Logger) LLMOption {
	return func(x *LLMExtractor) { x.log = l }
}

// WithChunkTimeout caps a single extraction call.
func WithChunkTimeout(d time.Duration) LLMOption {
	return func(x *LLMExtractor) { x.timeout = d }
}

// NewLLMExtractor creates an extractor. requestsPerMinute <= 0 disables
// throttling. types may be nil.
func NewLLMExtractor(chat llm.Provider, types TypeGuide, requestsPerMinute int, opts ...LLMOption) *LLMExtractor {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	x := &LLMExtractor{
		chat:    chat,
		types:   types,
		limiter: rate.NewLimiter(limit, 1),
		timeout: 90 * time.Second,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Extract implements Extractor.
func (x *LLMExtractor) Extract(ctx context.Context, c Chunk) (*Extraction, error) {
	if estimateTokens(c.Text) < minChunkTokens {
		x.log.Debug("graph: skipping trivial chunk", "document", c.DocumentID, "chunk", c.Index,
			"tokens", estimateTokens(c.Text))
		return &Extraction{Method: MethodLLM}, nil
	}
	if err := x.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("graph.LLMExtractor: waiting for rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	start := time.Now()
	resp, err := x.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: x.prompt(c)}},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("graph.LLMExtractor: chat: %w", err)
	}

	ext, err := parseExtraction(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("graph.LLMExtractor: %w", err)
	}
	x.log.Debug("graph: chunk extracted", "document", c.DocumentID, "chunk", c.Index,
		"entities", len(ext.Entities), "relationships", len(ext.Relationships),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return ext, nil
}

func (x *LLMExtractor) prompt(c Chunk) string {
	var guide strings.Builder
	guide.WriteString(typeGuidance("entity", x.labels(resolve.NamespaceEntity)))
	guide.WriteString(typeGuidance("relationship", x.labels(resolve.NamespaceRelationship)))

	var hints string
	if ids := preExtractIdentifiers(c.Text); len(ids) > 0 {
		hints = fmt.Sprintf("HINTS: The following identifiers were detected in the text. Include them as entities when relevant:\n%s\n",
			strings.Join(ids, ", "))
	}
	domain := c.Domain
	if domain == "" {
		domain = "general"
	}
	return fmt.Sprintf(extractionPrompt, guide.String(), hints, c.Title, c.DocumentType, domain, c.Text)
}

func (x *LLMExtractor) labels(ns resolve.Namespace) []string {
	if x.types == nil {
		return nil
	}
	out := append([]string(nil), x.types.Labels(ns)...)
	sort.Strings(out)
	return out
}

func typeGuidance(kind string, labels []string) string {
	if len(labels) == 0 {
		return fmt.Sprintf("No existing %s types found. Create appropriate types based on the content.\n", kind)
	}
	return fmt.Sprintf("Existing %s types in the knowledge graph: %s\nReuse these types when appropriate.\n",
		kind, strings.Join(labels, ", "))
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON attempts to find a valid JSON object in the LLM response text.
// It handles common LLM quirks: markdown code blocks, text before/after JSON.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") && gjson.Valid(raw) {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start && gjson.Valid(raw[start:end+1]) {
		return raw[start : end+1], nil
	}
	return "", ErrMalformedResponse
}

// parseExtraction reads the model's JSON leniently: alternative key names
// are accepted and entries without names are dropped.
func parseExtraction(raw string) (*Extraction, error) {
	js, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	root := gjson.Parse(js)
	ext := &Extraction{Method: MethodLLM}

	root.Get("entities").ForEach(func(_, e gjson.Result) bool {
		name := strings.TrimSpace(first(e, "name", "entity").String())
		if name == "" {
			return true
		}
		ext.Entities = append(ext.Entities, resolve.EntityCandidate{
			Name:       name,
			Type:       strings.TrimSpace(first(e, "type", "entity_type").String()),
			Aliases:    stringArray(e.Get("aliases")),
			Properties: withMethod(objectValue(e.Get("properties")), MethodLLM),
			Confidence: confidence(e),
		})
		return true
	})

	root.Get("relationships").ForEach(func(_, r gjson.Result) bool {
		src := strings.TrimSpace(first(r, "source_entity", "source").String())
		tgt := strings.TrimSpace(first(r, "target_entity", "target").String())
		if src == "" || tgt == "" {
			return true
		}
		ext.Relationships = append(ext.Relationships, resolve.RelationshipCandidate{
			Source:     src,
			Target:     tgt,
			Type:       strings.TrimSpace(first(r, "type", "relation_type", "relationship_type").String()),
			Properties: withMethod(objectValue(r.Get("properties")), MethodLLM),
			Confidence: confidence(r),
		})
		return true
	})
	return ext, nil
}

func first(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.String() != "" {
			return v
		}
	}
	return gjson.Result{}
}

func confidence(r gjson.Result) float64 {
	v := first(r, "confidence", "weight")
	if !v.Exists() {
		return defaultConfidence
	}
	c := v.Float()
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func stringArray(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	var out []string
	for _, v := range r.Array() {
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func objectValue(r gjson.Result) map[string]any {
	if !r.IsObject() {
		return nil
	}
	m, _ := r.Value().(map[string]interface{})
	return m
}

func withMethod(props map[string]any, method string) map[string]any {
	if props == nil {
		props = make(map[string]any, 1)
	}
	props["extraction_method"] = method
	return props
}
