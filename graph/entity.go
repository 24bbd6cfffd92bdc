// Package graph turns document chunks into entity and relationship
// candidates, either through an LLM or through deterministic rules.
package graph

import (
	"context"

	"github.com/brunobiangulo/akg/resolve"
)

// Entity types emitted by the rule extractor.
const (
	TypePerson       = "PERSON"
	TypeOrganization = "ORGANIZATION"
	TypeProject      = "PROJECT"
	TypeMeeting      = "MEETING"
	TypePolicy       = "POLICY"
	TypeDate         = "DATE"
	TypeLocation     = "LOCATION"
)

// Extraction methods recorded in candidate properties.
const (
	MethodLLM          = "llm"
	MethodPattern      = "pattern_matching"
	MethodNER          = "ner"
	MethodProximity    = "proximity_based"
	MethodCooccurrence = "cross_chunk_cooccurrence"
)

// Chunk is one unit of text handed to an Extractor.
type Chunk struct {
	DocumentID   string
	Index        int
	Title        string
	DocumentType string
	Domain       string
	Text         string
}

// Extraction is the candidate output for a chunk. Relationship endpoints
// are entity names, resolved later by the reconciler.
type Extraction struct {
	Entities      []resolve.EntityCandidate
	Relationships []resolve.RelationshipCandidate
	Method        string
}

// Extractor produces candidates from a chunk.
type Extractor interface {
	Extract(ctx context.Context, c Chunk) (*Extraction, error)
}

// TypeGuide lists the labels already known to the graph so an extractor
// can steer towards reuse.
type TypeGuide interface {
	Labels(ns resolve.Namespace) []string
}
