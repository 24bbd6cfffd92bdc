package graph

import (
	"context"
	"errors"
	"log/slog"
)

// Chain runs Primary and falls back to Fallback when Primary fails. A
// cancelled context is returned as is, without falling back.
type Chain struct {
	Primary  Extractor
	Fallback Extractor
	Log      *slog.Logger
}

// Extract implements Extractor.
func (c *Chain) Extract(ctx context.Context, ch Chunk) (*Extraction, error) {
	if c.Primary == nil {
		return c.Fallback.Extract(ctx, ch)
	}
	ext, err := c.Primary.Extract(ctx, ch)
	if err == nil || c.Fallback == nil {
		return ext, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("graph: primary extractor failed, using fallback",
		"document", ch.DocumentID, "chunk", ch.Index, "error", err)
	fb, ferr := c.Fallback.Extract(ctx, ch)
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return fb, nil
}
