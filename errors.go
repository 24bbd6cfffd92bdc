package akg

import "errors"

var (
	// ErrInvalidConfig is returned when configuration fails validation.
	ErrInvalidConfig = errors.New("akg: invalid configuration")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("akg: unsupported document format")

	// ErrParsingFailed is returned when document parsing fails.
	ErrParsingFailed = errors.New("akg: parsing failed")

	// ErrDocumentUnchanged is returned by Ingest when the file hash matches
	// the stored one. The result still carries the document id.
	ErrDocumentUnchanged = errors.New("akg: document unchanged")

	// ErrLLMUnavailable is returned when the LLM provider is unreachable
	// and no fallback extractor is configured.
	ErrLLMUnavailable = errors.New("akg: LLM provider unavailable")

	// ErrSweepInProgress is returned when another pronoun sweep holds the lock.
	ErrSweepInProgress = errors.New("akg: pronoun sweep already in progress")

	// ErrStoreClosed is returned by engine calls made after Close.
	ErrStoreClosed = errors.New("akg: store closed")
)
