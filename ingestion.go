package ragbase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/siherrmann/ragbase/core/pipeline"
	"github.com/siherrmann/ragbase/helper"
	"github.com/siherrmann/ragbase/model"
)

// IngestOptions configures a directory ingestion run
type IngestOptions struct {
	// Patterns are doublestar glob patterns relative to the directory,
	// for example "**/*.md". Defaults to "**/*.txt" and "**/*.md".
	Patterns []string
	// CleanBeforeIngest deletes all existing documents before ingesting
	CleanBeforeIngest bool
	// Extractor converts files to text, defaults to PlainTextExtractor
	Extractor pipeline.Extractor
	// Progress is called after every file with the number of processed
	// files and the total. Useful for progress bars, may be nil.
	Progress func(done int, total int)
}

// IngestionResult records the outcome of a single file
type IngestionResult struct {
	Path        string     `json:"path"`
	DocumentRID *uuid.UUID `json:"document_rid,omitempty"`
	Chunks      int        `json:"chunks"`
	ChunkErrors int        `json:"chunk_errors"`
	Err         error      `json:"-"`
}

// IngestionSummary aggregates an ingestion run. A failed file never aborts
// the run, its error is recorded and the run continues.
type IngestionSummary struct {
	Processed     int               `json:"processed"`
	Succeeded     int               `json:"succeeded"`
	Failed        int               `json:"failed"`
	ChunksCreated int               `json:"chunks_created"`
	Results       []IngestionResult `json:"results"`
}

var defaultIngestPatterns = []string{"**/*.txt", "**/*.md"}

// IngestDirectory discovers files under dir matching the glob patterns and
// processes each into an embedded, persisted document. Files are handled in
// sorted order so runs are deterministic.
func (r *RagBase) IngestDirectory(ctx context.Context, dir string, opts IngestOptions) (*IngestionSummary, error) {
	if r.Pipeline == nil {
		return nil, helper.NewError("ingest directory", fmt.Errorf("pipeline not set, use SetPipeline() first"))
	}

	patterns := opts.Patterns
	if len(patterns) == 0 {
		patterns = defaultIngestPatterns
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = pipeline.PlainTextExtractor{}
	}

	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(fmt.Sprintf("%s/%s", dir, pattern))
		if err != nil {
			return nil, helper.NewValidationError("ingest directory", fmt.Errorf("invalid pattern %q: %w", pattern, err))
		}
		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				files = append(files, match)
			}
		}
	}
	sort.Strings(files)

	if opts.CleanBeforeIngest {
		deleted, err := r.Documents.DeleteAllDocuments()
		if err != nil {
			return nil, helper.NewError("clean before ingest", err)
		}
		r.log.Info("Cleaned existing documents", slog.Int64("deleted", deleted))
	}

	summary := &IngestionSummary{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return summary, helper.NewError("ingestion cancelled", err)
		}

		result := r.ingestFile(ctx, file, extractor)
		summary.Processed++
		if result.Err != nil {
			summary.Failed++
			r.log.Warn("Failed to ingest file",
				slog.String("path", file),
				slog.String("error", result.Err.Error()),
			)
		} else {
			summary.Succeeded++
			summary.ChunksCreated += result.Chunks
		}
		summary.Results = append(summary.Results, result)

		if opts.Progress != nil {
			opts.Progress(summary.Processed, len(files))
		}
	}

	r.log.Info("Ingestion finished",
		slog.Int("processed", summary.Processed),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int("chunks_created", summary.ChunksCreated),
	)

	return summary, nil
}

func (r *RagBase) ingestFile(ctx context.Context, path string, extractor pipeline.Extractor) IngestionResult {
	result := IngestionResult{Path: path}

	content, title, err := extractor.Extract(path)
	if err != nil {
		result.Err = helper.NewError("extract file", err)
		return result
	}

	doc := &model.Document{
		Title:   title,
		Source:  path,
		Content: content,
	}

	chunks, chunkErrors, err := r.ProcessAndInsertDocument(ctx, doc)
	if err != nil {
		result.Err = err
		return result
	}

	rid := doc.RID
	result.DocumentRID = &rid
	result.Chunks = chunks
	result.ChunkErrors = len(chunkErrors)
	return result
}
