// Package ingest drives uploaded files from Uploaded to Completed or
// Failed: load bytes, extract text, split, index.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bull/docqa-server/internal/docloader"
	"github.com/bull/docqa-server/internal/registry"
	"github.com/bull/docqa-server/internal/splitter"
	"github.com/bull/docqa-server/internal/vectorindex"
)

// Registry is the subset of the file registry the pipeline mutates.
type Registry interface {
	FirstByStatus(ctx context.Context, status registry.Status) (*registry.FileRecord, error)
	SetStatus(ctx context.Context, id int64, status registry.Status) error
}

// ByteStore reads stored upload bytes by filename.
type ByteStore interface {
	Read(name string) ([]byte, error)
}

// Indexer writes chunk documents into the per-file collection.
type Indexer interface {
	Upsert(ctx context.Context, key string, docs []vectorindex.Document) error
}

// Invalidator drops cached retrievals for a file.
type Invalidator interface {
	Invalidate(uid string)
}

// Pipeline processes one claimed file end to end. Every stage returns an
// explicit error; any stage failure resolves the record to Failed. A
// claimed record always reaches a terminal status before the run
// returns, even if a stage panics.
type Pipeline struct {
	registry Registry
	files    ByteStore
	loader   docloader.Loader
	splitter *splitter.Splitter
	index    Indexer
	cache    Invalidator
	logger   *slog.Logger
}

// NewPipeline wires the ingestion stages. cache may be nil when no
// retrieval cache is attached.
func NewPipeline(
	reg Registry,
	files ByteStore,
	loader docloader.Loader,
	split *splitter.Splitter,
	index Indexer,
	cache Invalidator,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry: reg,
		files:    files,
		loader:   loader,
		splitter: split,
		index:    index,
		cache:    cache,
		logger:   logger,
	}
}

// RunOnce claims at most one Uploaded file and processes it. The claim
// (Uploaded -> Processing) commits before any work starts, which is what
// prevents double-processing. Returns whether a file was claimed; the
// error covers only the selection/claim phase, a processing failure is
// resolved into status Failed instead of being returned.
func (p *Pipeline) RunOnce(ctx context.Context) (bool, error) {
	rec, err := p.registry.FirstByStatus(ctx, registry.StatusUploaded)
	if err != nil {
		return false, fmt.Errorf("select pending file: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	if err := p.registry.SetStatus(ctx, rec.ID, registry.StatusProcessing); err != nil {
		return false, fmt.Errorf("claim %s: %w", rec.UID, err)
	}
	p.logger.Info("processing file", "name", rec.Name, "uid", rec.UID)

	// Reprocessing a uid must not serve retrievals cached against the
	// previous index contents.
	if p.cache != nil {
		p.cache.Invalidate(rec.UID)
	}

	p.process(ctx, rec)
	return true, nil
}

// terminalStatusTimeout bounds the status write that resolves a claimed
// record out of Processing.
const terminalStatusTimeout = 5 * time.Second

// process runs the ingestion stages and commits the terminal status.
func (p *Pipeline) process(ctx context.Context, rec *registry.FileRecord) {
	status := registry.StatusFailed
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic during ingestion", "uid", rec.UID, "panic", r)
			status = registry.StatusFailed
		}
		// The terminal write must survive cancellation of the run's
		// context, or a shutdown mid-run strands the record in
		// Processing.
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalStatusTimeout)
		defer cancel()
		if err := p.registry.SetStatus(commitCtx, rec.ID, status); err != nil {
			p.logger.Error("failed to commit terminal status",
				"uid", rec.UID, "status", status, "error", err)
		}
	}()

	chunks, err := p.ingest(ctx, rec)
	if err != nil {
		p.logger.Error("ingestion failed", "name", rec.Name, "uid", rec.UID, "error", err)
		return
	}
	status = registry.StatusCompleted
	p.logger.Info("file processed", "name", rec.Name, "uid", rec.UID, "chunks", chunks)
}

// ingest runs the load, extract, split, and upsert stages in order.
// Returns the number of chunks indexed.
func (p *Pipeline) ingest(ctx context.Context, rec *registry.FileRecord) (int, error) {
	data, err := p.files.Read(rec.Name)
	if err != nil {
		return 0, fmt.Errorf("load bytes: %w", err)
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("file %s is empty", rec.Name)
	}

	pages, err := p.loader.Load(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("extract text: %w", err)
	}
	if len(pages) == 0 {
		return 0, fmt.Errorf("no text extracted from %s", rec.Name)
	}

	units := make([]splitter.Unit, len(pages))
	for i, page := range pages {
		units[i] = splitter.Unit{Text: page.Text, Page: page.Number}
	}
	chunks := p.splitter.Split(units)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no chunks produced for %s", rec.Name)
	}

	docs := make([]vectorindex.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = vectorindex.Document{
			Key:  fmt.Sprintf("%s_chunk_%d", rec.UID, i),
			Text: c.Text,
			Meta: vectorindex.ChunkMeta{
				Page:       c.Page,
				Source:     rec.Name,
				ChunkIndex: i,
			},
		}
	}

	if err := p.index.Upsert(ctx, rec.UID, docs); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	return len(docs), nil
}
