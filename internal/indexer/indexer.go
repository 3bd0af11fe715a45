// Package indexer discovers SKILL.md files under the configured sources
// and keeps the store's skill index in sync. Passes are incremental: a
// file whose content hash matches the stored hash is skipped without
// touching the embedding engine.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"skillsense/internal/config"
	"skillsense/internal/embedding"
	"skillsense/internal/logging"
	"skillsense/internal/skill"
	"skillsense/internal/store"
)

// embedConcurrency bounds parallel parse+embed work per pass.
const embedConcurrency = 4

// Mode selects how aggressive an index pass is.
type Mode int

const (
	// ModeDefault re-embeds changed files and prunes deleted ones.
	ModeDefault Mode = iota
	// ModeFull re-embeds every file regardless of stored hashes.
	ModeFull
	// ModeQuick re-embeds changed files but skips the deletion scan.
	ModeQuick
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeQuick:
		return "quick"
	default:
		return "default"
	}
}

// IndexError reports a single file that failed during a pass. Failures
// are isolated: one bad file never aborts the pass.
type IndexError struct {
	Path string
	Err  error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s: %v", e.Path, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// IsIndexError reports whether err carries an IndexError.
func IsIndexError(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie)
}

// Report summarizes one index pass.
type Report struct {
	PassID   string
	Mode     Mode
	Indexed  int
	Skipped  int
	Removed  int
	Failed   int
	Failures []IndexError
	Duration time.Duration
}

// Indexer runs index passes over the configured skill sources.
type Indexer struct {
	store    *store.Store
	embedder embedding.Engine
	sources  []config.Source
}

// New builds an indexer. The embedder may be nil, in which case skills
// are indexed without embeddings and similarity search will not rank
// them.
func New(st *store.Store, embedder embedding.Engine, sources []config.Source) *Indexer {
	return &Indexer{store: st, embedder: embedder, sources: sources}
}

// Index runs one pass and returns its report. The context cancels the
// pass between files; completed per-file writes are never rolled back.
func (ix *Indexer) Index(ctx context.Context, mode Mode) (*Report, error) {
	start := time.Now()
	report := &Report{PassID: uuid.NewString(), Mode: mode}

	logging.Index("Pass %s started (mode=%s, sources=%d)", report.PassID, mode, len(ix.sources))

	found, err := ix.discover()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for path, kind := range found {
		path, kind := path, kind
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, ferr := ix.indexFile(gctx, path, kind, mode)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case ferr != nil:
				report.Failed++
				report.Failures = append(report.Failures, IndexError{Path: path, Err: ferr})
				logging.Get(logging.CategoryIndex).Error("Failed to index %s: %v", path, ferr)
			case outcome == outcomeSkipped:
				report.Skipped++
			default:
				report.Indexed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if mode != ModeQuick {
		removed, err := ix.prune(found)
		if err != nil {
			return report, err
		}
		report.Removed = removed
	}

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Path < report.Failures[j].Path
	})

	report.Duration = time.Since(start)
	logging.Index("Pass %s finished: indexed=%d skipped=%d removed=%d failed=%d in %s",
		report.PassID, report.Indexed, report.Skipped, report.Removed, report.Failed, report.Duration)
	return report, nil
}

// discover walks every source directory collecting SKILL.md paths mapped
// to their source kind.
func (ix *Indexer) discover() (map[string]store.SkillSource, error) {
	found := map[string]store.SkillSource{}
	for _, src := range ix.sources {
		root, err := filepath.Abs(src.Path)
		if err != nil {
			return nil, err
		}
		kind := sourceKind(src.Kind)

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Missing source roots are tolerated; anything else is
				// logged and skipped.
				if os.IsNotExist(err) {
					return fs.SkipDir
				}
				logging.Get(logging.CategoryIndex).Warn("Walk error at %s: %v", path, err)
				return nil
			}
			if d.IsDir() && d.Name() == ".git" {
				return fs.SkipDir
			}
			if !d.IsDir() && d.Name() == skill.FileName {
				found[path] = kind
			}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	logging.IndexDebug("Discovered %d skill files", len(found))
	return found, nil
}

type fileOutcome int

const (
	outcomeIndexed fileOutcome = iota
	outcomeSkipped
)

// indexFile hashes one file, skips it when unchanged, otherwise parses,
// embeds, and upserts it.
func (ix *Indexer) indexFile(ctx context.Context, path string, kind store.SkillSource, mode Mode) (fileOutcome, error) {
	now := time.Now().UTC()

	digest, err := skill.HashFile(path)
	if err != nil {
		return 0, err
	}

	if mode != ModeFull {
		prev, err := ix.store.GetFileHash(path)
		if err != nil {
			return 0, err
		}
		if prev != nil && prev.ContentHash == digest {
			if err := ix.store.TouchFileHash(path, now); err != nil {
				return 0, err
			}
			logging.IndexDebug("Unchanged: %s", path)
			return outcomeSkipped, nil
		}
	}

	parsed, err := skill.Parse(path)
	if err != nil {
		return 0, err
	}

	var vec []float64
	if ix.embedder != nil {
		raw, err := ix.embedder.Embed(ctx, parsed.EmbeddingText())
		if err != nil {
			return 0, fmt.Errorf("embedding failed: %w", err)
		}
		vec = embedding.ToFloat64(raw)
	}

	rec := &store.Skill{
		ID:          skill.ID(parsed.Path),
		Name:        parsed.Name,
		Path:        parsed.Path,
		Description: parsed.Description,
		Embedding:   vec,
		Metadata:    parsed.Metadata,
		ContentHash: parsed.ContentHash,
		IndexedAt:   now,
		Source:      kind,
	}
	if err := ix.store.UpsertSkill(rec); err != nil {
		return 0, err
	}
	logging.IndexDebug("Indexed %s as %s (%q)", path, rec.ID, rec.Name)
	return outcomeIndexed, nil
}

// prune removes index records for every stored path the current scan did
// not see, whether the file was deleted or its source dropped from config.
func (ix *Indexer) prune(seen map[string]store.SkillSource) (int, error) {
	known, err := ix.store.ListFileHashPaths()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range known {
		if _, ok := seen[path]; ok {
			continue
		}
		gone, err := ix.store.RemoveSkillByPath(path)
		if err != nil {
			return removed, err
		}
		if gone {
			removed++
			logging.Index("Pruned skill record for %s", path)
		}
	}
	return removed, nil
}

func sourceKind(kind string) store.SkillSource {
	switch kind {
	case string(store.SourceUser):
		return store.SourceUser
	case string(store.SourcePlugin):
		return store.SourcePlugin
	default:
		return store.SourceProject
	}
}
