package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/opensource-finance/cashwise/internal/domain"
)

// Source is one rule document to be loaded.
type Source struct {
	Name string
	Read func() ([]byte, error)
}

// SkippedSource records a document that was left out of the corpus.
type SkippedSource struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// LoadResult is a merged rule corpus.
type LoadResult struct {
	// Rules from every valid source, stable-sorted by priority.
	Rules []domain.CashbackRule

	// Files lists the sources that contributed rules, in input order.
	Files []string

	Skipped []SkippedSource

	// Fingerprint identifies the content of the readable sources.
	Fingerprint string
}

// Loader reads rule documents and merges them into one corpus.
// A document that cannot be read or validated is skipped as a whole.
type Loader struct {
	workers int
}

// NewLoader creates a loader that reads at most workers sources concurrently.
func NewLoader(workers int) *Loader {
	if workers <= 0 {
		workers = 4
	}
	return &Loader{workers: workers}
}

type sourceOutcome struct {
	data []byte
	file *domain.CashbackRulesFile
	err  error
}

// Load reads and validates every source and merges the valid ones.
// It never fails: bad sources are logged and reported in LoadResult.Skipped.
func (l *Loader) Load(ctx context.Context, sources []Source) *LoadResult {
	outcomes := make([]sourceOutcome, len(sources))

	var wg sync.WaitGroup
	sem := make(chan struct{}, l.workers)

	for i, src := range sources {
		wg.Add(1)
		go func(idx int, s Source) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			outcomes[idx] = loadSource(ctx, s)
		}(i, src)
	}

	wg.Wait()

	result := &LoadResult{Rules: []domain.CashbackRule{}}
	hash := sha256.New()

	for i, out := range outcomes {
		name := sources[i].Name

		if out.data != nil {
			hash.Write([]byte(name))
			hash.Write([]byte{0})
			hash.Write(out.data)
		}

		if out.err != nil {
			slog.Warn("skipping rule file", "file", name, "error", out.err)
			result.Skipped = append(result.Skipped, SkippedSource{Name: name, Error: out.err.Error()})
			continue
		}

		result.Files = append(result.Files, name)
		result.Rules = append(result.Rules, out.file.Rules...)
	}

	sort.SliceStable(result.Rules, func(i, j int) bool {
		return result.Rules[i].Priority < result.Rules[j].Priority
	})

	result.Fingerprint = hex.EncodeToString(hash.Sum(nil))
	return result
}

func loadSource(ctx context.Context, s Source) sourceOutcome {
	if err := ctx.Err(); err != nil {
		return sourceOutcome{err: err}
	}

	data, err := s.Read()
	if err != nil {
		return sourceOutcome{err: fmt.Errorf("failed to read %s: %w", s.Name, err)}
	}

	file, err := ParseRulesFile(data)
	if err != nil {
		return sourceOutcome{data: data, err: err}
	}

	return sourceOutcome{data: data, file: file}
}

// FileSources returns one source per path, in the given order.
func FileSources(paths []string) []Source {
	sources := make([]Source, 0, len(paths))
	for _, p := range paths {
		path := p
		sources = append(sources, Source{
			Name: path,
			Read: func() ([]byte, error) { return os.ReadFile(path) },
		})
	}
	return sources
}

// FSSources returns the files of fsys matching pattern, sorted by name.
func FSSources(fsys fs.FS, pattern string) ([]Source, error) {
	names, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid rule file pattern %q: %w", pattern, err)
	}
	sort.Strings(names)

	sources := make([]Source, 0, len(names))
	for _, n := range names {
		name := n
		sources = append(sources, Source{
			Name: name,
			Read: func() ([]byte, error) { return fs.ReadFile(fsys, name) },
		})
	}
	return sources, nil
}

// LoadFiles loads the given rule files and returns the merged, priority-ordered rules.
func LoadFiles(ctx context.Context, paths []string) []domain.CashbackRule {
	return NewLoader(0).Load(ctx, FileSources(paths)).Rules
}

// DirSources returns the files of dir matching pattern, sorted by name.
// Source names include dir. A missing directory yields no sources.
func DirSources(dir, pattern string) ([]Source, error) {
	if pattern == "" {
		pattern = "*.yaml"
	}

	sources, err := FSSources(os.DirFS(dir), pattern)
	if err != nil {
		return nil, err
	}
	for i := range sources {
		sources[i].Name = filepath.Join(dir, sources[i].Name)
	}
	return sources, nil
}

// LoadDir loads every file in dir matching pattern (default "*.yaml").
func (l *Loader) LoadDir(ctx context.Context, dir, pattern string) *LoadResult {
	sources, err := DirSources(dir, pattern)
	if err != nil {
		slog.Warn("failed to list rule files", "dir", dir, "error", err)
		return &LoadResult{Rules: []domain.CashbackRule{}}
	}
	return l.Load(ctx, sources)
}
