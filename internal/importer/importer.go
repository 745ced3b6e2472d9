// Package importer turns ledger files into raw transactions for the grouper.
package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/ofx"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

// Parser reads one ledger format.
type Parser interface {
	ParseFile(ctx context.Context, r io.Reader) ([]model.RawTransaction, error)
}

// Registry maps file extensions to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the OFX/QFX and CSV formats installed.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	ofxParser := ofx.NewParser()
	r.Register(".ofx", ofxParser)
	r.Register(".qfx", ofxParser)
	r.Register(".csv", NewCSVParser())
	return r
}

// Register installs a parser for an extension, replacing any previous one.
func (r *Registry) Register(ext string, p Parser) {
	r.parsers[normalizeExt(ext)] = p
}

// Formats lists the registered extensions.
func (r *Registry) Formats() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ParserFor returns the parser registered for path's extension.
func (r *Registry) ParserFor(path string) (Parser, error) {
	ext := normalizeExt(filepath.Ext(path))
	p, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported ledger format %q (supported: %s)", ext, strings.Join(r.Formats(), ", "))
	}
	return p, nil
}

// ParseFile reads a ledger file using the parser for its extension.
func (r *Registry) ParseFile(ctx context.Context, path string) ([]model.RawTransaction, error) {
	p, err := r.ParserFor(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path) //nolint:gosec // user-supplied ledger path
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	txns, err := p.ParseFile(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return txns, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// FileFetcher serves transactions from ledger files as a TransactionFetcher.
type FileFetcher struct {
	registry *Registry
	paths    []string
}

// NewFileFetcher creates a fetcher over the given files.
func NewFileFetcher(registry *Registry, paths ...string) *FileFetcher {
	return &FileFetcher{registry: registry, paths: paths}
}

// GetTransactions parses every file and keeps entries booked within the range.
func (f *FileFetcher) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.RawTransaction, error) {
	var out []model.RawTransaction
	for _, path := range f.paths {
		txns, err := f.registry.ParseFile(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, tx := range txns {
			if tx.BookingDate.Before(startDate) || tx.BookingDate.After(endDate) {
				continue
			}
			out = append(out, tx)
		}
	}
	return out, nil
}

var _ service.TransactionFetcher = (*FileFetcher)(nil)
