// Package applier locates the notebook cell a patch targets and rewrites it.
package applier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/nbfix/internal/notebook"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "github.com/fyrsmithlabs/nbfix/internal/applier"

// DefaultThreshold is the minimum line overlap for a fuzzy match.
const DefaultThreshold = 0.5

// ErrEmptyPatch is returned for a patch with no before code.
var ErrEmptyPatch = errors.New("patch has no before code")

// Patch is the part of a proposal the applier needs.
type Patch struct {
	BeforeCode string
	AfterCode  string
}

// Result reports whether a cell was rewritten.
type Result struct {
	OK bool
	// CellIndex is the document index of the rewritten cell, -1 if none.
	CellIndex int
	Score     float64
	Exact     bool
}

// Match is the chosen target cell.
type Match struct {
	CellIndex int
	Score     float64
	Exact     bool
}

// Applier rewrites the best-matching code cell.
type Applier struct {
	fs        afero.Fs
	threshold float64
	logger    *zap.Logger
}

// New creates an Applier. A threshold outside (0, 1] falls back to
// DefaultThreshold.
func New(fs afero.Fs, threshold float64, logger *zap.Logger) (*Applier, error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{fs: fs, threshold: threshold, logger: logger}, nil
}

// Apply replaces the source of the matching code cell with AfterCode,
// clears its outputs and execution count, and saves the notebook. When no
// cell matches the notebook is left untouched and OK is false.
//
// Errors are reserved for I/O and parse failures.
func (a *Applier) Apply(ctx context.Context, notebookPath string, patch Patch) (Result, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "applier.Apply")
	defer span.End()

	none := Result{CellIndex: -1}
	if strings.TrimSpace(patch.BeforeCode) == "" {
		return none, ErrEmptyPatch
	}

	doc, err := notebook.Load(a.fs, notebookPath)
	if err != nil {
		span.RecordError(err)
		return none, err
	}
	cells, err := doc.CodeCells()
	if err != nil {
		span.RecordError(err)
		return none, err
	}

	match, ok := FindTarget(cells, patch, a.threshold)
	if !ok {
		span.SetAttributes(attribute.Bool("apply.ok", false))
		a.logger.Info("no cell matches patch", zap.String("notebook", notebookPath), zap.Float64("threshold", a.threshold))
		return none, nil
	}

	if err := doc.ReplaceSource(match.CellIndex, patch.AfterCode); err != nil {
		return none, fmt.Errorf("patching cell %d: %w", match.CellIndex, err)
	}
	if err := notebook.Save(a.fs, notebookPath, doc); err != nil {
		span.RecordError(err)
		return none, fmt.Errorf("saving patched notebook: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("apply.ok", true),
		attribute.Int("apply.cell_index", match.CellIndex),
		attribute.Float64("apply.score", match.Score),
	)
	a.logger.Info("patch applied",
		zap.String("notebook", notebookPath),
		zap.Int("cell_index", match.CellIndex),
		zap.Float64("score", match.Score),
		zap.Bool("exact", match.Exact),
	)
	return Result{OK: true, CellIndex: match.CellIndex, Score: match.Score, Exact: match.Exact}, nil
}

// FindTarget picks the cell a patch applies to.
//
// Cells whose source already equals the after code are skipped, so applying
// the same patch twice finds nothing the second time. A cell that contains
// the before code, or is contained by it (compared on trimmed text), wins
// immediately; the first such cell in document order is
// taken. Otherwise the cell with the highest line-overlap score strictly
// above threshold wins, ties going to the earliest cell.
func FindTarget(cells []notebook.Cell, patch Patch, threshold float64) (Match, bool) {
	before := strings.TrimSpace(patch.BeforeCode)
	if before == "" {
		return Match{}, false
	}
	after := strings.TrimSpace(patch.AfterCode)

	candidates := make([]notebook.Cell, 0, len(cells))
	for _, c := range cells {
		if strings.TrimSpace(c.Source) != after {
			candidates = append(candidates, c)
		}
	}

	for _, c := range candidates {
		src := strings.TrimSpace(c.Source)
		if src == "" {
			continue
		}
		if strings.Contains(src, before) || strings.Contains(before, src) {
			return Match{CellIndex: c.Index, Score: 1, Exact: true}, true
		}
	}

	best := Match{CellIndex: -1}
	for _, c := range candidates {
		score := OverlapScore(c.Source, patch.BeforeCode)
		if score > threshold && score > best.Score {
			best = Match{CellIndex: c.Index, Score: score}
		}
	}
	return best, best.CellIndex >= 0
}

// OverlapScore is the fraction of before's non-empty trimmed lines that
// also appear, trimmed, in source.
func OverlapScore(source, before string) float64 {
	wanted := nonEmptyLines(before)
	if len(wanted) == 0 {
		return 0
	}

	have := make(map[string]struct{})
	for _, l := range nonEmptyLines(source) {
		have[l] = struct{}{}
	}

	shared := 0
	for _, l := range wanted {
		if _, ok := have[l]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(wanted))
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			out = append(out, t)
		}
	}
	return out
}
