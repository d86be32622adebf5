package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbfix/internal/extraction"
	"github.com/fyrsmithlabs/nbfix/internal/vectorstore"
)

// Fix is a patch that made a notebook run.
type Fix struct {
	Error        extraction.ErrorDetails
	BeforeCode   string
	AfterCode    string
	NotebookPath string
	Iterations   int
}

// FixMemory stores successful fixes so later sessions retrieve them.
type FixMemory struct {
	store      vectorstore.Store
	collection string
	logger     *zap.Logger
	now        func() time.Time
}

// NewFixMemory creates a FixMemory writing to collection.
func NewFixMemory(store vectorstore.Store, collection string, logger *zap.Logger) (*FixMemory, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := vectorstore.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixMemory{store: store, collection: collection, logger: logger, now: time.Now}, nil
}

// Record stores fix. The same error and patch recorded twice is stored once.
func (m *FixMemory) Record(ctx context.Context, fix Fix) error {
	if strings.TrimSpace(fix.AfterCode) == "" {
		return errors.New("fix has no replacement code")
	}
	sum := sha256.Sum256([]byte(fix.Error.Signature() + "\x00" + fix.BeforeCode + "\x00" + fix.AfterCode))
	id := "fix_" + hex.EncodeToString(sum[:16])

	doc := vectorstore.Document{
		ID:      id,
		Content: FormatFix(fix),
		Metadata: map[string]interface{}{
			"source":      "fix-memory",
			"error_type":  fix.Error.ErrorType,
			"notebook":    fix.NotebookPath,
			"iterations":  fix.Iterations,
			"recorded_at": m.now().UTC().Format(time.RFC3339),
		},
	}
	if _, err := m.store.AddDocuments(ctx, m.collection, []vectorstore.Document{doc}); err != nil {
		return fmt.Errorf("recording fix: %w", err)
	}
	m.logger.Info("recorded fix",
		zap.String("id", id),
		zap.String("error_type", fix.Error.ErrorType))
	return nil
}

// FormatFix renders fix as retrievable text. The error line comes first so
// queries built from a similar error match it.
func FormatFix(fix Fix) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Previously fixed error %s\n\n", fix.Error.Signature())
	fmt.Fprintf(&b, "Failing code:\n```python\n%s\n```\n\n", strings.TrimSpace(fix.BeforeCode))
	fmt.Fprintf(&b, "Working replacement:\n```python\n%s\n```\n", strings.TrimSpace(fix.AfterCode))
	return b.String()
}
