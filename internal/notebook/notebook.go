// Package notebook reads, patches and persists nbformat v4 documents.
//
// Saving a parsed document rewrites only the cells that were patched: every
// other byte of the file, whitespace included, is written back as it was
// read. A patched cell is rendered with the file's own indent and keeps its
// key order.
package notebook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrNotNotebook is returned when the document has no cells array.
	ErrNotNotebook = errors.New("not a notebook document")

	// ErrCellIndex is returned for an index outside the cells array.
	ErrCellIndex = errors.New("cell index out of range")

	// ErrNotCodeCell is returned when patching a markdown or raw cell.
	ErrNotCodeCell = errors.New("cell is not a code cell")
)

// CellTypeCode is the nbformat cell_type of executable cells.
const CellTypeCode = "code"

type object = orderedmap.OrderedMap[string, json.RawMessage]

// Document is a parsed notebook.
type Document struct {
	top   *object
	cells []json.RawMessage

	// orig is the parsed file; spans[i] is cell i's byte range within it.
	orig    []byte
	spans   [][2]int
	patched map[int]bool
}

// Cell is a read-only view of one cell.
type Cell struct {
	// Index is the position in the document's cells array.
	Index    int
	CellType string
	Source   string
}

type cellHeader struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

// Parse decodes notebook JSON.
func Parse(data []byte) (*Document, error) {
	top := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, top); err != nil {
		return nil, fmt.Errorf("decoding notebook: %w", err)
	}

	rawCells, ok := top.Get("cells")
	if !ok {
		return nil, ErrNotNotebook
	}
	var cells []json.RawMessage
	if err := json.Unmarshal(rawCells, &cells); err != nil {
		return nil, fmt.Errorf("%w: cells: %v", ErrNotNotebook, err)
	}

	doc := &Document{top: top, cells: cells, orig: data, patched: map[int]bool{}}
	if spans, err := cellSpans(data); err == nil && len(spans) == len(cells) {
		doc.spans = spans
	}
	return doc, nil
}

// cellSpans locates each element of the top-level cells array in data.
func cellSpans(data []byte) ([][2]int, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if key, _ := tok.(string); key != "cells" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		var spans [][2]int
		for dec.More() {
			start := skipSeparators(data, int(dec.InputOffset()))
			var cell json.RawMessage
			if err := dec.Decode(&cell); err != nil {
				return nil, err
			}
			spans = append(spans, [2]int{start, int(dec.InputOffset())})
		}
		return spans, nil
	}
	return nil, ErrNotNotebook
}

func skipSeparators(data []byte, i int) int {
	for i < len(data) && strings.IndexByte(" \t\r\n,", data[i]) >= 0 {
		i++
	}
	return i
}

// Load reads and parses the notebook at path.
func Load(fs afero.Fs, path string) (*Document, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading notebook %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing notebook %s: %w", path, err)
	}
	return doc, nil
}

// Len returns the number of cells of any type.
func (d *Document) Len() int {
	return len(d.cells)
}

// Cells returns every cell in document order.
func (d *Document) Cells() ([]Cell, error) {
	out := make([]Cell, 0, len(d.cells))
	for i, raw := range d.cells {
		var h cellHeader
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("decoding cell %d: %w", i, err)
		}
		src, err := decodeSource(h.Source)
		if err != nil {
			return nil, fmt.Errorf("decoding cell %d source: %w", i, err)
		}
		out = append(out, Cell{Index: i, CellType: h.CellType, Source: src})
	}
	return out, nil
}

// CodeCells returns the code cells in document order.
func (d *Document) CodeCells() ([]Cell, error) {
	all, err := d.Cells()
	if err != nil {
		return nil, err
	}
	code := all[:0]
	for _, c := range all {
		if c.CellType == CellTypeCode {
			code = append(code, c)
		}
	}
	return code, nil
}

// ReplaceSource sets the source of the code cell at index, clears its
// outputs and resets its execution count. Other keys keep their order.
func (d *Document) ReplaceSource(index int, source string) error {
	if index < 0 || index >= len(d.cells) {
		return fmt.Errorf("%w: %d", ErrCellIndex, index)
	}

	cell := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(d.cells[index], cell); err != nil {
		return fmt.Errorf("decoding cell %d: %w", index, err)
	}
	var cellType string
	if raw, ok := cell.Get("cell_type"); ok {
		_ = json.Unmarshal(raw, &cellType)
	}
	if cellType != CellTypeCode {
		return fmt.Errorf("%w: cell %d is %q", ErrNotCodeCell, index, cellType)
	}

	src, err := encodeValue(SplitLines(source))
	if err != nil {
		return err
	}
	cell.Set("source", src)
	cell.Set("outputs", json.RawMessage("[]"))
	cell.Set("execution_count", json.RawMessage("null"))

	raw, err := marshalObject(cell)
	if err != nil {
		return fmt.Errorf("encoding cell %d: %w", index, err)
	}
	d.cells[index] = raw
	d.patched[index] = true
	return nil
}

// Bytes serializes the document. Unpatched content is copied from the
// parsed file unchanged.
func (d *Document) Bytes() ([]byte, error) {
	if d.spans == nil {
		return d.render()
	}
	unit := indentUnit(d.orig)

	var out bytes.Buffer
	prev := 0
	for i, span := range d.spans {
		if !d.patched[i] {
			continue
		}
		out.Write(d.orig[prev:span[0]])
		if err := indentAt(&out, d.cells[i], linePrefix(d.orig, span[0]), unit); err != nil {
			return nil, fmt.Errorf("rendering cell %d: %w", i, err)
		}
		prev = span[1]
	}
	out.Write(d.orig[prev:])
	return out.Bytes(), nil
}

// indentUnit is the leading whitespace of the file's second line, or ""
// for a single-line (compact) file.
func indentUnit(data []byte) string {
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		return ""
	}
	rest := data[nl+1:]
	end := 0
	for end < len(rest) && (rest[end] == ' ' || rest[end] == '\t') {
		end++
	}
	return string(rest[:end])
}

// linePrefix is the whitespace between the start of the line holding pos
// and pos itself.
func linePrefix(data []byte, pos int) string {
	start := bytes.LastIndexByte(data[:pos], '\n') + 1
	prefix := data[start:pos]
	if len(bytes.TrimLeft(prefix, " \t")) != 0 {
		return ""
	}
	return string(prefix)
}

func indentAt(out *bytes.Buffer, raw json.RawMessage, prefix, unit string) error {
	if unit == "" {
		return json.Compact(out, raw)
	}
	return json.Indent(out, raw, prefix, unit)
}

// render serializes the whole document with Jupyter's one-space indent.
func (d *Document) render() ([]byte, error) {
	var cells bytes.Buffer
	cells.WriteByte('[')
	for i, c := range d.cells {
		if i > 0 {
			cells.WriteByte(',')
		}
		cells.Write(c)
	}
	cells.WriteByte(']')
	d.top.Set("cells", json.RawMessage(cells.Bytes()))

	compact, err := marshalObject(d.top)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", " "); err != nil {
		return nil, fmt.Errorf("indenting notebook: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// Save writes doc to path atomically: a temp file in the same directory is
// renamed over the target, so readers never observe a partial notebook.
func Save(fs afero.Fs, path string, doc *Document) error {
	data, err := doc.Bytes()
	if err != nil {
		return err
	}
	return WriteAtomic(fs, path, data)
}

// WriteAtomic writes data to path through a temp file and rename,
// keeping the existing file mode when there is one.
func WriteAtomic(fs afero.Fs, path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := fs.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := afero.TempFile(fs, filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := fs.Chmod(tmpName, mode); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// SplitLines splits source into nbformat's list-of-lines form, keeping the
// trailing newline on every line but the last.
func SplitLines(source string) []string {
	if source == "" {
		return []string{}
	}
	lines := strings.SplitAfter(source, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// decodeSource accepts both the string and the list-of-strings forms.
func decodeSource(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", err
	}
	return strings.Join(lines, ""), nil
}

// encodeValue marshals v without HTML escaping so code keeps <, > and &.
func encodeValue(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// marshalObject writes an ordered object in insertion order.
func marshalObject(om *object) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, err := encodeValue(pair.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(pair.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
