package notebook

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/nbfix/internal/notebook/notebooktest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) []byte {
	return notebooktest.JSON(t,
		notebooktest.Markdown("# Report\n"),
		notebooktest.Code("import pandas as pd\ndf = pd.DataFrame()"),
		notebooktest.Code("print(df.head())"),
	)
}

func TestParse_Cells(t *testing.T) {
	doc, err := Parse(fixture(t))
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Len())

	code, err := doc.CodeCells()
	require.NoError(t, err)
	require.Len(t, code, 2)
	assert.Equal(t, 1, code[0].Index)
	assert.Equal(t, "import pandas as pd\ndf = pd.DataFrame()", code[0].Source)
	assert.Equal(t, 2, code[1].Index)
}

func TestParse_StringSource(t *testing.T) {
	doc, err := Parse([]byte(`{"cells":[{"cell_type":"code","source":"x = 1\ny = 2","outputs":[],"execution_count":null,"metadata":{}}],"metadata":{},"nbformat":4,"nbformat_minor":5}`))
	require.NoError(t, err)

	code, err := doc.CodeCells()
	require.NoError(t, err)
	require.Len(t, code, 1)
	assert.Equal(t, "x = 1\ny = 2", code[0].Source)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"metadata":{}}`))
	assert.ErrorIs(t, err, ErrNotNotebook)
}

func TestReplaceSource(t *testing.T) {
	doc, err := Parse(fixture(t))
	require.NoError(t, err)

	require.NoError(t, doc.ReplaceSource(2, "print(df.head(10))\n# done"))

	out, err := doc.Bytes()
	require.NoError(t, err)

	var decoded struct {
		Cells []map[string]json.RawMessage `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	patched := decoded.Cells[2]
	assert.JSONEq(t, `["print(df.head(10))\n", "# done"]`, string(patched["source"]))
	assert.JSONEq(t, `[]`, string(patched["outputs"]))
	assert.Equal(t, "null", string(patched["execution_count"]))
	assert.JSONEq(t, `"cell-c"`, string(patched["id"]))

	// untouched cells keep their outputs and counts
	assert.JSONEq(t, `2`, string(decoded.Cells[1]["execution_count"]))
	assert.Contains(t, string(decoded.Cells[1]["outputs"]), "previous output")
}

func TestReplaceSource_Errors(t *testing.T) {
	doc, err := Parse(fixture(t))
	require.NoError(t, err)

	assert.ErrorIs(t, doc.ReplaceSource(7, "x"), ErrCellIndex)
	assert.ErrorIs(t, doc.ReplaceSource(-1, "x"), ErrCellIndex)
	assert.ErrorIs(t, doc.ReplaceSource(0, "x"), ErrNotCodeCell)
}

func TestBytes_PreservesKeyOrderAndHTML(t *testing.T) {
	in := []byte(`{"nbformat":4,"cells":[{"source":["a < b && c > d"],"cell_type":"code","outputs":[],"metadata":{},"execution_count":null}],"nbformat_minor":5,"metadata":{}}`)
	doc, err := Parse(in)
	require.NoError(t, err)

	out, err := doc.Bytes()
	require.NoError(t, err)

	s := string(out)
	assert.Less(t, strings.Index(s, `"nbformat"`), strings.Index(s, `"cells"`))
	assert.Less(t, strings.Index(s, `"cells"`), strings.Index(s, `"nbformat_minor"`))
	assert.Less(t, strings.Index(s, `"source"`), strings.Index(s, `"cell_type"`))
	assert.Contains(t, s, "a < b && c > d")
	assert.JSONEq(t, string(in), s)
}

func TestBytes_UnpatchedDocumentIsByteIdentical(t *testing.T) {
	in := fixture(t)
	doc, err := Parse(in)
	require.NoError(t, err)

	out, err := doc.Bytes()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(in, out))
}

func TestBytes_KeepsUntouchedBytesForAnyIndent(t *testing.T) {
	var nb map[string]any
	require.NoError(t, json.Unmarshal(fixture(t), &nb))

	for name, indent := range map[string]string{"two spaces": "  ", "tab": "\t", "four spaces": "    "} {
		t.Run(name, func(t *testing.T) {
			in, err := json.MarshalIndent(nb, "", indent)
			require.NoError(t, err)
			in = append(in, '\n')

			doc, err := Parse(in)
			require.NoError(t, err)
			require.Len(t, doc.spans, 3)
			require.NoError(t, doc.ReplaceSource(1, "import pandas as pd\ndf = pd.DataFrame({'a': [1]})"))

			out, err := doc.Bytes()
			require.NoError(t, err)

			start, end := doc.spans[1][0], doc.spans[1][1]
			assert.True(t, bytes.HasPrefix(out, in[:start]), "bytes before the patched cell changed")
			assert.True(t, bytes.HasSuffix(out, in[end:]), "bytes after the patched cell changed")
			assert.Contains(t, string(out), "\n"+strings.Repeat(indent, 3)+`"cell_type": "code"`)

			reparsed, err := Parse(out)
			require.NoError(t, err)
			code, err := reparsed.CodeCells()
			require.NoError(t, err)
			assert.Equal(t, "import pandas as pd\ndf = pd.DataFrame({'a': [1]})", code[0].Source)
			assert.Equal(t, "print(df.head())", code[1].Source)
		})
	}
}

func TestBytes_CompactDocumentStaysCompact(t *testing.T) {
	in := []byte(`{"cells":[{"cell_type":"code","source":"x = 1","outputs":[],"execution_count":3,"metadata":{}},{"cell_type":"code","source":"y = 2","outputs":[],"execution_count":4,"metadata":{}}],"nbformat":4}`)
	doc, err := Parse(in)
	require.NoError(t, err)
	require.NoError(t, doc.ReplaceSource(0, "x = 10"))

	out, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, `{"cells":[{"cell_type":"code","source":["x = 10"],"outputs":[],"execution_count":null,"metadata":{}},{"cell_type":"code","source":"y = 2","outputs":[],"execution_count":4,"metadata":{}}],"nbformat":4}`, string(out))
}

func TestSaveAndLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work", 0755))
	require.NoError(t, afero.WriteFile(fs, "/work/nb.ipynb", fixture(t), 0600))

	doc, err := Load(fs, "/work/nb.ipynb")
	require.NoError(t, err)
	require.NoError(t, doc.ReplaceSource(1, "import pandas as pd"))
	require.NoError(t, Save(fs, "/work/nb.ipynb", doc))

	reloaded, err := Load(fs, "/work/nb.ipynb")
	require.NoError(t, err)
	code, err := reloaded.CodeCells()
	require.NoError(t, err)
	assert.Equal(t, "import pandas as pd", code[0].Source)

	info, err := fs.Stat("/work/nb.ipynb")
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().Perm().String())

	// no temp files left behind
	entries, err := afero.ReadDir(fs, "/work")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "/nope.ipynb")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotNotebook))
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{}, SplitLines(""))
	assert.Equal(t, []string{"a\n", "b"}, SplitLines("a\nb"))
	assert.Equal(t, []string{"a\n", "b\n"}, SplitLines("a\nb\n"))
}
