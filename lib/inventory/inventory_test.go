package inventory

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const brokerSource = `
package shop

import (
	"context"

	"github.com/a-h/templ"
	"github.com/pthm/dwc"
)

type Broker struct{ *dwc.Component }

func (b *Broker) AddItem(item string) int            { return 0 }
func (b *Broker) View(ctx context.Context) templ.Component { return nil }

var brokerClass = dwc.Declare[*Broker](dwc.ClassInfo{
	Name:           "Broker",
	Description:    "holds the shopping list",
	SingleInstance: true,
}).
	ExposeProperty("list", dwc.TypeHint[[]string](), dwc.Describe("items to buy")).
	ExposeProperty("title").
	ExposeMethod("AddItem", dwc.Describe("append one item")).
	Renderer("View")

type List struct{ *dwc.Component }

var listClass = dwc.Declare[*List](dwc.ClassInfo{Name: "List"}).
	ExposeProperty("items").
	Bind("items", dwc.Binding{SourceComponentName: "Broker", SourceProperty: "list"})
`

func TestScanSource(t *testing.T) {
	s := New(Options{})
	decls, err := s.ScanSource("shop.go", brokerSource)
	require.NoError(t, err)
	require.Len(t, decls, 2)

	broker := decls[0]
	assert.Equal(t, "shop", broker.Package)
	assert.Equal(t, "*Broker", broker.Type)
	assert.Equal(t, "Broker", broker.Name)
	assert.Equal(t, "holds the shopping list", broker.Description)
	assert.True(t, broker.SingleInstance)
	assert.Equal(t, []Member{
		{Name: "list", Description: "items to buy", Type: "[]string"},
		{Name: "title"},
	}, broker.Properties)
	assert.Equal(t, []Member{{Name: "AddItem", Description: "append one item"}}, broker.Methods)
	assert.Equal(t, "View", broker.Renderer)
	assert.Empty(t, broker.Bindings)

	list := decls[1]
	assert.Equal(t, "List", list.Name)
	assert.False(t, list.SingleInstance)
	assert.Equal(t, []Binding{{Target: "items", SourceComponentName: "Broker", SourceProperty: "list"}}, list.Bindings)
	assert.Greater(t, list.Line, broker.Line)
}

func TestScanSource_ImportAliases(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{
			name: "named import",
			code: `package p
import d "github.com/pthm/dwc"
var c = d.Declare[*T](d.ClassInfo{Name: "T"}).ExposeProperty("x", d.Describe("an x"))
`,
			want: 1,
		},
		{
			name: "dot import",
			code: `package p
import . "github.com/pthm/dwc"
var c = Declare[*T](ClassInfo{Name: "T"})
`,
			want: 1,
		},
		{
			name: "unrelated Declare",
			code: `package p
import "example.com/other"
var c = other.Declare[*T](other.ClassInfo{Name: "T"})
`,
			want: 0,
		},
		{
			name: "no import",
			code: `package p
var c = Declare[*T](ClassInfo{Name: "T"})
`,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decls, err := New(Options{}).ScanSource("p.go", tt.code)
			require.NoError(t, err)
			assert.Len(t, decls, tt.want)
		})
	}
}

func TestScanSource_NamedDescriptionResolved(t *testing.T) {
	code := `package p
import d "github.com/pthm/dwc"
var c = d.Declare[*T](d.ClassInfo{Name: "T"}).ExposeProperty("x", d.Describe("an x"))
`
	decls, err := New(Options{}).ScanSource("p.go", code)
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, []Member{{Name: "x", Description: "an x"}}, decls[0].Properties)
}

func TestScanSource_NonLiteralsLeftEmpty(t *testing.T) {
	code := `package p
import "github.com/pthm/dwc"
const name = "T"
var c = dwc.Declare[*T](dwc.ClassInfo{Name: name, SingleInstance: single()})
`
	decls, err := New(Options{}).ScanSource("p.go", code)
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Empty(t, decls[0].Name)
	assert.False(t, decls[0].SingleInstance)
	assert.Equal(t, "*T", decls[0].Type)
}

func TestTypeToString(t *testing.T) {
	tests := []struct {
		hint string
		want string
	}{
		{"string", "string"},
		{"*time.Time", "*time.Time"},
		{"map[string][]int", "map[string][]int"},
		{"[4]byte", "[4]byte"},
		{"any", "any"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			src := "package p\nimport \"github.com/pthm/dwc\"\n" +
				"var c = dwc.Declare[*T](dwc.ClassInfo{Name: \"T\"}).ExposeProperty(\"v\", dwc.TypeHint[" + tt.hint + "]())\n"
			decls, err := New(Options{}).ScanSource("p.go", src)
			require.NoError(t, err)
			require.Len(t, decls, 1)
			require.Len(t, decls[0].Properties, 1)
			assert.Equal(t, tt.want, decls[0].Properties[0].Type)
		})
	}
}

func TestScan_Tree(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("shop/shop.go", brokerSource)
	write("shop/shop_test.go", `package shop
import "github.com/pthm/dwc"
var testClass = dwc.Declare[*Fake](dwc.ClassInfo{Name: "Fake"})
`)
	write("testdata/skip.go", brokerSource)
	write("_hidden/skip.go", brokerSource)
	write("other/other.go", "package other\n")

	decls, err := New(Options{}).Scan(root + "/...")
	require.NoError(t, err)
	require.Len(t, decls, 2)
	assert.Equal(t, "Broker", decls[0].Name)
	assert.Equal(t, filepath.Join(root, "shop", "shop.go"), decls[0].File)

	decls, err = New(Options{IncludeTests: true}).Scan(filepath.Join(root, "shop"))
	require.NoError(t, err)
	assert.Len(t, decls, 3)
}

func TestScan_ParseError(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.go"), []byte("package"), 0o644))

	_, err := New(Options{}).Scan(root)
	assert.Error(t, err)
}

func TestWrite(t *testing.T) {
	decls, err := New(Options{}).ScanSource("shop.go", brokerSource)
	require.NoError(t, err)

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, decls, FormatYAML))

		var doc document
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, decls, doc.Classes)
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, decls, FormatJSON))

		var doc document
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, decls, doc.Classes)
		assert.Contains(t, buf.String(), `"singleInstance": true`)
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, decls, FormatText))
		out := buf.String()
		assert.Contains(t, out, "Broker (single)")
		assert.Contains(t, out, "list,title")
		assert.Contains(t, out, "shop.go:")
	})
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat("YAML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
