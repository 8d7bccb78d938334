// Package inventory lists discoverable component classes by reading Go
// source, without compiling or running it.
//
// It recognizes builder chains rooted at dwc.Declare:
//
//	var brokerClass = dwc.Declare[*Broker](dwc.ClassInfo{Name: "Broker"}).
//	    ExposeProperty("list", dwc.TypeHint[[]string]()).
//	    ExposeMethod("AddItem", dwc.Describe("append one item")).
//	    Bind("title", dwc.Binding{SourceComponentName: "Header", SourceProperty: "text"}).
//	    Renderer("View")
//
// Only string and bool literals are resolved; other expressions are left
// empty.
package inventory

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ImportPath is the import path whose Declare function is recognized.
const ImportPath = "github.com/pthm/dwc"

// Options configures the scanner.
type Options struct {
	// IncludeTests also scans _test.go files.
	IncludeTests bool
}

// Scanner finds class declarations in Go packages.
type Scanner struct {
	opts Options
	fset *token.FileSet
}

// New creates a new scanner.
func New(opts Options) *Scanner {
	return &Scanner{
		opts: opts,
		fset: token.NewFileSet(),
	}
}

// ClassDecl is one declared component class.
type ClassDecl struct {
	Package        string    `json:"package" yaml:"package"`
	File           string    `json:"file" yaml:"file"`
	Line           int       `json:"line" yaml:"line"`
	Type           string    `json:"type" yaml:"type"`
	Name           string    `json:"name" yaml:"name"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	SingleInstance bool      `json:"singleInstance,omitempty" yaml:"singleInstance,omitempty"`
	Properties     []Member  `json:"properties,omitempty" yaml:"properties,omitempty"`
	Methods        []Member  `json:"methods,omitempty" yaml:"methods,omitempty"`
	Bindings       []Binding `json:"bindings,omitempty" yaml:"bindings,omitempty"`
	Renderer       string    `json:"renderer,omitempty" yaml:"renderer,omitempty"`
}

// Member is an exposed property or method.
type Member struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Binding is a declared property binding.
type Binding struct {
	Target              string `json:"target" yaml:"target"`
	SourceComponentName string `json:"sourceComponentName,omitempty" yaml:"sourceComponentName,omitempty"`
	SourceProperty      string `json:"sourceProperty" yaml:"sourceProperty"`
	InstanceIdentifier  string `json:"instanceIdentifier,omitempty" yaml:"instanceIdentifier,omitempty"`
}

// Scan returns the classes declared in the packages matched by patterns,
// ordered by file and line. A pattern is a directory or dir/... for a tree.
func (s *Scanner) Scan(patterns ...string) ([]ClassDecl, error) {
	packages, err := findPackages(patterns)
	if err != nil {
		return nil, err
	}

	var decls []ClassDecl
	for _, pkg := range packages {
		found, err := s.scanPackage(pkg)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", pkg, err)
		}
		decls = append(decls, found...)
	}

	sort.SliceStable(decls, func(i, j int) bool {
		if decls[i].File != decls[j].File {
			return decls[i].File < decls[j].File
		}
		return decls[i].Line < decls[j].Line
	})
	return decls, nil
}

// ScanSource scans a single file's source. filename is used for positions.
func (s *Scanner) ScanSource(filename string, src any) ([]ClassDecl, error) {
	file, err := parser.ParseFile(s.fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	return s.scanFile(filename, file), nil
}

// findPackages resolves package patterns to directory paths.
func findPackages(patterns []string) ([]string, error) {
	var packages []string

	for _, pattern := range patterns {
		if !strings.HasSuffix(pattern, "/...") && pattern != "..." {
			packages = append(packages, pattern)
			continue
		}

		root := strings.TrimSuffix(strings.TrimSuffix(pattern, "..."), "/")
		if root == "" {
			root = "."
		}
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			base := filepath.Base(path)
			if path != root && (strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") || base == "vendor" || base == "testdata") {
				return filepath.SkipDir
			}

			entries, err := os.ReadDir(path)
			if err != nil {
				return nil
			}
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".go") {
					packages = append(packages, path)
					break
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return packages, nil
}

func (s *Scanner) scanPackage(dir string) ([]ClassDecl, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var decls []ClassDecl
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") {
			continue
		}
		if strings.HasSuffix(name, "_test.go") && !s.opts.IncludeTests {
			continue
		}

		path := filepath.Join(dir, name)
		file, err := parser.ParseFile(s.fset, path, nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, err
		}
		decls = append(decls, s.scanFile(path, file)...)
	}
	return decls, nil
}

// scanFile finds Declare chains in one parsed file.
func (s *Scanner) scanFile(path string, file *ast.File) []ClassDecl {
	qualifier, ok := dwcQualifier(file)
	if !ok {
		return nil
	}

	var decls []ClassDecl
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		decl, ok := s.parseChain(call, qualifier)
		if !ok {
			return true
		}
		decl.Package = file.Name.Name
		decl.File = path
		decls = append(decls, decl)
		// The inner calls belong to this chain.
		return false
	})
	return decls
}

// dwcQualifier returns the name the file refers to the dwc package by.
// Files of package dwc itself use Declare unqualified.
func dwcQualifier(file *ast.File) (string, bool) {
	if file.Name.Name == "dwc" {
		return "", true
	}
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || path != ImportPath {
			continue
		}
		if imp.Name != nil {
			if imp.Name.Name == "." {
				return "", true
			}
			return imp.Name.Name, true
		}
		return "dwc", true
	}
	return "", false
}

// parseChain unwinds call, the outermost call of a builder chain, down to
// its Declare root.
func (s *Scanner) parseChain(call *ast.CallExpr, qualifier string) (ClassDecl, bool) {
	var steps []*ast.CallExpr
	cur := call
	for {
		if typ, ok := declareType(cur, qualifier); ok {
			decl := ClassDecl{
				Type: typeToString(typ),
				Line: s.fset.Position(cur.Pos()).Line,
			}
			if len(cur.Args) == 1 {
				parseClassInfo(cur.Args[0], &decl)
			}
			// Steps were collected outermost first.
			for i := len(steps) - 1; i >= 0; i-- {
				applyStep(steps[i], qualifier, &decl)
			}
			return decl, true
		}

		sel, ok := cur.Fun.(*ast.SelectorExpr)
		if !ok {
			return ClassDecl{}, false
		}
		inner, ok := sel.X.(*ast.CallExpr)
		if !ok {
			return ClassDecl{}, false
		}
		steps = append(steps, cur)
		cur = inner
	}
}

// declareType reports whether call is Declare[T](...) and returns T.
func declareType(call *ast.CallExpr, qualifier string) (ast.Expr, bool) {
	idx, ok := call.Fun.(*ast.IndexExpr)
	if !ok {
		return nil, false
	}
	switch fn := idx.X.(type) {
	case *ast.Ident:
		if qualifier == "" && fn.Name == "Declare" {
			return idx.Index, true
		}
	case *ast.SelectorExpr:
		if x, ok := fn.X.(*ast.Ident); ok && x.Name == qualifier && fn.Sel.Name == "Declare" {
			return idx.Index, true
		}
	}
	return nil, false
}

func parseClassInfo(expr ast.Expr, decl *ClassDecl) {
	lit, ok := expr.(*ast.CompositeLit)
	if !ok {
		return
	}
	for key, value := range keyValues(lit) {
		switch key {
		case "Name":
			decl.Name = stringLit(value)
		case "Description":
			decl.Description = stringLit(value)
		case "SingleInstance":
			decl.SingleInstance = boolLit(value)
		}
	}
}

func applyStep(call *ast.CallExpr, qualifier string, decl *ClassDecl) {
	sel := call.Fun.(*ast.SelectorExpr)
	if len(call.Args) == 0 {
		return
	}
	name := stringLit(call.Args[0])

	switch sel.Sel.Name {
	case "ExposeProperty":
		decl.Properties = append(decl.Properties, parseMember(name, call.Args[1:], qualifier))
	case "ExposeMethod":
		m := parseMember(name, call.Args[1:], qualifier)
		m.Type = ""
		decl.Methods = append(decl.Methods, m)
	case "Bind":
		b := Binding{Target: name}
		if len(call.Args) > 1 {
			if lit, ok := call.Args[1].(*ast.CompositeLit); ok {
				for key, value := range keyValues(lit) {
					switch key {
					case "SourceComponentName":
						b.SourceComponentName = stringLit(value)
					case "SourceProperty":
						b.SourceProperty = stringLit(value)
					case "InstanceIdentifier":
						b.InstanceIdentifier = stringLit(value)
					}
				}
			}
		}
		decl.Bindings = append(decl.Bindings, b)
	case "Renderer":
		decl.Renderer = name
	}
}

// parseMember reads Describe and TypeHint options.
func parseMember(name string, opts []ast.Expr, qualifier string) Member {
	m := Member{Name: name}
	for _, opt := range opts {
		call, ok := opt.(*ast.CallExpr)
		if !ok {
			continue
		}
		switch fn := call.Fun.(type) {
		case *ast.IndexExpr:
			if funcName(fn.X, qualifier) == "TypeHint" {
				m.Type = typeToString(fn.Index)
			}
		default:
			if funcName(fn, qualifier) == "Describe" && len(call.Args) == 1 {
				m.Description = stringLit(call.Args[0])
			}
		}
	}
	return m
}

func funcName(expr ast.Expr, qualifier string) string {
	switch fn := expr.(type) {
	case *ast.Ident:
		if qualifier == "" {
			return fn.Name
		}
	case *ast.SelectorExpr:
		if x, ok := fn.X.(*ast.Ident); ok && x.Name == qualifier {
			return fn.Sel.Name
		}
	}
	return ""
}

// keyValues maps field names to values of a keyed composite literal.
func keyValues(lit *ast.CompositeLit) map[string]ast.Expr {
	out := make(map[string]ast.Expr, len(lit.Elts))
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		if key, ok := kv.Key.(*ast.Ident); ok {
			out[key.Name] = kv.Value
		}
	}
	return out
}

func stringLit(expr ast.Expr) string {
	lit, ok := expr.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return ""
	}
	s, err := strconv.Unquote(lit.Value)
	if err != nil {
		return ""
	}
	return s
}

func boolLit(expr ast.Expr) bool {
	ident, ok := expr.(*ast.Ident)
	return ok && ident.Name == "true"
}

// typeToString converts an AST type to a string representation.
func typeToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + typeToString(t.X)
	case *ast.SelectorExpr:
		return typeToString(t.X) + "." + t.Sel.Name
	case *ast.ArrayType:
		if t.Len == nil {
			return "[]" + typeToString(t.Elt)
		}
		if lit, ok := t.Len.(*ast.BasicLit); ok {
			return "[" + lit.Value + "]" + typeToString(t.Elt)
		}
		return "[...]" + typeToString(t.Elt)
	case *ast.MapType:
		return "map[" + typeToString(t.Key) + "]" + typeToString(t.Value)
	case *ast.IndexExpr:
		return typeToString(t.X) + "[" + typeToString(t.Index) + "]"
	case *ast.InterfaceType:
		return "any"
	default:
		return fmt.Sprintf("%T", expr)
	}
}
