// Package depscan builds a dependency manifest from the imports a program
// actually uses, restricted to the modules required by go.mod.
package depscan

import (
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/modfile"
)

// Requirement is one manifest line.
type Requirement struct {
	Path    string
	Version string
}

func (r Requirement) String() string {
	return r.Path + "==" + r.Version
}

// FindImports returns the import paths used by the Go source at path. path
// may be a single file or a directory, which is walked recursively; test
// files, testdata, vendor and dot/underscore directories are skipped.
func FindImports(path string) (map[string]struct{}, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	imports := make(map[string]struct{})
	fset := token.NewFileSet()

	if !info.IsDir() {
		if err := collectFile(fset, path, imports); err != nil {
			return nil, err
		}
		return imports, nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, ".go") || strings.HasSuffix(p, "_test.go") {
			return nil
		}
		return collectFile(fset, p, imports)
	})
	if err != nil {
		return nil, err
	}
	return imports, nil
}

func skipDir(name string) bool {
	switch name {
	case "vendor", "testdata":
		return true
	}
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

func collectFile(fset *token.FileSet, path string, imports map[string]struct{}) error {
	f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, spec := range f.Imports {
		importPath, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return fmt.Errorf("parse %s: bad import %s: %w", path, spec.Path.Value, err)
		}
		imports[importPath] = struct{}{}
	}
	return nil
}

// Match keeps the go.mod requirements that provide at least one of the
// imports, in byte order of their manifest lines.
func Match(imports map[string]struct{}, mod *modfile.File) []Requirement {
	var out []Requirement
	for _, req := range mod.Require {
		if provides(req.Mod.Path, imports) {
			out = append(out, Requirement{Path: req.Mod.Path, Version: req.Mod.Version})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

func provides(modulePath string, imports map[string]struct{}) bool {
	if _, ok := imports[modulePath]; ok {
		return true
	}
	prefix := modulePath + "/"
	for imp := range imports {
		if strings.HasPrefix(imp, prefix) {
			return true
		}
	}
	return false
}

// ParseModFile reads and parses a go.mod file.
func ParseModFile(path string) (*modfile.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	mod, err := modfile.Parse(path, data, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return mod, nil
}

// WriteManifest writes one requirement per line, without a trailing newline.
func WriteManifest(w io.Writer, reqs []Requirement) error {
	lines := make([]string, len(reqs))
	for i, r := range reqs {
		lines[i] = r.String()
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n"))
	return err
}

// Generate scans source, matches against the go.mod at modPath and writes the
// manifest to out. It returns the number of requirements written.
func Generate(source, modPath, out string) (int, error) {
	imports, err := FindImports(source)
	if err != nil {
		return 0, err
	}

	mod, err := ParseModFile(modPath)
	if err != nil {
		return 0, err
	}

	reqs := Match(imports, mod)

	f, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	if err := WriteManifest(f, reqs); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return len(reqs), nil
}
