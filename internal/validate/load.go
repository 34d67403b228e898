package validate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/atomledger/internal/ir"
)

// LoadDefinitions reads every atom definition under dir. YAML and JSON files
// hold one definition, a list of them, or a mapping with an "atoms" list;
// multi-document YAML is accepted. CUE files declare definitions under
// "atom" keyed by atom_uid, or as an "atoms" list.
//
// Files are visited in lexical order. Unreadable files are collected as
// E217 errors and the remaining files are still loaded.
func LoadDefinitions(dir string) ([]ir.AtomDefinition, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("definitions directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	var defs []ir.AtomDefinition
	var errs Errors
	cctx := cuecontext.New()

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}

		var loaded []ir.AtomDefinition
		var loadErr error
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			loaded, loadErr = loadYAMLFile(path)
		case ".cue":
			loaded, loadErr = loadCUEFile(cctx, path)
		default:
			return nil
		}
		if loadErr != nil {
			errs = append(errs, ValidationError{Field: rel, Message: loadErr.Error(), Code: ErrLoadFailed})
			return nil
		}
		for i := range loaded {
			loaded[i].Source = rel
		}
		defs = append(defs, loaded...)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scan definitions: %w", walkErr)
	}
	if len(errs) > 0 {
		return defs, errs
	}
	return defs, nil
}

type atomList struct {
	Atoms []ir.AtomDefinition `yaml:"atoms"`
}

func loadYAMLFile(path string) ([]ir.AtomDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []ir.AtomDefinition
	dec := yaml.NewDecoder(f)
	for {
		var doc yaml.Node
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse: %w", err)
		}
		defs, err := decodeYAMLDoc(&doc)
		if err != nil {
			return nil, err
		}
		out = append(out, defs...)
	}
	return out, nil
}

func decodeYAMLDoc(doc *yaml.Node) ([]ir.AtomDefinition, error) {
	node := doc
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, nil
		}
		node = node.Content[0]
	}

	switch node.Kind {
	case yaml.SequenceNode:
		var defs []ir.AtomDefinition
		if err := node.Decode(&defs); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return defs, nil
	case yaml.MappingNode:
		if hasYAMLKey(node, "atoms") {
			var list atomList
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("decode atoms: %w", err)
			}
			return list.Atoms, nil
		}
		var def ir.AtomDefinition
		if err := node.Decode(&def); err != nil {
			return nil, fmt.Errorf("decode definition: %w", err)
		}
		return []ir.AtomDefinition{def}, nil
	default:
		return nil, fmt.Errorf("line %d: expected a definition, a list, or an atoms mapping", node.Line)
	}
}

func hasYAMLKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

func loadCUEFile(cctx *cue.Context, path string) ([]ir.AtomDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v := cctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	var out []ir.AtomDefinition

	if byUID := v.LookupPath(cue.ParsePath("atom")); byUID.Exists() {
		iter, err := byUID.Fields()
		if err != nil {
			return nil, fmt.Errorf("iterating atom: %w", err)
		}
		for iter.Next() {
			var def ir.AtomDefinition
			if err := iter.Value().Decode(&def); err != nil {
				return nil, fmt.Errorf("atom.%s: %w", iter.Label(), err)
			}
			if def.AtomUID == "" {
				def.AtomUID = iter.Label()
			}
			out = append(out, def)
		}
	}

	if list := v.LookupPath(cue.ParsePath("atoms")); list.Exists() {
		var defs []ir.AtomDefinition
		if err := list.Decode(&defs); err != nil {
			return nil, fmt.Errorf("atoms: %w", err)
		}
		out = append(out, defs...)
	}
	return out, nil
}
