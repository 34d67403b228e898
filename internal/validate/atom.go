package validate

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/atomledger/internal/atomid"
	"github.com/roach88/atomledger/internal/deps"
	"github.com/roach88/atomledger/internal/ir"
)

//go:embed atom.cue
var atomSchema []byte

// Ledger is what definition checks need to know about already registered
// atoms, including events not folded yet. *ledger.Ledger satisfies it.
type Ledger interface {
	HasUID(ctx context.Context, uid string) (bool, error)
	KeyHolders(ctx context.Context, key string) ([]string, error)
}

// Option configures AtomDefinitions.
type Option func(*options)

type options struct {
	allowExisting bool
}

// AllowExisting accepts definitions whose atom_uid is already in the
// ledger, so a definition set can be re-validated after registration.
func AllowExisting() Option {
	return func(o *options) { o.allowExisting = true }
}

// AtomDefinitions validates a batch of authored definitions against the
// CUE schema, identifier formats, uniqueness, dependency resolution and
// acyclicity. known may be nil to validate the batch on its own.
//
// Validation failures are returned as the first value. The error is only
// set when the ledger could not be consulted.
func AtomDefinitions(ctx context.Context, defs []ir.AtomDefinition, known Ledger, opts ...Option) ([]ValidationError, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	c := &checker{
		ctx:      ctx,
		known:    known,
		opts:     o,
		inLedger: make(map[string]bool),
	}

	batchUIDs := make(map[string]int, len(defs))
	batchKeys := make(map[string]int, len(defs))
	var errs []ValidationError

	for i, def := range defs {
		label := defLabel(i, def)
		errs = append(errs, checkSchema(schema, label, def)...)
		errs = append(errs, checkFormats(label, def)...)

		if def.AtomUID != "" {
			if j, dup := batchUIDs[def.AtomUID]; dup {
				errs = append(errs, ValidationError{
					Field:   label + ".atom_uid",
					Message: fmt.Sprintf("duplicate atom_uid %s (also defined by %s)", def.AtomUID, defLabel(j, defs[j])),
					Code:    ErrDuplicateUID,
				})
			} else {
				batchUIDs[def.AtomUID] = i
			}
		}
		if def.AtomKey != "" {
			if j, dup := batchKeys[def.AtomKey]; dup {
				errs = append(errs, ValidationError{
					Field:   label + ".atom_key",
					Message: fmt.Sprintf("atom_key %s collides with %s in scope %s", def.AtomKey, defLabel(j, defs[j]), atomid.KeyScope(def.AtomKey)),
					Code:    ErrKeyCollision,
				})
			} else {
				batchKeys[def.AtomKey] = i
			}
		}
	}

	for i, def := range defs {
		label := defLabel(i, def)
		ledgerErrs, err := c.checkLedger(label, def)
		if err != nil {
			return nil, err
		}
		errs = append(errs, ledgerErrs...)

		for k, dep := range def.Deps {
			if dep == def.AtomUID || !atomid.ValidateID(dep) {
				continue
			}
			if _, ok := batchUIDs[dep]; ok {
				continue
			}
			found, err := c.hasUID(dep)
			if err != nil {
				return nil, err
			}
			if !found {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.deps[%d]", label, k),
					Message: fmt.Sprintf("unknown dependency %s", dep),
					Code:    ErrUnknownDep,
				})
			}
		}
	}

	errs = append(errs, checkCycles(defs, batchUIDs)...)
	return errs, nil
}

type checker struct {
	ctx      context.Context
	known    Ledger
	opts     options
	inLedger map[string]bool
}

func (c *checker) hasUID(uid string) (bool, error) {
	if c.known == nil {
		return false, nil
	}
	if found, ok := c.inLedger[uid]; ok {
		return found, nil
	}
	found, err := c.known.HasUID(c.ctx, uid)
	if err != nil {
		return false, fmt.Errorf("lookup atom_uid %s: %w", uid, err)
	}
	c.inLedger[uid] = found
	return found, nil
}

func (c *checker) checkLedger(label string, def ir.AtomDefinition) ([]ValidationError, error) {
	if c.known == nil {
		return nil, nil
	}
	var errs []ValidationError

	if atomid.ValidateID(def.AtomUID) && !c.opts.allowExisting {
		found, err := c.hasUID(def.AtomUID)
		if err != nil {
			return nil, err
		}
		if found {
			errs = append(errs, ValidationError{
				Field:   label + ".atom_uid",
				Message: fmt.Sprintf("atom_uid %s already exists in the ledger", def.AtomUID),
				Code:    ErrDuplicateUID,
			})
		}
	}

	if atomid.ValidateKey(def.AtomKey) {
		holders, err := c.known.KeyHolders(c.ctx, def.AtomKey)
		if err != nil {
			return nil, fmt.Errorf("lookup atom_key %s: %w", def.AtomKey, err)
		}
		var others []string
		for _, h := range holders {
			if h != def.AtomUID {
				others = append(others, h)
			}
		}
		if len(others) > 0 {
			errs = append(errs, ValidationError{
				Field:   label + ".atom_key",
				Message: fmt.Sprintf("atom_key %s is held by %s in scope %s", def.AtomKey, strings.Join(others, ", "), atomid.KeyScope(def.AtomKey)),
				Code:    ErrKeyCollision,
			})
		}
	}
	return errs, nil
}

func compileSchema() (cue.Value, error) {
	cctx := cuecontext.New()
	v := cctx.CompileBytes(atomSchema, cue.Filename("atom.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile atom schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Atom")), nil
}

// checkSchema unifies the definition with #Atom and reports each
// violation at its field path.
func checkSchema(schema cue.Value, label string, def ir.AtomDefinition) []ValidationError {
	val := schema.Context().Encode(def)
	if err := val.Err(); err != nil {
		return []ValidationError{{Field: label, Message: err.Error(), Code: ErrSchema}}
	}
	err := schema.Unify(val).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []ValidationError
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		field := label
		path := e.Path()
		if len(path) > 0 && path[0] == "#Atom" {
			path = path[1:]
		}
		if len(path) > 0 {
			field = label + "." + strings.Join(path, ".")
		}
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if seen[field+msg] {
			continue
		}
		seen[field+msg] = true
		errs = append(errs, ValidationError{Field: field, Message: msg, Code: ErrSchema})
	}
	return errs
}

func checkFormats(label string, def ir.AtomDefinition) []ValidationError {
	var errs []ValidationError

	if def.AtomUID != "" && !atomid.ValidateID(def.AtomUID) {
		errs = append(errs, ValidationError{
			Field:   label + ".atom_uid",
			Message: fmt.Sprintf("invalid atom_uid %q", def.AtomUID),
			Code:    ErrInvalidUID,
		})
	}
	if def.AtomKey != "" && !atomid.ValidateKey(def.AtomKey) {
		errs = append(errs, ValidationError{
			Field:   label + ".atom_key",
			Message: fmt.Sprintf("invalid atom_key %q", def.AtomKey),
			Code:    ErrInvalidKey,
		})
	}

	errs = append(errs, uidList(label+".deps", def.AtomUID, def.Deps, ErrInvalidDeps)...)
	errs = append(errs, uidList(label+".split_into", def.AtomUID, def.SplitInto, ErrInvalidUID)...)
	if def.SupersededBy != "" {
		errs = append(errs, uidRef(label+".superseded_by", def.SupersededBy, def.AtomUID)...)
	}
	if def.MergedInto != "" {
		errs = append(errs, uidRef(label+".merged_into", def.MergedInto, def.AtomUID)...)
	}

	switch ir.Status(def.Status) {
	case ir.StatusSplit:
		if len(def.SplitInto) == 0 {
			errs = append(errs, ValidationError{Field: label + ".split_into", Message: "status split requires split_into", Code: ErrStatusFields})
		}
	case ir.StatusMerged:
		if def.MergedInto == "" {
			errs = append(errs, ValidationError{Field: label + ".merged_into", Message: "status merged requires merged_into", Code: ErrStatusFields})
		}
	}
	return errs
}

// checkCycles reports every dependency cycle formed inside the batch.
func checkCycles(defs []ir.AtomDefinition, index map[string]int) []ValidationError {
	var edges []ir.Edge
	for _, def := range defs {
		for _, dep := range def.Deps {
			if dep != def.AtomUID {
				edges = append(edges, ir.Edge{AtomUID: def.AtomUID, DependsOn: dep})
			}
		}
	}
	var errs []ValidationError
	for _, cycle := range deps.FindCycles(edges) {
		errs = append(errs, ValidationError{
			Field:   defLabel(index[cycle[0]], defs[index[cycle[0]]]) + ".deps",
			Message: "dependency cycle: " + strings.Join(cycle, " -> "),
			Code:    ErrCycle,
		})
	}
	return errs
}

func defLabel(i int, def ir.AtomDefinition) string {
	if def.Source != "" {
		return fmt.Sprintf("%s:atoms[%d]", def.Source, i)
	}
	return fmt.Sprintf("atoms[%d]", i)
}
