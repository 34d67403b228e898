package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefinitions_AllFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_single.yaml", `
atom_uid: `+uidA+`
atom_key: ns/wf/v1/init/all/001
title: Init
role: setup
`)
	writeFile(t, dir, "b_list.yml", `
- atom_uid: `+uidB+`
  atom_key: ns/wf/v1/build/all/001
  title: Build
  role: builder
  deps: [`+uidA+`]
`)
	writeFile(t, dir, "c_atoms.json", `{"atoms": [
  {"atom_uid": "`+uidC+`", "atom_key": "ns/wf/v1/build/all/002", "title": "Test", "role": "tester", "display_order": 2}
]}`)
	writeFile(t, dir, "d.cue", `
atom: "`+uidD+`": {
	atom_key: "ns/wf/v1/ship/all/001"
	title:    "Ship"
	role:     "release"
	deps: ["`+uidB+`", "`+uidC+`"]
}
`)
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, ".hidden/e.yaml", "atom_uid: nope")

	defs, err := LoadDefinitions(dir)
	require.NoError(t, err)
	require.Len(t, defs, 4)

	assert.Equal(t, uidA, defs[0].AtomUID)
	assert.Equal(t, "a_single.yaml", defs[0].Source)
	assert.Equal(t, []string{uidA}, defs[1].Deps)
	assert.Equal(t, 2, defs[2].DisplayOrder)
	assert.Equal(t, "c_atoms.json", defs[2].Source)
	assert.Equal(t, uidD, defs[3].AtomUID, "uid taken from the CUE label")
	assert.Equal(t, []string{uidB, uidC}, defs[3].Deps)
}

func TestLoadDefinitions_MultiDocumentYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "atoms.yaml", `
atom_uid: `+uidA+`
atom_key: ns/wf/v1/init/all/001
title: One
role: r
---
atom_uid: `+uidB+`
atom_key: ns/wf/v1/init/all/002
title: Two
role: r
`)
	defs, err := LoadDefinitions(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, uidB, defs[1].AtomUID)
}

func TestLoadDefinitions_BadFileReported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", "atom_uid: "+uidA+"\natom_key: ns/wf/v1/init/all/001\ntitle: t\nrole: r\n")
	writeFile(t, dir, "broken.yaml", "atom_uid: [unclosed\n")
	writeFile(t, dir, "broken.cue", "atom: {")

	defs, err := LoadDefinitions(dir)
	require.Error(t, err)
	var verrs Errors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 2)
	assert.Equal(t, ErrLoadFailed, verrs[0].Code)
	assert.Equal(t, "broken.cue", verrs[0].Field)
	assert.Equal(t, "broken.yaml", verrs[1].Field)
	require.Len(t, defs, 1, "good files are still loaded")
}

func TestLoadDefinitions_MissingDir(t *testing.T) {
	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
