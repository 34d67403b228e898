package atomid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKey(t *testing.T) {
	tests := []struct {
		name     string
		variant  string
		revision int
		seq      int
		want     string
	}{
		{"plain", "", 0, 1, "ns/wf/v1/init/all/001"},
		{"revision", "", 2, 1, "ns/wf/v1/init/all/001-r2"},
		{"variant", "alt", 0, 12, "ns/wf/v1/init/all/012-alt"},
		{"both", "alt", 3, 7, "ns/wf/v1/init/all/007-alt-r3"},
		{"wide seq", "", 0, 1234, "ns/wf/v1/init/all/1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildKey("ns", "wf", 1, "init", "all", tt.seq, tt.variant, tt.revision)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, ValidateKey(got))
		})
	}
}

func TestBuildKeyRejects(t *testing.T) {
	_, err := BuildKey("NS", "wf", 1, "init", "all", 1, "", 0)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = BuildKey("ns", "wf", 0, "init", "all", 1, "", 0)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = BuildKey("ns", "wf", 1, "init", "all", 1, "r2", 0)
	assert.ErrorIs(t, err, ErrInvalidKey, "variant that reads as a revision is ambiguous")

	_, err = BuildKey("ns", "w/f", 1, "init", "all", 1, "", 0)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("ns/wf/v1/val/all/001-r2")
	require.NoError(t, err)
	assert.Equal(t, Key{
		Namespace: "ns", Workflow: "wf", Version: 1,
		Phase: "val", Lane: "all", Seq: 1, Revision: 2,
	}, k)
	assert.Equal(t, "ns/wf/v1", k.Scope())
	assert.Equal(t, "ns/wf/v1/val/all/001-r2", k.String())

	k, err = ParseKey("acme/build/v12/test/unit/040-fast-r1")
	require.NoError(t, err)
	assert.Equal(t, "fast", k.Variant)
	assert.Equal(t, 1, k.Revision)
	assert.Equal(t, "acme/build/v12", k.Scope())
}

func TestValidateKeyRejects(t *testing.T) {
	bad := []string{
		"",
		"ns/wf/v1/init/all",
		"ns/wf/v1/init/all/1",
		"ns/wf/v1/init/all/0001",
		"ns/wf/1/init/all/001",
		"ns/wf/v0/init/all/001",
		"ns/wf/v1/init/all/001-",
		"ns/wf/v1/init/all/001-r0",
		"ns/wf/v1/init/all/001-r2-r3",
		"ns/wf/v1/Init/all/001",
		"ns/wf/v1/init/all/001/extra",
	}
	for _, s := range bad {
		assert.False(t, ValidateKey(s), s)
	}
}

func TestKeyScope(t *testing.T) {
	assert.Equal(t, "ns/wf/v3", KeyScope("ns/wf/v3/a/b/001"))
	assert.Equal(t, "", KeyScope("not-a-key"))
}
