package atomid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	segmentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	versionPattern = regexp.MustCompile(`^v([1-9][0-9]*)$`)
	tailPattern    = regexp.MustCompile(`^([0-9]{3,})(?:-([a-z][a-z0-9]*))?(?:-r([1-9][0-9]*))?$`)
	variantPattern = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
	revisionLike   = regexp.MustCompile(`^r[0-9]+$`)
)

// ErrInvalidKey is returned for any malformed structured key.
var ErrInvalidKey = errors.New("invalid atom key")

// Key is a parsed structured key:
// namespace/workflow/vN/phase/lane/NNN[-variant][-rM].
type Key struct {
	Namespace string
	Workflow  string
	Version   int
	Phase     string
	Lane      string
	Seq       int
	Variant   string
	Revision  int
}

// String renders the key. It is the inverse of ParseKey.
func (k Key) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s/v%d/%s/%s/%03d", k.Namespace, k.Workflow, k.Version, k.Phase, k.Lane, k.Seq)
	if k.Variant != "" {
		b.WriteString("-")
		b.WriteString(k.Variant)
	}
	if k.Revision > 0 {
		fmt.Fprintf(&b, "-r%d", k.Revision)
	}
	return b.String()
}

// Scope is the uniqueness scope of the key: namespace/workflow/vN.
func (k Key) Scope() string {
	return fmt.Sprintf("%s/%s/v%d", k.Namespace, k.Workflow, k.Version)
}

// BuildKey assembles a key from its parts. The sequence is zero-padded to
// three digits; an empty variant and a zero revision are omitted.
func BuildKey(ns, workflow string, version int, phase, lane string, seq int, variant string, revision int) (string, error) {
	k := Key{
		Namespace: ns, Workflow: workflow, Version: version,
		Phase: phase, Lane: lane, Seq: seq,
		Variant: variant, Revision: revision,
	}
	if err := k.validate(); err != nil {
		return "", err
	}
	return k.String(), nil
}

func (k Key) validate() error {
	for name, seg := range map[string]string{
		"namespace": k.Namespace, "workflow": k.Workflow, "phase": k.Phase, "lane": k.Lane,
	} {
		if !segmentPattern.MatchString(seg) {
			return fmt.Errorf("%w: %s %q must match %s", ErrInvalidKey, name, seg, segmentPattern)
		}
	}
	if k.Version < 1 {
		return fmt.Errorf("%w: version must be >= 1, got %d", ErrInvalidKey, k.Version)
	}
	if k.Seq < 0 {
		return fmt.Errorf("%w: sequence must be >= 0, got %d", ErrInvalidKey, k.Seq)
	}
	if k.Revision < 0 {
		return fmt.Errorf("%w: revision must be >= 0, got %d", ErrInvalidKey, k.Revision)
	}
	if k.Variant != "" {
		if revisionLike.MatchString(k.Variant) {
			return fmt.Errorf("%w: variant %q reads as a revision", ErrInvalidKey, k.Variant)
		}
		if !variantPattern.MatchString(k.Variant) {
			return fmt.Errorf("%w: variant %q must be lowercase alphanumeric", ErrInvalidKey, k.Variant)
		}
	}
	return nil
}

// ParseKey splits a structured key into its components.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 6 {
		return Key{}, fmt.Errorf("%w: %q has %d segments, want 6", ErrInvalidKey, s, len(parts))
	}

	vm := versionPattern.FindStringSubmatch(parts[2])
	if vm == nil {
		return Key{}, fmt.Errorf("%w: %q: version segment %q must be vN", ErrInvalidKey, s, parts[2])
	}
	version, _ := strconv.Atoi(vm[1])

	tm := tailPattern.FindStringSubmatch(parts[5])
	if tm == nil {
		return Key{}, fmt.Errorf("%w: %q: sequence segment %q must be NNN[-variant][-rM]", ErrInvalidKey, s, parts[5])
	}
	seqText, variant, revText := tm[1], tm[2], tm[3]
	if len(seqText) > 3 && seqText[0] == '0' {
		return Key{}, fmt.Errorf("%w: %q: sequence %q has extra leading zeros", ErrInvalidKey, s, seqText)
	}
	// "001-r2" matches the variant group first.
	if revisionLike.MatchString(variant) {
		if revText != "" || variant[1] == '0' {
			return Key{}, fmt.Errorf("%w: %q: variant %q reads as a revision", ErrInvalidKey, s, variant)
		}
		variant, revText = "", variant[1:]
	}

	seq, err := strconv.Atoi(seqText)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}
	revision := 0
	if revText != "" {
		if revision, err = strconv.Atoi(revText); err != nil {
			return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
		}
	}

	k := Key{
		Namespace: parts[0], Workflow: parts[1], Version: version,
		Phase: parts[3], Lane: parts[4], Seq: seq,
		Variant: variant, Revision: revision,
	}
	if err := k.validate(); err != nil {
		return Key{}, fmt.Errorf("%q: %w", s, err)
	}
	return k, nil
}

// ValidateKey reports whether s is a well-formed structured key.
func ValidateKey(s string) bool {
	_, err := ParseKey(s)
	return err == nil
}

// KeyScope returns the uniqueness scope of s, or "" when s is malformed.
func KeyScope(s string) string {
	k, err := ParseKey(s)
	if err != nil {
		return ""
	}
	return k.Scope()
}
