// Package diffsync implements the character-level diff/patch primitive that
// the sync engine uses to reconcile concurrent edits. It wraps
// github.com/sergi/go-diff/diffmatchpatch, a Go port of Google's
// diff-match-patch algorithm, which already implements exactly the
// semantic-boundary-aware diff and fuzzy, windowed patch application this
// package's contract describes.
package diffsync

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// patchMargin matches diff-match-patch's default hunk context window.
// Patch_Margin controls how many characters of surrounding context each
// hunk carries; Match_Distance/Match_Threshold control how far and how
// fuzzily PatchApply will slide to relocate a hunk whose exact context
// moved.
const (
	patchMargin    = 4
	matchDistance  = 32
	matchThreshold = 0.5
)

// Patch is a bundle of hunks produced by MakePatch. It is opaque outside
// this package; callers pass it to Apply or serialize it with Encode.
type Patch struct {
	patches []diffmatchpatch.Patch
}

func newDMP() *diffmatchpatch.DiffMatchPatch {
	dmp := diffmatchpatch.New()
	dmp.PatchMargin = patchMargin
	dmp.MatchDistance = matchDistance
	dmp.MatchThreshold = matchThreshold
	return dmp
}

// Diff returns the character-level edit script turning a into b, with
// semantically-meaningful edits consolidated at word/line boundaries.
func Diff(a, b string) []diffmatchpatch.Diff {
	dmp := newDMP()
	diffs := dmp.DiffMain(a, b, false)
	dmp.DiffCleanupSemantic(diffs)
	return diffs
}

// MakePatch produces a bundle of hunks turning a into b, each carrying a
// context window so that hunks can still be located against a slightly
// different base text (see Apply).
func MakePatch(a, b string) Patch {
	dmp := newDMP()
	diffs := Diff(a, b)
	patches := dmp.PatchMake(a, diffs)
	return Patch{patches: patches}
}

// Apply attempts to apply every hunk of p to text, sliding within a bounded
// window when the exact context isn't found. It returns the resulting text
// and a per-hunk success flag. Per spec.md §4.A, a bundle is "applied" only
// when every hunk succeeded — callers should check AllApplied(results)
// before treating newText as authoritative.
func Apply(p Patch, text string) (newText string, results []bool) {
	if len(p.patches) == 0 {
		return text, nil
	}
	dmp := newDMP()
	newText, results = dmp.PatchApply(p.patches, text)
	return newText, results
}

// AllApplied reports whether every hunk in a per-hunk result slice
// succeeded. An empty bundle (no hunks, i.e. no-op edit) is vacuously
// applied.
func AllApplied(results []bool) bool {
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// Encode serializes a patch bundle to its text wire form, as used in
// models.PatchBundle.Encoded.
func Encode(p Patch) string {
	dmp := newDMP()
	return dmp.PatchToText(p.patches)
}

// Decode parses a patch bundle from its text wire form.
func Decode(encoded string) (Patch, error) {
	dmp := newDMP()
	patches, err := dmp.PatchFromText(encoded)
	if err != nil {
		return Patch{}, err
	}
	return Patch{patches: patches}, nil
}

// IsEmpty reports whether the bundle carries no hunks.
func (p Patch) IsEmpty() bool {
	return len(p.patches) == 0
}
