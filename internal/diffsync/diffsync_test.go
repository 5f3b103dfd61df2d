package diffsync

import "testing"

func TestMakePatchApplyRoundTrip(t *testing.T) {
	a := "AAA BBB"
	b := "XXX BBB"

	p := MakePatch(a, b)
	got, results := Apply(p, a)

	if !AllApplied(results) {
		t.Fatalf("expected all hunks to apply, got results=%v", results)
	}
	if got != b {
		t.Fatalf("got %q, want %q", got, b)
	}
}

func TestApplyDisjointEditsConverge(t *testing.T) {
	base := "AAA BBB"

	patchA := MakePatch(base, "XXX BBB")
	patchB := MakePatch(base, "AAA YYY")

	afterA, resA := Apply(patchA, base)
	if !AllApplied(resA) {
		t.Fatalf("patch A failed to apply cleanly: %v", resA)
	}

	final, resB := Apply(patchB, afterA)
	if !AllApplied(resB) {
		t.Fatalf("patch B failed to apply cleanly on top of A: %v", resB)
	}
	if final != "XXX YYY" {
		t.Fatalf("got %q, want %q", final, "XXX YYY")
	}
}

func TestApplyFailsOnUnlocatableContext(t *testing.T) {
	p := MakePatch("one two", "one two three")

	_, results := Apply(p, "completely different text that shares nothing")
	if AllApplied(results) {
		t.Fatalf("expected patch application to fail against unrelated text")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := MakePatch("hello", "hello world")
	encoded := Encode(p)

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	got, results := Apply(decoded, "hello")
	if !AllApplied(results) {
		t.Fatalf("decoded patch failed to apply: %v", results)
	}
	if got != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestEmptyPatchIsNoOp(t *testing.T) {
	p := MakePatch("same", "same")
	if !p.IsEmpty() {
		t.Fatalf("expected no-op diff to produce an empty patch")
	}

	got, results := Apply(p, "same")
	if !AllApplied(results) {
		t.Fatalf("empty patch should vacuously apply")
	}
	if got != "same" {
		t.Fatalf("got %q, want %q", got, "same")
	}
}
