package offline

import (
	"testing"

	"github.com/syncdocs/backend/internal/models"
)

func TestSortEditsByTimestampOrdersAscending(t *testing.T) {
	edits := []models.OfflineEdit{
		{ClientTimestamp: 300, UserID: "c"},
		{ClientTimestamp: 100, UserID: "a"},
		{ClientTimestamp: 200, UserID: "b"},
	}

	sortEditsByTimestamp(edits)

	want := []string{"a", "b", "c"}
	for i, w := range want {
		if edits[i].UserID != w {
			t.Fatalf("position %d: got %s, want %s", i, edits[i].UserID, w)
		}
	}
}

func TestSortEditsByTimestampStableOnTies(t *testing.T) {
	edits := []models.OfflineEdit{
		{ClientTimestamp: 100, UserID: "first"},
		{ClientTimestamp: 100, UserID: "second"},
	}

	sortEditsByTimestamp(edits)

	if edits[0].UserID != "first" || edits[1].UserID != "second" {
		t.Fatalf("expected stable order preserved on ties, got %+v", edits)
	}
}

func TestDescribeReplaySingular(t *testing.T) {
	if got := describeReplay(1); got != "Synced 1 offline edit" {
		t.Fatalf("got %q", got)
	}
}

func TestDescribeReplayPlural(t *testing.T) {
	if got := describeReplay(3); got != "Synced 3 offline edits" {
		t.Fatalf("got %q", got)
	}
}
