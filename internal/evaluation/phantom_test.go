package evaluation

import (
	"reflect"
	"testing"

	"expertgate/internal/models"
)

func refs(n int) []models.Reference {
	out := make([]models.Reference, n)
	for i := range out {
		out[i] = models.Reference{Name: "doc", Similarity: 0.8}
	}
	return out
}

func TestHasPhantomReferences(t *testing.T) {
	tests := []struct {
		name     string
		response string
		refCount int
		want     bool
	}{
		{"all in range", "see [1] and [2]", 2, false},
		{"beyond list", "see [3]", 2, true},
		{"no citations", "no citations here", 0, false},
		{"citation without references", "as shown in [1]", 0, true},
		{"zero marker", "see [0]", 3, true},
		{"duplicates in range", "[1][1][1]", 1, false},
		{"one bad duplicate", "[2] then [2] then [5]", 2, true},
		{"non numeric ignored", "see [a] and [ 1 ] and [1.5]", 0, false},
		{"overflow", "see [99999999999999999999999]", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPhantomReferences(tt.response, refs(tt.refCount)); got != tt.want {
				t.Errorf("HasPhantomReferences(%q, %d refs) = %v, want %v", tt.response, tt.refCount, got, tt.want)
			}
		})
	}
}

func TestPhantomCitations(t *testing.T) {
	got := PhantomCitations("use [1], then [4], then [0], then [4]", 3)
	want := []string{"[4]", "[0]", "[4]"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PhantomCitations() = %v, want %v", got, want)
	}

	if got := PhantomCitations("clean [1]", 1); got != nil {
		t.Errorf("PhantomCitations() = %v, want nil", got)
	}
}
