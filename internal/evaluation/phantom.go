package evaluation

import (
	"regexp"
	"strconv"

	"expertgate/internal/models"
)

// citationMarker matches bracketed integer citations such as [3].
var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// HasPhantomReferences reports whether response cites a reference that is not in
// references. Citations are 1-based, so [0] is always a phantom.
func HasPhantomReferences(response string, references []models.Reference) bool {
	return len(PhantomCitations(response, len(references))) > 0
}

// PhantomCitations returns every out-of-range marker of response in order of appearance.
func PhantomCitations(response string, referenceCount int) []string {
	var phantoms []string
	for _, m := range citationMarker.FindAllStringSubmatch(response, -1) {
		if outOfRange(m[1], referenceCount) {
			phantoms = append(phantoms, m[0])
		}
	}
	return phantoms
}

func outOfRange(digits string, referenceCount int) bool {
	n, err := strconv.Atoi(digits)
	if err != nil {
		// only overflow can fail here
		return true
	}
	return n < 1 || n > referenceCount
}
