package embedding

import (
	"fmt"

	"github.com/dataengine/core/internal/domain"
)

// checkDimensions validates that every vector returned by a remote provider
// has exactly want components, wrapping domain.ErrDimMismatch with enough
// detail to locate the offending vector. vectorindex.Index partitions by
// table namespace and assumes every vector in a namespace shares one width
// (see Index.Add's dimMismatchDetail); catching a mismatch here, at the
// provider boundary, gives a more actionable error (naming the provider and
// the vector) than the one Index.Add would raise after the write committed.
func checkDimensions(provider string, want int, vecs [][]float32) error {
	if want <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != want {
			return fmt.Errorf("%w: %s returned vector %d with %d dimensions, want %d",
				domain.ErrDimMismatch, provider, i, len(v), want)
		}
	}
	return nil
}
