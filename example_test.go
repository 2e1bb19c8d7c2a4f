package scdblfinder_test

import (
	"fmt"

	scdblfinder "github.com/semir2/scDblFinder"
)

// ExampleFind scores a small dataset with precomputed cluster labels and
// reports how many cells were called.
func ExampleFind() {
	m, labels := doubletFixture(60, 0, 42)

	rep, err := scdblfinder.Find(m,
		scdblfinder.WithClusters(labels),
		scdblfinder.WithRounds(5),
		scdblfinder.WithSeed(7),
	)
	if err != nil {
		fmt.Println("find:", err)
		return
	}

	fmt.Printf("cells scored: %d\n", rep.Cells)
	fmt.Printf("scores: %d classes: %d\n", len(rep.Score), len(rep.Class))
	// Output:
	// cells scored: 180
	// scores: 180 classes: 180
}
