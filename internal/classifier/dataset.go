package classifier

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/feichai0017/timechange/pkg/converters"
)

// sample is one decoded image with its class index.
type sample struct {
	pixels []float64
	class  int
}

// loadDataset decodes imageDir/<label>/*.png for every label. Class i is
// labels[i]. Every image must match the input shape.
func loadDataset(imageDir string, labels []string, input Shape) ([]sample, error) {
	var out []sample
	for class, label := range labels {
		paths, err := filepath.Glob(filepath.Join(imageDir, label, "*.png"))
		if err != nil {
			return nil, fmt.Errorf("failed to list images of %s: %w", label, err)
		}
		for _, path := range paths {
			pixels, h, w, err := converters.Load(path)
			if err != nil {
				return nil, err
			}
			if h != input.Height || w != input.Width {
				return nil, fmt.Errorf("%w: %s is %dx%d, model expects %dx%d",
					ErrGeometry, path, h, w, input.Height, input.Width)
			}
			out = append(out, sample{pixels: pixels, class: class})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no training images found in %s", imageDir)
	}
	return out, nil
}

// batches returns index batches over n samples, shuffled when rng is set.
func batches(n, size int, rng *rand.Rand) [][]int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	if size <= 0 {
		size = n
	}
	var out [][]int
	for start := 0; start < n; start += size {
		out = append(out, order[start:min(start+size, n)])
	}
	return out
}
