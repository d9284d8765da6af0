package hylord

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Empirical per-site modification levels observed in ONT data. CpG
// methylation is bimodal with peaks near 0% and 100%;
// hydroxymethylation is concentrated near zero (neurons differ, but we
// stick with the distribution seen in other cell types). Sampling a
// novel profile draws uniformly from these discrete levels, which is
// cheaper than sampling the underlying continuous distribution.
var (
	methylationLevels        = []float64{0, 0.0408, 0.1209, 0.2, 0.3, 0.5, 0.6, 0.85, 1}
	hydroxymethylationLevels = []float64{0, 0, 0, 0, 0.1, 0.1, 0.1, 0.2, 0.4}
)

// profileSampler generates plausible methylation values for cell types
// absent from the reference matrix. The random source is injected via
// seed so runs can be reproduced.
type profileSampler struct {
	methyl  distuv.Categorical
	hydroxy distuv.Categorical
}

func newProfileSampler(seed uint64) *profileSampler {
	src := rand.NewSource(seed)
	uniform := func(n int) []float64 {
		weights := make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}
	return &profileSampler{
		methyl:  distuv.NewCategorical(uniform(len(methylationLevels)), src),
		hydroxy: distuv.NewCategorical(uniform(len(hydroxymethylationLevels)), src),
	}
}

func (s *profileSampler) methylation() float64 {
	return methylationLevels[int(s.methyl.Rand())]
}

func (s *profileSampler) hydroxymethylation() float64 {
	return hydroxymethylationLevels[int(s.hydroxy.Rand())]
}
