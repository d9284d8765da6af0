package hylord

import (
	"gopkg.in/check.v1"
)

type samplerSuite struct{}

var _ = check.Suite(&samplerSuite{})

func (s *samplerSuite) TestSamplesComeFromLevelTables(c *check.C) {
	sampler := newProfileSampler(1)
	for i := 0; i < 1000; i++ {
		c.Assert(containsLevel(methylationLevels, sampler.methylation()), check.Equals, true)
		c.Assert(containsLevel(hydroxymethylationLevels, sampler.hydroxymethylation()), check.Equals, true)
	}
}

func (s *samplerSuite) TestSameSeedSameDraws(c *check.C) {
	one := newProfileSampler(12345)
	two := newProfileSampler(12345)
	for i := 0; i < 100; i++ {
		c.Assert(one.methylation(), check.Equals, two.methylation())
		c.Assert(one.hydroxymethylation(), check.Equals, two.hydroxymethylation())
	}
}

func (s *samplerSuite) TestDifferentSeedsDiverge(c *check.C) {
	one := newProfileSampler(1)
	two := newProfileSampler(2)
	same := true
	for i := 0; i < 100; i++ {
		if one.methylation() != two.methylation() {
			same = false
		}
	}
	c.Check(same, check.Equals, false)
}

func (s *samplerSuite) TestMethylationCoversAllLevels(c *check.C) {
	sampler := newProfileSampler(7)
	seen := map[float64]bool{}
	for i := 0; i < 10000; i++ {
		seen[sampler.methylation()] = true
	}
	c.Check(seen, check.HasLen, len(methylationLevels))
}
