package bdd

import (
	"fmt"

	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/chirino/keyvalue-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		c := &cacheSteps{s: s}
		ctx.Step(`^I record the current cache metrics$`, c.iRecordTheCurrentCacheMetrics)
		ctx.Step(`^the cache hit count should have increased by at least (\d+)$`, c.theCacheHitCountShouldHaveIncreasedByAtLeast)
	})
}

type cacheSteps struct {
	s              *cucumber.TestScenario
	lastHitCount   float64
	hitCountCached bool
}

// The server runs in-process, so the counters are read straight from the
// registered collectors.
func cacheHits() float64 {
	if security.CacheHitsTotal == nil {
		return 0
	}
	return testutil.ToFloat64(security.CacheHitsTotal)
}

func (c *cacheSteps) iRecordTheCurrentCacheMetrics() error {
	c.lastHitCount = cacheHits()
	c.hitCountCached = true
	return nil
}

func (c *cacheSteps) theCacheHitCountShouldHaveIncreasedByAtLeast(minIncrease int) error {
	if !c.hitCountCached {
		return fmt.Errorf("cache metrics were not recorded; call 'I record the current cache metrics' first")
	}
	if c.s.Suite.Extra["cacheEnabled"] != true {
		return nil
	}
	if delta := cacheHits() - c.lastHitCount; delta < float64(minIncrease) {
		return fmt.Errorf("expected cache hits to increase by at least %d, got %.0f", minIncrease, delta)
	}
	return nil
}
