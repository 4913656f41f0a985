package bdd

import (
	"context"

	"github.com/chirino/keyvalue-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		db := s.Suite.DB
		if db == nil {
			return
		}
		// every scenario starts from an empty database
		ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
			return ctx, db.ClearAll(ctx)
		})
	})
}
