package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/keyvalue-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

const mockOpenAIExtraKey = "mockOpenAI"

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		c := &completionSteps{s: s}
		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			if m := c.mock(); m != nil {
				m.Reset()
			}
			return ctx, nil
		})
		ctx.Step(`^the completion upstream replies "([^"]*)"$`, c.theCompletionUpstreamReplies)
		ctx.Step(`^the completion upstream fails with status (\d+)$`, c.theCompletionUpstreamFailsWithStatus)
		ctx.Step(`^the completion upstream should have been called (\d+) times?$`, c.theCompletionUpstreamShouldHaveBeenCalled)
		ctx.Step(`^the last completion request should contain json:$`, c.theLastCompletionRequestShouldContainJSON)
	})
}

type completionSteps struct {
	s *cucumber.TestScenario
}

func (c *completionSteps) mock() *MockOpenAI {
	m, _ := c.s.Suite.Extra[mockOpenAIExtraKey].(*MockOpenAI)
	return m
}

func (c *completionSteps) required() (*MockOpenAI, error) {
	m := c.mock()
	if m == nil {
		return nil, fmt.Errorf("mock completion upstream not configured in suite extra %q", mockOpenAIExtraKey)
	}
	return m, nil
}

func (c *completionSteps) theCompletionUpstreamReplies(text string) error {
	m, err := c.required()
	if err != nil {
		return err
	}
	expanded, err := c.s.Expand(text)
	if err != nil {
		return err
	}
	m.SetReply(expanded)
	return nil
}

func (c *completionSteps) theCompletionUpstreamFailsWithStatus(status int) error {
	m, err := c.required()
	if err != nil {
		return err
	}
	m.Fail(status)
	return nil
}

func (c *completionSteps) theCompletionUpstreamShouldHaveBeenCalled(expected int) error {
	m, err := c.required()
	if err != nil {
		return err
	}
	if actual := m.Calls(); actual != expected {
		return fmt.Errorf("expected %d completion call(s), got %d", expected, actual)
	}
	return nil
}

func (c *completionSteps) theLastCompletionRequestShouldContainJSON(expected *godog.DocString) error {
	m, err := c.required()
	if err != nil {
		return err
	}
	last := m.LastRequest()
	if last == nil {
		return fmt.Errorf("no completion request was received")
	}
	return c.s.JSONMustContain(string(last), expected.Content, true)
}
