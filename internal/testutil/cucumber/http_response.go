package cucumber

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should match json:$`, s.theResponseShouldMatchJSON)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSON)
		ctx.Step(`^the response should contain "([^"]*)"$`, s.theResponseShouldContain)
		ctx.Step(`^the response should not contain "([^"]*)"$`, s.theResponseShouldNotContain)
		ctx.Step(`^the response should match:$`, s.theResponseShouldMatchText)
		ctx.Step(`^the response should be a json array of length (\d+)$`, s.theResponseShouldBeAJSONArrayOfLength)
		ctx.Step(`^the response header "([^"]*)" should match "([^"]*)"$`, s.theResponseHeaderShouldMatch)
		ctx.Step(`^the response header "([^"]*)" should start with "([^"]*)"$`, s.theResponseHeaderShouldStartWith)
		ctx.Step(`^the "(.*)" selection from the response should match "([^"]*)"$`, s.theSelectionShouldMatch)
		ctx.Step(`^the "([^"]*)" selection from the response should match json:$`, s.theSelectionShouldMatchJSON)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.iStoreTheSelectionAs)
		ctx.Step(`^I store the \${([^}]*)} as \${([^}]*)}$`, s.iStoreVariableAs)
		ctx.Step(`^\${([^}]*)} is not empty$`, s.variableIsNotEmpty)
		ctx.Step(`^\${([^}]*)} should contain json:$`, s.variableShouldContainJSON)
		ctx.Step(`^"([^"]*)" should match "([^"]*)"$`, s.textShouldMatch)
	})
}

// body returns the last response body, failing when there was no response.
func (s *TestScenario) body() (string, error) {
	session := s.Session()
	if session.Resp == nil && session.RespBytes == nil {
		return "", errors.New("no HTTP response available")
	}
	return string(session.RespBytes), nil
}

func (s *TestScenario) response() (*http.Response, error) {
	if resp := s.Session().Resp; resp != nil {
		return resp, nil
	}
	return nil, errors.New("no HTTP response available")
}

// selection evaluates a gojq selector against the last response.
func (s *TestScenario) selection(selector string) (any, error) {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return nil, err
	}
	value, found, err := selectJSON(selector, doc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no node of the response matches selector %s", selector)
	}
	return value, nil
}

func (s *TestScenario) theResponseCodeShouldBe(expected int) error {
	resp, err := s.response()
	if err != nil {
		return err
	}
	if resp.StatusCode != expected {
		return fmt.Errorf("expected response code %d, got %d, body: %s", expected, resp.StatusCode, s.Session().RespBytes)
	}
	return nil
}

func (s *TestScenario) theResponseShouldMatchJSON(expected *godog.DocString) error {
	body, err := s.body()
	if err != nil {
		return err
	}
	return s.JSONMustMatch(body, expected.Content, true)
}

func (s *TestScenario) theResponseShouldContainJSON(expected *godog.DocString) error {
	body, err := s.body()
	if err != nil {
		return err
	}
	return s.JSONMustContain(body, expected.Content, true)
}

func (s *TestScenario) theResponseShouldContain(text string) error {
	body, err := s.body()
	if err != nil {
		return err
	}
	if !strings.Contains(body, text) {
		return fmt.Errorf("response does not contain %q: %s", text, body)
	}
	return nil
}

func (s *TestScenario) theResponseShouldNotContain(text string) error {
	body, err := s.body()
	if err != nil {
		return err
	}
	if strings.Contains(body, text) {
		return fmt.Errorf("response unexpectedly contains %q: %s", text, body)
	}
	return nil
}

func (s *TestScenario) theResponseShouldMatchText(expected *godog.DocString) error {
	body, err := s.body()
	if err != nil {
		return err
	}
	want, err := s.Expand(expected.Content)
	if err != nil {
		return err
	}
	if want != body {
		return fmt.Errorf("response does not match, diff:\n%s", textDiff(want, body))
	}
	return nil
}

func (s *TestScenario) theResponseShouldBeAJSONArrayOfLength(expected int) error {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return err
	}
	items, ok := doc.([]any)
	if !ok {
		return fmt.Errorf("expected a json array, got %T: %s", doc, s.Session().RespBytes)
	}
	if len(items) != expected {
		return fmt.Errorf("expected %d item(s), got %d: %s", expected, len(items), s.Session().RespBytes)
	}
	return nil
}

func (s *TestScenario) theResponseHeaderShouldMatch(name, expected string) error {
	return s.checkHeader(name, expected, func(actual, want string) bool { return actual == want })
}

func (s *TestScenario) theResponseHeaderShouldStartWith(name, prefix string) error {
	return s.checkHeader(name, prefix, strings.HasPrefix)
}

func (s *TestScenario) checkHeader(name, expected string, ok func(actual, want string) bool) error {
	resp, err := s.response()
	if err != nil {
		return err
	}
	want, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if actual := resp.Header.Get(name); !ok(actual, want) {
		return fmt.Errorf("response header %s is %q, expected %q", name, actual, want)
	}
	return nil
}

func (s *TestScenario) theSelectionShouldMatch(selector, expected string) error {
	value, err := s.selection(selector)
	if err != nil {
		return err
	}
	want, err := s.Expand(expected)
	if err != nil {
		return err
	}
	actual := "null"
	if value != nil {
		actual = fmt.Sprint(value)
	}
	if actual != want {
		return fmt.Errorf("selection %s is %q, expected %q", selector, actual, want)
	}
	return nil
}

func (s *TestScenario) theSelectionShouldMatchJSON(selector string, expected *godog.DocString) error {
	value, err := s.selection(selector)
	if err != nil {
		return err
	}
	actual, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.JSONMustMatch(string(actual), expected.Content, true)
}

func (s *TestScenario) iStoreTheSelectionAs(selector, name string) error {
	value, err := s.selection(selector)
	if err != nil {
		return err
	}
	s.Variables[name] = value
	return nil
}

func (s *TestScenario) iStoreVariableAs(ref, name string) error {
	value, err := s.Resolve(ref)
	if err != nil {
		return err
	}
	s.Variables[name] = value
	return nil
}

func (s *TestScenario) variableIsNotEmpty(ref string) error {
	value, err := s.Resolve(ref)
	if err != nil {
		return err
	}
	if value == nil || value == "" {
		return fmt.Errorf("${%s} is empty", ref)
	}
	return nil
}

func (s *TestScenario) variableShouldContainJSON(ref string, expected *godog.DocString) error {
	actual, err := s.ResolveString(ref)
	if err != nil {
		return err
	}
	return s.JSONMustContain(actual, expected.Content, true)
}

func (s *TestScenario) textShouldMatch(actual, expected string) error {
	got, err := s.Expand(actual)
	if err != nil {
		return err
	}
	want, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("text does not match, diff:\n%s", textDiff(want, got))
	}
	return nil
}
