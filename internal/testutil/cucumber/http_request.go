package cucumber

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the path prefix is "([^"]*)"$`, s.thePathPrefixIs)
		ctx.Step(`^I (GET|POST|PUT|DELETE|OPTIONS) path "([^"]*)"$`, s.iSendRequest)
		ctx.Step(`^I (GET|POST|PUT|DELETE|OPTIONS) path "([^"]*)" with json body:$`, s.iSendRequestWithJSONBody)
		ctx.Step(`^I (GET|POST|PUT|DELETE) path "([^"]*)" without authentication$`, s.iSendAnonymousRequest)
		ctx.Step(`^I (GET|POST|PUT|DELETE) path "([^"]*)" with json body without authentication:$`, s.iSendAnonymousRequestWithJSONBody)
		ctx.Step(`^I (POST) path "([^"]*)" with form body:$`, s.iSendRequestWithFormBody)
		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on path "([^"]*)" response code to match "([^"]*)"$`, s.iWaitForResponseCode)
		ctx.Step(`^I call (GET|POST|PUT|DELETE) "([^"]*)"$`, s.iSendRequest)
		ctx.Step(`^I call (GET|POST|PUT|DELETE) "([^"]*)" with body:$`, s.iSendRequestWithJSONBody)
		ctx.Step(`^I call (GET|POST|PUT|DELETE) "([^"]*)" with query "([^"]*)"$`, s.iSendRequestWithQuery)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)
	})
}

func (s *TestScenario) thePathPrefixIs(prefix string) error {
	s.PathPrefix = prefix
	return nil
}

func (s *TestScenario) iSendRequest(method, path string) error {
	return s.Send(method, path, "", contentTypeJSON)
}

func (s *TestScenario) iSendRequestWithJSONBody(method, path string, body *godog.DocString) error {
	return s.Send(method, path, body.Content, contentTypeJSON)
}

func (s *TestScenario) iSendAnonymousRequest(method, path string) error {
	return s.anonymously(func() error { return s.iSendRequest(method, path) })
}

func (s *TestScenario) iSendAnonymousRequestWithJSONBody(method, path string, body *godog.DocString) error {
	return s.anonymously(func() error { return s.iSendRequestWithJSONBody(method, path, body) })
}

// anonymously runs send without the session's credentials.
func (s *TestScenario) anonymously(send func() error) error {
	session := s.Session()
	session.Header.Del("Authorization")
	user := session.TestUser
	session.TestUser = nil
	defer func() { session.TestUser = user }()
	return send()
}

// iSendRequestWithFormBody posts a two-column table as a url-encoded form.
func (s *TestScenario) iSendRequestWithFormBody(method, path string, table *godog.Table) error {
	form := url.Values{}
	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			return fmt.Errorf("form rows need exactly two cells, got %d", len(row.Cells))
		}
		value, err := s.Expand(row.Cells[1].Value)
		if err != nil {
			return err
		}
		form.Set(row.Cells[0].Value, value)
	}
	return s.Send(method, path, form.Encode(), contentTypeForm)
}

func (s *TestScenario) iSendRequestWithQuery(method, path, query string) error {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return s.iSendRequest(method, path+sep+query)
}

func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, expanded)
	return nil
}

func (s *TestScenario) iWaitForResponseCode(seconds float64, path string, expected int) error {
	timeout := time.Duration(seconds * float64(time.Second))
	deadline := time.Now().Add(timeout)
	for {
		err := s.iSendRequest(http.MethodGet, path)
		if err == nil {
			err = s.theResponseCodeShouldBe(expected)
		}
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met after %.f seconds: %w", seconds, err)
		}
		time.Sleep(timeout / 10)
	}
}

// Send expands ${...} references in path and body and issues the request as
// the current user. The response is kept on the user's session.
func (s *TestScenario) Send(method, path, body, contentType string) error {
	path, err := s.Expand(path)
	if err != nil {
		return err
	}
	if body, err = s.Expand(body); err != nil {
		return err
	}

	target := path
	if u, err := url.Parse(path); err != nil || u.Scheme == "" {
		target = s.Suite.APIURL + s.PathPrefix + path
	}

	session := s.Session()
	session.Resp = nil
	session.SetRespBytes(nil)

	req, err := http.NewRequestWithContext(context.Background(), method, target, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header = session.Header
	session.Header = http.Header{}
	if auth := req.Header.Get("Authorization"); auth != "" {
		session.Header.Set("Authorization", auth)
	} else if session.TestUser != nil && session.TestUser.Subject != "" {
		req.Header.Set("Authorization", "Bearer "+session.TestUser.Subject)
	}
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	session.Resp = resp
	session.SetRespBytes(respBody)
	return nil
}
