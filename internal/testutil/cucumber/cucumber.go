// Package cucumber runs godog feature files against a live HTTP API.
//
// Each scenario owns its variables. Every user of a scenario gets its own
// session holding the last response, so switching users switches responses.
//
// Strings passed to steps may reference:
//   - ${name}             a scenario variable
//   - ${name.a.0}         a field or index inside a variable
//   - ${response}         the last JSON response body
//   - ${response.a[0]}    a gojq selection of the last response
//   - ${name | pipe}      a transformation (json, json_escape, string, upper, length)
package cucumber

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
)

// StepModules register step definitions on every new scenario.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

// TestDB gives steps direct access to the backing database of the server under test.
type TestDB interface {
	// ClearAll removes every stored row or document.
	ClearAll(ctx context.Context) error
	// ExecSQL runs query and returns its rows. Backends without SQL return nil rows.
	ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error)
}

// TestSuite is shared by all scenarios of a run.
type TestSuite struct {
	APIURL   string
	TestingT *testing.T
	DB       TestDB
	// Extra carries runner-provided objects such as mock servers or the store.
	Extra map[string]interface{}
	Mu    sync.Mutex
}

// NewTestSuite returns a suite targeting the default local listener.
func NewTestSuite() *TestSuite {
	return &TestSuite{
		APIURL: "http://localhost:8080",
		Extra:  map[string]interface{}{},
	}
}

// DefaultOptions returns the godog options used by the feature runners.
func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 1,
	}
}

// ApplyReportOptions switches opts to junit output written under
// $GODOG_REPORT_DIR. The returned func closes the report file.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	dir := os.Getenv("GODOG_REPORT_DIR")
	if dir == "" {
		return func() {}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(dir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// InitializeScenario is the godog scenario initializer for the suite.
func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Users:     map[string]*TestUser{},
		Variables: map[string]interface{}{},
		sessions:  map[string]*TestSession{},
	}
	for _, register := range StepModules {
		register(ctx, s)
	}
}

// TestUser is an API caller known to the scenario.
type TestUser struct {
	Name     string
	Password string
	// Subject is the bearer token sent on the user's behalf.
	Subject string
}

// TestScenario is the state of one running scenario.
type TestScenario struct {
	Suite       *TestSuite
	CurrentUser string
	PathPrefix  string
	Variables   map[string]interface{}
	Users       map[string]*TestUser

	sessions map[string]*TestSession
}

// User returns the scenario's current user, or nil when acting anonymously.
func (s *TestScenario) User() *TestUser {
	s.Suite.Mu.Lock()
	defer s.Suite.Mu.Unlock()
	return s.Users[s.CurrentUser]
}

// Session returns the current user's session, creating it on first use.
func (s *TestScenario) Session() *TestSession {
	if session, ok := s.sessions[s.CurrentUser]; ok {
		return session
	}
	session := &TestSession{
		TestUser: s.User(),
		Client:   &http.Client{},
		Header:   http.Header{},
	}
	s.sessions[s.CurrentUser] = session
	return session
}

// TestSession is the HTTP state of one user.
type TestSession struct {
	TestUser *TestUser
	Client   *http.Client
	// Header is sent with the next request and then discarded, except for
	// Authorization, which sticks.
	Header    http.Header
	Resp      *http.Response
	RespBytes []byte

	parsed interface{}
}

// SetRespBytes replaces the last response body.
func (s *TestSession) SetRespBytes(body []byte) {
	s.RespBytes = body
	s.parsed = nil
}

// RespJSON returns the last response body decoded as JSON.
func (s *TestSession) RespJSON() (interface{}, error) {
	if s.parsed != nil {
		return s.parsed, nil
	}
	if s.RespBytes == nil {
		return nil, errors.New("no response body")
	}
	var doc interface{}
	if err := json.Unmarshal(s.RespBytes, &doc); err != nil {
		return nil, errors.New("response is not json: " + err.Error() + "\n" + string(s.RespBytes))
	}
	s.parsed = doc
	return doc, nil
}
