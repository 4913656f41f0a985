package bdd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chirino/keyvalue-service/internal/cmd/serve"
	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/stretchr/testify/require"
)

// baseConfig returns a server config wired to the mock completion upstream.
func baseConfig(openai *MockOpenAI) config.Config {
	cfg := config.DefaultConfig()
	cfg.CompletionType = "openai"
	cfg.CompletionBaseURL = openai.Server.URL
	cfg.CompletionAPIKey = "test-key"
	cfg.JWTSecret = "bdd-secret"
	cfg.BcryptCost = 4
	cfg.AdminUsers = "ops"
	cfg.Listener.Port = 0
	cfg.Listener.EnableTLS = false
	return cfg
}

// runFeatures starts the server for cfg and runs every feature file against it.
func runFeatures(t *testing.T, cfg *config.Config, db cucumber.TestDB, openai *MockOpenAI, skip map[string]bool) {
	t.Helper()
	ctx := config.WithContext(context.Background(), cfg)

	srv, err := serve.StartServer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	apiURL := fmt.Sprintf("http://localhost:%d", srv.Running.Port)

	featuresDir := filepath.Join("testdata", "features")
	if _, err := os.Stat(featuresDir); os.IsNotExist(err) {
		t.Skipf("Feature files directory not found: %s", featuresDir)
	}
	featureFiles, err := filepath.Glob(filepath.Join(featuresDir, "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, featureFiles, "No feature files found in %s", featuresDir)

	opts := cucumber.DefaultOptions()
	opts.Concurrency = 1
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}

	for _, featurePath := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(featurePath), ".feature")
		if skip[name] {
			t.Run(name, func(t *testing.T) {
				t.Skipf("Skipped on %s", cfg.DatastoreType)
			})
			continue
		}
		t.Run(name, func(t *testing.T) {
			o := opts
			o.TestingT = t
			o.Paths = []string{featurePath}
			defer cucumber.ApplyReportOptions(&o, t.Name())()

			suite := cucumber.NewTestSuite()
			suite.APIURL = apiURL
			suite.TestingT = t
			suite.DB = db
			suite.Extra[storeExtraKey] = srv.Store
			suite.Extra[mockOpenAIExtraKey] = openai
			suite.Extra["cacheEnabled"] = cfg.CacheType != "none"

			status := godog.TestSuite{
				Name:                name,
				Options:             &o,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}

func TestFeatures(t *testing.T) {
	openai := NewMockOpenAI(t)

	cfg := baseConfig(openai)
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file:" + filepath.Join(t.TempDir(), "bdd.db")
	cfg.CacheType = "local"

	runFeatures(t, &cfg, SQLiteTestDB(cfg.DBURL), openai, nil)
}
