package bdd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/chirino/keyvalue-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

const storeExtraKey = "store"

// bddPassword is the password of every account created by the auth steps.
const bddPassword = "password"

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &authSteps{s: s}
		ctx.Step(`^a user "([^"]*)" with password "([^"]*)" exists$`, a.aUserWithPasswordExists)
		ctx.Step(`^an admin user "([^"]*)" with password "([^"]*)" exists$`, a.anAdminUserWithPasswordExists)
		ctx.Step(`^I am authenticated as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
		ctx.Step(`^I am authenticated as admin user "([^"]*)"$`, a.iAmAuthenticatedAsAdminUser)
		ctx.Step(`^I use the bearer token "([^"]*)"$`, a.iUseTheBearerToken)
	})
}

type authSteps struct {
	s *cucumber.TestScenario
}

func (a *authSteps) store() (registrystore.UserStore, error) {
	store, ok := a.s.Suite.Extra[storeExtraKey].(registrystore.UserStore)
	if !ok {
		return nil, fmt.Errorf("store not configured in suite extra %q", storeExtraKey)
	}
	return store, nil
}

func (a *authSteps) ensureUser(username, password string, userType model.UserType) error {
	store, err := a.store()
	if err != nil {
		return err
	}
	hashed, err := security.HashPassword(password, 4)
	if err != nil {
		return err
	}
	_, err = store.CreateUser(context.Background(), model.User{
		Username:       username,
		HashedPassword: hashed,
		Type:           userType,
	})
	var conflict *registrystore.ConflictError
	if errors.As(err, &conflict) {
		return nil
	}
	return err
}

func (a *authSteps) aUserWithPasswordExists(username, password string) error {
	return a.ensureUser(username, password, model.UserTypeStandard)
}

func (a *authSteps) anAdminUserWithPasswordExists(username, password string) error {
	return a.ensureUser(username, password, model.UserTypeAdmin)
}

// login obtains a token through the public token endpoint, like a client would.
func (a *authSteps) login(username, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(a.s.Suite.APIURL+"/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login as %q failed with status %d", username, resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (a *authSteps) authenticate(username string, userType model.UserType) error {
	if err := a.ensureUser(username, bddPassword, userType); err != nil {
		return err
	}
	token, err := a.login(username, bddPassword)
	if err != nil {
		return err
	}
	a.setUser(username, token)
	a.s.Variables["token"] = token
	return nil
}

func (a *authSteps) setUser(username, token string) {
	a.s.Suite.Mu.Lock()
	user := a.s.Users[username]
	if user == nil {
		user = &cucumber.TestUser{Name: username, Password: bddPassword}
		a.s.Users[username] = user
	}
	user.Subject = token
	a.s.Suite.Mu.Unlock()
	a.s.CurrentUser = username
	a.s.Session().Header.Del("Authorization")
}

func (a *authSteps) iAmAuthenticatedAsUser(username string) error {
	return a.authenticate(username, model.UserTypeStandard)
}

func (a *authSteps) iAmAuthenticatedAsAdminUser(username string) error {
	return a.authenticate(username, model.UserTypeAdmin)
}

func (a *authSteps) iUseTheBearerToken(token string) error {
	expanded, err := a.s.Expand(token)
	if err != nil {
		return err
	}
	a.s.Session().Header.Set("Authorization", "Bearer "+expanded)
	return nil
}
