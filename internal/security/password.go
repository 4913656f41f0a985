package security

import (
	"context"
	"errors"

	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("incorrect username or password")

// compared against when the user does not exist so both paths cost one bcrypt round.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z5bFRoTFkG3MfE3bgRUXl1fO"

// HashPassword returns the bcrypt hash of password. A cost of 0 uses bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Authenticator checks username/password pairs against the user store.
type Authenticator struct {
	users registrystore.UserStore
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(users registrystore.UserStore) *Authenticator {
	return &Authenticator{users: users}
}

// Authenticate returns the user when password matches its stored hash.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := a.users.GetUser(ctx, username)
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
