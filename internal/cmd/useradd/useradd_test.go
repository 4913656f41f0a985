package useradd

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CreatesUserInSQLiteFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file:" + filepath.Join(t.TempDir(), "users.db")
	cfg.BcryptCost = 4
	ctx := config.WithContext(context.Background(), &cfg)

	user, err := Run(ctx, "root", "hunter2", model.UserTypeAdmin)
	require.NoError(t, err)
	assert.True(t, user.IsAdmin())

	// A second store over the same file sees the account and its password.
	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	defer store.Close(ctx)

	got, err := security.NewAuthenticator(store).Authenticate(ctx, "root", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, model.UserTypeAdmin, got.Type)

	_, err = Run(ctx, "root", "other", model.UserTypeStandard)
	var conflict *registrystore.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.True(t, conflict.IsDuplicateKey())
}

func TestRun_RequiresCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	ctx := config.WithContext(context.Background(), &cfg)
	_, err := Run(ctx, "", "", model.UserTypeStandard)
	var verr *registrystore.ValidationError
	require.True(t, errors.As(err, &verr))
}
