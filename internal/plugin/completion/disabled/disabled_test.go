package disabled_test

import (
	"context"
	"testing"

	"github.com/chirino/keyvalue-service/internal/plugin/completion/disabled"
	registrycompletion "github.com/chirino/keyvalue-service/internal/registry/completion"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderFails(t *testing.T) {
	loader, err := registrycompletion.Select("disabled")
	require.NoError(t, err)
	p, err := loader(context.Background())
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), registrycompletion.Request{Model: "gpt-4o"})
	require.ErrorIs(t, err, disabled.ErrDisabled)
}
