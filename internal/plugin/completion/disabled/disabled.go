package disabled

import (
	"context"
	"errors"

	"github.com/chirino/keyvalue-service/internal/registry/completion"
)

// ErrDisabled is returned by every call of the disabled provider.
var ErrDisabled = errors.New("completion provider disabled")

func init() {
	completion.Register(completion.Plugin{
		Name: "disabled",
		Loader: func(ctx context.Context) (completion.Provider, error) {
			return &disabledProvider{}, nil
		},
	})
}

type disabledProvider struct{}

func (d *disabledProvider) Complete(_ context.Context, _ completion.Request) (*completion.Response, error) {
	return nil, ErrDisabled
}

func (d *disabledProvider) Name() string { return "disabled" }

var _ completion.Provider = (*disabledProvider)(nil)
