package route

import (
	"errors"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountOrder(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = nil

	var mounted []string
	loader := func(name string) Loader {
		return func(_ *gin.Engine, _ *Deps) error {
			mounted = append(mounted, name)
			return nil
		}
	}
	Register(Plugin{Name: "late", Order: 300, Loader: loader("late")})
	Register(Plugin{Name: "health", Group: Management, Loader: loader("health")})
	Register(Plugin{Name: "early", Order: 100, Loader: loader("early")})
	Register(Plugin{Name: "tie", Order: 100, Loader: loader("tie")})

	assert.Equal(t, []string{"early", "tie", "late"}, Names(Main))
	assert.Equal(t, []string{"health"}, Names(Management))

	require.NoError(t, Mount(gin.New(), Main, &Deps{}))
	assert.Equal(t, []string{"early", "tie", "late"}, mounted)
}

func TestMountStopsOnError(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = nil

	boom := errors.New("boom")
	Register(Plugin{Name: "broken", Loader: func(*gin.Engine, *Deps) error { return boom }})
	Register(Plugin{Name: "never", Order: 1, Loader: func(*gin.Engine, *Deps) error {
		t.Fatal("mounted after a failure")
		return nil
	}})

	err := Mount(gin.New(), Main, nil)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "main route plugin broken")
}
