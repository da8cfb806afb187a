package session

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kubechat/kubechat/pkg/errors"
)

func TestBinderFuncBindsAgainstCurrentTarget(t *testing.T) {
	var current atomic.Pointer[fakeBinder]
	current.Store(&fakeBinder{})

	binder := BinderFunc(func(providerName, model string, temperature float64) (Binding, error) {
		return current.Load().Bind(providerName, model, temperature)
	})

	b, err := binder.Bind("local", "llama3", 0.5)
	require.NoError(t, err)
	require.Equal(t, "local/llama3", b.ModelKey())

	// Swapping the target, as a config reload does, changes what the
	// next bind resolves against.
	current.Store(&fakeBinder{err: errors.NewConfigError("llm.bind", "no such model")})
	_, err = binder.Bind("local", "llama3", 0.5)
	require.Error(t, err)
	require.Equal(t, errors.KindConfig, errors.KindOf(err))
}
