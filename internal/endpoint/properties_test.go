package endpoint

import (
	"context"
	"errors"
	"testing"

	"golang-message-queue/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInitialised(t *testing.T, pattern domain.Pattern, props Properties) *Endpoint {
	t.Helper()
	ep, err := New(Static(&fakeTransport{}))
	require.NoError(t, err)
	require.NoError(t, ep.InitialiseInbound(context.Background(), "orders", pattern, false, props))
	return ep
}

func TestRequireProperty(t *testing.T) {
	props := Properties{
		"durable":  true,
		"retries":  0,
		"exchange": "events",
		"limit":    int64(5),
		"flag":     "true",
		"empty":    "",
	}
	ep := newInitialised(t, domain.PatternPublishSubscribe, props)

	t.Run("present bool", func(t *testing.T) {
		assert.NoError(t, RequireProperty[bool](ep, "durable"))
	})

	t.Run("present string", func(t *testing.T) {
		assert.NoError(t, RequireProperty[string](ep, "exchange"))
	})

	t.Run("missing", func(t *testing.T) {
		err := RequireProperty[bool](ep, "missing")
		require.Error(t, err)

		var cfgErr *ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "missing", cfgErr.Property)
		assert.Equal(t, "bool", cfgErr.Type)
		assert.Equal(t, domain.PatternPublishSubscribe, cfgErr.Pattern)
		assert.ErrorIs(t, err, ErrPropertyRequired)
		assert.Equal(t, "property named: missing of type: bool is required for: PublishSubscribe", err.Error())
	})

	t.Run("zero value counts as absent", func(t *testing.T) {
		err := RequireProperty[int](ep, "retries")
		assert.ErrorIs(t, err, ErrPropertyRequired)

		assert.ErrorIs(t, RequireProperty[string](ep, "empty"), ErrPropertyRequired)
	})

	t.Run("wrong type", func(t *testing.T) {
		assert.ErrorIs(t, RequireProperty[bool](ep, "flag"), ErrPropertyRequired)
		assert.ErrorIs(t, RequireProperty[int](ep, "limit"), ErrPropertyRequired)
		assert.NoError(t, RequireProperty[int64](ep, "limit"))
	})
}

func TestGetPropertyValue(t *testing.T) {
	props := Properties{
		"retries": 3,
		"name":    "orders",
		"nil":     nil,
		"cause":   errors.New("boom"),
	}

	assert.Equal(t, 3, GetPropertyValue[int](props, "retries"))
	assert.Equal(t, "orders", GetPropertyValue[string](props, "name"))

	assert.Equal(t, 0, GetPropertyValue[int](props, "name"))
	assert.Equal(t, int64(0), GetPropertyValue[int64](props, "retries"))
	assert.Equal(t, "", GetPropertyValue[string](props, "absent"))
	assert.Equal(t, 0, GetPropertyValue[int](props, "nil"))
	assert.Equal(t, 0, GetPropertyValue[int](nil, "retries"))

	// interface types never match a concrete stored value
	assert.Nil(t, GetPropertyValue[error](props, "cause"))
}

func TestLookupProperty(t *testing.T) {
	props := Properties{"retries": 0, "durable": false}

	v, ok := LookupProperty[int](props, "retries")
	assert.True(t, ok)
	assert.Equal(t, 0, v)

	b, ok := LookupProperty[bool](props, "durable")
	assert.True(t, ok)
	assert.False(t, b)

	_, ok = LookupProperty[int](props, "durable")
	assert.False(t, ok)

	_, ok = LookupProperty[int](props, "missing")
	assert.False(t, ok)
}
