package gbe

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	logger := logrus.New()
	registry := prometheus.NewRegistry()
	cache := NewCache()

	tests := []struct {
		name     string
		with     func(Config) Config
		expected Config
	}{
		{
			name:     "WithGeneration",
			with:     func(c Config) Config { return c.WithGeneration(Gen75) },
			expected: &config{generation: Gen75},
		},
		{
			name:     "WithSIMDWidth",
			with:     func(c Config) Config { return c.WithSIMDWidth(8) },
			expected: &config{simdWidth: 8},
		},
		{
			name:     "WithParallelism",
			with:     func(c Config) Config { return c.WithParallelism(3) },
			expected: &config{parallelism: 3},
		},
		{
			name:     "WithParallelism below one",
			with:     func(c Config) Config { return c.WithParallelism(-2) },
			expected: &config{parallelism: 1},
		},
		{
			name:     "WithSpilling",
			with:     func(c Config) Config { return c.WithSpilling(true) },
			expected: &config{allowSpilling: true},
		},
		{
			name:     "WithLogger",
			with:     func(c Config) Config { return c.WithLogger(logger) },
			expected: &config{logger: logger},
		},
		{
			name:     "WithMetricsRegisterer",
			with:     func(c Config) Config { return c.WithMetricsRegisterer(registry) },
			expected: &config{registerer: registry},
		},
		{
			name:     "WithCache",
			with:     func(c Config) Config { return c.WithCache(cache) },
			expected: &config{cache: cache},
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			input := &config{}
			rc := tc.with(input)
			require.Equal(t, tc.expected, rc)
			// The source wasn't modified
			require.Equal(t, &config{}, input)
		})
	}

	t.Run("WithSIMDWidth invalid panics", func(t *testing.T) {
		require.PanicsWithError(t, "simdWidth invalid: 32 is not 8 or 16", func() {
			NewConfig().WithSIMDWidth(32)
		})
	})
	t.Run("WithGeneration invalid panics", func(t *testing.T) {
		require.Panics(t, func() {
			NewConfig().WithGeneration(Generation(6))
		})
	})
	t.Run("WithLogger nil", func(t *testing.T) {
		c := NewConfig().WithLogger(nil).(*config)
		require.NotNil(t, c.logger)
	})
}

func TestNewConfig(t *testing.T) {
	c := NewConfig().(*config)
	require.Equal(t, Gen7, c.generation)
	require.True(t, c.allowSpilling)
	require.GreaterOrEqual(t, c.parallelism, 1)
	require.NotSame(t, defaultConfig, c)
	require.Equal(t, "gen7 simd=0 spill=true", string(c.identity()))
	require.Equal(t, "gen75 simd=16 spill=true", string(c.WithGeneration(Gen75).WithSIMDWidth(16).(*config).identity()))
}
