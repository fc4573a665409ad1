package container

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/approval-workflow/internal/config"
)

func TestProvideRoleResolver_WarnsOnEmptyDirectory(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.RolesConfig
		wantWarn bool
	}{
		{name: "empty static directory", cfg: config.RolesConfig{}, wantWarn: true},
		{
			name: "populated static directory",
			cfg:  config.RolesConfig{Static: map[string][]string{"finance": {"carol"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			bundle, err := ProvideRoleResolver(&tt.cfg, zap.New(core))
			require.NoError(t, err)
			assert.Nil(t, bundle.RedisClient)

			warns := logs.FilterLevelExact(zapcore.WarnLevel).Len()
			if tt.wantWarn {
				assert.Equal(t, 1, warns)
			} else {
				assert.Zero(t, warns)
			}

			ids, err := bundle.Resolver.ResolveApprovers(context.Background(), "finance")
			require.NoError(t, err)
			assert.Equal(t, len(tt.cfg.Static["finance"]), len(ids))
		})
	}
}
