package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 5*time.Minute, cfg.TenantCacheTTL)
	assert.Equal(t, "https://graph.facebook.com/v19.0", cfg.GraphAPIBaseURL)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("VERIFY_TOKEN", "secret")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("GRAPH_API_TIMEOUT", "3s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "secret", cfg.VerifyToken)
	assert.Equal(t, 3*time.Second, cfg.GraphAPITimeout)
	assert.Contains(t, cfg.PostgresDSN(), "host=db.internal")
	assert.Contains(t, cfg.PostgresDSN(), "dbname=whatsapp_crm")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"sqlite ok", Config{DBDriver: "sqlite", DBPath: "x.db"}, false},
		{"sqlite without path", Config{DBDriver: "sqlite"}, true},
		{"postgres ok", Config{DBDriver: "postgres", DBHost: "h", DBName: "n"}, false},
		{"postgres without host", Config{DBDriver: "postgres", DBName: "n"}, true},
		{"unknown driver", Config{DBDriver: "mysql"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
