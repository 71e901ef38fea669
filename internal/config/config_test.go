package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secretEnv = []string{
	"DATABASE_PASSWORD", "RABBITMQ_PASSWORD",
	"ELEVENLABS_API_KEY", "TTS_API_KEY", "ELEVENLABS_VOICE_ID", "TTS_VOICE_ID",
	"OPENAI_API_KEY",
	"YOUTUBE_API_KEY", "YOUTUBE_CLIENT_ID", "YOUTUBE_CLIENT_SECRET", "YOUTUBE_REFRESH_TOKEN",
	"GCS_BUCKET", "GOOGLE_APPLICATION_CREDENTIALS", "TTS_ENABLED",
}

// clearEnv blanks the overlay variables so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range secretEnv {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "postgres", cfg.Database.Driver)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "dubbing_db", cfg.Database.Database)
			assert.Equal(t, "file-secret", cfg.Database.Password)
			assert.Equal(t, "dubbing_jobs", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "dubbing_steps", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, "dubbing_jobs_dlx", cfg.RabbitMQ.DeadLetterExchange)
			assert.Equal(t, "dubbing-api", cfg.App.Name)
			assert.Equal(t, 20*time.Minute, cfg.Pipeline.StepTimeout)
			assert.Equal(t, 45*time.Minute, cfg.Watchdog.StuckAfter)
			assert.Equal(t, "voice-from-file", cfg.Provider.DefaultVoiceID)
			assert.False(t, cfg.Pipeline.TTSEnabled)

			// defaults
			assert.Equal(t, DispatchQueue, cfg.Pipeline.Dispatch)
			assert.Equal(t, 4, cfg.Worker.Concurrency)
			assert.Equal(t, 30*time.Second, cfg.Worker.ShutdownTimeout)
			assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		})
	}
}

func TestLoad_EnvOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_PASSWORD", "env-secret")
	t.Setenv("TTS_API_KEY", "tts-key")
	t.Setenv("ELEVENLABS_VOICE_ID", "voice-from-env")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("YOUTUBE_REFRESH_TOKEN", "refresh")
	t.Setenv("GCS_BUCKET", "env-bucket")
	t.Setenv("TTS_ENABLED", "true")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Database.Password)
	assert.Equal(t, "tts-key", cfg.Provider.APIKey)
	assert.Equal(t, "voice-from-env", cfg.Provider.DefaultVoiceID)
	assert.Equal(t, "sk-test", cfg.Pipeline.OpenAI.APIKey)
	assert.Equal(t, "refresh", cfg.Pipeline.YouTube.RefreshToken)
	assert.Equal(t, "env-bucket", cfg.Storage.Bucket)
	assert.True(t, cfg.Pipeline.TTSEnabled)
}

func TestApplyEnv(t *testing.T) {
	env := func(m map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			v, ok := m[k]
			return v, ok
		}
	}

	t.Run("primary key wins over fallback", func(t *testing.T) {
		var cfg Config
		require.NoError(t, cfg.ApplyEnv(env(map[string]string{
			"ELEVENLABS_API_KEY": "primary",
			"TTS_API_KEY":        "fallback",
		})))
		assert.Equal(t, "primary", cfg.Provider.APIKey)
	})

	t.Run("empty value keeps file value", func(t *testing.T) {
		cfg := Config{RabbitMQ: RabbitMQConfig{Password: "guest"}}
		require.NoError(t, cfg.ApplyEnv(env(map[string]string{"RABBITMQ_PASSWORD": ""})))
		assert.Equal(t, "guest", cfg.RabbitMQ.Password)
	})

	t.Run("invalid TTS_ENABLED", func(t *testing.T) {
		var cfg Config
		err := cfg.ApplyEnv(env(map[string]string{"TTS_ENABLED": "maybe"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid TTS_ENABLED")
	})
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Database: "dubbing_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "dubbing_jobs"},
			Queue:    QueueConfig{Name: "dubbing_steps"},
		},
		Storage:  StorageConfig{Driver: StorageGCS, Bucket: "dubbing-media"},
		Pipeline: PipelineConfig{Dispatch: DispatchQueue},
		Worker:   WorkerConfig{Concurrency: 2, ShutdownTimeout: time.Second},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 0 },
			errString: "invalid database port",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "unknown database driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			errString: "unsupported database driver",
		},
		{
			name: "sqlite needs path",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: "sqlite"}
			},
			errString: "database path is required",
		},
		{
			name: "sqlite with path",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: "sqlite", Path: "/tmp/x.db"}
			},
		},
		{
			name:      "empty bucket",
			mutate:    func(c *Config) { c.Storage.Bucket = "" },
			errString: "storage bucket is required",
		},
		{
			name:      "local storage needs root",
			mutate:    func(c *Config) { c.Storage = StorageConfig{Driver: StorageLocal} },
			errString: "storage local_root is required",
		},
		{
			name:      "unknown storage driver",
			mutate:    func(c *Config) { c.Storage.Driver = "s3" },
			errString: "unsupported storage driver",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "invalid rabbitmq port",
			mutate:    func(c *Config) { c.RabbitMQ.Port = 65536 },
			errString: "invalid rabbitmq port",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name: "in-process dispatch skips rabbitmq",
			mutate: func(c *Config) {
				c.Pipeline.Dispatch = DispatchInProcess
				c.RabbitMQ = RabbitMQConfig{}
			},
		},
		{
			name: "dev bootstrap refused in production",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.Auth.DevBootstrapRoles = true
			},
			errString: "dev_bootstrap_roles must be disabled in production",
		},
		{
			name: "dev bootstrap allowed in development",
			mutate: func(c *Config) {
				c.App.Environment = "development"
				c.Auth.DevBootstrapRoles = true
			},
		},
		{
			name:      "unknown dispatch",
			mutate:    func(c *Config) { c.Pipeline.Dispatch = "kafka" },
			errString: "unsupported pipeline dispatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:   "server port is not checked",
			mutate: func(c *Config) { c.Server.Port = 0 },
		},
		{
			name:      "requires queue dispatch",
			mutate:    func(c *Config) { c.Pipeline.Dispatch = DispatchInProcess },
			errString: "requires pipeline dispatch",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			errString: "worker shutdown_timeout must be greater than 0",
		},
		{
			name: "requeue window longer than stuck window",
			mutate: func(c *Config) {
				c.Watchdog = WatchdogConfig{Enabled: true, RequeueAfter: time.Hour, StuckAfter: time.Minute}
			},
			errString: "requeue_after must be shorter than stuck_after",
		},
		{
			name:      "shared validation still applies",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	clearEnv(t)

	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load sqlite and local storage", func(t *testing.T) {
		cfg, err := Load("testdata/sqlite_local.yaml")
		require.NoError(t, err)
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, StorageLocal, cfg.Storage.Driver)
		assert.Equal(t, DispatchInProcess, cfg.Pipeline.Dispatch)
		require.NoError(t, cfg.ValidateAPIConfig())
		assert.Error(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
