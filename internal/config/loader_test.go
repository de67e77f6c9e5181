package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "sections keep file order",
			yaml: `
job.build:
  command: go build ./...
other:
  key: value
job.test:
  name: Tests
  command: go test ./...
  workdir: ~/src
`,
			checkFn: func(t *testing.T, cfg *Config) {
				require.Len(t, cfg.Sections, 3)
				assert.Equal(t, "job.build", cfg.Sections[0].Name)
				assert.Equal(t, "other", cfg.Sections[1].Name)
				assert.Equal(t, "job.test", cfg.Sections[2].Name)
				assert.Equal(t, "Tests", cfg.Sections[2].Keys["name"])

				jobs := cfg.JobSections()
				require.Len(t, jobs, 2)
				assert.Equal(t, "job.build", jobs[0].Name)
				assert.Equal(t, "job.test", jobs[1].Name)
			},
		},
		{
			name: "defaults applied without settings section",
			yaml: `
job.echo:
  command: echo hello
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5*time.Millisecond, cfg.Settings.TickInterval)
				assert.Equal(t, 100, cfg.Settings.DrainCap)
				assert.Equal(t, "utf-8", cfg.Settings.Encoding)
				assert.Equal(t, DefaultShell(), cfg.Settings.Shell)
				assert.True(t, strings.HasPrefix(cfg.Fingerprint, "blake3:"))
			},
		},
		{
			name: "settings section overrides defaults",
			yaml: `
charlie:
  tick_interval: 20ms
  drain_cap: 10
  encoding: windows-1252
  shell: [bash, -c]
  terminate_on_replace: true
  history_path: data/history.db
`,
			checkFn: func(t *testing.T, cfg *Config) {
				s := cfg.Settings
				assert.Equal(t, 20*time.Millisecond, s.TickInterval)
				assert.Equal(t, 10, s.DrainCap)
				assert.Equal(t, "windows-1252", s.Encoding)
				assert.Equal(t, []string{"bash", "-c"}, s.Shell)
				assert.True(t, s.TerminateOnReplace)
				assert.Equal(t, 5*time.Second, s.GracePeriod)
				assert.Equal(t, filepath.Join(filepath.Dir(cfg.Path), "data", "history.db"), s.HistoryPath)
				assert.Empty(t, cfg.Sections)
			},
		},
		{
			name: "job values are not interpolated",
			yaml: `
job.home:
  command: HOME=/tmp; echo ${HOME} ${WEIRD}
`,
			env: map[string]string{"HOME": "/root", "WEIRD": "a: b"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "HOME=/tmp; echo ${HOME} ${WEIRD}", cfg.Sections[0].Keys["command"])
			},
		},
		{
			name: "settings env var interpolation",
			yaml: `
charlie:
  api:
    api_key: ${CHARLIE_TEST_KEY}
    listen: ${CHARLIE_TEST_LISTEN}
`,
			env: map[string]string{"CHARLIE_TEST_KEY": "s3cret: x", "CHARLIE_TEST_LISTEN": "127.0.0.1:9000"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "s3cret: x", cfg.Settings.API.APIKey)
				assert.Equal(t, "127.0.0.1:9000", cfg.Settings.API.Listen)
			},
		},
		{
			name: "null values become empty strings",
			yaml: `
job.empty:
  command: ls
  shell:
`,
			checkFn: func(t *testing.T, cfg *Config) {
				v, ok := cfg.Sections[0].Keys["shell"]
				assert.True(t, ok)
				assert.Equal(t, "", v)
			},
		},
		{
			name:    "top level must be a mapping",
			yaml:    "- a\n- b\n",
			wantErr: "top level must be a mapping",
		},
		{
			name:    "nested values are rejected",
			yaml:    "job.x:\n  command: [a, b]\n",
			wantErr: "must be a scalar",
		},
		{
			name:    "invalid yaml",
			yaml:    "job.x: [\n",
			wantErr: "parse YAML",
		},
		{
			name:    "zero drain cap",
			yaml:    "charlie:\n  drain_cap: 0\n",
			wantErr: "drain_cap must be positive",
		},
		{
			name:    "utf-16 rejected",
			yaml:    "charlie:\n  encoding: utf-16le\n",
			wantErr: "not ASCII-compatible",
		},
		{
			name:    "unknown encoding",
			yaml:    "charlie:\n  encoding: klingon\n",
			wantErr: "encoding",
		},
		{
			name:    "bad log format",
			yaml:    "charlie:\n  log_format: xml\n",
			wantErr: "log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				var cerr *ConfigError
				assert.True(t, errors.As(err, &cerr), "want *ConfigError, got %T", err)
				return
			}
			require.NoError(t, err)
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil, "")
	require.NoError(t, err)
	assert.Empty(t, cfg.Sections)
	assert.Equal(t, DefaultSettings().DrainCap, cfg.Settings.DrainCap)
}

func TestParseDuplicateSection(t *testing.T) {
	_, err := Parse([]byte("job.a:\n  command: x\njob.a:\n  command: y\n"), "dup.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate section")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/projects")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "projects"), got)

	got, err = ExpandHome("~")
	require.NoError(t, err)
	assert.Equal(t, home, got)

	got, err = ExpandHome("./rel")
	require.NoError(t, err)
	assert.Equal(t, "./rel", got)
}

func TestDiscoverConfigPathEnv(t *testing.T) {
	path := writeConfig(t, "job.a:\n  command: true\n")
	t.Setenv("CHARLIE_CONFIG", path)

	got, err := DiscoverConfigPath()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestFingerprintChangesWithContent(t *testing.T) {
	a := Fingerprint([]byte("job.a:\n  command: x\n"))
	b := Fingerprint([]byte("job.a:\n  command: y\n"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Fingerprint([]byte("job.a:\n  command: x\n")))

	path := writeConfig(t, "job.a:\n  command: x\n")
	fp, err := FingerprintFile(path)
	require.NoError(t, err)
	assert.Equal(t, a, fp)
}
