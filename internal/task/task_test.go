package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/charlie/internal/config"
)

func TestShellCommand(t *testing.T) {
	tests := []struct {
		name  string
		shell Shell
		want  string
	}{
		{"default", ShellNone, `ls -la`},
		{"wsl", ShellWSL, `bash -c "ls -la"`},
		{"powershell", ShellPowerShell, `powershell "ls -la"`},
		{"unrecognized falls back to command", Shell("zsh"), `ls -la`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := Task{Name: "x", Command: "ls -la", Workdir: ".", Shell: tt.shell}
			got := ShellCommand(task)
			assert.Equal(t, tt.want, got)
			// Same input, same output.
			assert.Equal(t, got, ShellCommand(task))
			assert.Equal(t, got, task.ShellCommand())
		})
	}
}

func TestFromSections(t *testing.T) {
	sections := []config.Section{
		{Name: "job.build", Keys: map[string]string{"command": "go build ./..."}},
		{Name: "misc", Keys: map[string]string{"foo": "bar"}},
		{Name: "job.lint", Keys: map[string]string{
			"name":    "Lint",
			"command": "golangci-lint run",
			"workdir": "~/src/app",
			"shell":   "wsl",
		}},
		{Name: "job.ps", Keys: map[string]string{"command": "Get-ChildItem", "shell": "PowerShell"}},
	}

	tasks, err := FromSections(sections)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, Task{Name: "build", Command: "go build ./...", Workdir: ".", Shell: ShellNone}, tasks[0])
	assert.Equal(t, Task{Name: "Lint", Command: "golangci-lint run", Workdir: "~/src/app", Shell: ShellWSL}, tasks[1])
	assert.Equal(t, ShellPowerShell, tasks[2].Shell)
}

func TestFromSectionsErrors(t *testing.T) {
	tests := []struct {
		name     string
		sections []config.Section
		wantErr  string
	}{
		{
			name:     "missing command",
			sections: []config.Section{{Name: "job.a", Keys: map[string]string{}}},
			wantErr:  "command is required",
		},
		{
			name:     "unknown key",
			sections: []config.Section{{Name: "job.a", Keys: map[string]string{"command": "x", "env": "A=1"}}},
			wantErr:  "unknown keys: env",
		},
		{
			name:     "bad shell",
			sections: []config.Section{{Name: "job.a", Keys: map[string]string{"command": "x", "shell": "fish"}}},
			wantErr:  "unknown shell",
		},
		{
			name:     "empty name",
			sections: []config.Section{{Name: "job.", Keys: map[string]string{"command": "x"}}},
			wantErr:  "task name is empty",
		},
		{
			name: "duplicate name",
			sections: []config.Section{
				{Name: "job.a", Keys: map[string]string{"command": "x"}},
				{Name: "job.b", Keys: map[string]string{"name": "a", "command": "y"}},
			},
			wantErr: `task name "a" already defined by [job.a]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromSections(tt.sections)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			var cerr *config.ConfigError
			assert.True(t, errors.As(err, &cerr))
		})
	}
}

func TestFromConfigSetsPath(t *testing.T) {
	cfg, err := config.Parse([]byte("job.a:\n  shell: wsl\n"), "/etc/charlie.yaml")
	require.NoError(t, err)

	_, err = FromConfig(cfg)
	require.Error(t, err)
	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "/etc/charlie.yaml", cerr.Path)
	assert.Equal(t, "job.a", cerr.Section)
}

func TestFind(t *testing.T) {
	tasks := []Task{{Name: "a", Command: "x"}, {Name: "b", Command: "y"}}

	got, ok := Find(tasks, "b")
	assert.True(t, ok)
	assert.Equal(t, "y", got.Command)

	_, ok = Find(tasks, "c")
	assert.False(t, ok)
}
