package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/sanskrit/compiler"
	"github.com/chazu/sanskrit/store"
	"github.com/chazu/sanskrit/vm"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[limits]
depth = 32
max_stack = 512
max_frames = 64
heap_values = 4096
heap_bytes = 65536

[execution]
section_gas = 50000
parallel_bundles = 2

[store]
path = "state.db"
bucket_prefix = "test."

[log]
verbosity = 2
file = "/tmp/sanskrit.log"

[gas]
PackPerField = 3
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Limits.Depth != 32 {
		t.Errorf("depth = %d, want 32", c.Limits.Depth)
	}
	want := vm.Limits{Stack: 512, Frames: 64, Bytes: 65536, Fields: 4096}
	if got := c.VMLimits(); got != want {
		t.Errorf("vm limits = %+v, want %+v", got, want)
	}
	if c.Execution.SectionGas != 50000 || c.Execution.ParallelBundles != 2 {
		t.Errorf("execution = %+v", c.Execution)
	}
	if c.Store.Path != filepath.Join(dir, "state.db") {
		t.Errorf("store path = %q, want it resolved against %s", c.Store.Path, dir)
	}
	if c.Log.Verbosity != 2 || c.Log.File != "/tmp/sanskrit.log" {
		t.Errorf("log = %+v", c.Log)
	}

	s := c.Schedule()
	if s.PackPerField != 3 {
		t.Errorf("PackPerField = %d, want 3", s.PackPerField)
	}
	if s.Pack != compiler.DefaultSchedule.Pack {
		t.Errorf("Pack = %d, want the default %d", s.Pack, compiler.DefaultSchedule.Pack)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "[execution]\nsection_gas = 7\n")
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(7), c.Execution.SectionGas)
	require.Equal(t, Default().Limits, c.Limits)
	require.Equal(t, compiler.DefaultSchedule, c.Gas)
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "[limits]\ndepht = 3\n"},
		{"zero stack", "[limits]\nmax_stack = 0\n"},
		{"negative parallelism", "[execution]\nparallel_bundles = -1\n"},
		{"syntax", "[limits\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), tt.content))
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[log]\nverbosity = 1\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	c, err := FindAndLoad(nested)
	require.NoError(t, err)
	require.Equal(t, 1, c.Log.Verbosity)
	require.Equal(t, filepath.Join(root, FileName), c.Path)
}

func TestOpenBackend(t *testing.T) {
	c := Default()
	b, err := c.OpenBackend()
	require.NoError(t, err)
	require.IsType(t, &store.Memory{}, b)
	require.NoError(t, b.Close())

	c.Store.Path = filepath.Join(t.TempDir(), "state.db")
	b, err = c.OpenBackend()
	require.NoError(t, err)
	defer b.Close()

	s := store.NewStaged(b)
	var key [20]byte
	key[0] = 1
	require.NoError(t, s.Set(store.ClassModule, key, []byte("m")))
	require.NoError(t, s.Commit(store.ClassModule))
	ok, err := b.Has(store.ClassModule, key)
	require.NoError(t, err)
	require.True(t, ok)
}
