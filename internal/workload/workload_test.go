package workload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		workloads []Workload
		wantErr   bool
	}{
		{name: "default catalog", workloads: Default()},
		{name: "empty", workloads: nil},
		{name: "missing name", workloads: []Workload{{}}, wantErr: true},
		{
			name:      "duplicate workload",
			workloads: []Workload{{Name: "a"}, {Name: "a"}},
			wantErr:   true,
		},
		{
			name: "duplicate component",
			workloads: []Workload{{Name: "a", Components: []Component{
				{ID: "rustup", DesiredState: "installed"},
				{ID: "rustup", DesiredState: "uninstalled"},
			}}},
			wantErr: true,
		},
		{
			name: "transient desired state",
			workloads: []Workload{{Name: "a", Components: []Component{
				{ID: "rustup", DesiredState: "in_progress"},
			}}},
			wantErr: true,
		},
		{
			name: "bad observed state",
			workloads: []Workload{{Name: "a", Components: []Component{
				{ID: "rustup", State: "half", DesiredState: "installed"},
			}}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.workloads)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidWorkload)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, "catalog.yaml", `
workloads:
  - name: rust-xtensa
    components:
      - id: rustup
        title: rustup
        desired_state: installed
      - id: mingw
        desired_state: installed
        when: os == "windows"
`)
	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"rustup", "mingw"}, got[0].IDs())
	assert.Equal(t, `os == "windows"`, got[0].Components[1].When)
}

func TestLoadFile_TOML(t *testing.T) {
	path := writeFile(t, "catalog.toml", `
[[workloads]]
name = "tools"

[[workloads.components]]
id = "espflash"
desired_state = "uninstalled"
`)
	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "uninstalled", got[0].Components[0].DesiredState)
}

func TestLoadFile_TOMLUnknownKey(t *testing.T) {
	path := writeFile(t, "catalog.toml", `
[[workloads]]
name = "tools"
colour = "blue"
`)
	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrInvalidWorkload)
}

func TestLoadFile_JSON(t *testing.T) {
	path := writeFile(t, "catalog.json", `{"workloads":[{"name":"w","components":[{"id":"ldproxy","desiredState":"installed"}]}]}`)
	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "installed", got[0].Components[0].DesiredState)
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	_, err := LoadFile(writeFile(t, "catalog.ini", ""))
	assert.Error(t, err)
}

func TestFilter_ByPlatform(t *testing.T) {
	linux, err := Filter(Default(), Platform{OS: "linux", Arch: "amd64"})
	require.NoError(t, err)
	assert.NotContains(t, linux[0].IDs(), "mingw")
	assert.NotContains(t, linux[0].IDs(), "vctools")
	assert.Contains(t, linux[0].IDs(), "rustup")

	windows, err := Filter(Default(), Platform{OS: "windows", Arch: "amd64"})
	require.NoError(t, err)
	assert.Len(t, windows[0].Components, len(Default()[0].Components))
}

func TestFilter_ArchExpression(t *testing.T) {
	in := []Workload{{Name: "w", Components: []Component{
		{ID: "a", DesiredState: "installed", When: `arch in ["arm64", "riscv64"]`},
		{ID: "b", DesiredState: "installed", When: `arch == "amd64" && os != "windows"`},
	}}}
	got, err := Filter(in, Platform{OS: "darwin", Arch: "arm64"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got[0].IDs())
}

func TestFilter_BadExpression(t *testing.T) {
	in := []Workload{{Name: "w", Components: []Component{{ID: "a", When: `os ==`}}}}
	_, err := Filter(in, CurrentPlatform())
	assert.ErrorIs(t, err, ErrInvalidWorkload)

	in[0].Components[0].When = `os`
	_, err = Filter(in, CurrentPlatform())
	assert.Error(t, err)
}

func TestLoadScript(t *testing.T) {
	path := writeFile(t, "desired.lua", `
local installd = require("installd")
installd.log("building workloads")
local state = "uninstalled"
if installd.os == "windows" then state = "installed" end
return {
  { name = "tools", components = {
    { id = "mingw", desiredState = state },
    { id = "rustup", title = "rustup", desiredState = "installed" },
  } },
  { name = "empty", components = {} },
}
`)
	got, err := LoadScript(context.Background(), path, Platform{OS: "linux", Arch: "amd64"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "uninstalled", got[0].Components[0].DesiredState)
	assert.Equal(t, "rustup", got[0].Components[1].Title)
	assert.Empty(t, got[1].Components)
}

func TestLoadScript_Errors(t *testing.T) {
	_, err := LoadScript(context.Background(), writeFile(t, "bad.lua", `return 42`), CurrentPlatform())
	assert.ErrorIs(t, err, ErrInvalidWorkload)

	_, err = LoadScript(context.Background(), writeFile(t, "syntax.lua", `return {`), CurrentPlatform())
	assert.Error(t, err)

	_, err = LoadScript(context.Background(), writeFile(t, "invalid.lua", `return {{ name = "w", components = {{ id = "x", desiredState = "maybe" }} }}`), CurrentPlatform())
	assert.ErrorIs(t, err, ErrInvalidWorkload)
}

func TestLuaToGo_Tables(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name     string
		script   string
		expected any
	}{
		{"empty", `return {}`, []any{}},
		{"list", `return {"a", "b"}`, []any{"a", "b"}},
		{"record", `return {id = "x"}`, map[string]any{"id": "x"}},
		{"sparse", `return {[1000000000] = 1}`, map[string]any{"1000000000": float64(1)}},
		{"gap", `return {[1] = "a", [3] = "c"}`, map[string]any{"1": "a", "3": "c"}},
		{"non-positive", `return {[0] = "z", [1] = "a"}`, map[string]any{"0": "z", "1": "a"}},
		{"fractional", `return {[1.5] = "h"}`, map[string]any{"1.5": "h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, L.DoString(tt.script))
			v := L.Get(-1)
			L.Pop(1)
			assert.Equal(t, tt.expected, luaToGo(v))
		})
	}
}
