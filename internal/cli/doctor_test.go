package cli

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDoctorEnv struct {
	executable  string
	statMap     map[string]os.FileInfo
	readFileMap map[string][]byte
	homeDir     string
	cwd         string
	lookPathMap map[string]string
	listenErr   error
}

func (m *mockDoctorEnv) Executable() (string, error) { return m.executable, nil }
func (m *mockDoctorEnv) Stat(name string) (os.FileInfo, error) {
	if info, ok := m.statMap[name]; ok {
		return info, nil
	}
	return nil, os.ErrNotExist
}
func (m *mockDoctorEnv) ReadFile(name string) ([]byte, error) {
	if content, ok := m.readFileMap[name]; ok {
		return content, nil
	}
	return nil, os.ErrNotExist
}
func (m *mockDoctorEnv) UserHomeDir() (string, error) { return m.homeDir, nil }
func (m *mockDoctorEnv) Getwd() (string, error)       { return m.cwd, nil }
func (m *mockDoctorEnv) LookPath(file string) (string, error) {
	if path, ok := m.lookPathMap[file]; ok {
		return path, nil
	}
	return "", os.ErrNotExist
}
func (m *mockDoctorEnv) Listen(network, address string) (net.Listener, error) {
	if m.listenErr != nil {
		return nil, m.listenErr
	}
	return fakeListener{}, nil
}

type fakeListener struct{}

func (fakeListener) Accept() (net.Conn, error) { return nil, errors.New("closed") }
func (fakeListener) Close() error              { return nil }
func (fakeListener) Addr() net.Addr            { return &net.TCPAddr{} }

func runTestDoctor(t *testing.T, env *mockDoctorEnv, cfg *Config, cfgErr error) (string, error) {
	t.Helper()
	var out bytes.Buffer
	d := &doctor{out: &out, sys: env, cfg: cfg, cfgErr: cfgErr}
	err := d.run("test-version")
	return out.String(), err
}

func TestDoctorNoMCPConfig(t *testing.T) {
	env := &mockDoctorEnv{
		executable: "/usr/local/bin/traceview",
		homeDir:    "/home/testuser",
		cwd:        "/home/testuser/project",
		statMap: map[string]os.FileInfo{
			"/usr/local/bin/traceview": &mockFileInfo{mode: 0o755},
		},
	}

	out, err := runTestDoctor(t, env, DefaultConfig(), nil)

	assert.Error(t, err)
	assert.Contains(t, out, "🔍 traceview doctor vtest-version")
	assert.Contains(t, out, "✓ Binary: /usr/local/bin/traceview")
	assert.Contains(t, out, "✓ Configuration: 10000 span buffer, sort MOST_RECENT, dependency lookback 1h")
	assert.Contains(t, out, "✓ No file sources configured")
	assert.Contains(t, out, "✓ Web UI address 127.0.0.1:16686 is free")
	assert.Contains(t, out, "✗ MCP config not found")
	assert.Contains(t, out, `"traceview": {`)
	assert.Contains(t, out, "⚠ Optional: otel-cli not found")
	assert.Contains(t, out, "❌ Found 1 issue(s) that need attention")
}

func TestDoctorAllPass(t *testing.T) {
	settings := filepath.Join("/home/testuser/project", ".gemini", "settings.json")
	env := &mockDoctorEnv{
		executable: "/usr/local/bin/traceview",
		homeDir:    "/home/testuser",
		cwd:        "/home/testuser/project",
		statMap: map[string]os.FileInfo{
			settings:                   &mockFileInfo{mode: 0o644},
			"/usr/local/bin/traceview": &mockFileInfo{mode: 0o755},
			"/var/otel":                &mockFileInfo{mode: os.ModeDir | 0o755, isDir: true},
		},
		readFileMap: map[string][]byte{
			settings: []byte(`{
				"mcpServers": {
					"traceview": {
						"command": "/usr/local/bin/traceview",
						"args": ["serve"]
					}
				}
			}`),
		},
		lookPathMap: map[string]string{
			"otel-cli": "/usr/local/bin/otel-cli",
		},
	}
	cfg := DefaultConfig()
	cfg.FileSources = []string{"/var/otel"}

	out, err := runTestDoctor(t, env, cfg, nil)

	require.NoError(t, err)
	assert.Contains(t, out, "✓ File sources: /var/otel")
	assert.Contains(t, out, "✓ Gemini CLI config found: ")
	assert.Contains(t, out, "✓ Optional: otel-cli found at /usr/local/bin/otel-cli")
	assert.Contains(t, out, "✅ All checks passed!")
}

func TestDoctorWarnings(t *testing.T) {
	settings := filepath.Join("/home/testuser/project", ".mcp.json")
	env := &mockDoctorEnv{
		executable: "/usr/local/bin/traceview",
		homeDir:    "/home/testuser",
		cwd:        "/home/testuser/project",
		statMap: map[string]os.FileInfo{
			settings:                   &mockFileInfo{mode: 0o644},
			"/usr/local/bin/traceview": &mockFileInfo{mode: 0o755},
		},
		readFileMap: map[string][]byte{
			settings: []byte(`{"mcpServers": {"otlp-mcp": {"command": "otlp-mcp"}}}`),
		},
		lookPathMap: map[string]string{"otel-cli": "/usr/bin/otel-cli"},
		listenErr:   errors.New("address already in use"),
	}
	cfg := DefaultConfig()
	cfg.FileSources = []string{"/does/not/exist"}

	out, err := runTestDoctor(t, env, cfg, nil)

	require.NoError(t, err)
	assert.Contains(t, out, "⚠ 1 of 1 file source directories not found")
	assert.Contains(t, out, "Missing: /does/not/exist")
	assert.Contains(t, out, "⚠ Web UI address 127.0.0.1:16686 is not available")
	assert.Contains(t, out, "Config does not contain a 'traceview' server entry")
	assert.Contains(t, out, "✅ All critical checks passed!")
	assert.Contains(t, out, "⚠️  3 optional warning(s)")
}

func TestDoctorBadConfigAndBinary(t *testing.T) {
	env := &mockDoctorEnv{
		executable: "/usr/local/bin/traceview",
		homeDir:    "/home/testuser",
		cwd:        "/home/testuser/project",
		statMap: map[string]os.FileInfo{
			"/usr/local/bin/traceview": &mockFileInfo{mode: 0o644},
		},
	}

	out, err := runTestDoctor(t, env, nil, errors.New(`invalid transport "http"`))

	assert.Error(t, err)
	assert.Contains(t, out, "✗ Binary /usr/local/bin/traceview is not executable")
	assert.Contains(t, out, "chmod +x /usr/local/bin/traceview")
	assert.Contains(t, out, "✗ Configuration is invalid")
	assert.Contains(t, out, `invalid transport "http"`)
	assert.Contains(t, out, "⚠ File sources not checked")
	assert.Contains(t, out, "❌ Found 3 issue(s) that need attention")
}

func TestDoctorWebUIDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WebUIPort = -1
	d := &doctor{sys: &mockDoctorEnv{listenErr: errors.New("unused")}, cfg: cfg}

	result := d.checkWebUIPort()
	assert.Equal(t, statusPass, result.Status)
	assert.Equal(t, "Web UI disabled", result.Message)
}

// mockFileInfo implements os.FileInfo for testing purposes
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
	sys     any
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return m.sys }
