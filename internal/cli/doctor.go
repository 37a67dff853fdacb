package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"
)

// DoctorCommand returns the CLI command definition for the 'doctor' subcommand.
// This command runs diagnostic checks to verify traceview is properly configured.
func DoctorCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Diagnose common setup and configuration issues",
		Description: `Run checks to verify traceview is properly configured.

This command checks:
  - Binary location and permissions
  - Effective configuration (defaults, config files, environment, flags)
  - File source directories
  - Web UI port availability
  - MCP configuration file entry for traceview
  - Optional dependencies (otel-cli)

Exit codes:
  0 - All critical checks passed
  1 - One or more issues found`,
		Flags: commonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, cfgErr := loadConfig(cmd)
			d := &doctor{out: stdout(cmd), sys: osDoctorEnv{}, cfg: cfg, cfgErr: cfgErr}
			return d.run(version)
		},
	}
}

type checkStatus string

const (
	statusPass checkStatus = "pass"
	statusWarn checkStatus = "warn"
	statusFail checkStatus = "fail"
)

type checkResult struct {
	Name       string
	Status     checkStatus
	Message    string
	Suggestion string
}

// doctorEnv is the slice of the operating system the checks look at.
type doctorEnv interface {
	Executable() (string, error)
	Stat(name string) (os.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	UserHomeDir() (string, error)
	Getwd() (string, error)
	LookPath(file string) (string, error)
	Listen(network, address string) (net.Listener, error)
}

type osDoctorEnv struct{}

func (osDoctorEnv) Executable() (string, error)           { return os.Executable() }
func (osDoctorEnv) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (osDoctorEnv) ReadFile(name string) ([]byte, error)  { return os.ReadFile(name) }
func (osDoctorEnv) UserHomeDir() (string, error)          { return os.UserHomeDir() }
func (osDoctorEnv) Getwd() (string, error)                { return os.Getwd() }
func (osDoctorEnv) LookPath(file string) (string, error)  { return exec.LookPath(file) }
func (osDoctorEnv) Listen(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

type doctor struct {
	out    io.Writer
	sys    doctorEnv
	cfg    *Config
	cfgErr error
}

func (d *doctor) run(version string) error {
	fmt.Fprintf(d.out, "🔍 traceview doctor v%s\n\n", version)

	checks := []func() checkResult{
		d.checkBinary,
		d.checkConfig,
		d.checkFileSources,
		d.checkWebUIPort,
		d.checkMCPConfig,
		d.checkOtelCLI,
	}

	var summary resultSummary
	for _, check := range checks {
		result := check()
		summary.add(result)
		d.printCheckResult(result)
	}

	fmt.Fprintln(d.out)
	d.printSummary(summary)

	if summary.FailCount > 0 {
		return fmt.Errorf("found %d issues that need attention", summary.FailCount)
	}
	return nil
}

func (d *doctor) printCheckResult(result checkResult) {
	var icon string
	switch result.Status {
	case statusPass:
		icon = "✓"
	case statusWarn:
		icon = "⚠"
	case statusFail:
		icon = "✗"
	}

	fmt.Fprintf(d.out, "%s %s\n", icon, result.Message)
	if result.Suggestion != "" {
		fmt.Fprintf(d.out, "  %s\n", result.Suggestion)
	}
}

type resultSummary struct {
	PassCount int
	WarnCount int
	FailCount int
}

func (s *resultSummary) add(r checkResult) {
	switch r.Status {
	case statusPass:
		s.PassCount++
	case statusWarn:
		s.WarnCount++
	case statusFail:
		s.FailCount++
	}
}

func (d *doctor) printSummary(summary resultSummary) {
	switch {
	case summary.FailCount > 0:
		fmt.Fprintf(d.out, "❌ Found %d issue(s) that need attention\n", summary.FailCount)
		if summary.WarnCount > 0 {
			fmt.Fprintf(d.out, "⚠️  %d warning(s)\n", summary.WarnCount)
		}
	case summary.WarnCount > 0:
		fmt.Fprintln(d.out, "✅ All critical checks passed!")
		fmt.Fprintf(d.out, "⚠️  %d optional warning(s)\n", summary.WarnCount)
		fmt.Fprintln(d.out, "💡 Run 'traceview serve --verbose' to start the server")
	default:
		fmt.Fprintln(d.out, "✅ All checks passed!")
		fmt.Fprintln(d.out, "💡 Run 'traceview serve --verbose' to start the server")
	}
}

func (d *doctor) checkBinary() checkResult {
	executable, err := d.sys.Executable()
	if err != nil {
		return checkResult{
			Name:       "binary",
			Status:     statusFail,
			Message:    "Could not determine binary location",
			Suggestion: fmt.Sprintf("Error: %v", err),
		}
	}
	absPath, err := filepath.Abs(executable)
	if err != nil {
		absPath = executable
	}

	info, err := d.sys.Stat(executable)
	if err != nil || info == nil {
		return checkResult{
			Name:       "binary",
			Status:     statusFail,
			Message:    fmt.Sprintf("Could not stat binary %s", absPath),
			Suggestion: fmt.Sprintf("Error: %v", err),
		}
	}
	if info.Mode()&0o111 == 0 {
		return checkResult{
			Name:       "binary",
			Status:     statusFail,
			Message:    fmt.Sprintf("Binary %s is not executable", absPath),
			Suggestion: fmt.Sprintf("Run: chmod +x %s", executable),
		}
	}

	return checkResult{
		Name:    "binary",
		Status:  statusPass,
		Message: fmt.Sprintf("Binary: %s", absPath),
	}
}

func (d *doctor) checkConfig() checkResult {
	if d.cfgErr != nil {
		return checkResult{
			Name:       "config",
			Status:     statusFail,
			Message:    "Configuration is invalid",
			Suggestion: d.cfgErr.Error(),
		}
	}
	return checkResult{
		Name:   "config",
		Status: statusPass,
		Message: fmt.Sprintf("Configuration: %d span buffer, sort %s, dependency lookback %s",
			d.cfg.TraceBufferSize, d.cfg.DefaultSortBy, d.cfg.DependencyLookback),
	}
}

func (d *doctor) checkFileSources() checkResult {
	if d.cfg == nil {
		return checkResult{Name: "file_sources", Status: statusWarn, Message: "File sources not checked (no valid config)"}
	}
	dirs, err := fileSourceDirs(d.cfg)
	if err != nil {
		return checkResult{
			Name:       "file_sources",
			Status:     statusFail,
			Message:    "Could not read the collector config",
			Suggestion: err.Error(),
		}
	}
	if len(dirs) == 0 {
		return checkResult{Name: "file_sources", Status: statusPass, Message: "No file sources configured"}
	}

	var missing []string
	for _, dir := range dirs {
		info, err := d.sys.Stat(dir)
		if err != nil || info == nil || !info.IsDir() {
			missing = append(missing, dir)
		}
	}
	if len(missing) > 0 {
		return checkResult{
			Name:       "file_sources",
			Status:     statusWarn,
			Message:    fmt.Sprintf("%d of %d file source directories not found", len(missing), len(dirs)),
			Suggestion: "Missing: " + strings.Join(missing, ", "),
		}
	}
	return checkResult{
		Name:    "file_sources",
		Status:  statusPass,
		Message: fmt.Sprintf("File sources: %s", strings.Join(dirs, ", ")),
	}
}

func (d *doctor) checkWebUIPort() checkResult {
	if d.cfg == nil {
		return checkResult{Name: "webui_port", Status: statusWarn, Message: "Web UI port not checked (no valid config)"}
	}
	if d.cfg.WebUIPort < 0 {
		return checkResult{Name: "webui_port", Status: statusPass, Message: "Web UI disabled"}
	}

	addr := net.JoinHostPort(d.cfg.WebUIHost, strconv.Itoa(d.cfg.WebUIPort))
	l, err := d.sys.Listen("tcp", addr)
	if err != nil {
		return checkResult{
			Name:       "webui_port",
			Status:     statusWarn,
			Message:    fmt.Sprintf("Web UI address %s is not available", addr),
			Suggestion: "Another traceview may be running; set webui_port or pass --webui-port to serve",
		}
	}
	_ = l.Close()
	return checkResult{Name: "webui_port", Status: statusPass, Message: fmt.Sprintf("Web UI address %s is free", addr)}
}

func (d *doctor) checkMCPConfig() checkResult {
	allPaths := d.mcpConfigPaths()
	configPath := d.firstExisting(allPaths)

	if configPath == "" {
		executable, _ := d.sys.Executable()
		absPath, _ := filepath.Abs(executable)

		var locations strings.Builder
		for _, p := range allPaths {
			fmt.Fprintf(&locations, "  - %s\n", p)
		}
		defaultPath := ""
		if len(allPaths) > 0 {
			defaultPath = allPaths[len(allPaths)-1]
		}

		return checkResult{
			Name:    "mcp_config",
			Status:  statusFail,
			Message: "MCP config not found",
			Suggestion: fmt.Sprintf(`MCP config not found. Checked:
%s
  Create one at: %s

  Example config:
  {
    "mcpServers": {
      "traceview": {
        "command": "%s",
        "args": ["serve"]
      }
    }
  }`, locations.String(), defaultPath, absPath),
		}
	}

	data, err := d.sys.ReadFile(configPath)
	if err != nil {
		return checkResult{
			Name:       "mcp_config",
			Status:     statusFail,
			Message:    "Could not read MCP config",
			Suggestion: fmt.Sprintf("Error reading %s: %v", configPath, err),
		}
	}

	var config struct {
		MCPServers map[string]struct {
			Command string `json:"command"`
		} `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return checkResult{
			Name:       "mcp_config",
			Status:     statusFail,
			Message:    "MCP config is not valid JSON",
			Suggestion: fmt.Sprintf("Error parsing %s: %v", configPath, err),
		}
	}

	agentName := "MCP agent"
	if strings.Contains(configPath, "claude-code") || strings.Contains(configPath, ".claude") {
		agentName = "Claude Code"
	} else if strings.Contains(configPath, ".gemini") {
		agentName = "Gemini CLI"
	}
	found := fmt.Sprintf("%s config found: %s", agentName, configPath)

	entry, ok := config.MCPServers["traceview"]
	if !ok {
		return checkResult{
			Name:       "mcp_config",
			Status:     statusWarn,
			Message:    found,
			Suggestion: "Config does not contain a 'traceview' server entry",
		}
	}

	executable, _ := d.sys.Executable()
	absExecutable, _ := filepath.Abs(executable)
	if entry.Command != "" && entry.Command != absExecutable {
		return checkResult{
			Name:    "mcp_config",
			Status:  statusWarn,
			Message: found,
			Suggestion: fmt.Sprintf("Config command (%s) differs from current binary (%s)",
				entry.Command, absExecutable),
		}
	}

	return checkResult{Name: "mcp_config", Status: statusPass, Message: found}
}

func (d *doctor) checkOtelCLI() checkResult {
	path, err := d.sys.LookPath("otel-cli")
	if err == nil {
		return checkResult{
			Name:    "otel_cli",
			Status:  statusPass,
			Message: fmt.Sprintf("Optional: otel-cli found at %s", path),
		}
	}
	return checkResult{
		Name:    "otel_cli",
		Status:  statusWarn,
		Message: "Optional: otel-cli not found",
		Suggestion: `otel-cli is handy for sending test spans; 'traceview demo --endpoint' works too.
  Install with: go install github.com/tobert/otel-cli@latest`,
	}
}

// mcpConfigPaths returns candidate MCP config files, project-level first.
func (d *doctor) mcpConfigPaths() []string {
	var paths []string
	if cwd, err := d.sys.Getwd(); err == nil && cwd != "" {
		paths = append(paths,
			filepath.Join(cwd, ".mcp.json"),
			filepath.Join(cwd, ".gemini", "settings.json"),
			filepath.Join(cwd, ".claude", "settings.json"),
		)
	}

	homeDir, err := d.sys.UserHomeDir()
	if err != nil {
		return paths
	}
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		paths = append(paths, filepath.Join(appData, "Claude Code", "mcp_settings.json"))
	default:
		paths = append(paths, filepath.Join(homeDir, ".config", "claude-code", "mcp_settings.json"))
	}
	return paths
}

func (d *doctor) firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := d.sys.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
