package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/rs/zerolog/log"
)

var ErrNoCommandTemplate = errors.New("host: no command template configured")

// CommandRunner abstracts process execution so tests can fake the host.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, exitCode int, err error)
}

// ShellRunner runs commands on the local machine.
type ShellRunner struct{}

func (ShellRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), err
	}
	return stdout.Bytes(), stderr.Bytes(), 127, err
}

// ExecTemplates holds the command lines run for each operation. Templates
// see .Name, .State, .RequestID, .OS and .Arch plus the sprig functions.
type ExecTemplates struct {
	Install   string
	Uninstall string
	Status    string
}

// ExecExecutor carries commands to the host by running shell command lines.
// Results are reported through the Reporter once the process exits.
type ExecExecutor struct {
	runner    CommandRunner
	report    Reporter
	shell     []string
	install   *template.Template
	uninstall *template.Template
	status    *template.Template
}

// NewExecExecutor parses the templates. An empty template disables that
// operation; sending it then returns ErrNoCommandTemplate.
func NewExecExecutor(tmpl ExecTemplates, runner CommandRunner, report Reporter) (*ExecExecutor, error) {
	if runner == nil {
		runner = ShellRunner{}
	}
	e := &ExecExecutor{
		runner: runner,
		report: report,
		shell:  defaultShell(),
	}

	var err error
	if e.install, err = parseTemplate("install", tmpl.Install); err != nil {
		return nil, err
	}
	if e.uninstall, err = parseTemplate("uninstall", tmpl.Uninstall); err != nil {
		return nil, err
	}
	if e.status, err = parseTemplate("status", tmpl.Status); err != nil {
		return nil, err
	}
	return e, nil
}

func defaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"/bin/sh", "-c"}
}

func parseTemplate(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s command template: %w", name, err)
	}
	return t, nil
}

type templateData struct {
	Name      string
	State     string
	RequestID string
	OS        string
	Arch      string
}

func render(t *template.Template, cmd Command) (string, error) {
	var buf bytes.Buffer
	err := t.Execute(&buf, templateData{
		Name:      cmd.Name,
		State:     cmd.State,
		RequestID: cmd.RequestID,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	})
	if err != nil {
		return "", fmt.Errorf("render %s command: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Send runs the command line for cmd and reports the outcome.
func (e *ExecExecutor) Send(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	switch cmd.Cmd {
	case CmdGetComponentStatus:
		return e.queryStatus(ctx, cmd)
	default:
		return e.setState(ctx, cmd)
	}
}

func (e *ExecExecutor) setState(ctx context.Context, cmd Command) error {
	t := e.install
	if cmd.State == "uninstalled" {
		t = e.uninstall
	}
	if t == nil {
		return fmt.Errorf("%w: %s", ErrNoCommandTemplate, cmd)
	}

	line, err := render(t, cmd)
	if err != nil {
		return err
	}

	e.report(Update{Name: cmd.Name, State: "in_progress", RequestID: cmd.RequestID})

	_, stderr, code, err := e.run(ctx, line)
	if err != nil {
		log.Error().Err(err).Str("name", cmd.Name).Int("exit_code", code).Str("stderr", string(stderr)).Msg("Host command failed")
		// The real state is unknown after a failed transition; the next
		// status query settles it.
		e.report(Update{Name: cmd.Name, State: "unknown", RequestID: cmd.RequestID})
		return fmt.Errorf("%s exited with %d: %w", t.Name(), code, err)
	}

	e.report(Update{Name: cmd.Name, State: cmd.State, RequestID: cmd.RequestID})
	return nil
}

// queryStatus runs the status command. A recognised state printed on stdout
// wins; otherwise exit code 0 means installed and 1 means uninstalled.
func (e *ExecExecutor) queryStatus(ctx context.Context, cmd Command) error {
	if e.status == nil {
		return fmt.Errorf("%w: %s", ErrNoCommandTemplate, cmd)
	}
	line, err := render(e.status, cmd)
	if err != nil {
		return err
	}

	stdout, _, code, err := e.run(ctx, line)
	out := strings.TrimSpace(string(stdout))
	switch out {
	case "installed", "uninstalled", "in_progress", "unknown":
		e.report(Update{Name: cmd.Name, State: out, RequestID: cmd.RequestID})
		return nil
	}

	switch code {
	case 0:
		e.report(Update{Name: cmd.Name, State: "installed", RequestID: cmd.RequestID})
		return nil
	case 1:
		e.report(Update{Name: cmd.Name, State: "uninstalled", RequestID: cmd.RequestID})
		return nil
	}
	return fmt.Errorf("status exited with %d: %w", code, err)
}

func (e *ExecExecutor) run(ctx context.Context, line string) ([]byte, []byte, int, error) {
	args := append(append([]string{}, e.shell[1:]...), line)
	log.Debug().Str("command", line).Msg("Running host command")
	return e.runner.Run(ctx, e.shell[0], args...)
}
