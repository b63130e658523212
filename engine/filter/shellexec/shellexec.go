// Package shellexec runs an external command once per input file.
//
// The command is built from a text/template (with sprig functions) that
// receives the input path as .pathIn, the output path as .pathOut and every
// entry of the command-arguments option by name. The command is expected to
// read pathIn and write pathOut. Commands operate on the real filesystem, so
// the Invocation filesystem is not consulted.
package shellexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/shlex"

	"github.com/squidspace/sqs/engine/filter"
	"github.com/squidspace/sqs/pkg/logger"
)

const Kind filter.Kind = "shellexec"

const doc = `Runs a command for every input file.

Options:
  command-template   (required) template with {{ .pathIn }} and {{ .pathOut }}
  command-arguments  (optional) map of extra template values
  in-ext             (optional) only inputs with this extension are processed
  out-ext            (optional) extension forced onto the output name
  match              (optional) glob the input base name must match
  shell              (optional) run through "sh -c" (default true)
  timeout            (optional) per-command limit, e.g. "90s" or "1d"`

type Options struct {
	Template  string         `option:"command-template"`
	Arguments map[string]any `option:"command-arguments"`
	InExt     string         `option:"in-ext"`
	OutExt    string         `option:"out-ext"`
	Match     string         `option:"match"`
	Shell     *bool          `option:"shell"`
	Timeout   time.Duration  `option:"timeout"`
}

func (o *Options) useShell() bool {
	return o.Shell == nil || *o.Shell
}

func New() filter.Filter {
	return filter.New(Kind, doc, apply)
}

func apply(ctx context.Context, inv filter.Invocation) int {
	log := inv.Logger().With("filter", string(Kind))
	opts, err := filter.DecodeOptions[Options](inv.Options)
	if err != nil {
		log.Error("Invalid shellexec options", "error", err)
		return 0
	}
	if strings.TrimSpace(opts.Template) == "" {
		log.Error("No 'command-template' option supplied")
		return 0
	}
	if opts.Match != "" && !doublestar.ValidatePattern(opts.Match) {
		log.Error("Invalid 'match' pattern", "match", opts.Match)
		return 0
	}
	if inv.Outputs == nil {
		log.Error("No output mapping supplied")
		return 0
	}
	tmpl, err := template.New("command").Option("missingkey=error").Funcs(sprig.FuncMap()).Parse(opts.Template)
	if err != nil {
		log.Error("Failed to parse command template", "error", err)
		return 0
	}
	processed := 0
	for _, pathIn := range inv.Inputs {
		if ctx.Err() != nil {
			log.Warn("Command execution canceled", "processed", processed, "error", ctx.Err())
			break
		}
		if !accepts(&opts, pathIn) {
			log.Warn("Input skipped, extension or pattern not accepted", "path", pathIn)
			continue
		}
		nameOut := filepath.Base(pathIn)
		if opts.OutExt != "" {
			nameOut = ForceExt(nameOut, opts.OutExt)
		}
		if Exec(ctx, tmpl, pathIn, inv.Outputs(nameOut), &opts, log) {
			processed++
		}
	}
	return processed
}

func accepts(opts *Options, pathIn string) bool {
	if opts.InExt != "" && !strings.EqualFold(filepath.Ext(pathIn), normalizeExt(opts.InExt)) {
		return false
	}
	if opts.Match != "" {
		ok, err := doublestar.Match(opts.Match, filepath.Base(pathIn))
		return err == nil && ok
	}
	return true
}

// Exec renders and runs the command for one input. It reports whether the
// command could be built and exited with status zero.
func Exec(
	ctx context.Context,
	tmpl *template.Template,
	pathIn, pathOut string,
	opts *Options,
	log logger.Logger,
) bool {
	command, err := Render(tmpl, pathIn, pathOut, opts.Arguments)
	if err != nil {
		log.Error("Failed to render command", "path", pathIn, "error", err)
		return false
	}
	if len(command) <= len(pathIn)+len(pathOut) {
		log.Error("Command is invalid", "command", command)
		return false
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	cmd, err := buildCommand(ctx, command, opts.useShell())
	if err != nil {
		log.Error("Command is invalid", "command", command, "error", err)
		return false
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	log.Debug("Executing command", "command", command)
	if err := cmd.Run(); err != nil {
		logFailure(ctx, log, command, err, output.String())
		return false
	}
	if output.Len() > 0 {
		log.Debug("Command output", "command", command, "output", output.String())
	}
	return true
}

func logFailure(ctx context.Context, log logger.Logger, command string, err error, output string) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Error("Command timed out", "command", command, "output", output)
		return
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() < 0 {
			log.Error("Command was terminated by a signal", "command", command, "error", err, "output", output)
			return
		}
		log.Error(
			"Command resulted in a non-zero return code",
			"command", command,
			"code", exitErr.ExitCode(),
			"output", output,
		)
		return
	}
	log.Error("Command failed", "command", command, "error", err)
}

// Render executes tmpl with pathIn, pathOut and args as template data.
func Render(tmpl *template.Template, pathIn, pathOut string, args map[string]any) (string, error) {
	data := make(map[string]any, len(args)+2)
	maps.Copy(data, args)
	data["pathIn"] = pathIn
	data["pathOut"] = pathOut
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return buf.String(), nil
}

func buildCommand(ctx context.Context, command string, shell bool) (*exec.Cmd, error) {
	if shell {
		return exec.CommandContext(ctx, "sh", "-c", command), nil
	}
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to split command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return exec.CommandContext(ctx, args[0], args[1:]...), nil
}

// ForceExt replaces the extension of name with ext ("md" and ".md" are equivalent).
func ForceExt(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + normalizeExt(ext)
}

func normalizeExt(ext string) string {
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}
