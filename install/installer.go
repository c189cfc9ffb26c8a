// Package install installs Python packages into the running kernel with
// %pip, after validating the requested specifiers.
package install

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jonwraymond/kernelmcp/code"
)

// DefaultTimeout bounds a pip install.
const DefaultTimeout = 300 * time.Second

var (
	// ErrInvalidPackage indicates a specifier that is empty, malformed or
	// contains shell metacharacters.
	ErrInvalidPackage = errors.New("invalid package specifier")

	// ErrInstallFailed indicates pip ran but reported an error.
	ErrInstallFailed = errors.New("package installation failed")

	// ErrConfiguration indicates an invalid or incomplete configuration.
	ErrConfiguration = errors.New("configuration error")
)

// allowedOptions are the pip flags a caller may pass.
var allowedOptions = map[string]bool{
	"-U":        true,
	"--upgrade": true,
	"--pre":     true,
	"--quiet":   true,
	"-q":        true,
	"--no-deps": true,
}

// shellMeta are characters that would escape the quoted argument or be
// expanded by the %pip magic.
const shellMeta = ";|&$`(){}\\'\""

// requirement matches "name[extras]<op>version[,<op>version...]".
var requirement = regexp.MustCompile(
	`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?` +
		`(?:\[[A-Za-z0-9._-]+(?:,[A-Za-z0-9._-]+)*\])?` +
		`(?:(?:===|==|>=|<=|!=|~=|>|<)[A-Za-z0-9.*+!_-]+` +
		`(?:,(?:===|==|>=|<=|!=|~=|>|<)[A-Za-z0-9.*+!_-]+)*)?$`)

// Config configures an Installer.
type Config struct {
	// Executor runs the %pip command. Required.
	Executor code.Executor

	// Timeout bounds one install. Defaults to 300s.
	Timeout time.Duration

	// Logger is an optional logger.
	Logger code.Logger
}

// Installer installs packages through the execution bridge.
type Installer struct {
	executor code.Executor
	timeout  time.Duration
	logger   code.Logger
}

// New creates an Installer. Returns ErrConfiguration if Executor is nil.
func New(cfg Config) (*Installer, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("%w: missing required fields: Executor", ErrConfiguration)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout is negative", ErrConfiguration)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Installer{executor: cfg.Executor, timeout: cfg.Timeout, logger: cfg.Logger}, nil
}

// ParseSpec splits spec on whitespace and validates every token as a pip
// requirement or an allowed option. At least one requirement is needed.
func ParseSpec(spec string) ([]string, error) {
	if i := strings.IndexAny(spec, shellMeta); i >= 0 {
		return nil, fmt.Errorf("%w: %q contains shell metacharacter %q", ErrInvalidPackage, spec, spec[i])
	}
	tokens := strings.Fields(spec)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPackage)
	}

	packages := 0
	for _, tok := range tokens {
		switch {
		case strings.HasPrefix(tok, "-"):
			if !allowedOptions[tok] {
				return nil, fmt.Errorf("%w: option %q is not allowed", ErrInvalidPackage, tok)
			}
		case requirement.MatchString(tok):
			packages++
		default:
			return nil, fmt.Errorf("%w: %q is not a requirement specifier", ErrInvalidPackage, tok)
		}
	}
	if packages == 0 {
		return nil, fmt.Errorf("%w: no package named", ErrInvalidPackage)
	}
	return tokens, nil
}

// Command returns the %pip magic for validated tokens. Each token is single
// quoted so version operators are not read as shell redirections.
func Command(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		if strings.HasPrefix(tok, "-") {
			quoted[i] = tok
			continue
		}
		quoted[i] = "'" + tok + "'"
	}
	return "%pip install " + strings.Join(quoted, " ")
}

// Install validates spec and runs %pip install in the kernel. pip's output is
// returned in the result. A kernel exception or an "ERROR:" line from pip
// fails the install.
func (i *Installer) Install(ctx context.Context, spec string) (code.ExecuteResult, error) {
	tokens, err := ParseSpec(spec)
	if err != nil {
		return code.ExecuteResult{}, err
	}
	cmd := Command(tokens)
	i.logf("installing: %s", cmd)

	result, err := i.executor.ExecuteCode(ctx, code.ExecuteParams{
		Code:    cmd,
		Timeout: i.timeout,
		Kind:    code.KindInstall,
	})
	if err != nil {
		return result, err
	}

	if line := pipError(result); line != "" {
		result.Status = code.StatusError
		result.Notices = append(result.Notices, "pip reported an error: "+line)
		i.logf("install failed: %s", line)
		return result, fmt.Errorf("%w: %s", ErrInstallFailed, line)
	}
	return result, nil
}

// pipError returns the first "ERROR:" line pip printed, if any.
func pipError(result code.ExecuteResult) string {
	for _, out := range result.Outputs {
		for _, line := range strings.Split(out.Text, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "ERROR:") {
				return line
			}
		}
	}
	return ""
}

func (i *Installer) logf(format string, args ...any) {
	if i.logger != nil {
		i.logger.Logf(format, args...)
	}
}
