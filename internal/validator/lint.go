package validator

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// PHPLinter runs `php -l` on the file in place. A missing php binary passes.
type PHPLinter struct {
	Binary string
}

// Lint implements Linter.
func (l PHPLinter) Lint(ctx context.Context, path string, _ []byte) (bool, string, error) {
	bin := l.Binary
	if bin == "" {
		bin = "php"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return true, "php not installed, lint skipped", nil
	}

	out, err := exec.CommandContext(ctx, bin, "-l", path).CombinedOutput()
	msg := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, msg, nil
		}
		return false, msg, err
	}
	return true, msg, nil
}

// LinterFunc adapts a function to the Linter interface.
type LinterFunc func(ctx context.Context, path string, content []byte) (bool, string, error)

// Lint implements Linter.
func (f LinterFunc) Lint(ctx context.Context, path string, content []byte) (bool, string, error) {
	return f(ctx, path, content)
}
