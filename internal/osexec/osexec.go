// Package osexec carries out power and session actions on the host, trying a
// chain of platform commands until one succeeds.
package osexec

import (
	"context"
	"errors"
	"fmt"
	apperrors "kiosk-agent/pkg/errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Action is a host-level operation requested by the dispatcher.
type Action string

const (
	ActionShutdown Action = "shutdown"
	ActionRestart  Action = "restart"
	ActionLogout   Action = "logout"
)

// DefaultTimeout bounds each command attempt.
const DefaultTimeout = 15 * time.Second

// Command is one executable invocation.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Plan maps each action to its fallback chain.
type Plan map[Action][]Command

// PlanFor returns the fallback chains for a GOOS value.
func PlanFor(goos string) Plan {
	switch goos {
	case "linux":
		user := os.Getenv("USER")
		return Plan{
			ActionShutdown: {
				{Name: "systemctl", Args: []string{"poweroff"}},
				{Name: "shutdown", Args: []string{"-h", "now"}},
				{Name: "poweroff"},
			},
			ActionRestart: {
				{Name: "systemctl", Args: []string{"reboot"}},
				{Name: "shutdown", Args: []string{"-r", "now"}},
				{Name: "reboot"},
			},
			ActionLogout: {
				{Name: "gnome-session-quit", Args: []string{"--logout", "--no-prompt"}},
				{Name: "loginctl", Args: []string{"terminate-user", user}},
			},
		}
	case "darwin":
		return Plan{
			ActionShutdown: {
				{Name: "osascript", Args: []string{"-e", `tell app "System Events" to shut down`}},
				{Name: "osascript", Args: []string{"-e", `tell app "Finder" to shut down`}},
			},
			ActionRestart: {
				{Name: "osascript", Args: []string{"-e", `tell app "System Events" to restart`}},
				{Name: "osascript", Args: []string{"-e", `tell app "Finder" to restart`}},
			},
			ActionLogout: {
				{Name: "osascript", Args: []string{"-e", `tell app "System Events" to log out`}},
				{Name: "osascript", Args: []string{"-e", `tell app "Finder" to log out`}},
			},
		}
	case "windows":
		return Plan{
			ActionShutdown: {
				{Name: "shutdown", Args: []string{"/s", "/t", "0"}},
				{Name: "shutdown", Args: []string{"/s", "/f", "/t", "0"}},
			},
			ActionRestart: {
				{Name: "shutdown", Args: []string{"/r", "/t", "0"}},
				{Name: "shutdown", Args: []string{"/r", "/f", "/t", "0"}},
			},
			ActionLogout: {
				{Name: "shutdown", Args: []string{"/l"}},
				{Name: "logoff"},
			},
		}
	default:
		return Plan{}
	}
}

// Executor runs actions against the host.
type Executor struct {
	runner  Runner
	plan    Plan
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecutor creates an executor for the running platform.
func NewExecutor(timeout time.Duration, logger *zap.Logger) *Executor {
	return NewExecutorWithPlan(ExecRunner{}, PlanFor(runtime.GOOS), timeout, logger)
}

// NewExecutorWithPlan creates an executor with an explicit runner and plan.
func NewExecutorWithPlan(runner Runner, plan Plan, timeout time.Duration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{runner: runner, plan: plan, timeout: timeout, logger: logger}
}

// Do runs the action's commands in order and stops at the first success.
// When every command fails the attempts are reported together.
func (e *Executor) Do(ctx context.Context, action Action) error {
	commands := e.plan[action]
	if len(commands) == 0 {
		return apperrors.CommandExecutionError(string(action),
			fmt.Errorf("%s is not supported on %s", action, runtime.GOOS))
	}

	var errs []error
	for _, cmd := range commands {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		err := e.attempt(ctx, cmd)
		if err == nil {
			e.logger.Info("host action executed", zap.String("action", string(action)), zap.Stringer("command", cmd))
			return nil
		}

		e.logger.Warn("host action attempt failed",
			zap.String("action", string(action)),
			zap.Stringer("command", cmd),
			zap.Error(err))
		errs = append(errs, err)
	}

	return apperrors.CommandExecutionError(string(action), errors.Join(errs...))
}

func (e *Executor) attempt(ctx context.Context, cmd Command) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.runner.Run(ctx, cmd.Name, cmd.Args...)
	if err != nil {
		if output := strings.TrimSpace(string(out)); output != "" {
			return fmt.Errorf("%s: %w: %s", cmd, err, output)
		}
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}
