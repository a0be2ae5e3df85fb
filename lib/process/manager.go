// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/console"
)

// defaultWaitDelay bounds how long Wait keeps reading a process's
// output pipes after it exits, for grandchildren that inherited them.
const defaultWaitDelay = 5 * time.Second

// Spec describes a process to start.
type Spec struct {
	// Argv is the executable followed by its arguments. Each element is
	// expanded against the merged environment before the spawn.
	Argv []string

	// LayerReferencesOnly limits the expansion of Argv to ${layer:NAME}
	// references, for callers that already resolved bare ${NAME}.
	LayerReferencesOnly bool

	// WorkingDir is the directory the process starts in.
	WorkingDir string

	// Environment holds the build's context variables.
	Environment map[string]string

	// Overrides are per-process variables that win over everything
	// else.
	Overrides map[string]string

	// Consumer receives the decoded output lines of stdout and stderr.
	// Nil discards output.
	Consumer console.Consumer

	// Tag correlates the process for idle-time queries. Empty assigns a
	// random tag.
	Tag string

	// Encoding names the charset of the process output ("UTF-8",
	// "ISO-8859-1", "windows-1252", ...). Empty means UTF-8 passed
	// through untouched.
	Encoding string

	// Mask redacts secrets from spawn diagnostics. Nil leaves text as
	// is.
	Mask func(string) string

	// Sensitive hides the arguments in spawn diagnostics and logs.
	Sensitive bool
}

// Config configures a Manager.
type Config struct {
	// Clock drives start and activity timestamps. Nil uses the real
	// clock.
	Clock clock.Clock

	// Logger receives lifecycle records. Nil discards them.
	Logger *slog.Logger

	// Environ returns the agent environment that forms the system
	// layer. Nil uses os.Environ.
	Environ func() []string

	// WaitDelay bounds output draining after exit. Zero uses five
	// seconds.
	WaitDelay time.Duration

	// ProcRoot is the proc filesystem used to find descendants. Empty
	// means /proc.
	ProcRoot string
}

// Manager starts build processes and tracks the live ones. It is safe
// for concurrent use.
type Manager struct {
	clock     clock.Clock
	logger    *slog.Logger
	environ   func() []string
	waitDelay time.Duration
	procRoot  string

	mu    sync.Mutex
	table map[int]*Wrapper
}

// NewManager returns a Manager with no live processes.
func NewManager(config Config) *Manager {
	manager := &Manager{
		clock:     config.Clock,
		logger:    config.Logger,
		environ:   config.Environ,
		waitDelay: config.WaitDelay,
		procRoot:  config.ProcRoot,
		table:     make(map[int]*Wrapper),
	}
	if manager.clock == nil {
		manager.clock = clock.Real()
	}
	if manager.logger == nil {
		manager.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if manager.environ == nil {
		manager.environ = os.Environ
	}
	if manager.waitDelay == 0 {
		manager.waitDelay = defaultWaitDelay
	}
	if manager.procRoot == "" {
		manager.procRoot = "/proc"
	}
	return manager
}

// CreateProcess starts spec and registers the running process. If ctx
// is already done the spawn is refused with ErrCancelled; if ctx ends
// while the process runs, its tree is killed. A process that fails to
// start returns a *SpawnError and is never registered.
func (m *Manager) CreateProcess(ctx context.Context, spec Spec) (*Wrapper, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	environment := NewEnvironment(m.environ())
	environment.SetAll(LayerContext, spec.Environment)
	environment.SetAll(LayerOverride, spec.Overrides)

	mask := spec.Mask
	if mask == nil {
		mask = func(text string) string { return text }
	}

	argv := make([]string, len(spec.Argv))
	for index, argument := range spec.Argv {
		if spec.LayerReferencesOnly {
			argv[index] = environment.ExpandLayered(argument)
		} else {
			argv[index] = environment.Expand(argument)
		}
	}

	var charset encoding.Encoding
	if spec.Encoding != "" {
		found, err := htmlindex.Get(spec.Encoding)
		if err != nil {
			return nil, m.spawnError(argv, spec, mask, fmt.Errorf("unknown output encoding %q: %w", spec.Encoding, err))
		}
		charset = found
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, m.spawnError(argv, spec, mask, fmt.Errorf("empty command"))
	}

	tag := spec.Tag
	if tag == "" {
		tag = uuid.NewString()
	}
	consumer := spec.Consumer
	if consumer == nil {
		consumer = console.Discard
	}

	now := m.clock.Now()
	wrapper := &Wrapper{
		manager:   m,
		tag:       tag,
		startTime: now,
		consumer:  consumer,
		done:      make(chan struct{}),
	}
	wrapper.lastActivity.Store(now.UnixNano())

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = environment.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = m.waitDelay
	cmd.Stdout = wrapper.outputWriter(charset)
	cmd.Stderr = wrapper.outputWriter(charset)
	wrapper.cmd = cmd

	if err := cmd.Start(); err != nil {
		return nil, m.spawnError(argv, spec, mask, err)
	}
	wrapper.pid = cmd.Process.Pid

	m.mu.Lock()
	m.table[wrapper.pid] = wrapper
	m.mu.Unlock()

	m.logger.Info("process started",
		"pid", wrapper.pid,
		"tag", tag,
		"command", mask(describeArgv(argv, spec.Sensitive)),
		"dir", spec.WorkingDir,
	)

	go wrapper.wait()
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, wrapper.KillTree)
		go func() {
			<-wrapper.done
			stop()
		}()
	}
	return wrapper, nil
}

// ProcessKilled removes pid from the registry. Safe to call for pids
// that are not registered.
func (m *Manager) ProcessKilled(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.table, pid)
}

// IdleTime returns how long the process tagged tag (compared case
// insensitively) has produced no output. When several live processes
// share the tag the most recently active one counts. Returns 0 when no
// live process has the tag.
func (m *Manager) IdleTime(tag string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		idle  time.Duration
		found bool
	)
	for _, wrapper := range m.table {
		if !strings.EqualFold(wrapper.tag, tag) {
			continue
		}
		current := wrapper.IdleTime()
		if !found || current < idle {
			idle = current
			found = true
		}
	}
	return idle
}

// Active returns the registered processes ordered by pid.
func (m *Manager) Active() []*Wrapper {
	m.mu.Lock()
	defer m.mu.Unlock()

	wrappers := make([]*Wrapper, 0, len(m.table))
	for _, wrapper := range m.table {
		wrappers = append(wrappers, wrapper)
	}
	sort.Slice(wrappers, func(i, j int) bool { return wrappers[i].pid < wrappers[j].pid })
	return wrappers
}

// deregister removes wrapper if it still owns its pid entry.
func (m *Manager) deregister(wrapper *Wrapper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.table[wrapper.pid] == wrapper {
		delete(m.table, wrapper.pid)
	}
}

func (m *Manager) spawnError(argv []string, spec Spec, mask func(string) string, err error) *SpawnError {
	agentEnvironment := m.environ()
	masked := make([]string, len(agentEnvironment))
	for index, entry := range agentEnvironment {
		masked[index] = mask(entry)
	}
	sort.Strings(masked)

	spawnErr := &SpawnError{
		CommandLine: mask(describeArgv(argv, spec.Sensitive)),
		WorkingDir:  spec.WorkingDir,
		Environment: masked,
		Err:         err,
	}
	m.logger.Warn("process spawn failed",
		"command", spawnErr.CommandLine,
		"dir", spec.WorkingDir,
		"error", err,
	)
	return spawnErr
}

// describeArgv renders argv as a shell-like command line.
func describeArgv(argv []string, sensitive bool) string {
	if len(argv) == 0 {
		return ""
	}
	if sensitive {
		return argv[0] + " " + console.DefaultMask
	}
	parts := make([]string, len(argv))
	for index, argument := range argv {
		if argument == "" || strings.ContainsAny(argument, " \t\n\"'\\$") {
			parts[index] = strconv.Quote(argument)
		} else {
			parts[index] = argument
		}
	}
	return strings.Join(parts, " ")
}
