package serviceops

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/common/constants"
	"github.com/orchestra-run/controlplane/internal/platform/apperr"
	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// ProcessSpec is what the supervisor needs to launch one service's process:
// the declared binary, args, env, and the port it must bind so health can be
// polled and the supervisor can free the port on a stuck process.
type ProcessSpec struct {
	Name   string
	Binary string
	Args   []string
	Env    map[string]string
	Port   int
}

type managedProcess struct {
	spec   ProcessSpec
	cmd    *exec.Cmd
	exited chan struct{}
	status RuntimeState
	mu     sync.Mutex
}

// Supervisor starts, stops, and restarts service child processes, and
// implements ObservationSource so the StateManager can reconcile against
// what it actually sees running. Every state transition is also persisted
// to store (when non-nil) so reconciliation can independently re-verify a
// service's state against the OS rather than trusting this in-process view
// alone - load-bearing across a restart of this very process.
type Supervisor struct {
	mu        sync.Mutex
	processes map[string]*managedProcess
	store     ServiceStateStore
	logger    *logger.Logger
}

// NewSupervisor creates an empty Supervisor. store may be nil, in which case
// state is tracked only in memory (used by tests and by reconciliation paths
// that don't need cross-restart verification).
func NewSupervisor(log *logger.Logger, store ServiceStateStore) *Supervisor {
	return &Supervisor{
		processes: make(map[string]*managedProcess),
		store:     store,
		logger:    log,
	}
}

// persist writes the current state of a managed process to store,
// swallowing and logging errors: a failed write must never abort a process
// lifecycle transition, it only degrades reconciliation's ability to
// independently re-verify that service until the next successful write.
func (s *Supervisor) persist(ctx context.Context, name string, status RuntimeState, pid, port int) {
	if s.store == nil {
		return
	}
	if err := s.store.Upsert(ctx, name, status, pid, port); err != nil {
		s.logger.Warn("failed to persist service state", zap.String("service", name), zap.Error(err))
	}
}

// Observe implements ObservationSource.
func (s *Supervisor) Observe(ctx context.Context) ([]ObservedService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ObservedService, 0, len(s.processes))
	for name, p := range s.processes {
		p.mu.Lock()
		status := p.status
		port := p.spec.Port
		var pid int
		if p.cmd != nil && p.cmd.Process != nil {
			pid = p.cmd.Process.Pid
		}
		p.mu.Unlock()
		out = append(out, ObservedService{Name: name, PID: pid, Port: port, Status: status, UpdatedAt: time.Now().UTC()})
	}
	return out, nil
}

// Start launches spec's process if it is not already running and waits for
// it to accept TCP connections on its declared port before returning.
func (s *Supervisor) Start(ctx context.Context, spec ProcessSpec) error {
	s.mu.Lock()
	if existing, ok := s.processes[spec.Name]; ok {
		existing.mu.Lock()
		running := existing.status == RuntimeRunning || existing.status == RuntimeStarting
		existing.mu.Unlock()
		s.mu.Unlock()
		if running {
			return apperr.New(apperr.KindValidation, fmt.Sprintf("service %q is already running", spec.Name))
		}
	} else {
		s.mu.Unlock()
	}

	if err := checkPortAvailable(spec.Port); err != nil {
		return apperr.Wrap(apperr.KindUpstream, fmt.Sprintf("port %d not available for service %q", spec.Port, spec.Name), err)
	}

	cmd := exec.Command(spec.Binary, append([]string{fmt.Sprintf("--port=%d", spec.Port)}, spec.Args...)...)
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM, Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe for %s: %w", spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe for %s: %w", spec.Name, err)
	}

	mp := &managedProcess{spec: spec, cmd: cmd, exited: make(chan struct{}), status: RuntimeStarting}

	s.mu.Lock()
	s.processes[spec.Name] = mp
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		mp.mu.Lock()
		mp.status = RuntimeCrashed
		mp.mu.Unlock()
		s.persist(ctx, spec.Name, RuntimeCrashed, 0, spec.Port)
		return apperr.Wrap(apperr.KindUpstream, fmt.Sprintf("starting service %q", spec.Name), err)
	}

	s.logger.Info("service process started", zap.String("service", spec.Name), zap.Int("pid", cmd.Process.Pid))
	s.persist(ctx, spec.Name, RuntimeStarting, cmd.Process.Pid, spec.Port)

	go s.pipeOutput(spec.Name, "stdout", bufio.NewScanner(stdout))
	go s.pipeOutput(spec.Name, "stderr", bufio.NewScanner(stderr))
	go s.monitorExit(mp)

	if err := s.waitForPort(ctx, spec.Port, mp.exited); err != nil {
		_ = s.Stop(context.Background(), spec.Name)
		return apperr.Wrap(apperr.KindTimeout, fmt.Sprintf("service %q did not become healthy", spec.Name), err)
	}

	mp.mu.Lock()
	mp.status = RuntimeRunning
	mp.mu.Unlock()
	s.persist(ctx, spec.Name, RuntimeRunning, cmd.Process.Pid, spec.Port)

	return nil
}

// Stop sends SIGTERM to name's process and escalates to SIGKILL after
// constants.ServiceStopGracePeriod if it has not exited.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	mp, ok := s.processes[name]
	s.mu.Unlock()
	if !ok || mp.cmd == nil || mp.cmd.Process == nil {
		return nil
	}

	select {
	case <-mp.exited:
		return nil
	default:
	}

	pid := mp.cmd.Process.Pid
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		s.logger.Warn("failed to send SIGTERM, escalating to SIGKILL", zap.String("service", name), zap.Error(err))
		return syscall.Kill(pid, syscall.SIGKILL)
	}

	select {
	case <-mp.exited:
		return nil
	case <-time.After(constants.ServiceStopGracePeriod):
		s.logger.Warn("grace period elapsed, sending SIGKILL", zap.String("service", name))
		_ = syscall.Kill(pid, syscall.SIGKILL)
		select {
		case <-mp.exited:
			return nil
		case <-time.After(2 * time.Second):
			return apperr.New(apperr.KindTimeout, fmt.Sprintf("service %q did not exit after SIGKILL", name))
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart stops then starts name's process.
func (s *Supervisor) Restart(ctx context.Context, spec ProcessSpec) error {
	if err := s.Stop(ctx, spec.Name); err != nil {
		return err
	}
	return s.Start(ctx, spec)
}

// KillPort forcibly terminates whatever process is bound to port. If this
// supervisor spawned it, it is stopped the normal way (SIGTERM then
// SIGKILL). Otherwise port may still be held by a genuine orphan - a
// process never spawned by this supervisor instance, and therefore absent
// from s.processes by definition - so KillPort falls back to locating the
// real occupant PID via the OS and signaling it directly.
func (s *Supervisor) KillPort(ctx context.Context, port int) error {
	s.mu.Lock()
	var target *managedProcess
	for _, mp := range s.processes {
		if mp.spec.Port == port {
			target = mp
			break
		}
	}
	s.mu.Unlock()

	if target != nil {
		return s.Stop(ctx, target.spec.Name)
	}

	pid, ok := portOccupant(port)
	if !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("no process bound to port %d", port))
	}
	return killOrphanPID(pid)
}

// portOccupant finds the PID of whatever process currently holds port,
// using lsof the same way the teacher's own launcher diagnoses a stuck
// port (platform_unix.go's tryKillPortHolder) - there is no process in
// s.processes to ask, so this is the only way to find a genuine orphan.
func portOccupant(port int) (int, bool) {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port)).CombinedOutput()
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var pid int
		if _, err := fmt.Sscanf(line, "%d", &pid); err != nil || pid <= 0 {
			continue
		}
		return pid, true
	}
	return 0, false
}

// killOrphanPID signals a process this supervisor never spawned: SIGTERM
// first, escalating to SIGKILL if it refuses to exit within the grace
// period, mirroring Stop's escalation for processes we did spawn.
func killOrphanPID(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil // already gone
		}
		return syscall.Kill(pid, syscall.SIGKILL)
	}

	deadline := time.Now().Add(constants.ServiceStopGracePeriod)
	for time.Now().Before(deadline) {
		if syscall.Kill(pid, 0) == syscall.ESRCH {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}

func checkPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return ln.Close()
}

func (s *Supervisor) waitForPort(ctx context.Context, port int, exited <-chan struct{}) error {
	deadline := time.Now().Add(constants.ServiceStartTimeout)
	backoff := 100 * time.Millisecond
	const maxBackoff = time.Second

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return fmt.Errorf("process exited before binding port %d", port)
		default:
		}

		conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("timed out waiting for port %d", port)
}

func (s *Supervisor) pipeOutput(service, stream string, scanner *bufio.Scanner) {
	for scanner.Scan() {
		s.logger.Info(scanner.Text(), zap.String("service", service), zap.String("stream", stream))
	}
}

func (s *Supervisor) monitorExit(mp *managedProcess) {
	err := mp.cmd.Wait()

	mp.mu.Lock()
	wasStopping := mp.status != RuntimeRunning && mp.status != RuntimeStarting
	if err != nil && !wasStopping {
		mp.status = RuntimeCrashed
	} else {
		mp.status = RuntimeStopped
	}
	finalStatus := mp.status
	var pid int
	if mp.cmd.Process != nil {
		pid = mp.cmd.Process.Pid
	}
	mp.mu.Unlock()

	s.persist(context.Background(), mp.spec.Name, finalStatus, pid, mp.spec.Port)

	if err != nil {
		s.logger.Error("service process exited", zap.String("service", mp.spec.Name), zap.Error(err))
	} else {
		s.logger.Info("service process exited", zap.String("service", mp.spec.Name))
	}

	close(mp.exited)
}
