// Package reactor is the single-threaded event loop owning all mutable
// supervisor state: the roster, every daemon record, the control
// socket, and the timer heap driving restart waits and kill deadlines.
//
// The shape follows the teacher pack's actor-style supervisor
// (Gappylul-goverseer's Supervisor.run(), a select loop over a command
// channel and a child-exit channel) generalized to Shepherd's richer
// state machine: a goroutine pinned to one loop, fed by channels, is
// Go's idiomatic equivalent of an explicit single-threaded readiness
// multiplexer.
package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"syscall"
	"time"

	"github.com/briskcanopy/shepherd/internal/admincmd"
	"github.com/briskcanopy/shepherd/internal/audit"
	"github.com/briskcanopy/shepherd/internal/child"
	"github.com/briskcanopy/shepherd/internal/control"
	"github.com/briskcanopy/shepherd/internal/daemon"
	"github.com/briskcanopy/shepherd/internal/env"
	"github.com/briskcanopy/shepherd/internal/metrics"
	"github.com/briskcanopy/shepherd/internal/roster"
)

// defaults for timing knobs not set by config.
const (
	defaultKillDeadline     = 10 * time.Second
	defaultShutdownDeadline = 30 * time.Second
)

// childExit is what a Handle's own Wait goroutine publishes exactly
// once, tagged with the generation it was spawned under so a stale
// exit from a since-evicted-and-re-added record can be discarded.
type childExit struct {
	name       string
	generation uint64
	exit       child.Exit
}

// job is one control request waiting for the reactor goroutine to
// process it.
type job struct {
	req   control.Request
	reply chan control.Reply
}

// Config bundles what New needs to construct a Reactor.
type Config struct {
	Loader           roster.Loader
	SocketPath       string
	Logger           *slog.Logger
	Env              *env.Env
	Audit            audit.Sink
	KillDeadline     time.Duration
	ShutdownDeadline time.Duration
	Version          string
}

// Reactor is the supervisor's single-threaded core.
type Reactor struct {
	logger  *slog.Logger
	loader  roster.Loader
	roster  *roster.Roster
	env     *env.Env
	audit   audit.Sink
	version string

	killDeadline     time.Duration
	shutdownDeadline time.Duration

	server  *control.Server
	timers  *timerQueue
	exitsCh chan childExit
	jobCh   chan job
	sigCh   chan os.Signal
	closed  chan struct{}

	draining        bool
	pendingStopJobs map[string]chan control.Reply
}

// New constructs a Reactor and binds its control socket. The roster is
// empty until Run's initial load.
func New(cfg Config) (*Reactor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := cfg.Env
	if e == nil {
		e = env.New()
	}
	a := cfg.Audit
	if a == nil {
		a = audit.NopSink{}
	}
	kd := cfg.KillDeadline
	if kd <= 0 {
		kd = defaultKillDeadline
	}
	sd := cfg.ShutdownDeadline
	if sd <= 0 {
		sd = defaultShutdownDeadline
	}

	r := &Reactor{
		logger:           logger,
		loader:           cfg.Loader,
		roster:           roster.New(),
		env:              e,
		audit:            a,
		version:          cfg.Version,
		killDeadline:     kd,
		shutdownDeadline: sd,
		timers:           newTimerQueue(),
		exitsCh:          make(chan childExit, 64),
		jobCh:            make(chan job),
		sigCh:            make(chan os.Signal, 8),
		closed:           make(chan struct{}),
		pendingStopJobs:  make(map[string]chan control.Reply),
	}

	server, err := control.NewServer(cfg.SocketPath, r, logger)
	if err != nil {
		return nil, fmt.Errorf("reactor: bind control socket: %w", err)
	}
	r.server = server
	return r, nil
}

// Dispatch implements control.Dispatcher. It is called from a
// connection-handling goroutine and hands the request to the reactor
// goroutine, blocking until that goroutine (or a later exit event,
// for stop/restart) produces a Reply.
func (r *Reactor) Dispatch(req control.Request) control.Reply {
	reply := make(chan control.Reply, 1)
	select {
	case r.jobCh <- job{req: req, reply: reply}:
	case <-r.closed:
		return control.Errorf("shepherd: shutting down")
	}
	select {
	case rep := <-reply:
		return rep
	case <-r.closed:
		return control.Errorf("shepherd: shutting down")
	}
}

// Run boots the roster, starts the control server, and runs the event
// loop until ctx is cancelled or a shutdown signal is received. It
// returns the process exit code per spec: 0 for a clean shutdown.
func (r *Reactor) Run(ctx context.Context) int {
	defer r.recoverPanic()

	if err := r.reload(); err != nil {
		r.logger.Error("initial roster load failed", "error", err)
		return 1
	}
	r.bootSpawnAll()

	signal.Notify(r.sigCh, syscall.SIGCHLD, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(r.sigCh)

	go func() {
		if err := r.server.Serve(); err != nil {
			r.logger.Error("control server stopped", "error", err)
		}
	}()

	for {
		timeout := r.nextTimeout()
		select {
		case <-ctx.Done():
			return r.shutdown()
		case sig := <-r.sigCh:
			if code, done := r.handleSignal(sig); done {
				return code
			}
		case exit := <-r.exitsCh:
			r.applyExit(exit)
			r.drainExits()
		case j := <-r.jobCh:
			r.handleJob(j)
		case <-time.After(timeout):
			r.fireTimers()
		}
	}
}

func (r *Reactor) nextTimeout() time.Duration {
	at, ok := r.timers.nextDeadline()
	if !ok {
		return time.Hour
	}
	d := time.Until(at)
	if d < 0 {
		return 0
	}
	return d
}

func (r *Reactor) fireTimers() {
	now := time.Now()
	for _, e := range r.timers.popReady(now) {
		switch e.kind {
		case timerWake:
			r.wakeDaemon(e.daemon)
		case timerKill:
			r.killDaemon(e.daemon)
		case timerShutdownDeadline:
			r.forceKillAll()
		}
	}
}

func (r *Reactor) drainExits() {
	for {
		select {
		case e := <-r.exitsCh:
			r.applyExit(e)
		default:
			return
		}
	}
}

func (r *Reactor) handleSignal(sig os.Signal) (code int, done bool) {
	switch sig {
	case syscall.SIGCHLD:
		// advisory only; cmd.Wait() goroutines are the real reap mechanism.
	case syscall.SIGHUP:
		if err := r.reload(); err != nil {
			r.logger.Error("reload failed", "error", err)
		}
	case syscall.SIGINT, syscall.SIGTERM:
		return r.shutdown(), true
	}
	return 0, false
}

func (r *Reactor) recoverPanic() {
	if p := recover(); p != nil {
		r.logger.Error("reactor panic", "panic", p, "stack", string(debug.Stack()))
		os.Exit(1)
	}
}

// --- boot / spawn ---

func (r *Reactor) bootSpawnAll() {
	for _, rec := range r.roster.ByPriority(false) {
		if rec.State == daemon.Stopped {
			r.startRecord(rec)
		}
	}
}

func (r *Reactor) startRecord(rec *daemon.Record) {
	act, err := r.transition(rec, daemon.TriggerStart)
	if err != nil {
		r.logger.Warn("start rejected", "daemon", rec.Spec.Name, "error", err)
		return
	}
	if act.Kind == daemon.ActionSpawn {
		r.spawn(rec)
	}
}

// spawn starts a new OS process for rec's current Spec. It bumps
// GenerationTag right here, at the moment a new Handle's async Wait()
// goroutine is about to be launched, rather than whenever the spec
// changes — a reload's Changed diff can install a new Spec on a record
// whose old Handle is still running, and that old Handle's eventual
// exit must still match the generation it was spawned under.
func (r *Reactor) spawn(rec *daemon.Record) {
	rec.GenerationTag++
	gen := rec.GenerationTag
	spec := child.Spec{
		Name:       rec.Spec.Name,
		Start:      rec.Spec.Start,
		Stop:       rec.Spec.Stop,
		WorkDir:    rec.Spec.WorkDir,
		Env:        r.env.Compose(rec.Spec.Env),
		User:       rec.Spec.User,
		Group:      rec.Spec.Group,
		StdoutMode: rec.Spec.StdoutMode,
	}
	h := child.New(spec)
	name := rec.Spec.Name
	if err := h.Spawn(); err != nil {
		r.logger.Error("spawn failed", "daemon", name, "error", err)
		r.auditEvent(audit.EventSpawn, name, err.Error())
		act, terr := r.transition(rec, daemon.TriggerSpawnFailed)
		if terr != nil {
			r.logger.Error("transition failed", "daemon", name, "error", terr)
			return
		}
		r.armWake(name, act.At)
		return
	}
	rec.Handle = h
	metrics.IncStart(name)
	metrics.SetRunning(name, true)
	metrics.SetCurrentState(name, string(daemon.Starting), false)
	r.auditEvent(audit.EventSpawn, name, fmt.Sprintf("pid=%d", h.PID()))

	if _, err := r.transition(rec, daemon.TriggerSpawnSucceeded); err != nil {
		r.logger.Error("transition failed", "daemon", name, "error", err)
		return
	}
	metrics.SetCurrentState(name, string(daemon.Running), true)

	go func() {
		exit := h.Wait()
		r.exitsCh <- childExit{name: name, generation: gen, exit: exit}
	}()
}

func (r *Reactor) armWake(name string, at time.Time) {
	r.timers.cancel(timerWake, name)
	r.timers.schedule(at, timerWake, name)
}

func (r *Reactor) wakeDaemon(name string) {
	rec := r.roster.Get(name)
	if rec == nil || rec.State != daemon.CoolingDown {
		return
	}
	act, err := r.transition(rec, daemon.TriggerWakeTimerFired)
	if err != nil {
		r.logger.Error("wake transition failed", "daemon", name, "error", err)
		return
	}
	if act.Kind == daemon.ActionSpawn {
		r.spawn(rec)
	}
}

// --- exit handling ---

func (r *Reactor) applyExit(e childExit) {
	rec := r.roster.Get(e.name)
	if rec == nil || rec.GenerationTag != e.generation {
		return // stale: record was evicted and re-added under the same name since this handle spawned
	}
	rec.Handle = nil
	rec.LastExit = daemon.ExitInfo{Code: e.exit.Code, Signal: e.exit.Signal, Signaled: e.exit.Signaled, At: e.exit.At}
	metrics.IncStop(e.name)
	metrics.SetRunning(e.name, false)
	r.auditEvent(audit.EventExit, e.name, fmt.Sprintf("code=%d signaled=%v", e.exit.Code, e.exit.Signaled))
	r.timers.cancel(timerKill, e.name)

	act, err := r.transition(rec, daemon.TriggerChildExited)
	if err != nil {
		r.logger.Error("exit transition failed", "daemon", e.name, "error", err)
		return
	}
	metrics.SetCurrentState(e.name, string(rec.State), true)

	if reply, ok := r.pendingStopJobs[e.name]; ok {
		delete(r.pendingStopJobs, e.name)
		reply <- exitReply(e.exit)
	}

	switch act.Kind {
	case daemon.ActionScheduleWake:
		r.armWake(e.name, act.At)
	case daemon.ActionScheduleImmediateStart:
		r.spawn(rec)
	case daemon.ActionEvict:
		r.roster.Evict(e.name)
	}
}

func exitReply(e child.Exit) control.Reply {
	if e.Signaled {
		sig := e.Signal
		return control.OK(control.ExitResult{Signal: &sig})
	}
	code := e.Code
	return control.OK(control.ExitResult{Exit: &code})
}

// --- stop / kill ---

func (r *Reactor) stopRecord(rec *daemon.Record, trigger daemon.Trigger) (control.Reply, bool) {
	act, err := r.transition(rec, trigger)
	if err != nil {
		return control.Errorf("daemon %q: %v", rec.Spec.Name, err), true
	}
	if act.Kind != daemon.ActionInvokeStop {
		return control.Reply{}, false
	}
	name := rec.Spec.Name
	r.timers.schedule(time.Now().Add(r.killDeadline), timerKill, name)

	if !rec.Spec.Stop.Empty() {
		go func() {
			envVars := r.env.Compose(rec.Spec.Env)
			if _, err := admincmd.Run(context.Background(), rec.Spec.Stop, rec.Spec.WorkDir, envVars); err != nil {
				r.logger.Warn("stop_command failed", "daemon", name, "error", err)
			}
		}()
	} else if rec.Handle != nil {
		if err := rec.Handle.Signal(syscall.SIGTERM); err != nil {
			r.logger.Warn("signal TERM failed", "daemon", name, "error", err)
		}
	}
	return control.Reply{}, false
}

func (r *Reactor) killDaemon(name string) {
	rec := r.roster.Get(name)
	if rec == nil || rec.State != daemon.Stopping || rec.Handle == nil {
		return
	}
	if _, err := r.transition(rec, daemon.TriggerKillTimerFired); err != nil {
		return
	}
	if err := rec.Handle.Signal(syscall.SIGKILL); err != nil {
		r.logger.Warn("signal KILL failed", "daemon", name, "error", err)
	}
}

// --- reload ---

func (r *Reactor) reload() error {
	specs, order, err := r.loader.Load()
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	plan := r.roster.Reload(specs, order)
	for _, entry := range plan.Entries {
		rec := r.roster.Get(entry.Name)
		if rec == nil {
			continue
		}
		switch entry.Kind {
		case roster.Added:
			r.startRecord(rec)
		case roster.Changed:
			if rec.Handle != nil {
				r.stopRecord(rec, daemon.TriggerRestart)
			} else {
				r.startRecord(rec)
			}
		case roster.Removed:
			if rec.Handle != nil {
				r.stopRecord(rec, daemon.TriggerReloadRemoved)
			} else if _, err := r.transition(rec, daemon.TriggerReloadRemoved); err == nil {
				r.roster.Evict(entry.Name)
			}
		}
	}
	return nil
}

// --- shutdown ---

func (r *Reactor) shutdown() int {
	r.draining = true
	r.timers.schedule(time.Now().Add(r.shutdownDeadline), timerShutdownDeadline, "")

	for _, rec := range r.roster.ByPriority(true) {
		if rec.Handle != nil {
			r.stopRecord(rec, daemon.TriggerStop)
		}
	}

	deadline := time.Now().Add(r.shutdownDeadline)
	for r.anyHandleAlive() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.forceKillAll()
			break
		}
		select {
		case exit := <-r.exitsCh:
			r.applyExit(exit)
		case <-time.After(remaining):
		}
	}
	_ = r.server.Close()
	close(r.closed)
	return 0
}

func (r *Reactor) anyHandleAlive() bool {
	for _, rec := range r.roster.All() {
		if rec.Handle != nil {
			return true
		}
	}
	return false
}

func (r *Reactor) forceKillAll() {
	for _, rec := range r.roster.All() {
		if rec.Handle != nil {
			_ = rec.Handle.Signal(syscall.SIGKILL)
		}
	}
}

// transition applies trigger to rec and, when the trigger is accepted
// and changes the state, records the before/after pair in the
// state-transition counter, the current-state gauge, and the audit sink.
func (r *Reactor) transition(rec *daemon.Record, trigger daemon.Trigger) (daemon.Action, error) {
	from := rec.State
	act, err := rec.Transition(trigger)
	if err == nil && rec.State != from {
		metrics.RecordStateTransition(rec.Spec.Name, string(from), string(rec.State))
		metrics.SetCurrentState(rec.Spec.Name, string(from), false)
		metrics.SetCurrentState(rec.Spec.Name, string(rec.State), true)
		r.auditEvent(audit.EventStateTransition, rec.Spec.Name, fmt.Sprintf("from=%s to=%s", from, rec.State))
	}
	return act, err
}

func (r *Reactor) auditEvent(typ audit.EventType, name, detail string) {
	_ = r.audit.Send(context.Background(), audit.Event{Type: typ, OccurredAt: time.Now(), Daemon: name, Detail: detail})
}

// --- control jobs ---

func (r *Reactor) handleJob(j job) {
	if r.draining && j.req.Command != "ps" {
		j.reply <- control.Errorf("shepherd: shutting down, only ps is accepted")
		return
	}
	r.auditEvent(audit.EventControlRequest, j.req.Daemon, j.req.Command)

	switch j.req.Command {
	case "ps":
		j.reply <- r.psReply()
	case "version":
		j.reply <- control.OK(control.VersionResult{Version: r.version})
	case "reload":
		if err := r.reload(); err != nil {
			j.reply <- control.Errorf("reload failed: %v", err)
			return
		}
		j.reply <- control.OK(nil)
	case "start":
		rec := r.roster.Get(j.req.Daemon)
		if rec == nil {
			j.reply <- control.Errorf("unknown daemon %q", j.req.Daemon)
			return
		}
		r.startRecord(rec)
		j.reply <- control.OK(nil)
	case "stop":
		r.handleStopJob(j, daemon.TriggerStop)
	case "restart":
		metrics.IncRestart(j.req.Daemon)
		r.handleStopJob(j, daemon.TriggerRestart)
	case "cancel_restart":
		rec := r.roster.Get(j.req.Daemon)
		if rec == nil {
			j.reply <- control.Errorf("unknown daemon %q", j.req.Daemon)
			return
		}
		if _, err := r.transition(rec, daemon.TriggerCancelRestart); err != nil {
			j.reply <- control.Errorf("%v", err)
			return
		}
		r.timers.cancel(timerWake, j.req.Daemon)
		j.reply <- control.OK(nil)
	case "list_commands":
		rec := r.roster.Get(j.req.Daemon)
		if rec == nil {
			j.reply <- control.Errorf("unknown daemon %q", j.req.Daemon)
			return
		}
		names := make([]string, 0, len(rec.Spec.AdminCommands))
		if len(rec.Spec.AdminCommandOrder) == len(rec.Spec.AdminCommands) {
			names = append(names, rec.Spec.AdminCommandOrder...)
		} else {
			// config couldn't supply declaration order (e.g. a loader
			// other than the YAML file loader); fall back to a
			// deterministic sort rather than map-iteration order.
			for name := range rec.Spec.AdminCommands {
				names = append(names, name)
			}
			sort.Strings(names)
		}
		j.reply <- control.OK(names)
	case "admin_command":
		r.handleAdminCommandJob(j)
	default:
		j.reply <- control.Errorf("unknown command %q", j.req.Command)
	}
}

func (r *Reactor) handleStopJob(j job, trigger daemon.Trigger) {
	rec := r.roster.Get(j.req.Daemon)
	if rec == nil {
		j.reply <- control.Errorf("unknown daemon %q", j.req.Daemon)
		return
	}
	if trigger == daemon.TriggerStop && rec.State == daemon.Stopped {
		j.reply <- control.OK(nil) // stopping a stopped daemon is a no-op
		return
	}
	reply, done := r.stopRecord(rec, trigger)
	if done {
		j.reply <- reply
		return
	}
	r.pendingStopJobs[j.req.Daemon] = j.reply
}

func (r *Reactor) handleAdminCommandJob(j job) {
	rec := r.roster.Get(j.req.Daemon)
	if rec == nil {
		j.reply <- control.Errorf("unknown daemon %q", j.req.Daemon)
		return
	}
	cmd, ok := rec.Spec.AdminCommands[j.req.AdminCommand]
	if !ok {
		j.reply <- control.Errorf("daemon %q has no command %q", j.req.Daemon, j.req.AdminCommand)
		return
	}
	workDir := rec.Spec.WorkDir
	envVars := r.env.Compose(rec.Spec.Env)
	go func() {
		res, err := admincmd.Run(context.Background(), cmd, workDir, envVars)
		if err != nil {
			j.reply <- control.Errorf("admin command failed: %v", err)
			return
		}
		if res.Signaled {
			sig := res.Signal
			j.reply <- control.OK(control.ExitResult{Output: res.Output, Signal: &sig})
			return
		}
		code := res.Code
		j.reply <- control.OK(control.ExitResult{Output: res.Output, Exit: &code})
	}()
}

func (r *Reactor) psReply() control.Reply {
	entries := make([]control.PSEntry, 0, len(r.roster.All()))
	for _, rec := range r.roster.All() {
		e := control.PSEntry{
			Name:          rec.Spec.Name,
			State:         string(rec.State),
			RestartCursor: rec.RestartCursor.Count(),
		}
		if rec.Handle != nil {
			pid := rec.Handle.PID()
			e.PID = &pid
		}
		if !rec.StartedAt.IsZero() {
			since := rec.StartedAt
			e.SinceTS = &since
		}
		if rec.HasNextWake() {
			wake := rec.NextWake
			e.NextWake = &wake
		}
		entries = append(entries, e)
	}
	return control.OK(entries)
}
