// Package console is the interactive operator menu: list, add, cancel and
// retime tasks, and show stored aggregates.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"periodic/internal/probe"
	"periodic/internal/storage"
	"periodic/internal/task/scheduler"
	logx "periodic/pkg/logx"
)

// Scheduler is the part of *scheduler.Scheduler the console drives.
type Scheduler interface {
	SchedulePeriodic(name string, fn scheduler.Func, firstDue time.Time, interval time.Duration) (scheduler.Uid, error)
	Cancel(uid scheduler.Uid)
	UpdateInterval(uid scheduler.Uid, d time.Duration) error
	ListTasks() []scheduler.TaskInfo
	Now() time.Time
}

type Aggregator interface {
	Aggregates(ctx context.Context) ([]storage.Aggregate, error)
}

type Config struct {
	Sched Scheduler
	// Store may return nil when storage is disabled.
	Store func() Aggregator
	// NewJob turns a probe into a scheduler callback.
	NewJob func(p probe.Probe) scheduler.Func
	// Jobs reports run counters of configured tasks. Optional.
	Jobs func() []probe.TaskStats
	Log  logx.Logger
	// Prompt is printed before each command. Empty means "> ".
	Prompt string
}

type Console struct {
	sched  Scheduler
	store  func() Aggregator
	newJob func(p probe.Probe) scheduler.Func
	jobs   func() []probe.TaskStats
	log    logx.Logger
	prompt string
}

func New(cfg Config) *Console {
	c := &Console{
		sched:  cfg.Sched,
		store:  cfg.Store,
		newJob: cfg.NewJob,
		jobs:   cfg.Jobs,
		log:    cfg.Log,
		prompt: cfg.Prompt,
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	if c.store == nil {
		c.store = func() Aggregator { return nil }
	}
	if c.prompt == "" {
		c.prompt = "> "
	}
	return c
}

// Run reads commands from in until quit, EOF or ctx is done. Command errors
// are printed to out and never end the loop.
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()

	fmt.Fprintln(out, "periodic console. Type 'help' for commands.")
	for {
		fmt.Fprint(out, c.prompt)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case err := <-readErr:
			fmt.Fprintln(out)
			return err
		case line := <-lines:
			if c.Exec(ctx, line, out) {
				return nil
			}
		}
	}
}

// Exec runs one command line and reports whether it asked to quit.
func (c *Console) Exec(ctx context.Context, line string, out io.Writer) (quit bool) {
	args := tokenize(line)
	if len(args) == 0 {
		return false
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	var err error
	switch cmd {
	case "list", "ls":
		c.list(out)
	case "add":
		err = c.add(args, out)
	case "cancel", "rm":
		err = c.cancel(args, out)
	case "update":
		err = c.update(args, out)
	case "aggregates", "agg":
		err = c.aggregates(ctx, out)
	case "jobs":
		err = c.listJobs(out)
	case "probes":
		fmt.Fprintln(out, strings.Join(probe.Names(), "\n"))
	case "help", "?":
		fmt.Fprint(out, helpText)
	case "quit", "exit", "q":
		return true
	default:
		err = fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		c.log.Debug("console command failed", logx.String("cmd", cmd), logx.Err(err))
	}
	return false
}

const helpText = `commands:
  list                         show scheduled tasks
  add <probe> <interval> [name]
                               schedule a probe; first run after one interval
  cancel <uid>                 cancel a task at its next firing
  update <uid> <interval>      change the interval from the next firing on
  aggregates                   show stored sample aggregates
  jobs                         show run and error counts per configured task
  probes                       list available probes
  help                         this text
  quit                         leave the console
intervals: 5s, 1m30s, HH:MM (00:05), @every 10s
`

func (c *Console) list(out io.Writer) {
	tasks := c.sched.ListTasks()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no tasks scheduled")
		return
	}
	renderTasks(out, tasks, c.sched.Now())
}

func (c *Console) add(args []string, out io.Writer) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: add <probe> <interval> [name]")
	}
	p, ok := probe.Lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown probe %q (have %s)", args[0], strings.Join(probe.Names(), ", "))
	}
	d, err := scheduler.ParseInterval(args[1])
	if err != nil {
		return err
	}
	name := p.Name()
	if len(args) == 3 {
		name = args[2]
	}
	if c.newJob == nil {
		return fmt.Errorf("adding tasks is not available")
	}
	uid, err := c.sched.SchedulePeriodic(name, c.newJob(p), c.sched.Now().Add(d), d)
	if err != nil {
		return err
	}
	c.log.Info("task added", logx.Uint64("uid", uint64(uid)), logx.String("task", name), logx.Duration("interval", d), logx.String("via", "console"))
	fmt.Fprintf(out, "scheduled %q as uid %d every %s\n", name, uid, d)
	return nil
}

func (c *Console) cancel(args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cancel <uid>")
	}
	uid, err := c.parseUID(args[0], out)
	if err != nil {
		return err
	}
	c.sched.Cancel(uid)
	c.log.Info("task cancel requested", logx.Uint64("uid", uint64(uid)), logx.String("via", "console"))
	fmt.Fprintf(out, "uid %d will be cancelled at its next firing\n", uid)
	return nil
}

func (c *Console) update(args []string, out io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: update <uid> <interval>")
	}
	uid, err := c.parseUID(args[0], out)
	if err != nil {
		return err
	}
	d, err := scheduler.ParseInterval(args[1])
	if err != nil {
		return err
	}
	if err := c.sched.UpdateInterval(uid, d); err != nil {
		return err
	}
	c.log.Info("task interval update requested", logx.Uint64("uid", uint64(uid)), logx.Duration("interval", d), logx.String("via", "console"))
	fmt.Fprintf(out, "uid %d will run every %s after its next firing\n", uid, d)
	return nil
}

func (c *Console) listJobs(out io.Writer) error {
	if c.jobs == nil {
		return fmt.Errorf("job stats are not available")
	}
	rows := c.jobs()
	if len(rows) == 0 {
		fmt.Fprintln(out, "no configured tasks")
		return nil
	}
	renderJobs(out, rows)
	return nil
}

func (c *Console) aggregates(ctx context.Context, out io.Writer) error {
	st := c.store()
	if st == nil {
		return storage.ErrDisabled
	}
	aggs, err := st.Aggregates(ctx)
	if err != nil {
		return err
	}
	if len(aggs) == 0 {
		fmt.Fprintln(out, "no samples recorded yet")
		return nil
	}
	renderAggregates(out, aggs)
	return nil
}

// parseUID parses raw and warns when uid is not in the current listing. A task
// that is executing is briefly unlisted, so the request is still forwarded.
func (c *Console) parseUID(raw string, out io.Writer) (scheduler.Uid, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid uid %q", raw)
	}
	uid := scheduler.Uid(n)
	for _, ti := range c.sched.ListTasks() {
		if ti.UID == uid {
			return uid, nil
		}
	}
	fmt.Fprintf(out, "note: uid %d is not queued right now\n", uid)
	return uid, nil
}

// tokenize splits a command line on whitespace, keeping quoted runs together.
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\r', '\n':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}
