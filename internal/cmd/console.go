package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/shlex"
	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/inercia/dbgctl/internal/debugger"
	"github.com/inercia/dbgctl/internal/logging"
	"github.com/inercia/dbgctl/internal/trafficlog"
)

var (
	showTraffic bool
	runScript   []string
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive debugger console",
	Long: `Start an interactive console driving one debugger session.

Commands are queued in the order they are typed: "run" followed by "next"
sends the step once the program stops. Type "help" for the command list.

Use --exec to run commands without a prompt:
  dbgctl console --exec "start" --exec "load ./prog" --exec "run"`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)

	consoleCmd.Flags().BoolVar(&showTraffic, "show-traffic", false, "Print backend traffic to stderr")
	consoleCmd.Flags().StringArrayVarP(&runScript, "exec", "e", nil, "Run a console command and exit when all are done (repeatable)")
}

// lineAction is what a console line asks for besides submitting a command.
type lineAction int

const (
	actionSubmit lineAction = iota
	actionNone
	actionStatus
	actionHelp
	actionAbort
	actionTraffic
	actionToggle
	actionExit
)

type consoleCommand struct {
	name    string
	aliases []string
	usage   string
	help    string
	action  lineAction
	build   func(args []string, rest string) (debugger.Command, error)
}

func noArgs(cmd debugger.Command) func([]string, string) (debugger.Command, error) {
	return func(args []string, _ string) (debugger.Command, error) {
		if len(args) > 0 {
			return debugger.Command{}, fmt.Errorf("%s takes no arguments", cmd.Kind)
		}
		return cmd, nil
	}
}

func locationArg(mk func(string, int) debugger.Command) func([]string, string) (debugger.Command, error) {
	return func(args []string, _ string) (debugger.Command, error) {
		if len(args) != 1 {
			return debugger.Command{}, errors.New("expected FILE:LINE")
		}
		file, line, err := debugger.ParseLocation(args[0])
		if err != nil {
			return debugger.Command{}, err
		}
		return mk(file, line), nil
	}
}

func addressArg(mk func(uint64) debugger.Command) func([]string, string) (debugger.Command, error) {
	return func(args []string, _ string) (debugger.Command, error) {
		if len(args) != 1 {
			return debugger.Command{}, errors.New("expected ADDRESS")
		}
		addr, err := debugger.ParseAddress(args[0])
		if err != nil {
			return debugger.Command{}, err
		}
		return mk(addr), nil
	}
}

var consoleCommands = []consoleCommand{
	{name: "start", usage: "start", help: "Start the debugger backend", build: noArgs(debugger.Start())},
	{name: "load", aliases: []string{"file"}, usage: "load PROGRAM [ARGS...]", help: "Load a program",
		build: func(args []string, _ string) (debugger.Command, error) {
			if len(args) == 0 {
				return debugger.Command{}, errors.New("expected PROGRAM")
			}
			return debugger.Load(args[0], args[1:]...), nil
		}},
	{name: "attach", usage: "attach PID", help: "Attach to a running process",
		build: func(args []string, _ string) (debugger.Command, error) {
			if len(args) != 1 {
				return debugger.Command{}, errors.New("expected PID")
			}
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return debugger.Command{}, fmt.Errorf("invalid pid %q", args[0])
			}
			return debugger.Attach(pid), nil
		}},
	{name: "connect", usage: "connect TARGET", help: "Connect to a remote target",
		build: func(args []string, _ string) (debugger.Command, error) {
			if len(args) != 1 {
				return debugger.Command{}, errors.New("expected TARGET")
			}
			return debugger.ConnectRemote(args[0]), nil
		}},
	{name: "run", aliases: []string{"r"}, usage: "run", help: "Run the loaded program", build: noArgs(debugger.Run())},
	{name: "continue", aliases: []string{"c"}, usage: "continue", help: "Continue a stopped program", build: noArgs(debugger.Run())},
	{name: "step", aliases: []string{"s"}, usage: "step", help: "Step into the next line", build: noArgs(debugger.StepIn())},
	{name: "next", aliases: []string{"n"}, usage: "next", help: "Step over the next line", build: noArgs(debugger.StepOver())},
	{name: "finish", usage: "finish", help: "Run until the current function returns", build: noArgs(debugger.StepOut())},
	{name: "stepi", aliases: []string{"si"}, usage: "stepi", help: "Step one instruction", build: noArgs(debugger.StepInstructionIn())},
	{name: "nexti", aliases: []string{"ni"}, usage: "nexti", help: "Step one instruction over calls", build: noArgs(debugger.StepInstructionOver())},
	{name: "until", usage: "until FILE:LINE", help: "Run to a source line", build: locationArg(debugger.RunTo)},
	{name: "until-address", usage: "until-address ADDRESS", help: "Run to an address", build: addressArg(debugger.RunToAddress)},
	{name: "jump", usage: "jump FILE:LINE", help: "Resume execution at a source line", build: locationArg(debugger.RunFrom)},
	{name: "jump-address", usage: "jump-address ADDRESS", help: "Resume execution at an address", build: addressArg(debugger.RunFromAddress)},
	{name: "toggle", aliases: []string{"t"}, usage: "toggle", help: "Continue a stopped program or pause a running one", action: actionToggle},
	{name: "interrupt", aliases: []string{"pause"}, usage: "interrupt", help: "Interrupt the running program", build: noArgs(debugger.Interrupt())},
	{name: "raw", usage: "raw TEXT", help: "Send text to the backend as is",
		build: func(_ []string, rest string) (debugger.Command, error) {
			if rest == "" {
				return debugger.Command{}, errors.New("expected TEXT")
			}
			return debugger.SendRaw(rest), nil
		}},
	{name: "quit", usage: "quit", help: "Stop the debugger backend", build: noArgs(debugger.Quit())},
	{name: "status", aliases: []string{"info"}, usage: "status", help: "Show the session state", action: actionStatus},
	{name: "abort", usage: "abort", help: "Drop every queued command", action: actionAbort},
	{name: "traffic", usage: "traffic", help: "Show recent backend traffic", action: actionTraffic},
	{name: "help", aliases: []string{"h", "?"}, usage: "help", help: "Show this help", action: actionHelp},
	{name: "exit", usage: "exit", help: "Quit the debugger and leave the console", action: actionExit},
}

func lookupCommand(word string) (consoleCommand, bool) {
	for _, c := range consoleCommands {
		if c.name == word {
			return c, true
		}
		for _, a := range c.aliases {
			if a == word {
				return c, true
			}
		}
	}
	return consoleCommand{}, false
}

// parseLine turns one console line into an action and, for actionSubmit,
// the command to queue.
func parseLine(line string) (lineAction, debugger.Command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return actionNone, debugger.Command{}, nil
	}
	words, err := shlex.Split(line)
	if err != nil {
		return actionNone, debugger.Command{}, fmt.Errorf("parse error: %w", err)
	}
	if len(words) == 0 {
		return actionNone, debugger.Command{}, nil
	}
	c, ok := lookupCommand(strings.ToLower(words[0]))
	if !ok {
		return actionNone, debugger.Command{}, fmt.Errorf("unknown command %q (type help for the list)", words[0])
	}
	if c.build == nil {
		return c.action, debugger.Command{}, nil
	}
	rest := strings.TrimSpace(line[len(strings.Fields(line)[0]):])
	cmd, err := c.build(words[1:], rest)
	if err != nil {
		return actionNone, debugger.Command{}, fmt.Errorf("%s: %w (usage: %s)", c.name, err, c.usage)
	}
	return actionSubmit, cmd, nil
}

// completeInput completes the command word.
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]
	if strings.ContainsAny(text, " \t") {
		return readline.Completions{}
	}

	var pairs []string
	for _, c := range consoleCommands {
		if strings.HasPrefix(c.name, text) {
			pairs = append(pairs, c.name, c.help)
		}
	}
	if len(pairs) == 0 {
		return readline.Completions{}
	}
	return readline.CompleteValuesDescribed(pairs...).Tag("commands")
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range consoleCommands {
		usage := c.usage
		if len(c.aliases) > 0 {
			usage += " (" + strings.Join(c.aliases, ", ") + ")"
		}
		fmt.Fprintf(&b, "  %-34s %s\n", usage, c.help)
	}
	return b.String()
}

// printer serialises console output written from the controller goroutine
// and the input loop.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// HandleEvent prints hub notifications.
func (p *printer) HandleEvent(ev debugger.Event) error {
	if line := formatEvent(ev); line != "" {
		p.printf("%s\n", line)
	}
	return nil
}

func formatEvent(ev debugger.Event) string {
	switch ev.Kind {
	case debugger.EventDebuggerStarted:
		return "[debugger started]"
	case debugger.EventProgramLoaded:
		if ev.PID > 0 {
			return fmt.Sprintf("[loaded %s, pid %d]", ev.Program, ev.PID)
		}
		return fmt.Sprintf("[loaded %s]", ev.Program)
	case debugger.EventProgramRunning:
		return "[running]"
	case debugger.EventProgramStopped, debugger.EventProgramMoved:
		where := "<unknown>"
		if ev.Location != nil {
			where = ev.Location.String()
			if ev.Location.Function != "" && ev.Location.File != "" {
				where = ev.Location.Function + " at " + where
			}
		}
		if ev.Kind == debugger.EventProgramMoved {
			return "[moved] " + where
		}
		return "[stopped] " + where
	case debugger.EventSignalReceived:
		if ev.Signal == nil || ev.Signal.IsInterrupt() {
			return ""
		}
		if ev.Signal.Description != "" {
			return fmt.Sprintf("[signal %s: %s]", ev.Signal.Name, ev.Signal.Description)
		}
		return fmt.Sprintf("[signal %s]", ev.Signal.Name)
	case debugger.EventProgramExited:
		return fmt.Sprintf("[exited with code %d]", ev.ExitCode)
	case debugger.EventDebuggerStopped:
		if ev.Err != nil {
			return "[debugger stopped: " + ev.Err.Error() + "]"
		}
		return "[debugger stopped]"
	case debugger.EventProgramOutput:
		return strings.TrimRight(ev.Output, "\n")
	case debugger.EventProgramImageChanged:
		return fmt.Sprintf("[%s changed on disk, reload to pick it up]", ev.Path)
	}
	return ""
}

func formatStatus(s debugger.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s", s.State)
	if s.Program != "" {
		fmt.Fprintf(&b, "\nprogram: %s", s.Program)
	}
	if s.PID > 0 {
		fmt.Fprintf(&b, "\npid: %d", s.PID)
	}
	if s.Location != nil {
		fmt.Fprintf(&b, "\nlocation: %s", s.Location)
	}
	fmt.Fprintf(&b, "\nqueue: %d pending", s.Pending)
	if s.Busy {
		b.WriteString(", one in flight")
	}
	if s.LastError != "" {
		fmt.Fprintf(&b, "\nlast error: %s", s.LastError)
	}
	return b.String()
}

// console runs lines against one controller.
type console struct {
	sess *debugSession
	out  *printer
	wg   sync.WaitGroup
}

// execute handles one line. It reports whether the console should exit.
func (c *console) execute(line string) bool {
	action, cmd, err := parseLine(line)
	if err != nil {
		c.out.printf("error: %v\n", err)
		return false
	}
	switch action {
	case actionNone:
	case actionStatus:
		c.out.printf("%s\n", formatStatus(c.sess.ctrl.Snapshot()))
	case actionHelp:
		c.out.printf("%s", helpText())
	case actionAbort:
		c.sess.ctrl.AbortAll()
	case actionTraffic:
		for _, l := range c.sess.ring.Lines() {
			c.out.printf("%s\n", l)
		}
	case actionToggle:
		st := c.sess.ctrl.State()
		toggle, ok := debugger.ToggleCommand(st)
		if !ok {
			c.out.printf("toggle: nothing to continue or pause while %s\n", strings.ToLower(st.String()))
			break
		}
		c.submit(toggle)
	case actionExit:
		return true
	case actionSubmit:
		c.submit(cmd)
	}
	return false
}

func (c *console) submit(cmd debugger.Command) {
	c.wg.Add(1)
	h := c.sess.ctrl.Submit(cmd.WithThen(func(res debugger.Result) {
		switch {
		case res.Err != nil:
			c.out.printf("%s: %v\n", cmd, res.Err)
		case res.Output != "":
			c.out.printf("%s\n", strings.TrimRight(res.Output, "\n"))
		}
	}))
	go func() {
		defer c.wg.Done()
		<-h.Done()
		if h.Status() == debugger.StatusAborted {
			res, _ := h.Result()
			c.out.printf("%s: %v\n", cmd, res.Err)
		}
	}()
}

func runConsole(cmd *cobra.Command, args []string) error {
	out := &printer{w: os.Stdout}
	var extra []debugger.TrafficSink
	if showTraffic {
		extra = append(extra, trafficlog.NewWriterSink(os.Stderr))
	}
	sess, err := newDebugSession(extra...)
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.ctrl.Subscribe(out)
	logger := logging.Console()
	logger.Debug("Console started", "backend", sess.backend.Name)

	c := &console{sess: sess, out: out}
	if len(runScript) > 0 {
		for _, line := range runScript {
			if c.execute(line) {
				break
			}
		}
		c.wg.Wait()
		return nil
	}
	return c.interactive()
}

func (c *console) interactive() error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string {
		return fmt.Sprintf("(dbgctl %s) ", strings.ToLower(c.sess.ctrl.State().String()))
	})
	rl.History.Add("default", readline.NewInMemoryHistory())
	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	c.out.printf("Backend %s. Type help for commands, Tab completes them.\n", c.sess.backend.Name)
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, readline.ErrInterrupt) {
				// Ctrl-C interrupts a running program, otherwise it leaves.
				if c.sess.ctrl.State() == debugger.Running {
					c.submit(debugger.Interrupt())
					continue
				}
				return nil
			}
			return err
		}
		if c.execute(line) {
			return nil
		}
	}
}
