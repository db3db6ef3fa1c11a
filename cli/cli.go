// Package cli implements the herald command line: work, listen and list.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	runtimepkg "github.com/drblury/herald/internal/runtime"
	errspkg "github.com/drblury/herald/internal/runtime/errors"
	"github.com/drblury/herald/internal/runtime/handlers"
	"github.com/drblury/herald/internal/runtime/routing"
	"github.com/drblury/herald/internal/runtime/worker"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

const usage = `Usage: herald <command> [arguments]

Commands:
  work <topic> [-connection name] [-workers n] [-verbose]
        consume a topic (e.g. user, order, or * for all)
  listen [-connection name] [-workers n] [-verbose]
        consume every topic
  list  show registered handlers and how they run
`

// Run executes the command in args against h. Cancelling ctx drains running
// workers; the return value is the process exit code.
func Run(ctx context.Context, h *runtimepkg.Herald, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return ExitUsage
	}

	c := &command{herald: h, stdout: stdout, stderr: stderr}
	switch args[0] {
	case "work":
		return c.work(ctx, args[1:])
	case "listen":
		return c.listen(ctx, args[1:])
	case "list":
		return c.list()
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return ExitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return ExitUsage
	}
}

type command struct {
	herald *runtimepkg.Herald
	stdout io.Writer
	stderr io.Writer
}

type workFlags struct {
	connection string
	workers    int
	verbose    bool
}

func (c *command) parseWorkFlags(name string, args []string) (workFlags, []string, error) {
	var wf workFlags
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.StringVar(&wf.connection, "connection", "", "connection to use (default connection when empty)")
	fs.IntVar(&wf.workers, "workers", 1, "number of worker loops, each with its own connection")
	fs.BoolVar(&wf.verbose, "verbose", false, "log poll timeouts")

	// Accept the topic before or after the flags.
	var positional []string
	for len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			return wf, nil, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
	if wf.workers < 1 {
		return wf, nil, fmt.Errorf("-workers must be at least 1, got %d", wf.workers)
	}
	return wf, positional, nil
}

func (c *command) work(ctx context.Context, args []string) int {
	wf, positional, err := c.parseWorkFlags("work", args)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(c.stderr, err)
		}
		return ExitUsage
	}
	if len(positional) != 1 {
		fmt.Fprintln(c.stderr, "work requires exactly one topic (e.g. user, order, or * for all)")
		return ExitUsage
	}
	return c.runWorkers(ctx, positional[0], wf)
}

func (c *command) listen(ctx context.Context, args []string) int {
	wf, positional, err := c.parseWorkFlags("listen", args)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(c.stderr, err)
		}
		return ExitUsage
	}
	if len(positional) > 0 {
		fmt.Fprintln(c.stderr, "listen takes no topic")
		return ExitUsage
	}
	fmt.Fprintln(c.stdout, "Listening to all Herald events...")
	return c.runWorkers(ctx, routing.AllTopicsHash, wf)
}

func (c *command) runWorkers(ctx context.Context, topic string, wf workFlags) int {
	fmt.Fprintf(c.stdout, "Starting Herald worker for topic: %s\n", topic)

	if err := worker.CheckTopic(c.herald.Registry(), c.herald.Router(), topic); err != nil {
		fmt.Fprintf(c.stderr, "%s\n", color.RedString("No event mappings found for topic: %s", topic))
		return ExitError
	}

	loops := make([]*worker.Loop, 0, wf.workers)
	for i := 0; i < wf.workers; i++ {
		loop, err := c.herald.Worker(ctx, topic, runtimepkg.WorkerOptions{
			Connection: wf.connection,
			Verbose:    wf.verbose,
		})
		if err != nil {
			c.reportError(err)
			drain(loops)
			return ExitError
		}
		loops = append(loops, loop)
	}

	fmt.Fprintln(c.stdout, "Listening for messages...")

	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range loops {
		loop := loop
		g.Go(func() error {
			return loop.Run(gctx)
		})
	}
	err := g.Wait()

	fmt.Fprintln(c.stdout, "Shutting down gracefully...")
	if err != nil {
		c.reportError(err)
		return ExitError
	}
	return ExitOK
}

// drain stops loops that were built but never run so their connections are
// closed.
func drain(loops []*worker.Loop) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, loop := range loops {
		_ = loop.Run(ctx)
	}
}

func (c *command) reportError(err error) {
	if errspkg.IsConfigurationError(err) {
		fmt.Fprintln(c.stderr, color.RedString("Configuration error: %v", err))
		return
	}
	fmt.Fprintln(c.stderr, color.RedString("Error: %v", err))
}

func (c *command) list() int {
	rows := c.herald.Table()
	if len(rows) == 0 {
		fmt.Fprintln(c.stdout, color.GreenString("No handlers registered. Use Herald::on() to register handlers."))
		return ExitOK
	}
	writeTable(c.stdout, rows)
	return ExitOK
}

var modeColors = map[handlers.Mode]*color.Color{
	handlers.ModeSync:    color.New(color.FgGreen),
	handlers.ModeQueued:  color.New(color.FgCyan),
	handlers.ModeInvalid: color.New(color.FgRed, color.Bold),
	handlers.ModeMissing: color.New(color.FgYellow),
}

// writeTable prints rows as an aligned Event/Handler/Mode table. Only the
// last column is coloured so escape codes never skew the alignment.
func writeTable(w io.Writer, rows []handlers.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Event\tHandler\tMode")
	fmt.Fprintf(tw, "%s\t%s\t%s\n", strings.Repeat("-", 5), strings.Repeat("-", 7), strings.Repeat("-", 4))
	for _, row := range rows {
		mode := string(row.Mode)
		if c, ok := modeColors[row.Mode]; ok {
			mode = c.Sprint(mode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Event, row.Handler, mode)
	}
	_ = tw.Flush()
}
