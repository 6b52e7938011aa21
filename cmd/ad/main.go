// Command ad is the allnet forwarding daemon. It is started with a pipe
// count followed by that many read/write descriptor pairs: local
// applications, the local cache, the interface manager, then one pair per
// additional interface.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/urfave/cli/v2"

	"allnetd/internal/config"
	"allnetd/internal/daemon"
	"allnetd/internal/debuglog"
	"allnetd/internal/dedup"
	"allnetd/internal/packet"
	"allnetd/internal/pipemsg"
	"allnetd/internal/pprofutil"
	"allnetd/internal/priority"
	"allnetd/internal/trust"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML configuration file",
		EnvVars: []string{"ALLNET_CONFIG"},
	}
	homeFlag = &cli.StringFlag{
		Name:  "home",
		Usage: "directory holding contacts, keys and metrics (default $ALLNET_HOME or ~/.allnet)",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "enable debug logging",
	}
	refreshFlag = &cli.DurationFlag{
		Name:  "refresh",
		Usage: "contact book refresh interval",
	}
	socialBytesFlag = &cli.IntFlag{
		Name:  "social-bytes",
		Usage: "maximum bytes of contact key material kept in memory",
	}
	maxChecksFlag = &cli.IntFlag{
		Name:  "max-checks",
		Usage: "maximum signature checks per packet",
	}
	queueFlag = &cli.IntFlag{
		Name:  "queue",
		Usage: "frames queued per output pipe",
	}
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	if err := app.Run(append([]string{"ad"}, args...)); err != nil {
		fmt.Fprintf(stderr, "ad: %v\n", err)
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "ad",
		Usage:     "allnet forwarding daemon",
		ArgsUsage: "NPIPES R0 W0 R1 W1 R2 W2 [Rn Wn ...]",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			configFlag, homeFlag, debugFlag, refreshFlag,
			socialBytesFlag, maxChecksFlag, queueFlag,
		},
		Action: runDaemon,
		Commands: []*cli.Command{
			keygenCommand,
			contactsCommand,
			statusCommand,
		},
		HideVersion: true,
	}
}

// loadConfig applies defaults, the config file, the environment and finally
// command line flags.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return cfg, err
	}
	if ctx.IsSet(homeFlag.Name) {
		cfg.Root = ctx.String(homeFlag.Name)
	}
	if ctx.IsSet(debugFlag.Name) {
		cfg.Debug = ctx.Bool(debugFlag.Name)
	}
	if ctx.IsSet(refreshFlag.Name) {
		cfg.RefreshInterval.Duration = ctx.Duration(refreshFlag.Name)
	}
	if ctx.IsSet(socialBytesFlag.Name) {
		cfg.SocialBytes = ctx.Int(socialBytesFlag.Name)
	}
	if ctx.IsSet(maxChecksFlag.Name) {
		cfg.MaxChecks = ctx.Int(maxChecksFlag.Name)
	}
	if ctx.IsSet(queueFlag.Name) {
		cfg.QueueCap = ctx.Int(queueFlag.Name)
	}
	return cfg, cfg.Validate()
}

// parsePipes reads "NPIPES R0 W0 R1 W1 ..." into a channel set.
func parsePipes(args []string) (daemon.ChannelSet, error) {
	var chans daemon.ChannelSet
	if len(args) < 1 {
		return chans, errors.New("need to have at least the number of read and write pipes")
	}
	npipes, err := strconv.Atoi(args[0])
	if err != nil {
		return chans, fmt.Errorf("bad pipe count %q", args[0])
	}
	if npipes < daemon.MinChannels {
		return chans, fmt.Errorf("%d pipes, %w", npipes, daemon.ErrTooFewChannels)
	}
	if len(args) != 2*npipes+1 {
		return chans, fmt.Errorf("%d arguments, expected 1 + %d for %d pipes", len(args), 2*npipes, npipes)
	}
	for i := 0; i < npipes; i++ {
		r, err := strconv.Atoi(args[1+2*i])
		if err != nil || r < 0 {
			return chans, fmt.Errorf("bad read pipe %q", args[1+2*i])
		}
		w, err := strconv.Atoi(args[2+2*i])
		if err != nil || w < 0 {
			return chans, fmt.Errorf("bad write pipe %q", args[2+2*i])
		}
		chans.Inputs = append(chans.Inputs, r)
		chans.Outputs = append(chans.Outputs, w)
	}
	return chans, nil
}

func runDaemon(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	chans, err := parsePipes(ctx.Args().Slice())
	if err != nil {
		return err
	}
	set, err := openPipes(chans, cfg.QueueCap)
	if err != nil {
		return err
	}
	sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(sctx, cfg, chans, set)
}

// openPipes wraps the inherited descriptors in a pipe set. Descriptors are
// switched to non-blocking mode first so the runtime poller owns them and
// closing the set interrupts reads still in flight.
func openPipes(chans daemon.ChannelSet, queueCap int) (*pipemsg.Set, error) {
	set := pipemsg.NewSet(queueCap)
	open := func(fd int, name string) (*os.File, error) {
		if err := syscall.SetNonblock(fd, true); err != nil {
			return nil, fmt.Errorf("%s = %d is not a valid descriptor: %w", name, fd, err)
		}
		f := os.NewFile(uintptr(fd), name)
		if f == nil {
			return nil, fmt.Errorf("%s = %d is not a valid descriptor", name, fd)
		}
		return f, nil
	}
	for i, fd := range chans.Inputs {
		f, err := open(fd, fmt.Sprintf("read_pipes[%d]", i))
		if err == nil {
			err = set.AddInput(fd, f)
		}
		if err != nil {
			set.Close()
			return nil, err
		}
	}
	for i, fd := range chans.Outputs {
		f, err := open(fd, fmt.Sprintf("write_pipes[%d]", i))
		if err == nil {
			err = set.AddOutput(fd, f)
		}
		if err != nil {
			set.Close()
			return nil, err
		}
	}
	return set, nil
}

// serve runs the forwarding loop over set until ctx ends or a pipe fails,
// then closes set.
func serve(ctx context.Context, cfg config.Config, chans daemon.ChannelSet, set *pipemsg.Set) error {
	defer set.Close()
	if cfg.Debug {
		debuglog.SetDebug(true)
	}
	if err := os.MkdirAll(cfg.Root, 0700); err != nil {
		return err
	}
	if _, err := pprofutil.StartFromEnv(); err != nil {
		debuglog.Warnf("pprof: %v", err)
	}
	debuglog.Logf("AllNet (ad) version %d", packet.Version)
	for i := range chans.Inputs {
		debuglog.Logf("read_pipes [%d] = %d, write_pipes [%d] = %d", i, chans.Inputs[i], i, chans.Outputs[i])
	}

	clock := mclock.System{}
	oracle := trust.New(cfg.ContactsPath(), cfg.SocialBytes, cfg.MaxChecks, clock)
	defer oracle.Wait()
	runner, err := daemon.NewRunner(chans, set, daemon.Options{
		Trust:           oracle,
		Rates:           priority.NewRateTracker(cfg.RateBytesPerSec, cfg.RateBurst, cfg.RateSources, clock),
		Dedup:           dedup.New(cfg.DedupCapacity, cfg.DedupWindow.Duration, clock),
		Clock:           clock,
		RefreshInterval: cfg.RefreshInterval.Duration,
		TraceWindow:     cfg.TraceWindow.Duration,
		SnapPath:        cfg.MetricsPath(),
	})
	if err != nil {
		return err
	}
	runner.StartSnapshotWriter(cfg.SnapshotInterval.Duration)
	defer runner.StopSnapshotWriter()

	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		debuglog.Logf("ad: shutting down")
		return nil
	}
	return err
}
