package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"wallet-engine/internal/app"
	"wallet-engine/internal/config"
	"wallet-engine/internal/logging"
	"wallet-engine/internal/models"

	"github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "run":
		err = runCmd(args)
	case "import":
		err = importCmd(args)
	case "sync":
		err = syncCmd(args)
	case "export":
		err = exportCmd(args)
	case "replace-bad":
		err = replaceBadCmd(args)
	case "reserve":
		err = reserveCmd(args)
	case "reset":
		err = resetCmd(args)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Errorf("❌ %s failed", cmd)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Wallet engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  walletd <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run <activity>       Run an activity over the wallets (quests, game, faucet, social)")
	fmt.Println("  import               Import wallets from the key, proxy and token files")
	fmt.Println("  sync                 Re-pair proxies and social tokens onto stored wallets")
	fmt.Println("  export               Write the stored wallets back to text files")
	fmt.Println("  replace-bad <kind>   Replace every BAD proxy or social token from the reserve")
	fmt.Println("  reserve              Show reserve pool sizes")
	fmt.Println("  reset                Delete all wallets from the database")
	fmt.Println("  help                 Show this help message")
	fmt.Println()
	fmt.Println("Every command accepts -config <path> (default files/settings.yaml).")
}

// env process-wide state shared by every command
type env struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container *app.ServiceContainer
	closeLog  func() error
}

func (e *env) close() {
	if e.container != nil {
		e.container.Cleanup()
	}
	e.cancel()
	_ = e.closeLog()
}

// setup loads settings, configures logging and builds the container. The
// context ends on SIGINT or SIGTERM.
func setup(configPath string, opts app.Options) (*env, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, closer, err := logging.Setup(cfg.LogLevel, cfg.Path(cfg.Files.Log))
	if err != nil {
		return nil, err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	e := &env{ctx: ctx, cancel: cancel, closeLog: closer.Close}

	c, err := app.NewContainer(ctx, cfg, log, opts)
	if err != nil {
		e.close()
		return nil, err
	}
	e.container = c
	return e, nil
}

func newFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("config", "", "path to settings.yaml")
	return fs, path
}

func runCmd(args []string) error {
	fs, configPath := newFlags("run")
	once := fs.Bool("once", false, "run a single round even when repeat is enabled")
	// activity first, flags after
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: walletd run <quests|game|faucet|social> [-config path] [-once]")
	}
	name := args[0]
	fs.Parse(args[1:])

	e, err := setup(*configPath, app.Options{Vault: true, Remote: true})
	if err != nil {
		return err
	}
	defer e.close()
	c := e.container

	if *once {
		c.Config.Repeat = false
	}
	scheduler, activity, err := c.Scheduler(name)
	if err != nil {
		return err
	}
	c.StartStatusServer()

	total, err := c.WalletRepo.Count(e.ctx)
	if err != nil {
		return err
	}
	if total == 0 {
		c.Log.Warn("⚠️ No wallets in database, run `walletd import` first")
		return nil
	}

	err = scheduler.Run(e.ctx, activity)
	if errors.Is(err, context.Canceled) {
		c.Log.Info("🛑 Interrupted, waiting for in-flight wallets to stop")
		return nil
	}
	return err
}

func importCmd(args []string) error {
	fs, configPath := newFlags("import")
	prune := fs.Bool("prune-keys", false, "remove imported keys from the key file")
	fs.Parse(args)

	e, err := setup(*configPath, app.Options{Vault: true})
	if err != nil {
		return err
	}
	defer e.close()

	im := e.container.Importer()
	im.PruneKeys = *prune
	_, err = im.Import(e.ctx)
	return err
}

func syncCmd(args []string) error {
	fs, configPath := newFlags("sync")
	fs.Parse(args)

	e, err := setup(*configPath, app.Options{Vault: true})
	if err != nil {
		return err
	}
	defer e.close()

	_, err = e.container.Importer().Sync(e.ctx)
	return err
}

func exportCmd(args []string) error {
	fs, configPath := newFlags("export")
	fs.Parse(args)

	e, err := setup(*configPath, app.Options{Vault: true})
	if err != nil {
		return err
	}
	defer e.close()

	_, err = e.container.Importer().Export(e.ctx)
	return err
}

func replaceBadCmd(args []string) error {
	fs, configPath := newFlags("replace-bad")
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: walletd replace-bad <proxy|social> [-config path]")
	}
	kind := models.ResourceKind(args[0])
	if kind != models.ResourceProxy && kind != models.ResourceSocial {
		return fmt.Errorf("unknown resource kind %q", args[0])
	}
	fs.Parse(args[1:])

	e, err := setup(*configPath, app.Options{Remote: true})
	if err != nil {
		return err
	}
	defer e.close()

	replaced, total, err := e.container.Monitor.ReplaceAllBad(e.ctx, kind)
	if err != nil {
		return err
	}
	if total == 0 {
		e.container.Log.Infof("✅ No BAD %s resources to replace", kind)
	} else if replaced < total {
		e.container.Log.Warnf("⚠️ Replaced %d of %d BAD %s resources, reserve ran out", replaced, total, kind)
	}
	return nil
}

func reserveCmd(args []string) error {
	fs, configPath := newFlags("reserve")
	fs.Parse(args)

	e, err := setup(*configPath, app.Options{})
	if err != nil {
		return err
	}
	defer e.close()

	kinds := make([]string, 0, len(e.container.Pools))
	for k := range e.container.Pools {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		n, err := e.container.Pools.Get(models.ResourceKind(k)).Len(e.ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%-8s %d\n", k, n)
	}
	return nil
}

func resetCmd(args []string) error {
	fs, configPath := newFlags("reset")
	yes := fs.Bool("yes", false, "confirm deleting every wallet")
	fs.Parse(args)

	if !*yes {
		return fmt.Errorf("refusing to reset without -yes")
	}

	e, err := setup(*configPath, app.Options{})
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.container.WalletRepo.Reset(e.ctx); err != nil {
		return err
	}
	e.container.Log.Info("✅ All wallets deleted")
	return nil
}
