package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wallet-engine/internal/actions"
	"wallet-engine/internal/clients"
	"wallet-engine/internal/config"
	"wallet-engine/internal/db"
	"wallet-engine/internal/health"
	"wallet-engine/internal/importer"
	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/models"
	"wallet-engine/internal/notify"
	"wallet-engine/internal/repository"
	"wallet-engine/internal/reserve"
	"wallet-engine/internal/retry"
	"wallet-engine/internal/router"
	"wallet-engine/internal/services"
	"wallet-engine/internal/vault"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// unlockAttempts password tries before the engine gives up
const unlockAttempts = 3

// Options what a command needs from the container
type Options struct {
	// Vault unlocks the key vault when private_key_encryption is on
	Vault bool
	// Password overrides the terminal prompt
	Password vault.PasswordFunc
	// Remote dials the chain RPC and NATS; offline commands skip them
	Remote bool
}

// ServiceContainer wires the engine's services for one process
type ServiceContainer struct {
	Config *config.Config
	Log    *logrus.Logger

	// Database
	DB         *gorm.DB
	WalletRepo repository.WalletRepository

	Vault    *vault.Vault
	Pools    reserve.Pools
	Notifier notify.Notifier
	Monitor  *health.Monitor
	Retry    retry.Policy

	// Remote collaborators
	NATSClient *clients.NATSClient
	Balances   *clients.EthBalanceSource
	Platform   *clients.PlatformClient

	Runner            *actions.Runner
	MonitoringService *services.MonitoringService
	Schedulers        map[string]*services.ActivityScheduler

	statusServer *http.Server
	closers      []func() error
}

// NewContainer builds the services in dependency order. On failure the parts
// already opened are released.
func NewContainer(ctx context.Context, cfg *config.Config, log *logrus.Logger, opts Options) (*ServiceContainer, error) {
	log.Info("🚀 Initializing Service Container...")

	c := &ServiceContainer{
		Config:     cfg,
		Log:        log,
		Schedulers: make(map[string]*services.ActivityScheduler),
	}

	steps := []struct {
		name string
		fn   func(ctx context.Context, opts Options) error
	}{
		{"store", c.initStore},
		{"vault", c.initVault},
		{"notifiers", c.initNotifiers},
		{"health", c.initHealth},
		{"actions", c.initActions},
	}
	for _, step := range steps {
		if err := step.fn(ctx, opts); err != nil {
			c.Cleanup()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	log.Info("✅ Service Container initialized successfully")
	return c, nil
}

func (c *ServiceContainer) initStore(ctx context.Context, _ Options) error {
	log := c.Log.WithField("component", "store")
	log.Info("📦 Opening wallet store...")

	gdb, err := db.Open(c.Config.Database, c.Log)
	if err != nil {
		return err
	}
	c.DB = gdb
	c.closers = append(c.closers, func() error { return db.Close(gdb) })

	if err := db.Migrate(gdb, c.Log); err != nil {
		return err
	}
	c.WalletRepo = repository.NewWalletRepository(gdb)

	pools, closePools, err := reserve.Open(c.Config)
	if err != nil {
		return err
	}
	c.Pools = pools
	c.closers = append(c.closers, closePools)
	return nil
}

func (c *ServiceContainer) initVault(ctx context.Context, opts Options) error {
	if !opts.Vault || !c.Config.PrivateKeyEncryption {
		c.Vault = vault.Disabled()
		return nil
	}

	salt, created, err := vault.LoadOrCreateSalt(c.Config.Path(c.Config.Files.Salt))
	if err != nil {
		return err
	}
	if created {
		c.Log.Info("🔧 New vault salt created, choose a password for the wallet keys")
	}

	ask := opts.Password
	if ask == nil {
		ask = vault.TerminalPassword(created)
	}
	v, err := vault.UnlockInteractive(ctx, c.WalletRepo, salt, unlockAttempts, ask, c.Log)
	if err != nil {
		return err
	}
	c.Vault = v
	return nil
}

func (c *ServiceContainer) initNotifiers(ctx context.Context, opts Options) error {
	var notifiers []notify.Notifier

	if tg := c.Config.Telegram; tg.BotToken != "" && tg.ChatID != 0 {
		t, err := notify.NewTelegram(tg.BotToken, tg.ChatID)
		if err != nil {
			c.Log.WithError(err).Warn("⚠️ Telegram alerts disabled")
		} else {
			notifiers = append(notifiers, t)
			c.Log.Info("✅ Telegram alerts enabled")
		}
	}

	if opts.Remote && c.Config.NATS.URL != "" {
		nc, err := clients.NewNATSClient(c.Config.NATS, c.Log)
		if err != nil {
			c.Log.WithError(err).Warn("⚠️ NATS event publishing disabled")
		} else {
			c.NATSClient = nc
			c.closers = append(c.closers, func() error { nc.Close(); return nil })
			notifiers = append(notifiers, notify.NewNATS(nc, c.Config.NATS.Subject))
		}
	}

	c.Notifier = notify.Combine(notifiers...)
	return nil
}

func (c *ServiceContainer) initHealth(ctx context.Context, _ Options) error {
	c.Monitor = health.NewMonitor(c.WalletRepo, c.Pools, health.Options{
		Threshold: c.Config.ResourceFailureThreshold,
		AutoReplace: map[models.ResourceKind]bool{
			models.ResourceProxy:  c.Config.AutoReplaceProxy,
			models.ResourceSocial: c.Config.AutoReplaceSocial,
		},
	}, c.Notifier, c.Log)
	c.Retry = retry.New(c.Config.Retry, c.Config.RetryDelay(), c.Log)
	c.MonitoringService = services.NewMonitoringService(c.DB, c.WalletRepo, c.Pools, c.Log)
	return nil
}

func (c *ServiceContainer) initActions(ctx context.Context, opts Options) error {
	deps := actions.Deps{
		Repo:    c.WalletRepo,
		Vault:   c.Vault,
		Monitor: c.Monitor,
		Retry:   c.Retry,
		Log:     c.Log,
	}

	if base := c.Config.Platform.BaseURL; base != "" {
		c.Platform = clients.NewPlatformClient(base, config.Seconds(c.Config.Platform.Timeout))
		deps.Quests = c.Platform
		deps.Games = c.Platform
		deps.Faucet = c.Platform
		deps.Social = c.Platform
	}

	if opts.Remote && c.Config.Chain.RPCURL != "" {
		b, err := clients.NewEthBalanceSource(ctx, c.Config.Chain.RPCURL, c.Log)
		if err != nil {
			c.Log.WithError(err).Warn("⚠️ Balance polling disabled, faucet deposits will not be awaited")
		} else {
			c.Balances = b
			c.closers = append(c.closers, func() error { b.Close(); return nil })
			deps.Balances = b
		}
	}

	c.Runner = actions.NewRunner(deps, actions.TimingFromConfig(c.Config), actions.LimitsFromConfig(c.Config))
	return nil
}

// ErrUnknownActivity the activity name is not one the runner provides
var ErrUnknownActivity = errors.New("unknown activity")

// Activities the activities the runner provides, by name
func (c *ServiceContainer) Activities() map[string]services.Activity {
	return map[string]services.Activity{
		"quests": {Name: "quests", Action: c.Runner.Quests},
		"game":   {Name: "game", Action: c.Runner.Game},
		"faucet": {Name: "faucet", Action: c.Runner.Faucet},
		"social": {Name: "social", Action: c.Runner.Social},
	}
}

// Scheduler returns the scheduler and activity for name, creating the
// scheduler on first use
func (c *ServiceContainer) Scheduler(name string) (*services.ActivityScheduler, services.Activity, error) {
	activity, ok := c.Activities()[name]
	if !ok {
		return nil, services.Activity{}, fmt.Errorf("%w: %s", ErrUnknownActivity, name)
	}
	if s, ok := c.Schedulers[name]; ok {
		return s, activity, nil
	}

	start, end, exact := c.Config.WalletScope()
	roundMin, roundMax := c.Config.RoundDelay.Bounds()
	s := services.NewActivityScheduler(c.WalletRepo, services.SchedulerOptions{
		Threads:        c.Config.Threads,
		Shuffle:        c.Config.ShuffleWallets,
		Repeat:         c.Config.Repeat,
		RoundDelayMin:  roundMin,
		RoundDelayMax:  roundMax,
		Scope:          services.Scope{Start: start, End: end, Exact: exact},
		ShowAddressLog: c.Config.ShowWalletAddressLog,
	}, c.Notifier, c.Log)
	c.Schedulers[name] = s
	return s, activity, nil
}

// Importer text file importer over the store
func (c *ServiceContainer) Importer() *importer.Importer {
	return importer.New(c.WalletRepo, c.Vault, importer.Files{
		PrivateKeys:  c.Config.Path(c.Config.Files.PrivateKeys),
		Proxies:      c.Config.Path(c.Config.Files.Proxies),
		SocialTokens: c.Config.Path(c.Config.Files.SocialTokens),
		ExportDir:    c.Config.Files.Dir,
	}, c.Log)
}

// StartStatusServer serves health and metrics when status_server.enabled.
// Schedulers must be created before the server starts.
func (c *ServiceContainer) StartStatusServer() {
	if !c.Config.StatusServer.Enabled {
		return
	}
	c.MonitoringService.Start()

	engine := router.SetupRouter(router.Deps{
		Health:     c.MonitoringService,
		Schedulers: c.Schedulers,
		AllowedIPs: c.Config.StatusServer.AllowedIPs,
		Log:        c.Log,
	})
	c.statusServer = &http.Server{
		Addr:              c.Config.StatusServer.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		c.Log.Infof("📡 Status server listening on %s", c.Config.StatusServer.Listen)
		if err := c.statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Log.WithError(err).Error("❌ Status server failed")
		}
	}()
}

// Cleanup stops background services and releases connections
func (c *ServiceContainer) Cleanup() {
	c.Log.Info("🧹 Cleaning up Service Container...")

	for _, s := range c.Schedulers {
		s.Stop()
	}

	if c.statusServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.statusServer.Shutdown(ctx); err != nil {
			c.Log.WithError(err).Warn("⚠️ Status server shutdown failed")
		}
		cancel()
		c.MonitoringService.Stop()
	}

	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Log.WithError(err).Warn("⚠️ Close failed")
		}
	}
	c.closers = nil

	c.Log.Info("✅ Service Container cleaned up")
}

var (
	_ interfaces.QuestClient   = (*clients.PlatformClient)(nil)
	_ interfaces.GameClient    = (*clients.PlatformClient)(nil)
	_ interfaces.FaucetClient  = (*clients.PlatformClient)(nil)
	_ interfaces.SocialClient  = (*clients.PlatformClient)(nil)
	_ interfaces.BalanceSource = (*clients.EthBalanceSource)(nil)
)
