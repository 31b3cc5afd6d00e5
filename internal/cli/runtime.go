package cli

import (
	"context"

	"github.com/rs/zerolog"

	"fints-agent/internal/bank"
	"fints-agent/internal/config"
	"fints-agent/internal/credentials"
	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
	"fints-agent/internal/logger"
	"fints-agent/internal/repository"
	"fints-agent/internal/service"
)

// runtime is everything a bank-facing command needs, built from the config.
type runtime struct {
	cfg       *config.Config
	logger    zerolog.Logger
	transfers *service.TransferService
	accounts  *service.AccountService

	closeStore func() error
}

func (rt *runtime) Close() {
	if rt.closeStore == nil {
		return
	}
	if err := rt.closeStore(); err != nil {
		rt.logger.Warn().Err(err).Msg("failed to close pending store")
	}
}

// loadConfig reads the config and applies the global flag overrides.
func (a *App) loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if a.productID != "" {
		cfg.Bank.ProductID = a.productID
	}

	level := cfg.Log.Level
	if a.debug {
		level = "debug"
	}
	return cfg, logger.NewConsole(a.Err, level), nil
}

func (a *App) pinProvider(cfg *config.Config, log zerolog.Logger) *credentials.Provider {
	opts := []credentials.Option{credentials.WithPrompt(a.SecretPrompt)}
	if a.noKeychain {
		opts = append(opts, credentials.WithoutKeychain())
	}
	return credentials.NewProvider(a.Secrets, cfg.Keychain.Service, log, opts...)
}

func bankCredentials(cfg *config.Config) bank.Credentials {
	return bank.Credentials{
		BLZ:        cfg.Bank.BLZ,
		Server:     cfg.Bank.Server,
		UserID:     cfg.Bank.UserID,
		CustomerID: cfg.Bank.CustomerID,
		ProductID:  cfg.EffectiveProductID(),
	}
}

// open loads the config and builds the services with the interactive PIN resolver.
func (a *App) open(ctx context.Context) (*runtime, error) {
	cfg, log, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return a.build(ctx, cfg, log, nil)
}

// build wires dialer, store and services. A nil resolver resolves the PIN
// from the keychain or the prompt on every dialog.
func (a *App) build(ctx context.Context, cfg *config.Config, log zerolog.Logger, resolver service.CredentialResolver) (*runtime, error) {
	tiers, err := vopTiers(cfg.Transfer.VoPAutoAccept)
	if err != nil {
		return nil, err
	}

	dialer, err := bank.NewDialer(cfg.Bank.Backend, log, cfg.Bank.Options)
	if err != nil {
		return nil, errors.Wrap(errors.ConfigError, "failed to set up bank backend", err)
	}

	if resolver == nil {
		resolver = credentials.NewResolver(bankCredentials(cfg), cfg.KeychainAccount(), a.pinProvider(cfg, log))
	}

	store, closeStore, err := repository.Open(ctx, cfg.Store.Driver, cfg.PendingDir(), cfg.Store.DSN, log)
	if err != nil {
		return nil, err
	}

	capabilities := service.NewCapabilityService(log)
	transfers := service.NewTransferService(dialer, resolver, store, capabilities, service.TransferConfig{
		PollInterval:    cfg.Transfer.PollInterval,
		PollTimeout:     cfg.Transfer.PollTimeout,
		MinPollInterval: cfg.Transfer.MinPollInterval,
		VoPAutoAccept:   tiers,
	}, log)

	log.Debug().
		Str("backend", cfg.Bank.Backend).
		Str("store", cfg.Store.Driver).
		Str("provider", cfg.Provider.ID).
		Msg("runtime ready")

	return &runtime{
		cfg:        cfg,
		logger:     log,
		transfers:  transfers,
		accounts:   service.NewAccountService(dialer, resolver, capabilities, log),
		closeStore: closeStore,
	}, nil
}

func vopTiers(names []string) ([]domain.VoPMatch, error) {
	tiers := make([]domain.VoPMatch, 0, len(names))
	for _, name := range names {
		switch m := domain.VoPMatch(name); m {
		case domain.VoPMatchExact, domain.VoPMatchClose, domain.VoPMatchNone, domain.VoPMatchNotApplicable:
			tiers = append(tiers, m)
		default:
			return nil, errors.NewAppErrorf(errors.ConfigError, "unknown payee verification result %q in transfer.vop_auto_accept", name)
		}
	}
	return tiers, nil
}
