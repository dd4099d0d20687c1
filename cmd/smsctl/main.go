package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/sms-dispatch/internal/config"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/sms-dispatch/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/provider"
	"github.com/kursadbilgin/sms-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"github.com/kursadbilgin/sms-dispatch/internal/secrets"
	"github.com/kursadbilgin/sms-dispatch/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "smsctl",
		Short:         "Administer the SMS dispatch service",
		Long:          `smsctl seeds and inspects SMS providers and the delivery log directly against the service database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newSeedCmd())
	root.AddCommand(newProvidersCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newPurgeCmd())
	return root
}

// backend holds the services a command runs against.
type backend struct {
	admin   *service.ProviderAdmin
	manager *service.ProviderManager
	logs    *service.DeliveryLog
	logger  *zap.Logger
	close   func()
}

func openBackend(ctx context.Context) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, logger)
	if err != nil {
		return nil, err
	}
	if err := migrations.Migrate(db); err != nil {
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	cipher, err := secrets.NewCipher(cfg.SecretsMasterKey, cfg.SecretsSigningKey)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	providers := repository.NewGormProviderRepo(db)
	factory := func(ctx context.Context, pc domain.ProviderConfig, creds domain.Credentials) (provider.Adapter, error) {
		return provider.New(ctx, pc, creds, provider.Options{Logger: logger, Ledger: provider.NewMockLedger()})
	}

	manager, err := service.NewProviderManager(
		providers,
		cipher,
		factory,
		ratelimit.NewLocalThroughput(cfg.ProviderRatePerSec),
		service.ManagerOptions{SendTimeout: cfg.SendTimeout()},
		logger,
	)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	admin, err := service.NewProviderAdmin(providers, cipher, manager, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logs, err := service.NewDeliveryLog(repository.NewGormSMSLogRepo(db), cfg.LogRetention(), logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &backend{
		admin:   admin,
		manager: manager,
		logs:    logs,
		logger:  logger,
		close: func() {
			_ = logger.Sync()
			_ = sqlDB.Close()
		},
	}, nil
}

// withBackend opens the backend for the duration of a command.
func withBackend(run func(cmd *cobra.Command, args []string, b *backend) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()
		return run(cmd, args, b)
	}
}
