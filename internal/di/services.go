package di

import (
	"context"
	"fmt"

	"github.com/aristath/navwatch/internal/clients/eastmoney"
	"github.com/aristath/navwatch/internal/clients/tencent"
	"github.com/aristath/navwatch/internal/clients/timor"
	"github.com/aristath/navwatch/internal/config"
	"github.com/aristath/navwatch/internal/modules/calendar"
	"github.com/aristath/navwatch/internal/modules/estimator"
	"github.com/aristath/navwatch/internal/modules/funds"
	"github.com/aristath/navwatch/internal/modules/history"
	"github.com/aristath/navwatch/internal/modules/holdings"
	"github.com/aristath/navwatch/internal/queue"
	"github.com/aristath/navwatch/internal/reliability"
	"github.com/aristath/navwatch/internal/scriptvars"
	"github.com/rs/zerolog"
)

// InitializeServices creates clients, modules and the orchestrator.
// Requires InitializeDatabases to have populated the store.
func InitializeServices(cfg *config.Config, container *Container, log zerolog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	container.Location = loc

	// Infrastructure
	container.Serializer = queue.NewSerializer(log)
	container.Namespace = scriptvars.NewNamespace()
	container.Loader = scriptvars.NewLoader(container.Namespace, log)

	// Clients
	container.HolidayClient = timor.NewClient(cfg.HolidayAPIURL, log)
	container.QuoteClient = tencent.NewClient(cfg.QuoteAPIURL, log)
	container.EastmoneyClient = eastmoney.NewClient(eastmoney.Config{
		FundgzURL:    cfg.FundgzAPIURL,
		HoldingsURL:  cfg.HoldingsAPIURL,
		PingzhongURL: cfg.PingzhongAPIURL,
	}, container.Loader, log)

	// Modules
	sessions := calendar.DefaultSessions()
	container.Calendar = calendar.NewCache(container.Store, container.HolidayClient, loc, sessions, log)
	container.Resolver = holdings.NewResolver(
		container.Calendar,
		container.Serializer,
		container.EastmoneyClient,
		container.EastmoneyClient,
		log,
	)
	container.History = history.NewStore(container.Store, loc, sessions, history.Config{
		MaxPoints:       cfg.HistoryMaxPoints,
		EmergencyPoints: cfg.HistoryEmergencyPoints,
	}, log)
	container.Funds = funds.NewRepository(container.Store, container.History, log)
	container.Estimator = estimator.NewService(
		container.Calendar,
		container.Resolver,
		container.QuoteClient,
		container.Funds,
		container.History,
		estimator.Config{
			BatchRefreshDelay: cfg.BatchRefreshDelay,
			DailyRefreshHour:  cfg.DailyRefreshHour,
		},
		log,
	)

	// Backups
	if cfg.Backup != nil && cfg.Backup.Enabled {
		objects, err := reliability.NewS3Store(context.Background(), reliability.S3Config{
			Endpoint:        cfg.Backup.Endpoint,
			Bucket:          cfg.Backup.Bucket,
			Region:          cfg.Backup.Region,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize backup storage: %w", err)
		}
		container.BackupService = reliability.NewBackupService(objects, container.Funds, cfg.Backup.Keep, log)
	}

	return nil
}
