// Package di provides dependency injection for the navwatch service.
package di

import (
	"time"

	"github.com/aristath/navwatch/internal/clients/eastmoney"
	"github.com/aristath/navwatch/internal/clients/tencent"
	"github.com/aristath/navwatch/internal/clients/timor"
	"github.com/aristath/navwatch/internal/database"
	"github.com/aristath/navwatch/internal/kvstore"
	"github.com/aristath/navwatch/internal/modules/calendar"
	"github.com/aristath/navwatch/internal/modules/estimator"
	"github.com/aristath/navwatch/internal/modules/funds"
	"github.com/aristath/navwatch/internal/modules/history"
	"github.com/aristath/navwatch/internal/modules/holdings"
	"github.com/aristath/navwatch/internal/queue"
	"github.com/aristath/navwatch/internal/reliability"
	"github.com/aristath/navwatch/internal/scheduler"
	"github.com/aristath/navwatch/internal/scriptvars"
)

// Container holds every wired component
type Container struct {
	// Storage
	StoreDB *database.DB
	Store   kvstore.Store

	// Infrastructure
	Location   *time.Location
	Serializer *queue.Serializer
	Namespace  *scriptvars.Namespace
	Loader     *scriptvars.Loader

	// Clients
	HolidayClient   *timor.Client
	QuoteClient     *tencent.Client
	EastmoneyClient *eastmoney.Client

	// Modules
	Calendar  *calendar.Cache
	Resolver  *holdings.Resolver
	History   *history.Store
	Funds     *funds.Repository
	Estimator *estimator.Service

	// Backups, nil when disabled
	BackupService *reliability.BackupService

	// Scheduling
	Scheduler *scheduler.Scheduler
	Jobs      scheduler.Jobs
}

// Close closes the store database. The scheduler must be stopped first.
func (c *Container) Close() error {
	if c.StoreDB != nil {
		return c.StoreDB.Close()
	}
	return nil
}
