package engine

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// InitializeSchedules starts all the cron jobs (currently just the
// cache maintenance sweep)
func (serverHandler *ServerHandler) InitializeSchedules() {
	// Run a maintenance sweep immediately at startup in a goroutine
	Logger.Info("Running cache maintenance at startup")
	go serverHandler.maintenanceJobFunc()

	c := cron.New()
	var maintenanceJob cron.Job
	maintenanceJob = cron.FuncJob(func() { serverHandler.maintenanceJobFunc() })
	maintenanceJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(maintenanceJob) //ensure we don't kick off another if old one is still running
	c.AddJob(serverHandler.ServerConfig.CleanupSchedule, maintenanceJob)
	Logger.Info("Adding cache maintenance scheduler", "schedule", serverHandler.ServerConfig.CleanupSchedule)
	c.Start()
}
