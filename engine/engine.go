package engine

import (
	"fmt"
	"time"

	"github.com/drummonds/goPDFCache/cache"
	"github.com/drummonds/goPDFCache/database"
	"github.com/oklog/ulid/v2"
)

// maintenanceJobFunc sweeps the cache and prunes old job records. It is
// run at startup and then on the configured cron schedule.
func (serverHandler *ServerHandler) maintenanceJobFunc() {
	// Add panic recovery to prevent entire application crash
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in maintenance job", "panic", r)
		}
	}()

	Logger.Info("Starting cache maintenance sweep")

	expired := serverHandler.Cache.SweepExpired()
	if expired > 0 {
		Logger.Info("Swept expired cache entries", "count", expired)
	}

	orphans := serverHandler.Cache.SweepOrphans()
	if orphans > 0 {
		Logger.Info("Removed orphaned payload files", "count", orphans)
	}

	retention := time.Duration(serverHandler.ServerConfig.JobRetentionDays) * 24 * time.Hour
	deleted, err := serverHandler.DB.DeleteOldJobs(retention)
	if err != nil {
		Logger.Error("Failed to prune old job records", "error", err)
	} else if deleted > 0 {
		Logger.Info("Pruned old job records", "count", deleted)
	}
}

// maintenanceJobFuncWithTracking wraps the maintenance sweep with job
// progress tracking for runs triggered via the API.
func (serverHandler *ServerHandler) maintenanceJobFuncWithTracking(jobID ulid.ULID) {
	// Add panic recovery and update job status on panic
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in maintenance job", "panic", r, "jobID", jobID)
			serverHandler.DB.UpdateJobError(jobID, fmt.Sprintf("Panic: %v", r))
		}
	}()

	db := serverHandler.DB
	if err := db.UpdateJobStatus(jobID, database.JobStatusRunning, "Sweeping expired entries"); err != nil {
		Logger.Error("Failed to update job status", "error", err)
	}

	expired := serverHandler.Cache.SweepExpired()
	db.UpdateJobProgress(jobID, 40, "Scanning for orphaned payloads")

	orphans := serverHandler.Cache.SweepOrphans()
	db.UpdateJobProgress(jobID, 80, "Pruning old job records")

	retention := time.Duration(serverHandler.ServerConfig.JobRetentionDays) * 24 * time.Hour
	pruned, err := db.DeleteOldJobs(retention)
	if err != nil {
		Logger.Error("Failed to prune old job records", "error", err)
	}

	result := fmt.Sprintf(`{"expired": %d, "orphans": %d, "jobsPruned": %d}`, expired, orphans, pruned)
	if err := db.CompleteJob(jobID, result); err != nil {
		Logger.Error("Failed to mark maintenance job as complete", "error", err)
	}

	Logger.Info("Maintenance job completed", "jobID", jobID, "expired", expired, "orphans", orphans, "jobsPruned", pruned)
}

// preloadJobFuncWithTracking follows a running cache preload and mirrors
// its progress into the job record.
func (serverHandler *ServerHandler) preloadJobFuncWithTracking(jobID ulid.ULID, preload *cache.PreloadJob) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in preload job", "panic", r, "jobID", jobID)
			serverHandler.DB.UpdateJobError(jobID, fmt.Sprintf("Panic: %v", r))
		}
	}()

	db := serverHandler.DB
	total := preload.EndPage - preload.StartPage + 1

	if err := db.UpdateJobStatus(jobID, database.JobStatusRunning, fmt.Sprintf("Preloading %d pages", total)); err != nil {
		Logger.Error("Failed to update job status", "error", err)
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-preload.Done():
			status := preload.Status()
			if status.Canceled {
				Logger.Info("Preload superseded before completion", "jobID", jobID, "document", status.DocumentID)
				db.UpdateJobStatus(jobID, database.JobStatusCancelled, "Superseded by a newer preload")
				return
			}
			result := fmt.Sprintf(`{"loaded": %d, "skipped": %d, "failed": %d, "pagesTotal": %d}`,
				status.Loaded, status.Skipped, len(status.Failed), total)
			if err := db.CompleteJob(jobID, result); err != nil {
				Logger.Error("Failed to mark preload job as complete", "error", err)
			}
			Logger.Info("Preload job completed", "jobID", jobID, "document", status.DocumentID,
				"loaded", status.Loaded, "skipped", status.Skipped, "failed", len(status.Failed))
			return
		case <-ticker.C:
			status := preload.Status()
			doneCount := status.Loaded + status.Skipped + len(status.Failed)
			progress := 0
			if total > 0 {
				progress = doneCount * 100 / total
			}
			if progress > 99 {
				progress = 99
			}
			db.UpdateJobProgress(jobID, progress, fmt.Sprintf("Rendered %d of %d pages", doneCount, total))
		}
	}
}
