package cmd

import (
	"os"
	"path/filepath"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unlist-sh/unlist/internal/utils"
	"github.com/unlist-sh/unlist/pkg/jobs"
	"github.com/unlist-sh/unlist/pkg/notify"
	"github.com/unlist-sh/unlist/pkg/operations"
	"github.com/unlist-sh/unlist/pkg/pixel"
	"github.com/unlist-sh/unlist/pkg/queue"
	"github.com/unlist-sh/unlist/pkg/scheduler"
	"github.com/unlist-sh/unlist/pkg/services"
	"github.com/unlist-sh/unlist/pkg/storage"
	"github.com/unlist-sh/unlist/pkg/webrunner"
)

// openDatabase acquires the single-writer lock and opens the job database,
// creating its directory on first use. The returned cleanup releases both.
func openDatabase(cmd *cobra.Command) (*storage.DB, func(), error) {
	dbPath, _ := cmd.Flags().GetString("dbpath")
	absPath, err := utils.GetAbsDBPath(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, nil, err
	}

	lock, err := utils.NewDBLock(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := lock.Lock(); err != nil {
		return nil, nil, err
	}

	db, err := storage.Open(absPath)
	if err != nil {
		lock.Unlock()
		return nil, nil, err
	}
	cleanup := func() {
		db.Close()
		lock.Unlock()
	}
	return db, cleanup, nil
}

func backendClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.Logger = nil
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// buildScheduler wires the full engine: coordinator, queue manager and the
// scheduler around them. The captcha and email collaborators are only wired
// when a backend is configured; opt-out scripts that need them fail with a
// clear error otherwise.
func buildScheduler(db *storage.DB) (*scheduler.Scheduler, *pixel.Handler) {
	log := utils.Log

	var captcha jobs.CaptchaSolver
	var email jobs.EmailProvider
	if backendURL := viper.GetString("backend.url"); backendURL != "" {
		token := viper.GetString("backend.authtoken")
		captcha = &services.CaptchaService{Client: backendClient(), BaseURL: backendURL, AuthToken: token, Log: log}
		email = &services.EmailService{Client: backendClient(), BaseURL: backendURL, AuthToken: token, Log: log}
	} else {
		log.Debug("no backend configured, captcha and email collaborators disabled")
	}

	coordinator := &jobs.Coordinator{
		DB:         db,
		NewRunner:  func() jobs.Runner { return webrunner.New() },
		Captcha:    captcha,
		Email:      email,
		ChildSites: &scheduler.ChildPropagator{DB: db, Log: log},
		Log:        log,
	}
	deps := operations.Dependencies{
		DB:     db,
		Runner: coordinator,
		Config: operations.DefaultExecutionConfig(),
		Log:    log,
	}
	manager := queue.NewManager(operations.DefaultCreator{}, deps)

	pixels := pixel.NewHandler(64, nil, log)
	cadence, err := time.ParseDuration(viper.GetString("schedule.cadence"))
	if err != nil {
		cadence = 4 * time.Hour
	}

	sched := &scheduler.Scheduler{
		Queue:   manager,
		Notify:  &notify.LogService{Log: log},
		Pixels:  pixels,
		Stats:   db,
		Log:     log,
		Cadence: cadence,
	}
	return sched, pixels
}
