// Command launchqueue is the composition root for the launch pipeline: it
// wires the Task Tracker, Rate Limiter, Task Factory, Offer Matcher
// Manager, Offer Processor, Task Launcher, and Status Event Bus together
// and drains an inbound offer queue until told to stop.
//
// It is grounded on master/main/main.go's shape: kingpin flags override
// config file values, logging and metrics are configured first, then every
// component is constructed and started in dependency order.
package main

import (
	"context"
	nethttp "net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/ss75710541/marathon/internal/clock"
	"github.com/ss75710541/marathon/internal/config"
	"github.com/ss75710541/marathon/internal/launcher"
	"github.com/ss75710541/marathon/internal/launchqueue"
	"github.com/ss75710541/marathon/internal/logging"
	"github.com/ss75710541/marathon/internal/metrics"
	"github.com/ss75710541/marathon/internal/models"
	"github.com/ss75710541/marathon/internal/offermatcher"
	"github.com/ss75710541/marathon/internal/offerprocessor"
	"github.com/ss75710541/marathon/internal/offerqueue"
	"github.com/ss75710541/marathon/internal/ratelimit"
	"github.com/ss75710541/marathon/internal/scheduler"
	"github.com/ss75710541/marathon/internal/statusbus"
	"github.com/ss75710541/marathon/internal/taskfactory"
	"github.com/ss75710541/marathon/internal/tasklauncher"
	"github.com/ss75710541/marathon/internal/tracker"
	"github.com/ss75710541/marathon/internal/workerpool"
)

var (
	version string
	app     = kingpin.New("launchqueue", "Launch pipeline server")

	debug = app.Flag("debug", "enable debug logging").
		Short('d').Default("false").Envar("ENABLE_DEBUG_LOGGING").Bool()

	configFiles = app.Flag("config",
		"YAML configuration (may be given multiple times to merge configs)").
		Short('c').Required().ExistingFiles()

	env = app.Flag("env",
		"environment (development uses an in-process logging driver "+
			"instead of a real resource-master connection)").
		Short('e').Default("development").Envar("ENVIRONMENT").
		Enum("development", "production")

	metricsPort = app.Flag("metrics-port", "port to serve /metrics and /health on").
		Envar("METRICS_PORT").Default("9090").Int()
)

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))

	var cfg config.AppConfig
	if err := config.Parse(&cfg, (*configFiles)...); err != nil {
		log.WithError(err).Fatal("launchqueue: failed to load configuration")
	}

	configureLogging(cfg.Logging.Level, *debug)

	scope, closer, mux := metrics.InitRootScope(cfg.Metrics, "launchqueue", time.Second)
	defer closer.Close()
	serveMetrics(mux, *metricsPort)

	if *env == "development" {
		log.Warn("launchqueue: running in development mode against an in-process logging driver")
	}

	realClock := clock.Real()

	sched := scheduler.New(scheduler.NewQueueMetrics(scope))
	sched.Start()
	defer sched.Stop()

	pool := workerpool.New(cfg.WorkerPool.MaxWorkers)
	defer pool.Stop()

	policy := ratelimit.NewExponentialPolicy(
		cfg.RateLimiter.InitialBackoff,
		cfg.RateLimiter.MaxBackoff,
		cfg.RateLimiter.Factor,
	)
	rateLimiter := ratelimit.New(realClock, policy, ratelimit.NewMetrics(scope))

	trk := tracker.New(tracker.NewInMemoryStorage(), tracker.NewMetrics(scope))
	factory := taskfactory.New(realClock.Now)
	bus := statusbus.New()
	manager := offermatcher.New(offermatcher.NewMetrics(scope))

	driver := newDriver(*env)
	taskLauncher := tasklauncher.New(driver, tasklauncher.NewMetrics(scope))

	proc := offerprocessor.New(manager, trk, taskLauncher, realClock, offerprocessor.Config{
		OfferMatchingTimeout:     cfg.OfferProcessor.OfferMatchingTimeout,
		SaveTasksToLaunchTimeout: cfg.OfferProcessor.SaveTasksToLaunchTimeout,
		DeclineOfferDuration:     cfg.OfferProcessor.DeclineOfferDuration,
	}, offerprocessor.NewMetrics(scope))

	newDeps := func(models.App) launcher.Deps {
		return launcher.Deps{
			Clock:                         realClock,
			Factory:                       factory,
			Scheduler:                     sched,
			RateLimiter:                   rateLimiter,
			Manager:                       manager,
			OfferReviver:                  taskLauncher,
			StatusBus:                     bus,
			TaskLaunchNotificationTimeout: cfg.Launcher.TaskLaunchNotificationTimeout,
		}
	}
	queue := launchqueue.New(newDeps, launchqueue.NewMetrics(scope))
	defer queue.Close()
	_ = queue // exposed to whatever out-of-scope REST layer is deployed alongside this binary

	offers := offerqueue.New(offerqueue.DefaultBufferSize)

	ctx, cancel := context.WithCancel(context.Background())
	go consumeOffers(ctx, offers, pool, proc)

	waitForShutdown()
	cancel()
	pool.WaitUntilProcessed()
}

// consumeOffers drains offers and hands each one to the worker pool so
// distinct offers' pipelines run concurrently while each pipeline itself
// stays sequential.
func consumeOffers(ctx context.Context, offers *offerqueue.Queue, pool *workerpool.Pool, proc *offerprocessor.Processor) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		offer, ok := offers.Get(time.Second)
		if !ok {
			continue
		}
		pool.Enqueue(func() {
			proc.ProcessOffer(ctx, offer)
		})
	}
}

func configureLogging(level string, debug bool) {
	log.SetFormatter(logging.NewSecretsFormatter())

	if debug {
		log.SetLevel(log.DebugLevel)
		return
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func serveMetrics(mux *nethttp.ServeMux, port int) {
	addr := ":" + strconv.Itoa(port)
	go func() {
		if err := nethttp.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("launchqueue: metrics server stopped")
		}
	}()
	log.WithField("addr", addr).Info("launchqueue: serving /metrics and /health")
}

// newDriver returns the outbound resource-master adapter. A real
// deployment replaces the development driver with one backed by an actual
// resource master connection; that transport is out of scope here (see
// SPEC_FULL.md §1).
func newDriver(env string) tasklauncher.Driver {
	if env == "production" {
		log.Fatal("launchqueue: no production resource-master driver is wired into this binary")
	}
	return &loggingDriver{}
}

// loggingDriver is a development-mode Driver that logs every call instead
// of talking to a resource master, letting the rest of the pipeline be
// exercised end-to-end without one.
type loggingDriver struct{}

func (loggingDriver) LaunchTasks(offerID string, specs []models.LaunchSpec) bool {
	log.WithFields(log.Fields{"offer_id": offerID, "task_count": len(specs)}).Info("dev driver: launchTasks")
	return true
}

func (loggingDriver) DeclineOffer(offerID string, refuseMillis *int64) {
	log.WithFields(log.Fields{"offer_id": offerID, "refuse_millis": refuseMillis}).Info("dev driver: declineOffer")
}

func (loggingDriver) ReviveOffers() {
	log.Info("dev driver: reviveOffers")
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("launchqueue: shutting down")
}
