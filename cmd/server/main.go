package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"membership/internal/access/drive"
	accessmetrics "membership/internal/access/metrics"
	accessservice "membership/internal/access/service"
	applicationservice "membership/internal/application/service"
	consentservice "membership/internal/consent/service"
	"membership/internal/consent/source"
	deletionservice "membership/internal/deletion/service"
	"membership/internal/export/archive"
	exportservice "membership/internal/export/service"
	"membership/internal/jobs"
	membershipmetrics "membership/internal/membership/metrics"
	membershipservice "membership/internal/membership/service"
	"membership/internal/notify"
	"membership/internal/platform/config"
	"membership/internal/platform/httpserver"
	"membership/internal/platform/kafka"
	"membership/internal/platform/logger"
	"membership/internal/platform/metrics"
	platformredis "membership/internal/platform/redis"
	httptransport "membership/internal/transport/http"
	"membership/pkg/platform/audit/publishers/compliance"
	"membership/pkg/platform/outbox"
)

func main() {
	addr := pflag.String("addr", "", "listen address, overrides MEMBERSHIP_ADDR")
	runJob := pflag.String("run-job", "", "run one scheduled job inline and exit")
	noWorker := pflag.Bool("no-worker", false, "serve the API without the worker, scheduler and outbox relay")
	pflag.Parse()

	cfg := config.FromEnv()
	if *addr != "" {
		cfg.Addr = *addr
	}
	log := logger.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, jobs.Kind(*runJob), !*noWorker); err != nil {
		log.Error("membership stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the services and blocks until ctx is cancelled or a component
// fails.
func run(ctx context.Context, cfg config.Config, log *slog.Logger, runJob jobs.Kind, background bool) error {
	log.InfoContext(ctx, "starting membership", "config", cfg.String())

	b := memoryBackend()
	if cfg.DatabaseURL != "" {
		var err error
		if b, err = postgresBackend(ctx, cfg.DatabaseURL, log); err != nil {
			return err
		}
	} else {
		log.WarnContext(ctx, "DATABASE_URL not set, state is kept in memory")
	}
	defer func() { _ = b.close() }()

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var (
		queue    jobs.Queue                 = jobs.NewMemoryQueue()
		archives exportservice.ArchiveStore = archive.NewMemory()
	)
	if rc != nil {
		defer func() { _ = rc.Close() }()
		queue = jobs.NewRedisQueue(rc.Client, "")
		archives = archive.NewRedis(rc.Client, "")
	}

	tasks := jobs.NewOutboxEnqueuer(b.outbox)
	notifier := notify.NewOutboxNotifier(b.outbox)
	publisher := compliance.New(b.audit, compliance.WithLogger(log), compliance.WithMetrics(compliance.NewMetrics()))
	transitions := metrics.NewTransitions()

	members := membershipservice.New(b.tx, membershipservice.Stores{
		Accounts:        b.accounts,
		Profiles:        b.profiles,
		RoleAssignments: b.roleAssignments,
		Teams:           b.teams,
		Changes:         b.changes,
		Applications:    b.applications,
		Documents:       b.documents,
		Consents:        b.consents,
	}, tasks, notifier,
		membershipservice.WithLogger(log),
		membershipservice.WithAuditPublisher(publisher),
		membershipservice.WithMetrics(membershipmetrics.New()),
	)

	var upstream drive.Client = drive.NewFake()
	if cfg.Drive.Token != "" {
		upstream = drive.NewRESTClient(cfg.Drive.BaseURL, cfg.Drive.Token, nil)
	} else {
		log.WarnContext(ctx, "DRIVE_ACCESS_TOKEN not set, permissions go to the in-process fake")
	}
	guarded := drive.NewGuarded(upstream, cfg.Drive.RequestsPerSecond, cfg.Drive.Burst,
		drive.WithBreaker(drive.NewCircuitBreaker(5, 30*time.Second)))
	access := accessservice.New(b.tx, b.access, members, guarded,
		accessservice.WithLogger(log),
		accessservice.WithAuditPublisher(publisher),
		accessservice.WithMetrics(accessmetrics.New()),
	)
	if cfg.AccessRulesFile != "" {
		file, err := config.LoadAccessRules(cfg.AccessRulesFile)
		if err != nil {
			return err
		}
		res, err := accessservice.SeedRules(ctx, b.tx, b.access, b.teams, file)
		if err != nil {
			return fmt.Errorf("seed access rules: %w", err)
		}
		log.InfoContext(ctx, "access rules loaded", "file", cfg.AccessRulesFile,
			"resources", res.Resources, "role_rules", res.RoleRules, "team_rules", res.TeamRules, "teams_created", res.TeamsCreated)
	}

	consentOpts := []consentservice.Option{
		consentservice.WithLogger(log),
		consentservice.WithAuditPublisher(publisher),
		consentservice.WithTransitions(transitions),
	}
	if cfg.LegalDocumentsDir != "" {
		consentOpts = append(consentOpts, consentservice.WithDocumentSource(source.NewDir(cfg.LegalDocumentsDir)))
	}
	consents := consentservice.New(b.tx, b.documents, b.consents, b.profiles, members, notifier, consentOpts...)

	applications := applicationservice.New(b.tx, b.applications, b.accounts, b.profiles, members, notifier,
		applicationservice.WithLogger(log),
		applicationservice.WithAuditPublisher(publisher),
		applicationservice.WithTransitions(transitions),
	)

	anonymizer, err := deletionservice.NewAnonymizer(cfg.AnonymizationSecret, cfg.AnonymizedEmailDomain)
	if err != nil {
		return err
	}
	deletions := deletionservice.New(b.tx, deletionservice.Stores{
		Requests:        b.deletions,
		Accounts:        b.accounts,
		Profiles:        b.profiles,
		RoleAssignments: b.roleAssignments,
		Teams:           b.teams,
		Consents:        b.consents,
		Applications:    b.applications,
		Tags:            b.tags,
		Permissions:     b.access,
	}, access, members, tasks, notifier, anonymizer,
		deletionservice.WithLogger(log),
		deletionservice.WithAuditPublisher(publisher),
		deletionservice.WithTransitions(transitions),
	)

	tokens, err := exportservice.NewDownloadTokens(cfg.ExportSigningKey)
	if err != nil {
		return err
	}
	exports := exportservice.New(b.tx, exportservice.Stores{
		Requests:        b.exports,
		Accounts:        b.accounts,
		Profiles:        b.profiles,
		RoleAssignments: b.roleAssignments,
		Consents:        b.consents,
		Teams:           b.teams,
		Tags:            b.tags,
		Applications:    b.applications,
		AccessLogs:      b.access,
		Audit:           b.audit,
		Changes:         b.changes,
	}, archives, tasks, notifier, tokens, cfg.ExportExpiry,
		exportservice.WithLogger(log),
		exportservice.WithAuditPublisher(publisher),
		exportservice.WithTransitions(transitions),
	)

	jobMetrics := jobs.NewMetrics()
	worker := jobs.NewWorker(queue,
		jobs.WithLogger(log),
		jobs.WithMetrics(jobMetrics),
		jobs.WithConcurrency(cfg.Worker.Concurrency),
		jobs.WithMaxAttempts(cfg.Worker.MaxAttempts),
		jobs.WithBackoff(cfg.Worker.BaseBackoff),
	)
	registerTasks(worker, services{
		members:      members,
		applications: applications,
		consents:     consents,
		access:       access,
		deletions:    deletions,
		exports:      exports,
	}, cfg.RejectedRetentionDays, log)

	relay, closeRelay, err := newRelay(ctx, cfg, b.outbox, queue, log)
	if err != nil {
		return err
	}
	defer closeRelay()

	if runJob != "" {
		return runOnce(ctx, worker, relay, runJob, log)
	}

	httpOpts := []httptransport.Option{
		httptransport.WithLogger(log),
		httptransport.WithMetrics(metrics.New()),
		httptransport.WithAdminToken(cfg.AdminToken),
	}
	if b.ping != nil {
		httpOpts = append(httpOpts, httptransport.WithReadinessCheck("database", b.ping))
	}
	if rc != nil {
		httpOpts = append(httpOpts, httptransport.WithReadinessCheck("redis", rc.Ready))
	}
	handler := httptransport.New(members, applications, consents, deletions, exports, worker, httpOpts...)
	srv := httpserver.New(cfg.Addr, handler.Router())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if background {
		scheduler := jobs.NewScheduler(queue, schedules(cfg.Jobs), log, jobMetrics)
		g.Go(func() error { return worker.Run(gctx) })
		g.Go(func() error {
			if err := relay.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			scheduler.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}

// runOnce runs a single job and relays what it produced.
func runOnce(ctx context.Context, worker *jobs.Worker, relay *outbox.Relay, kind jobs.Kind, log *slog.Logger) error {
	start := time.Now()
	if err := worker.RunNow(ctx, kind, nil); err != nil {
		return fmt.Errorf("job %s: %w", kind, err)
	}
	for {
		n, err := relay.Flush(ctx)
		if err != nil {
			return fmt.Errorf("relay after %s: %w", kind, err)
		}
		if n == 0 {
			break
		}
	}
	log.InfoContext(ctx, "job finished", "kind", kind, "duration", time.Since(start))
	return nil
}

func schedules(c config.JobIntervals) []jobs.Schedule {
	return []jobs.Schedule{
		{Kind: jobs.KindExpirySweep, Interval: c.ExpirySweep},
		{Kind: jobs.KindConsentDeadlines, Interval: c.ConsentDeadlines},
		{Kind: jobs.KindReconcileAll, Interval: c.ReconcileAll},
		{Kind: jobs.KindRetryFailed, Interval: c.RetryFailed},
		{Kind: jobs.KindSyncDocuments, Interval: c.SyncDocuments},
		{Kind: jobs.KindCleanupExports, Interval: c.CleanupExports},
		{Kind: jobs.KindAnonymizeRejects, Interval: c.AnonymizeRejects},
	}
}

// newRelay routes task messages into the queue and everything else to
// Kafka, or to the log when no brokers are configured.
func newRelay(ctx context.Context, cfg config.Config, store outbox.Store, queue jobs.Queue, log *slog.Logger) (*outbox.Relay, func(), error) {
	var fallback outbox.Producer = logProducer{logger: log}
	closeFn := func() {}
	if len(cfg.KafkaBrokers) > 0 {
		p, err := kafka.NewProducer(cfg.KafkaBrokers, log)
		if err != nil {
			return nil, nil, err
		}
		if err := p.EnsureTopics(ctx, 3, 1); err != nil {
			log.WarnContext(ctx, "kafka topics not ensured", "error", err)
		}
		fallback = p
		closeFn = p.Close
	} else {
		log.WarnContext(ctx, "KAFKA_BROKERS not set, notifications and audit events are only logged")
	}
	router := outbox.NewRouter(fallback).Route(jobs.Topic, jobs.NewQueueProducer(queue))
	return outbox.NewRelay(store, router, outbox.WithLogger(log)), closeFn, nil
}
