package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	accessservice "membership/internal/access/service"
	applicationservice "membership/internal/application/service"
	consentservice "membership/internal/consent/service"
	deletionservice "membership/internal/deletion/service"
	exportservice "membership/internal/export/service"
	membershipservice "membership/internal/membership/service"
	"membership/internal/storage"
	"membership/internal/storage/postgres"
	"membership/migrations"
	"membership/pkg/platform/audit"
	auditpostgres "membership/pkg/platform/audit/store/postgres"
	"membership/pkg/platform/outbox"
	outboxpostgres "membership/pkg/platform/outbox/postgres"
	"membership/pkg/platform/tx"
)

// The backend interfaces are the union of what each service asks of a
// store. Both storage implementations satisfy all of them.

type accountStore interface {
	membershipservice.AccountStore
	applicationservice.AccountStore
	deletionservice.AccountStore
	exportservice.AccountStore
}

type profileStore interface {
	membershipservice.ProfileStore
	applicationservice.ProfileStore
	consentservice.ProfileStore
	deletionservice.ProfileStore
	exportservice.ProfileStore
}

type roleAssignmentStore interface {
	membershipservice.RoleAssignmentStore
	deletionservice.RoleAssignmentStore
	exportservice.RoleAssignmentStore
}

type teamStore interface {
	membershipservice.TeamStore
	deletionservice.TeamStore
	exportservice.TeamStore
	accessservice.TeamStore
}

type tagStore interface {
	deletionservice.TagStore
	exportservice.TagStore
}

type changeStore interface {
	membershipservice.ChangeStore
	exportservice.ChangeStore
}

type applicationStore interface {
	membershipservice.ApplicationStore
	applicationservice.ApplicationStore
	deletionservice.ApplicationStore
	exportservice.ApplicationStore
}

type documentStore interface {
	membershipservice.DocumentStore
	consentservice.DocumentStore
}

type consentStore interface {
	membershipservice.ConsentStore
	consentservice.ConsentStore
	deletionservice.ConsentStore
	exportservice.ConsentStore
}

type accessStore interface {
	accessservice.PermissionStore
	accessservice.RuleStore
	deletionservice.PermissionStore
	exportservice.AccessLogStore
}

type auditStore interface {
	audit.Store
	exportservice.AuditStore
}

type backend struct {
	tx              tx.Runner
	accounts        accountStore
	profiles        profileStore
	roleAssignments roleAssignmentStore
	teams           teamStore
	tags            tagStore
	changes         changeStore
	applications    applicationStore
	documents       documentStore
	consents        consentStore
	deletions       deletionservice.RequestStore
	exports         exportservice.RequestStore
	access          accessStore
	audit           auditStore
	outbox          outbox.Store
	close           func() error
	// ping is nil for the in-memory backend.
	ping func(ctx context.Context) error
}

func memoryBackend() *backend {
	s := storage.New()
	return &backend{
		tx:              s.DB,
		accounts:        s.Accounts,
		profiles:        s.Profiles,
		roleAssignments: s.RoleAssignments,
		teams:           s.Teams,
		tags:            s.Tags,
		changes:         s.Changes,
		applications:    s.Applications,
		documents:       s.Documents,
		consents:        s.Consents,
		deletions:       s.Deletions,
		exports:         s.Exports,
		access:          s.Access,
		audit:           s.Audit,
		outbox:          s.Outbox,
		close:           func() error { return nil },
	}
}

// postgresBackend opens the pool and applies the embedded schema.
func postgresBackend(ctx context.Context, dsn string, logger *slog.Logger) (*backend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.InfoContext(ctx, "postgres ready")

	s := postgres.New(db)
	ob := outboxpostgres.New(db)
	return &backend{
		tx:              s.Tx,
		accounts:        s.Accounts,
		profiles:        s.Profiles,
		roleAssignments: s.RoleAssignments,
		teams:           s.Teams,
		tags:            s.Tags,
		changes:         s.Changes,
		applications:    s.Applications,
		documents:       s.Documents,
		consents:        s.Consents,
		deletions:       s.Deletions,
		exports:         s.Exports,
		access:          s.Access,
		audit:           auditpostgres.New(db, ob),
		outbox:          ob,
		close:           db.Close,
		ping:            db.PingContext,
	}, nil
}
