package main

import (
	"context"
	"errors"
	"log"

	auditrepo "identity-service/backend/internal/audit/repository"
	"identity-service/backend/internal/config"
	"identity-service/backend/internal/db"
	healthhandler "identity-service/backend/internal/health/handler"
	identityservice "identity-service/backend/internal/identity/service"
	membershiprepo "identity-service/backend/internal/membership/repository"
	membershipservice "identity-service/backend/internal/membership/service"
	organizationrepo "identity-service/backend/internal/organization/repository"
	organizationservice "identity-service/backend/internal/organization/service"
	"identity-service/backend/internal/platform/memstore"
	sessionrepo "identity-service/backend/internal/session/repository"
	"identity-service/backend/internal/token"
	userrepo "identity-service/backend/internal/user/repository"
	userservice "identity-service/backend/internal/user/service"
)

type userRepo interface {
	identityservice.UserRepo
	userservice.UserRepo
	membershipservice.UserFinder
}

// backend is the storage the services run on: Postgres, or the in-memory store in development.
type backend struct {
	tx       db.Transactor
	users    userRepo
	orgs     organizationservice.OrgRepo
	members  membershipservice.MembershipRepo
	families token.FamilyRepo
	audit    auditrepo.Repository
	pinger   healthhandler.Pinger
	close    func() error
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.DatabaseURL == "" {
		if cfg.IsProduction() {
			return nil, errors.New("DATABASE_URL must be set when APP_ENV=production")
		}
		log.Printf("DATABASE_URL is empty; using the in-memory store, data is lost on restart")
		mem := memstore.New()
		return &backend{
			tx:       mem,
			users:    mem.Users(),
			orgs:     mem.Orgs(),
			members:  mem.Memberships(),
			families: mem.Sessions(),
			audit:    mem.Audit(),
			close:    func() error { return nil },
		}, nil
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
		Timeout:      cfg.DBTimeout(),
	})
	if err != nil {
		return nil, err
	}
	store := db.NewStore(pool, cfg.DBTimeout())
	return &backend{
		tx:       store,
		users:    userrepo.NewPostgresRepository(store),
		orgs:     organizationrepo.NewPostgresRepository(store),
		members:  membershiprepo.NewPostgresRepository(store),
		families: sessionrepo.NewPostgresRepository(store),
		audit:    auditrepo.NewPostgresRepository(store),
		pinger:   store,
		close:    pool.Close,
	}, nil
}
