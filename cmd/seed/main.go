// seed inserts development sample data for local testing: a global admin, an organization
// directed by a second user, and an approved agent. Idempotent: skips everything if the
// admin user (admin@example.ru) already exists.
package main

import (
	"context"
	"log"
	"time"

	"identity-service/backend/internal/audit"
	auditrepo "identity-service/backend/internal/audit/repository"
	"identity-service/backend/internal/config"
	"identity-service/backend/internal/db"
	membershiprepo "identity-service/backend/internal/membership/repository"
	membershipservice "identity-service/backend/internal/membership/service"
	orgdomain "identity-service/backend/internal/organization/domain"
	organizationrepo "identity-service/backend/internal/organization/repository"
	organizationservice "identity-service/backend/internal/organization/service"
	"identity-service/backend/internal/platform/ids"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/security"
	userdomain "identity-service/backend/internal/user/domain"
	userrepo "identity-service/backend/internal/user/repository"
)

const devPassword = "password123"

type seedUser struct {
	fullName string
	inn      string
	email    string
	role     rbac.GlobalRole
}

var (
	admin    = seedUser{"Dev Admin", "500100732259", "admin@example.ru", rbac.GlobalAdmin}
	director = seedUser{"Anna Director", "772800044460", "director@example.ru", rbac.GlobalViewer}
	agent    = seedUser{"Pavel Agent", "390200437703", "agent@example.ru", rbac.GlobalViewer}
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{Timeout: cfg.DBTimeout()})
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	store := db.NewStore(pool, cfg.DBTimeout())

	users := userrepo.NewPostgresRepository(store)
	existing, err := users.GetByEmail(ctx, admin.email)
	if err != nil {
		log.Fatalf("lookup admin: %v", err)
	}
	if existing != nil {
		log.Printf("seed: %s already exists, nothing to do", admin.email)
		return
	}

	recorder := audit.NewRecorder(auditrepo.NewPostgresRepository(store), nil, nil)
	memberRepo := membershiprepo.NewPostgresRepository(store)
	members := membershipservice.NewService(store, memberRepo, users, recorder)
	orgs := organizationservice.NewService(store, organizationrepo.NewPostgresRepository(store), memberRepo, members, recorder, nil)

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash: %v", err)
	}
	userIDs := map[string]string{}
	err = store.WithinTx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		for _, su := range []seedUser{admin, director, agent} {
			u := &userdomain.User{
				ID:           ids.NewID(),
				FullName:     su.fullName,
				INN:          su.inn,
				Email:        su.email,
				PasswordHash: hash,
				Status:       userdomain.StatusVerified,
				Role:         su.role,
				Verification: userdomain.Verification{ConfirmedAt: &now},
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := users.Create(ctx, u); err != nil {
				return err
			}
			if err := recorder.Append(ctx, audit.Entry{
				Action:   audit.ActionUserRegister,
				EntityID: u.ID,
				ActorID:  u.ID,
				Details:  map[string]any{"email": u.Email, "seed": true},
			}); err != nil {
				return err
			}
			userIDs[su.email] = u.ID
		}
		return nil
	})
	if err != nil {
		log.Fatalf("seed users: %v", err)
	}

	org, err := orgs.Create(ctx, userIDs[director.email], orgdomain.Org{Name: "Romashka LLC", INN: "7736050003", Email: "office@example.ru"})
	if err != nil {
		log.Fatalf("seed org: %v", err)
	}
	if _, err := members.Enroll(ctx, userIDs[agent.email], org.ID, userIDs[agent.email], rbac.MemberAgent); err != nil {
		log.Fatalf("enroll agent: %v", err)
	}
	if err := members.Approve(ctx, userIDs[director.email], org.ID, userIDs[agent.email]); err != nil {
		log.Fatalf("approve agent: %v", err)
	}

	log.Printf("seed: done; users %s, %s, %s with password %q; org %s", admin.email, director.email, agent.email, devPassword, org.ID)
}

