// seed creates a development account (user, personal organization, owner membership) for a phone
// number. Idempotent: an existing account is reported and left unchanged. With -deactivate it instead
// marks an existing account inactive, so its next refresh revokes the session with
// account_deactivated.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"phone-auth/backend/internal/config"
	"phone-auth/backend/internal/db"
	identityrepo "phone-auth/backend/internal/identity/repository"
	"phone-auth/backend/internal/mfa"
	userrepo "phone-auth/backend/internal/user/repository"
)

const defaultDevPhone = "+919876543210"

func main() {
	phone := flag.String("phone", defaultDevPhone, "E.164 phone number of the account to create")
	name := flag.String("name", "Dev User", "display name; the organization is named after it")
	deactivate := flag.Bool("deactivate", false, "deactivate the existing account for -phone instead of creating one")
	flag.Parse()

	if err := mfa.ValidatePhone(*phone); err != nil {
		log.Fatalf("phone: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if *deactivate {
		users := userrepo.NewPostgresRepository(pool)
		u, err := users.GetByPhone(ctx, *phone)
		if err != nil {
			log.Fatalf("lookup: %v", err)
		}
		if u == nil {
			log.Fatalf("no account for %s", mfa.MaskPhone(*phone))
		}
		if err := users.SetActive(ctx, u.ID, false); err != nil {
			log.Fatalf("deactivate: %v", err)
		}
		log.Printf("Deactivated user %s", u.ID)
		return
	}

	oc, created, err := identityrepo.NewPostgresRepository(pool).CreateUserWithDefaultOrg(ctx, *phone, *name)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if !created {
		log.Printf("Account for %s already exists (user %s). Skipping.", mfa.MaskPhone(*phone), oc.User.ID)
		return
	}
	log.Printf("Created user %s in org %s (%s) as %s", oc.User.ID, oc.Org.ID, oc.Org.Name, oc.Role())
}
