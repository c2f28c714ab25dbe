package main

import (
	"context"
	"fmt"
	"time"

	"freelance-escrow/internal/config"
	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/repository"
	"freelance-escrow/internal/infra/api"
	pg "freelance-escrow/internal/infra/db/postgres"
	"freelance-escrow/internal/infra/logging"

	"github.com/jackc/pgx/v4"
)

// Seeds a client, a freelancer, one open job and a pending proposal with
// stable ids, so re-running only refreshes them. Prints bearer tokens for
// both users.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Global.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	users := pg.NewUserRepo(pool)
	jobs := pg.NewJobRepo(pool)
	tm := pg.NewTxManager(pool)

	now := time.Now().UTC()
	client, err := model.NewUser("demo-client", "client@example.com", "Demo Client", model.RoleClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("client")
	}
	freelancer, err := model.NewUser("demo-freelancer", "freelancer@example.com", "Demo Freelancer", model.RoleFreelancer)
	if err != nil {
		logger.Fatal().Err(err).Msg("freelancer")
	}
	job := &model.Job{ID: "demo-job", ClientID: client.ID, Title: "Landing page redesign", Status: model.JobStatusOpen, CreatedAt: now}
	proposal := &model.Proposal{
		ID: "demo-proposal", JobID: job.ID, FreelancerID: freelancer.ID,
		AmountCents: 100_00, Status: model.ProposalStatusPending, CreatedAt: now,
	}

	err = tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		for _, u := range []*model.User{client, freelancer} {
			if err := users.Save(ctx, tx, u); err != nil {
				return fmt.Errorf("save user %s: %w", u.ID, err)
			}
		}
		if err := jobs.SaveJob(ctx, tx, job); err != nil {
			return fmt.Errorf("save job: %w", err)
		}
		if err := jobs.SaveProposal(ctx, tx, proposal); err != nil {
			return fmt.Errorf("save proposal: %w", err)
		}
		return nil
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}

	auth := api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	for _, u := range []*model.User{client, freelancer} {
		tok, err := auth.Mint(u.ID, string(u.Role))
		if err != nil {
			logger.Fatal().Err(err).Msg("mint token")
		}
		fmt.Printf("%-16s %s\n  token: %s\n", u.Role, u.ID, tok)
	}
	fmt.Printf("job %s / proposal %s (%s)\n", job.ID, proposal.ID, model.FromMinorUnits(proposal.AmountCents).StringFixed(2))
	fmt.Println("Seeding complete.")
}
