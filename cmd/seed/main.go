package main

import (
	"context"
	"flag"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"broadcast-ops/backend/internal/config"
	"broadcast-ops/backend/internal/logging"
	"broadcast-ops/backend/internal/repository"
	"broadcast-ops/backend/internal/services"
	"broadcast-ops/backend/internal/workflow"
	"broadcast-ops/backend/pkg/models"
)

type demoEpisode struct {
	ProgramID     string
	EpisodeNumber int
	Title         string
	Fields        map[string]string
	Submit        bool
}

var demoEpisodes = []demoEpisode{
	{"morning-show", 101, "Harvest Festival", map[string]string{"shooting_date": "2026-11-02", "location": "Studio 2"}, true},
	{"morning-show", 102, "City Marathon", map[string]string{"shooting_date": "2026-11-09", "location": "Riverside"}, false},
	{"evening-news", 1, "Pilot", nil, false},
}

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	def, err := workflow.Load(cfg.Workflow.DefinitionFile)
	if err != nil {
		log.Fatalf("Failed to load workflow definition: %v", err)
	}
	svc := services.NewWorkflowService(store, def, services.WithLogger(logger))
	ctx = services.WithActor(ctx, "seed-script")

	if err := seed(ctx, svc, logger); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	logger.Info("Seeding complete!")
}

func seed(ctx context.Context, svc services.Workflow, logger *logging.Logger) error {
	existing, err := svc.ListEpisodes(ctx)
	if err != nil {
		return err
	}
	type key struct {
		program string
		number  int
	}
	seen := make(map[key]bool, len(existing))
	for _, ep := range existing {
		seen[key{ep.ProgramID, ep.EpisodeNumber}] = true
	}

	for _, d := range demoEpisodes {
		if seen[key{d.ProgramID, d.EpisodeNumber}] {
			logger.Info("Skipping existing episode", "program", d.ProgramID, "number", d.EpisodeNumber)
			continue
		}

		ep, err := svc.CreateEpisode(ctx, services.CreateEpisodeRequest{
			ProgramID:     d.ProgramID,
			EpisodeNumber: d.EpisodeNumber,
			Title:         d.Title,
		})
		if err != nil {
			logger.Error("Failed to create episode", "title", d.Title, "error", err)
			continue
		}

		creative, _, err := svc.CreateSubWork(ctx, services.CreateSubWorkRequest{
			EpisodeID:  ep.ID,
			Discipline: models.DisciplineCreative,
			Fields:     d.Fields,
		})
		if err != nil {
			return err
		}
		if d.Submit {
			if _, _, err := svc.UpdateSubWorkStatus(ctx, creative.ID, models.StatusSubmitted, "seeded"); err != nil {
				return err
			}
		}
		logger.Info("Seeded episode", "title", d.Title, "id", ep.ID)
	}
	return nil
}
