// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/dialwave/dialwave-backend/internal/config"
	"github.com/dialwave/dialwave-backend/internal/controller"
	"github.com/dialwave/dialwave-backend/internal/db"
	"github.com/dialwave/dialwave-backend/internal/repository"
	"github.com/dialwave/dialwave-backend/internal/scheduler"
	"github.com/dialwave/dialwave-backend/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg := config.Load()

	// Init DB
	db.Init()

	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	itemRepo := &repository.ItemRepository{DB: db.DB}
	execLogRepo := &repository.ExecutionLogRepository{DB: db.DB}

	campaignService := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		ItemRepo:      itemRepo,
		ExecLogRepo:   execLogRepo,
		DefaultRegion: cfg.DefaultRegion,
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
	}

	// Promote scheduled campaigns to running once their time arrives
	sched := scheduler.New(campaignRepo)
	if err := sched.Start(); err != nil {
		log.Fatal("failed to start scheduler:", err)
	}
	defer sched.Stop()

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaign)
	r.Post("/campaigns/{id}/start", campaignController.StartCampaign)
	r.Post("/campaigns/{id}/pause", campaignController.PauseCampaign)
	r.Delete("/campaigns/{id}", campaignController.DeleteCampaign)
	r.Get("/campaigns/{id}/progress", campaignController.GetProgress)
	r.Get("/campaigns/{id}/items", campaignController.ListItems)
	r.Get("/campaigns/{id}/executions", campaignController.ListExecutions)

	log.Println("🚀 Server running on :" + cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
