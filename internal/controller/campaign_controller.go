package controller

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/dialwave/dialwave-backend/internal/errors"
	"github.com/dialwave/dialwave-backend/internal/service"
)

// CampaignController exposes the engine's external commands over HTTP.
type CampaignController struct {
	CampaignService *service.CampaignService
}

func (cc *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	campaign, err := cc.CampaignService.CreateCampaign(in)
	if err != nil {
		var badRecipient *appErrors.ErrInvalidRecipient
		if errors.As(err, &badRecipient) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Println("❌ Error creating campaign:", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(campaign)
}

func (cc *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := cc.CampaignService.ListCampaigns(page, pageSize, channel, status)
	if err != nil {
		http.Error(w, "failed to fetch campaigns: "+err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (cc *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := cc.CampaignService.GetCampaignDetails(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

func (cc *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	if err := cc.CampaignService.StartCampaign(id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "running"})
}

func (cc *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	if err := cc.CampaignService.PauseCampaign(id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "paused"})
}

func (cc *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	if err := cc.CampaignService.DeleteCampaign(id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (cc *CampaignController) GetProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	progress, err := cc.CampaignService.GetProgress(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(progress)
}

func (cc *CampaignController) ListItems(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	items, pagination, err := cc.CampaignService.ListItems(id, page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := map[string]interface{}{
		"data":       items,
		"pagination": pagination,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (cc *CampaignController) ListExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	records, pagination, err := cc.CampaignService.ListExecutions(id, page, pageSize)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := map[string]interface{}{
		"data":       records,
		"pagination": pagination,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func campaignID(w http.ResponseWriter, r *http.Request) (int, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	var notFound *appErrors.ErrCampaignNotFound
	if errors.As(err, &notFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var badTransition *appErrors.ErrInvalidTransition
	if errors.As(err, &badTransition) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	log.Println("❌ campaign request failed:", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
