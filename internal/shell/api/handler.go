// Package api provides HTTP handlers for the StackRent API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/stackrent/stackrent/internal/core/domain"
	"github.com/stackrent/stackrent/internal/core/sshkey"
	"github.com/stackrent/stackrent/internal/shell/billing"
	"github.com/stackrent/stackrent/internal/shell/compute"
	"github.com/stackrent/stackrent/internal/shell/keysync"
	"github.com/stackrent/stackrent/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	store   store.Store
	compute *compute.Service
	keys    *keysync.Service
	engine  *billing.Engine
	logger  *slog.Logger
}

// NewHandler creates a new API handler. engine may be nil, in which case the
// manual billing run endpoint reports unavailable.
func NewHandler(s store.Store, computeSvc *compute.Service, keysSvc *keysync.Service, engine *billing.Engine, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		store:   s,
		compute: computeSvc,
		keys:    keysSvc,
		engine:  engine,
		logger:  l,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Provider administration
		r.Route("/providers", func(r chi.Router) {
			r.Post("/", h.handleCreateProvider)
			r.Get("/", h.handleListProviders)
			r.Get("/{id}", h.handleGetProvider)
			r.Post("/{id}/deactivate", h.handleDeactivateProvider)
			r.Post("/{id}/validate", h.handleValidateProvider)
			r.Get("/{id}/catalog/sizes", h.handleProviderSizes)
			r.Get("/{id}/catalog/images", h.handleProviderImages)
			r.Get("/{id}/catalog/regions", h.handleProviderRegions)
		})

		// Plan routes
		r.Route("/plans", func(r chi.Router) {
			r.Post("/", h.handleCreatePlan)
			r.Get("/", h.handleListPlans)
			r.Get("/{id}", h.handleGetPlan)
		})

		// Instance routes
		r.Route("/instances", func(r chi.Router) {
			r.Post("/", h.handleCreateInstance)
			r.Get("/", h.handleListInstances)
			r.Get("/{id}", h.handleGetInstance)
			r.Post("/{id}/refresh", h.handleRefreshInstance)
			r.Post("/{id}/actions", h.handleInstanceAction)
			r.Delete("/{id}", h.handleDeleteInstance)
		})

		// Billing routes
		r.Route("/billing", func(r chi.Router) {
			r.Get("/status", h.handleBillingStatus)
			r.Post("/run", h.handleBillingRun)
		})

		// Wallet routes, keyed by organization
		r.Route("/wallets", func(r chi.Router) {
			r.Post("/", h.handleCreateWallet)
			r.Get("/{orgID}", h.handleGetWallet)
			r.Post("/{orgID}/credit", h.handleCreditWallet)
			r.Get("/{orgID}/transactions", h.handleListTransactions)
		})

		// SSH key routes
		r.Route("/keys", func(r chi.Router) {
			r.Post("/", h.handleCreateKey)
			r.Get("/", h.handleListKeys)
			r.Get("/{id}", h.handleGetKey)
			r.Post("/{id}/resync", h.handleResyncKey)
			r.Delete("/{id}", h.handleDeleteKey)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if _, err := h.store.ListActiveProviders(r.Context()); err != nil {
		checks["database"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Provider Handlers
// =============================================================================

func (h *Handler) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req CreateProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	kind := domain.ProviderKind(req.Kind)
	if !kind.IsValid() {
		h.writeError(w, http.StatusBadRequest, "unknown provider kind: "+req.Kind, "validation_error")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required", "validation_error")
		return
	}

	prov, err := h.compute.AddProvider(r.Context(), req.Name, kind, req.Credentials)
	if err != nil {
		h.writeDomainError(w, err, "failed to register provider")
		return
	}

	h.writeJSON(w, http.StatusCreated, providerToResponse(prov))
}

func (h *Handler) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListProviders(r.Context(), h.listOptions(r))
	if err != nil {
		h.logger.Error("failed to list providers", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list providers", "internal_error")
		return
	}

	resp := ListProvidersResponse{
		Providers: make([]ProviderResponse, 0, len(providers)),
		Total:     len(providers),
	}
	for i := range providers {
		resp.Providers = append(resp.Providers, providerToResponse(&providers[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	prov, err := h.store.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "provider not found", "provider_not_found")
			return
		}
		h.logger.Error("failed to get provider", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get provider", "internal_error")
		return
	}
	h.writeJSON(w, http.StatusOK, providerToResponse(prov))
}

func (h *Handler) handleDeactivateProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.compute.DeactivateProvider(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err, "failed to deactivate provider")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleValidateProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.compute.ValidateProviderCredentials(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err, "credential validation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}

func (h *Handler) handleProviderSizes(w http.ResponseWriter, r *http.Request) {
	sizes, err := h.compute.ListProviderPlans(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "failed to list provider sizes")
		return
	}

	resp := make([]CatalogSizeResponse, 0, len(sizes))
	for _, s := range sizes {
		resp = append(resp, CatalogSizeResponse{
			ID:          s.ID,
			Name:        s.Name,
			VCPUs:       s.VCPUs,
			MemoryMB:    s.MemoryMB,
			DiskGB:      s.DiskGB,
			PriceHourly: s.PriceHourly,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleProviderImages(w http.ResponseWriter, r *http.Request) {
	images, err := h.compute.ListProviderImages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "failed to list provider images")
		return
	}

	resp := make([]CatalogImageResponse, 0, len(images))
	for _, img := range images {
		resp = append(resp, CatalogImageResponse{
			ID:          img.ID,
			Name:        img.Name,
			Application: img.Application,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleProviderRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.compute.ListProviderRegions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "failed to list provider regions")
		return
	}

	resp := make([]CatalogRegionResponse, 0, len(regions))
	for _, reg := range regions {
		resp = append(resp, CatalogRegionResponse{
			ID:        reg.ID,
			Name:      reg.Name,
			Available: reg.Available,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Plan Handlers
// =============================================================================

func (h *Handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	base, err := decimal.NewFromString(req.HourlyBase)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid hourly_base", "validation_error")
		return
	}
	markup := decimal.Zero
	if req.HourlyMarkup != "" {
		if markup, err = decimal.NewFromString(req.HourlyMarkup); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid hourly_markup", "validation_error")
			return
		}
	}

	plan, err := domain.NewPlan(req.ProviderID, req.UpstreamPlanID, req.Name, base, markup)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	plan.VCPUs = req.VCPUs
	plan.MemoryMB = req.MemoryMB
	plan.DiskGB = req.DiskGB
	plan.TransferGB = req.TransferGB
	plan.StoppedRatePercent = req.StoppedRatePercent
	if err := plan.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	if err := h.store.CreatePlan(r.Context(), plan); err != nil {
		if isForeignKey(err) {
			h.writeError(w, http.StatusBadRequest, "provider not found: "+req.ProviderID, "validation_error")
			return
		}
		h.logger.Error("failed to create plan", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create plan", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, planToResponse(plan))
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	var (
		plans []domain.Plan
		err   error
	)
	if providerID := r.URL.Query().Get("provider_id"); providerID != "" {
		plans, err = h.store.ListPlansByProvider(r.Context(), providerID)
	} else {
		plans, err = h.store.ListPlans(r.Context(), h.listOptions(r))
	}
	if err != nil {
		h.logger.Error("failed to list plans", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list plans", "internal_error")
		return
	}

	resp := ListPlansResponse{
		Plans: make([]PlanResponse, 0, len(plans)),
		Total: len(plans),
	}
	for i := range plans {
		resp.Plans = append(resp.Plans, planToResponse(&plans[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.store.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "plan not found", "plan_not_found")
			return
		}
		h.logger.Error("failed to get plan", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get plan", "internal_error")
		return
	}
	h.writeJSON(w, http.StatusOK, planToResponse(plan))
}

// =============================================================================
// Instance Handlers
// =============================================================================

func (h *Handler) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if req.OrgID == "" {
		h.writeError(w, http.StatusBadRequest, "org_id is required", "validation_error")
		return
	}

	instance, err := h.compute.CreateInstance(r.Context(), req.OrgID, compute.CreateInstanceRequest{
		ProviderID: req.ProviderID,
		PlanID:     req.PlanID,
		Label:      req.Label,
		Region:     req.Region,
		Image:      req.Image,
		AppImage:   req.AppImage,
		PublicKey:  req.PublicKey,
		SSHKeyIDs:  req.SSHKeyIDs,
		Backups:    req.Backups,
		Monitoring: req.Monitoring,
	})
	if err != nil {
		h.writeDomainError(w, err, "failed to create instance")
		return
	}

	h.writeJSON(w, http.StatusCreated, instanceToResponse(instance))
}

func (h *Handler) handleListInstances(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		h.writeError(w, http.StatusBadRequest, "org_id is required", "validation_error")
		return
	}

	opts := h.listOptions(r)
	instances, err := h.compute.ListInstances(r.Context(), orgID, opts)
	if err != nil {
		h.logger.Error("failed to list instances", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list instances", "internal_error")
		return
	}

	resp := ListInstancesResponse{
		Instances: make([]InstanceResponse, 0, len(instances)),
		Total:     len(instances),
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	}
	for i := range instances {
		resp.Instances = append(resp.Instances, instanceToResponse(&instances[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := h.compute.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "failed to get instance")
		return
	}
	h.writeJSON(w, http.StatusOK, instanceToResponse(instance))
}

func (h *Handler) handleRefreshInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := h.compute.RefreshInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "failed to refresh instance")
		return
	}
	h.writeJSON(w, http.StatusOK, instanceToResponse(instance))
}

func (h *Handler) handleInstanceAction(w http.ResponseWriter, r *http.Request) {
	var req InstanceActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.compute.PerformAction(r.Context(), id, domain.InstanceAction(req.Action)); err != nil {
		h.writeDomainError(w, err, "failed to perform action")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (h *Handler) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.compute.PerformAction(r.Context(), id, domain.ActionDelete); err != nil {
		h.writeDomainError(w, err, "failed to delete instance")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Billing Handlers
// =============================================================================

// handleBillingStatus reports both drivers' coordination rows. The scheduler
// heartbeats even on cycles where it defers to the daemon, so a fresh
// scheduler heartbeat with an old last_run_at means it is alive and standing
// down, not stuck.
func (h *Handler) handleBillingStatus(w http.ResponseWriter, r *http.Request) {
	resp := BillingStatusResponse{Drivers: make([]DriverStatusResponse, 0, 2)}

	for _, driver := range []string{domain.DriverDaemon, domain.DriverScheduler} {
		status, err := h.store.GetDaemonStatus(r.Context(), driver)
		if err != nil {
			if isNotFound(err) {
				continue // driver has never heartbeated
			}
			h.logger.Error("failed to read billing status", "driver", driver, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to read billing status", "internal_error")
			return
		}
		resp.Drivers = append(resp.Drivers, DriverStatusResponse{
			Driver:          status.Driver,
			LastHeartbeat:   status.LastHeartbeat,
			LastRunAt:       status.LastRunAt,
			LastRunSuccess:  status.LastRunSuccess,
			LastRunError:    status.LastRunError,
			InstancesBilled: status.InstancesBilled,
			AmountBilled:    status.AmountBilled.String(),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleBillingRun(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		h.writeError(w, http.StatusServiceUnavailable, "billing engine not configured", "billing_unavailable")
		return
	}

	result := h.engine.RunPass(r.Context())

	resp := BillingRunResponse{
		InstancesSeen:   result.InstancesSeen,
		InstancesBilled: result.InstancesBilled,
		AmountBilled:    result.AmountBilled.String(),
		Suspended:       result.Suspended,
		Errors:          make([]string, 0, len(result.Errors)),
	}
	if resp.Suspended == nil {
		resp.Suspended = []string{}
	}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Wallet Handlers
// =============================================================================

func (h *Handler) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	wallet, err := domain.NewWallet(req.OrgID, req.Currency)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	if err := h.store.CreateWallet(r.Context(), wallet); err != nil {
		if isDuplicate(err) {
			h.writeError(w, http.StatusConflict, "organization already has a wallet", "wallet_exists")
			return
		}
		h.logger.Error("failed to create wallet", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create wallet", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, walletToResponse(wallet))
}

func (h *Handler) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.store.GetWalletByOrg(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "wallet not found", "wallet_not_found")
			return
		}
		h.logger.Error("failed to get wallet", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get wallet", "internal_error")
		return
	}
	h.writeJSON(w, http.StatusOK, walletToResponse(wallet))
}

func (h *Handler) handleCreditWallet(w http.ResponseWriter, r *http.Request) {
	var req CreditWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "amount must be a positive decimal", "validation_error")
		return
	}

	orgID := chi.URLParam(r, "orgID")
	var wallet *domain.Wallet

	err = h.store.WithTx(r.Context(), func(tx store.Store) error {
		wallet, err = tx.GetWalletByOrg(r.Context(), orgID)
		if err != nil {
			return err
		}

		txn, err := domain.NewTransaction(wallet.ID, amount, domain.TxnCredit)
		if err != nil {
			return err
		}
		txn.Description = req.Description
		if err := tx.CreateTransaction(r.Context(), txn); err != nil {
			return err
		}

		wallet.Credit(amount)
		return tx.UpdateWallet(r.Context(), wallet)
	})
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "wallet not found", "wallet_not_found")
			return
		}
		h.logger.Error("failed to credit wallet", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to credit wallet", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, walletToResponse(wallet))
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wallet, err := h.store.GetWalletByOrg(ctx, chi.URLParam(r, "orgID"))
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "wallet not found", "wallet_not_found")
			return
		}
		h.logger.Error("failed to get wallet", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get wallet", "internal_error")
		return
	}

	txns, err := h.store.ListTransactionsByWallet(ctx, wallet.ID, h.listOptions(r))
	if err != nil {
		h.logger.Error("failed to list transactions", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list transactions", "internal_error")
		return
	}

	resp := ListTransactionsResponse{
		Transactions: make([]TransactionResponse, 0, len(txns)),
		Total:        len(txns),
	}
	for _, t := range txns {
		resp.Transactions = append(resp.Transactions, TransactionResponse{
			ID:          t.ID,
			WalletID:    t.WalletID,
			Amount:      t.Amount.String(),
			Type:        string(t.Type),
			InstanceID:  t.InstanceID,
			Description: t.Description,
			CreatedAt:   t.CreatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SSH Key Handlers
// =============================================================================

func (h *Handler) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id is required", "validation_error")
		return
	}

	cred, err := h.keys.Add(r.Context(), req.UserID, req.Label, req.PublicKey)
	if err != nil {
		switch {
		case errors.Is(err, sshkey.ErrInvalidPublicKey):
			h.writeError(w, http.StatusBadRequest, "invalid SSH public key", "validation_error")
		case errors.Is(err, domain.ErrDuplicateFingerprint):
			h.writeError(w, http.StatusConflict, err.Error(), "duplicate_fingerprint")
		case errors.Is(err, domain.ErrCredentialLabelRequired):
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		default:
			h.writeDomainError(w, err, "failed to add key")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, keyToResponse(cred))
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id is required", "validation_error")
		return
	}

	creds, err := h.keys.List(r.Context(), userID, h.listOptions(r))
	if err != nil {
		h.logger.Error("failed to list keys", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list keys", "internal_error")
		return
	}

	resp := ListKeysResponse{
		Keys:  make([]KeyResponse, 0, len(creds)),
		Total: len(creds),
	}
	for i := range creds {
		resp.Keys = append(resp.Keys, keyToResponse(&creds[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetKey(w http.ResponseWriter, r *http.Request) {
	cred, err := h.keys.Get(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "failed to get key")
		return
	}
	h.writeJSON(w, http.StatusOK, keyToResponse(cred))
}

func (h *Handler) handleResyncKey(w http.ResponseWriter, r *http.Request) {
	cred, err := h.keys.Resync(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "failed to resync key")
		return
	}
	h.writeJSON(w, http.StatusOK, keyToResponse(cred))
}

func (h *Handler) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	removals, err := h.keys.Delete(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "failed to delete key")
		return
	}

	resp := DeleteKeyResponse{Removals: make(map[string]KeyRemovalResponse, len(removals))}
	for kind, res := range removals {
		resp.Removals[string(kind)] = KeyRemovalResponse{
			Removed: res.Removed,
			Error:   res.Error,
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) listOptions(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	return opts
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeDomainError maps a normalized error code to an HTTP status. fallback
// is used for errors carrying no code.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, fallback string) {
	var de *domain.Error
	if !errors.As(err, &de) {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "not found", "not_found")
			return
		}
		h.logger.Error(fallback, "error", err)
		h.writeError(w, http.StatusInternalServerError, fallback, "internal_error")
		return
	}

	status := http.StatusInternalServerError
	switch de.Code {
	case domain.CodeNotFound, domain.CodeProviderNotFound:
		status = http.StatusNotFound
	case domain.CodeProviderInactive:
		status = http.StatusConflict
	case domain.CodeForbidden:
		status = http.StatusForbidden
	case domain.CodeInsufficientFunds:
		status = http.StatusPaymentRequired
	case domain.CodeRateLimited:
		status = http.StatusTooManyRequests
	case domain.CodeInvalidCredentialFormat, domain.CodeUpstreamValidation, domain.CodeUnsupportedAction:
		status = http.StatusBadRequest
	case domain.CodeMissingCredentials, domain.CodeProviderUnavailable:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(fallback, "error", err)
	}
	h.writeError(w, status, de.Message, string(de.Code))
}

func providerToResponse(p *domain.Provider) ProviderResponse {
	return ProviderResponse{
		ID:        p.ID,
		Name:      p.Name,
		Kind:      string(p.Kind),
		Active:    p.Active,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func planToResponse(p *domain.Plan) PlanResponse {
	return PlanResponse{
		ID:                 p.ID,
		ProviderID:         p.ProviderID,
		UpstreamPlanID:     p.UpstreamPlanID,
		Name:               p.Name,
		VCPUs:              p.VCPUs,
		MemoryMB:           p.MemoryMB,
		DiskGB:             p.DiskGB,
		TransferGB:         p.TransferGB,
		HourlyBase:         p.HourlyBase.String(),
		HourlyMarkup:       p.HourlyMarkup.String(),
		HourlyRate:         p.HourlyRate().String(),
		StoppedRatePercent: p.StoppedRatePercent,
		Active:             p.Active,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func instanceToResponse(i *domain.ResourceInstance) InstanceResponse {
	return InstanceResponse{
		ID:                 i.ID,
		OrgID:              i.OrgID,
		ProviderID:         i.ProviderID,
		ProviderInstanceID: i.ProviderInstanceID,
		PlanID:             i.PlanID,
		Label:              i.Label,
		Region:             i.Region,
		Status:             string(i.Status),
		PublicIPv4:         i.PublicIPv4,
		PublicIPv6:         i.PublicIPv6,
		PrivateIPv4:        i.PrivateIPv4,
		ErrorMessage:       i.ErrorMessage,
		CreatedAt:          i.CreatedAt,
		UpdatedAt:          i.UpdatedAt,
		LastBilledAt:       i.LastBilledAt,
	}
}

func walletToResponse(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		ID:        w.ID,
		OrgID:     w.OrgID,
		Balance:   w.Balance.String(),
		Currency:  w.Currency,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func keyToResponse(c *domain.UserCredential) KeyResponse {
	resp := KeyResponse{
		ID:          c.ID,
		UserID:      c.UserID,
		Label:       c.Label,
		PublicKey:   c.PublicKey,
		Fingerprint: c.Fingerprint,
		Bindings:    make(map[string]KeyBindingResponse, len(c.Bindings)),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	for kind, b := range c.Bindings {
		resp.Bindings[string(kind)] = KeyBindingResponse{
			UpstreamKeyID: b.UpstreamKeyID,
			SyncError:     b.SyncError,
			Synced:        b.Synced(),
		}
	}
	return resp
}

// isNotFound checks if an error is a not found error.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// isDuplicate checks if an error is a unique constraint violation.
func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicateID)
}

// isForeignKey checks if an error is a foreign key violation.
func isForeignKey(err error) bool {
	return errors.Is(err, store.ErrForeignKey)
}
