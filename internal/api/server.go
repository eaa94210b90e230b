package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/runrevr/imagerefresh/internal/models"
	"github.com/runrevr/imagerefresh/internal/provider"
	"github.com/runrevr/imagerefresh/internal/service"
)

// Server is the public HTTP surface consumed by the web frontend. It is a
// thin adapter over the orchestrator and supporting services.
type Server struct {
	addr       string
	log        *slog.Logger
	identities *service.IdentityService
	credits    *service.CreditService
	images     *service.ImageService
	transforms *service.TransformService
	promos     *service.PromoService
	packs      *service.PackService
	router     *chi.Mux

	maxUploadBytes int64
}

func NewServer(addr string, log *slog.Logger, identities *service.IdentityService, credits *service.CreditService, images *service.ImageService, transforms *service.TransformService, promos *service.PromoService, packs *service.PackService, maxUploadBytes int64) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:           addr,
		log:            log,
		identities:     identities,
		credits:        credits,
		images:         images,
		transforms:     transforms,
		promos:         promos,
		packs:          packs,
		router:         r,
		maxUploadBytes: maxUploadBytes,
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/transform", s.handleTransform)
		r.Get("/user-images/{userID}", s.handleUserImages)
		r.Get("/credits", s.handleCredits)
		r.Post("/promo/redeem", s.handlePromoRedeem)
		r.Get("/packs", s.handlePacks)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 6 * time.Minute, // transform calls wait on the provider
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolveIdentity(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "identity", err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1024)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds the size limit")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "image file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "could not read upload")
		return
	}

	img, err := s.images.SaveOriginal(r.Context(), data, &ident.ID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPayloadTooLarge):
			s.writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds the size limit")
		case errors.Is(err, service.ErrUnsupportedMediaType):
			s.writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "only JPEG, PNG and WebP images are accepted")
		default:
			s.internalError(w, err)
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":  img.ID,
		"url": img.URL,
	})
}

type transformRequest struct {
	OriginalImagePath string `json:"originalImagePath"`
	Prompt            string `json:"prompt"`
	ImageSize         string `json:"imageSize"`
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolveIdentity(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "identity", err.Error())
		return
	}

	var req transformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if req.OriginalImagePath == "" || req.Prompt == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "originalImagePath and prompt are required")
		return
	}

	source, err := s.images.FindByPath(r.Context(), req.OriginalImagePath)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if source == nil {
		s.writeError(w, http.StatusNotFound, "not_found", "original image not found")
		return
	}

	outcome, err := s.transforms.Transform(r.Context(), ident, source, req.Prompt, req.ImageSize)
	if err != nil {
		s.writeTransformError(w, err)
		return
	}

	resp := map[string]any{
		"transformedImageUrl": outcome.URLs[0],
	}
	if len(outcome.URLs) > 1 {
		resp["secondTransformedImageUrl"] = outcome.URLs[1]
	}
	if outcome.Warning != "" {
		resp["warning"] = outcome.Warning
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// writeTransformError maps the classified pipeline failure onto the small set
// of user-facing messages. Only here does an internal kind become UI copy.
func (s *Server) writeTransformError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrInsufficientCredit) {
		s.writeError(w, http.StatusPaymentRequired, "insufficient_credit", "no credits available; buy a pack or wait for the monthly free credit")
		return
	}

	var terr *provider.TransformError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case provider.KindContentPolicy:
			msg := terr.Message
			if msg == "" {
				msg = "the image or prompt was rejected by the content policy"
			}
			s.writeError(w, http.StatusUnprocessableEntity, "content_policy", msg+"; try a different image or prompt")
			return
		case provider.KindTransient:
			s.writeError(w, http.StatusServiceUnavailable, "transient", "the image service is busy, please try again later")
			return
		case provider.KindConfiguration:
			s.log.Error("provider configuration error", "err", terr)
			s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
			return
		case provider.KindEncodingRejected:
			s.writeError(w, http.StatusBadGateway, "transform_failed", "the transformation could not be completed, please try again later")
			return
		}
	}

	s.internalError(w, err)
}

func (s *Server) handleUserImages(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid user id")
		return
	}
	ident, err := s.identities.FindByUserID(r.Context(), userID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if ident == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}

	images, err := s.images.ListForIdentity(r.Context(), ident.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(images))
	for _, img := range images {
		entry := map[string]any{
			"id":        img.ID,
			"url":       img.URL,
			"kind":      img.Kind,
			"createdAt": img.CreatedAt,
		}
		if img.ExpiresAt != nil {
			entry["expiresAt"] = img.ExpiresAt
		}
		out = append(out, entry)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolveIdentity(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "identity", err.Error())
		return
	}
	avail, err := s.credits.CheckAvailable(r.Context(), ident.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	free := 0
	if avail.HasFreeCredit {
		free = 1
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"free":  free,
		"paid":  avail.PaidCredits,
		"total": avail.Total,
	})
}

type promoRedeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handlePromoRedeem(w http.ResponseWriter, r *http.Request) {
	ident, err := s.resolveIdentity(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "identity", err.Error())
		return
	}
	var req promoRedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "code is required")
		return
	}

	credits, err := s.promos.Redeem(r.Context(), ident.ID, strings.TrimSpace(req.Code))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPromoInvalid):
			s.writeError(w, http.StatusNotFound, "promo_invalid", "unknown promo code")
		case errors.Is(err, service.ErrPromoAlreadyRedeemed):
			s.writeError(w, http.StatusConflict, "promo_redeemed", "this code was already redeemed")
		case errors.Is(err, service.ErrPromoExhausted):
			s.writeError(w, http.StatusGone, "promo_exhausted", "this code has no uses left")
		default:
			s.internalError(w, err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"creditsGranted": credits})
}

func (s *Server) handlePacks(w http.ResponseWriter, r *http.Request) {
	packs, err := s.packs.ListActive(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(packs))
	for _, p := range packs {
		out = append(out, map[string]any{
			"id":              p.ID,
			"title":           p.Title,
			"description":     p.Description,
			"currency":        p.Currency,
			"priceMinorUnits": p.PriceMinorUnits,
			"credits":         p.Credits,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) resolveIdentity(r *http.Request) (*models.Identity, error) {
	var userID *int64
	if raw := r.Header.Get("X-User-ID"); raw != "" {
		id, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid X-User-ID header")
		}
		userID = &id
	}
	fingerprint := strings.TrimSpace(r.Header.Get("X-Device-Fingerprint"))
	return s.identities.Resolve(r.Context(), userID, fingerprint)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("internal error", "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
}
