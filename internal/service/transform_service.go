package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/runrevr/imagerefresh/internal/config"
	"github.com/runrevr/imagerefresh/internal/models"
	"github.com/runrevr/imagerefresh/internal/provider"
	"github.com/runrevr/imagerefresh/internal/telemetry"
)

// creditLedger is the slice of CreditService the orchestrator needs.
type creditLedger interface {
	CheckAvailable(ctx context.Context, identityID int64) (models.Availability, error)
	Debit(ctx context.Context, identityID int64) (models.CreditType, error)
}

// resultStore is the slice of ImageService the orchestrator needs.
type resultStore interface {
	SaveResult(ctx context.Context, requestID, identityID, parentImageID int64, assets []provider.OutputAsset) ([]models.TransformationResult, error)
}

// transformClient is the provider client surface.
type transformClient interface {
	Send(ctx context.Context, enc *provider.EncodedRequest) ([]provider.OutputAsset, error)
	Download(ctx context.Context, assets []provider.OutputAsset) ([]provider.OutputAsset, error)
}

// requestRecorder persists the audit trail of a request's lifecycle.
type requestRecorder interface {
	Create(ctx context.Context, req *models.TransformationRequest) (*models.TransformationRequest, error)
	MarkSucceeded(ctx context.Context, id int64, attempts []models.TransformStrategy) error
	MarkFailed(ctx context.Context, id int64, attempts []models.TransformStrategy, failureKind string) error
}

// TransformOutcome is the result of a completed transformation request.
type TransformOutcome struct {
	RequestID  int64
	URLs       []string
	CreditType models.CreditType
	// Warning is set when the result was delivered but the debit failed;
	// accounting reconciliation picks those up out of band.
	Warning string
}

// TransformService orchestrates one transformation end to end with the
// ordering invariant: credit check, external call, then debit. Never reversed.
type TransformService struct {
	ledger   creditLedger
	store    resultStore
	client   transformClient
	requests requestRecorder
	log      *slog.Logger
	metrics  *telemetry.Metrics

	model    string
	variants int
	deadline time.Duration
}

func NewTransformService(cfg config.Config, log *slog.Logger, metrics *telemetry.Metrics, ledger creditLedger, store resultStore, client transformClient, requests requestRecorder) *TransformService {
	deadline := cfg.RequestDeadline
	if deadline <= 0 {
		deadline = 5 * time.Minute
	}
	variants := cfg.VariantsPerResult
	if variants < 1 {
		variants = 1
	}
	return &TransformService{
		ledger:   ledger,
		store:    store,
		client:   client,
		requests: requests,
		log:      log,
		metrics:  metrics,
		model:    cfg.ProviderModel,
		variants: variants,
		deadline: deadline,
	}
}

// Transform runs the credit-gated pipeline for one source image and prompt.
// Strategies are tried strictly in order, each at most once; a failed strategy
// fully resolves before the next starts. No credit is consumed on any failure
// path.
func (s *TransformService) Transform(ctx context.Context, identity *models.Identity, source *models.StoredImage, prompt, size string) (*TransformOutcome, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	avail, err := s.ledger.CheckAvailable(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if avail.Total < 1 {
		return nil, ErrInsufficientCredit
	}

	req, err := s.requests.Create(ctx, &models.TransformationRequest{
		IdentityID:    identity.ID,
		SourceImageID: source.ID,
		Prompt:        prompt,
		RequestedSize: provider.NormalizeSize(size),
	})
	if err != nil {
		return nil, fmt.Errorf("create request record: %w", err)
	}

	sourceAssets, err := s.client.Download(ctx, []provider.OutputAsset{{URL: source.URL}})
	if err != nil {
		s.fail(ctx, req.ID, nil, err)
		return nil, fmt.Errorf("fetch source image: %w", err)
	}

	spec := provider.RequestSpec{
		Model:       s.model,
		Prompt:      prompt,
		Size:        size,
		Image:       sourceAssets[0].Data,
		ContentType: sourceAssets[0].ContentType,
		Count:       s.variants,
	}

	var attempts []models.TransformStrategy
	var outputs []provider.OutputAsset
	var lastErr error

	for _, strategy := range provider.Strategies {
		enc, buildErr := provider.BuildRequest(strategy, spec)
		if buildErr != nil {
			lastErr = &provider.TransformError{Kind: provider.KindEncodingRejected, Err: buildErr}
			continue
		}

		attempts = append(attempts, strategy)
		outputs, lastErr = s.client.Send(ctx, enc)
		if lastErr == nil {
			s.metrics.StrategyAttempts.WithLabelValues(string(strategy), "success").Inc()
			break
		}
		s.metrics.StrategyAttempts.WithLabelValues(string(strategy), "failure").Inc()

		var terr *provider.TransformError
		if errors.As(lastErr, &terr) && terr.RetryableWithNextStrategy() {
			s.log.Info("strategy rejected, trying next encoding", "request", req.ID, "strategy", strategy)
			continue
		}
		break
	}

	if outputs == nil {
		s.fail(ctx, req.ID, attempts, lastErr)
		return nil, lastErr
	}

	downloaded, err := s.client.Download(ctx, outputs)
	if err != nil {
		s.fail(ctx, req.ID, attempts, err)
		return nil, err
	}

	// Bookkeeping past this point must land even when the request deadline
	// has expired or the caller disconnected; a request row may never be
	// left pending once the strategies have resolved.
	bookCtx := context.WithoutCancel(ctx)

	results, err := s.store.SaveResult(ctx, req.ID, identity.ID, source.ID, downloaded)
	if err != nil {
		s.metrics.TransformRequests.WithLabelValues("failed").Inc()
		if markErr := s.requests.MarkFailed(bookCtx, req.ID, attempts, "storage"); markErr != nil {
			s.log.Error("mark request failed", "request", req.ID, "err", markErr)
		}
		return nil, fmt.Errorf("persist results: %w", err)
	}

	if err := s.requests.MarkSucceeded(bookCtx, req.ID, attempts); err != nil {
		s.log.Error("mark request succeeded", "request", req.ID, "err", err)
	}

	outcome := &TransformOutcome{RequestID: req.ID}
	for _, r := range results {
		outcome.URLs = append(outcome.URLs, r.URL)
	}

	// Debit strictly after the result is persisted. If it fails now the user
	// keeps the output; reconciliation handles the rare inconsistency.
	creditType, err := s.ledger.Debit(bookCtx, identity.ID)
	if err != nil {
		s.log.Warn("debit failed after delivered result", "request", req.ID, "identity", identity.ID, "err", err)
		outcome.Warning = "credit could not be recorded; balance reconciliation pending"
	} else {
		outcome.CreditType = creditType
	}

	s.metrics.TransformRequests.WithLabelValues("succeeded").Inc()
	return outcome, nil
}

func (s *TransformService) fail(ctx context.Context, requestID int64, attempts []models.TransformStrategy, cause error) {
	kind := "unknown"
	var terr *provider.TransformError
	if errors.As(cause, &terr) {
		kind = string(terr.Kind)
	}
	s.metrics.TransformRequests.WithLabelValues("failed").Inc()
	// The deadline is often exactly why this path runs; the terminal status
	// write gets a context that outlives it.
	if err := s.requests.MarkFailed(context.WithoutCancel(ctx), requestID, attempts, kind); err != nil {
		s.log.Error("mark request failed", "request", requestID, "err", err)
	}
}
