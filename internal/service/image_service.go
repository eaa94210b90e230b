package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/runrevr/imagerefresh/internal/models"
	"github.com/runrevr/imagerefresh/internal/provider"
	"github.com/runrevr/imagerefresh/internal/repository"
	"github.com/runrevr/imagerefresh/internal/telemetry"
)

// objectStore is the slice of storage.Uploader the image service needs.
type objectStore interface {
	Upload(ctx context.Context, data []byte, contentType, category string) (key, url string, err error)
	Delete(ctx context.Context, key string) error
	ResolveURL(key string) string
}

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrPayloadTooLarge      = errors.New("payload too large")
)

var allowedUploadMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// ImageService is the image store: originals and transformation outputs in S3
// with their metadata rows, retention-based expiry included.
type ImageService struct {
	images        *repository.ImageRepository
	requests      *repository.RequestRepository
	uploader      objectStore
	log           *slog.Logger
	metrics       *telemetry.Metrics
	maxUploadSize int64
	retention     time.Duration
}

func NewImageService(images *repository.ImageRepository, requests *repository.RequestRepository, uploader objectStore, log *slog.Logger, metrics *telemetry.Metrics, maxUploadBytes int64, retentionDays int) *ImageService {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 * 1024 * 1024
	}
	if retentionDays <= 0 {
		retentionDays = 45
	}
	return &ImageService{
		images:        images,
		requests:      requests,
		uploader:      uploader,
		log:           log,
		metrics:       metrics,
		maxUploadSize: maxUploadBytes,
		retention:     time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// SaveOriginal validates and persists an uploaded source image.
func (s *ImageService) SaveOriginal(ctx context.Context, data []byte, identityID *int64) (*models.StoredImage, error) {
	if int64(len(data)) > s.maxUploadSize {
		return nil, ErrPayloadTooLarge
	}
	contentType := provider.SniffContentType(data)
	if !allowedUploadMIMEs[contentType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, contentType)
	}

	key, url, err := s.uploader.Upload(ctx, data, contentType, "originals")
	if err != nil {
		return nil, fmt.Errorf("upload original: %w", err)
	}

	img := &models.StoredImage{
		IdentityID:  identityID,
		Key:         key,
		URL:         url,
		Kind:        models.KindOriginal,
		ContentType: contentType,
	}
	return s.images.Insert(ctx, img)
}

// SaveResult persists 1–2 generated variants for a request. The first asset
// must persist; a failure on a secondary variant is logged and dropped rather
// than failing an already successful transformation.
func (s *ImageService) SaveResult(ctx context.Context, requestID, identityID, parentImageID int64, assets []provider.OutputAsset) ([]models.TransformationResult, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("no assets to save")
	}

	expiresAt := time.Now().UTC().Add(s.retention)
	var results []models.TransformationResult

	for i, asset := range assets {
		kind := models.KindTransformed
		if i > 0 {
			kind = models.KindVariant
		}
		contentType := asset.ContentType
		if contentType == "" {
			contentType = provider.SniffContentType(asset.Data)
		}

		key, url, err := s.uploader.Upload(ctx, asset.Data, contentType, "results")
		if err != nil {
			if len(results) == 0 {
				return nil, fmt.Errorf("upload result: %w", err)
			}
			s.log.Error("secondary variant persist failed", "request", requestID, "variant", i, "err", err)
			continue
		}

		img := &models.StoredImage{
			IdentityID:    &identityID,
			Key:           key,
			URL:           url,
			Kind:          kind,
			ContentType:   contentType,
			ParentImageID: &parentImageID,
			ExpiresAt:     &expiresAt,
		}
		if img, err = s.images.Insert(ctx, img); err != nil {
			if len(results) == 0 {
				return nil, err
			}
			s.log.Error("secondary variant row insert failed", "request", requestID, "variant", i, "err", err)
			continue
		}

		result := &models.TransformationResult{
			RequestID: requestID,
			ImageID:   img.ID,
			URL:       img.URL,
			ExpiresAt: expiresAt,
		}
		if result, err = s.requests.InsertResult(ctx, result); err != nil {
			if len(results) == 0 {
				return nil, err
			}
			s.log.Error("secondary result row insert failed", "request", requestID, "variant", i, "err", err)
			continue
		}
		result.URL = img.URL
		results = append(results, *result)
	}

	return results, nil
}

// ResolveURL maps an internal object key to its public URL.
func (s *ImageService) ResolveURL(key string) string {
	return s.uploader.ResolveURL(key)
}

// FindByPath resolves a stored image from either its object key or its full
// public URL, which is what the frontend sends back on transform requests.
func (s *ImageService) FindByPath(ctx context.Context, path string) (*models.StoredImage, error) {
	key := strings.TrimPrefix(strings.TrimPrefix(path, s.uploader.ResolveURL("")), "/")
	img, err := s.images.FindByKey(ctx, key)
	if err != nil || img != nil {
		return img, err
	}
	return s.images.FindByKey(ctx, strings.TrimPrefix(path, "/"))
}

func (s *ImageService) ListForIdentity(ctx context.Context, identityID int64) ([]models.StoredImage, error) {
	return s.images.ListByIdentity(ctx, identityID)
}

// PurgeExpired removes images past their retention window, S3 objects first.
// Runs on a schedule, never inline with request handling.
func (s *ImageService) PurgeExpired(ctx context.Context) (int, error) {
	const batchSize = 500

	expired, err := s.images.ListExpired(ctx, time.Now().UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	purged := 0
	for _, img := range expired {
		if err := s.uploader.Delete(ctx, img.Key); err != nil {
			s.log.Error("purge object delete failed", "image", img.ID, "key", img.Key, "err", err)
			continue
		}
		if err := s.requests.DeleteResultsByImage(ctx, img.ID); err != nil {
			s.log.Error("purge result rows delete failed", "image", img.ID, "err", err)
			continue
		}
		if err := s.images.Delete(ctx, img.ID); err != nil {
			s.log.Error("purge image row delete failed", "image", img.ID, "err", err)
			continue
		}
		purged++
	}

	if purged > 0 {
		s.metrics.ImagesPurged.Add(float64(purged))
		s.log.Info("expired images purged", "count", purged)
	}
	return purged, nil
}
