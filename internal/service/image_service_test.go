package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runrevr/imagerefresh/internal/provider"
	"github.com/runrevr/imagerefresh/internal/repository"
	"github.com/runrevr/imagerefresh/internal/telemetry"
	"github.com/runrevr/imagerefresh/pkg/logger"
)

type fakeObjectStore struct {
	uploads int
	failAt  int // 1-based upload that errors, 0 for never
	deleted []string
}

func (f *fakeObjectStore) Upload(ctx context.Context, data []byte, contentType, category string) (string, string, error) {
	f.uploads++
	if f.failAt != 0 && f.uploads == f.failAt {
		return "", "", errors.New("object store unavailable")
	}
	key := fmt.Sprintf("%s/%d.png", category, f.uploads)
	return key, f.ResolveURL(key), nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjectStore) ResolveURL(key string) string {
	return "https://cdn.example.com/" + key
}

func newImageService(t *testing.T, store objectStore) (*ImageService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := NewImageService(
		repository.NewImageRepository(db),
		repository.NewRequestRepository(db),
		store,
		logger.New(slog.LevelError),
		telemetry.New(prometheus.NewRegistry()),
		10<<20,
		45,
	)
	return svc, mock
}

func newValidationOnlyImageService(maxBytes int64) *ImageService {
	// Collaborators stay nil: validation failures must reject the upload
	// before any storage is touched.
	return NewImageService(nil, nil, nil, logger.New(slog.LevelError), telemetry.New(prometheus.NewRegistry()), maxBytes, 45)
}

func TestSaveOriginalRejectsOversizedPayload(t *testing.T) {
	svc := newValidationOnlyImageService(16)

	_, err := svc.SaveOriginal(context.Background(), make([]byte, 17), nil)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestSaveOriginalRejectsUnsupportedMediaType(t *testing.T) {
	svc := newValidationOnlyImageService(1 << 20)

	_, err := svc.SaveOriginal(context.Background(), []byte("definitely not an image"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedMediaType)
}

func TestSaveOriginalRoundTrip(t *testing.T) {
	store := &fakeObjectStore{}
	svc, mock := newImageService(t, store)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stored_images")).
		WillReturnResult(sqlmock.NewResult(11, 1))

	identityID := int64(7)
	img, err := svc.SaveOriginal(context.Background(), tinyPNG, &identityID)
	require.NoError(t, err)

	assert.Equal(t, int64(11), img.ID)
	assert.Equal(t, "originals/1.png", img.Key)
	assert.Equal(t, img.URL, svc.ResolveURL(img.Key), "stored URL and key must resolve to the same address")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveResultPersistsAllVariants(t *testing.T) {
	store := &fakeObjectStore{}
	svc, mock := newImageService(t, store)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stored_images")).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transformation_results")).
		WillReturnResult(sqlmock.NewResult(21, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stored_images")).
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transformation_results")).
		WillReturnResult(sqlmock.NewResult(22, 1))

	assets := []provider.OutputAsset{
		{Data: tinyPNG, ContentType: "image/png"},
		{Data: tinyPNG, ContentType: "image/png"},
	}
	results, err := svc.SaveResult(context.Background(), 42, 7, 3, assets)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "https://cdn.example.com/results/1.png", results[0].URL)
	assert.Equal(t, "https://cdn.example.com/results/2.png", results[1].URL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveResultToleratesSecondaryVariantFailure(t *testing.T) {
	store := &fakeObjectStore{failAt: 2}
	svc, mock := newImageService(t, store)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stored_images")).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transformation_results")).
		WillReturnResult(sqlmock.NewResult(21, 1))

	assets := []provider.OutputAsset{
		{Data: tinyPNG, ContentType: "image/png"},
		{Data: tinyPNG, ContentType: "image/png"},
	}
	results, err := svc.SaveResult(context.Background(), 42, 7, 3, assets)
	require.NoError(t, err, "a failed secondary variant must not fail the request")

	require.Len(t, results, 1)
	assert.Equal(t, "https://cdn.example.com/results/1.png", results[0].URL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveResultFirstVariantMustPersist(t *testing.T) {
	store := &fakeObjectStore{failAt: 1}
	svc, _ := newImageService(t, store)

	assets := []provider.OutputAsset{{Data: tinyPNG, ContentType: "image/png"}}
	_, err := svc.SaveResult(context.Background(), 42, 7, 3, assets)
	assert.Error(t, err)
}

func TestSaveResultRejectsEmptyBatch(t *testing.T) {
	svc := newValidationOnlyImageService(1 << 20)

	_, err := svc.SaveResult(context.Background(), 1, 1, 1, nil)
	assert.Error(t, err)
}
