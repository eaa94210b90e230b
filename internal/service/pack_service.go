package service

import (
	"context"
	"fmt"

	"github.com/runrevr/imagerefresh/internal/models"
	"github.com/runrevr/imagerefresh/internal/repository"
)

const defaultCurrency = "USD"

// PackService manages the credit-pack catalog shown to the frontend. Checkout
// happens outside this system; packs here are catalog data only.
type PackService struct {
	repo *repository.PackRepository
}

type CreatePackInput struct {
	Title           string
	Description     string
	Currency        string
	PriceMinorUnits int
	Credits         int
	IsActive        *bool
}

type UpdatePackInput struct {
	Title           *string
	Description     *string
	Currency        *string
	PriceMinorUnits *int
	Credits         *int
	IsActive        *bool
}

func NewPackService(repo *repository.PackRepository) *PackService {
	return &PackService{repo: repo}
}

func (s *PackService) ListActive(ctx context.Context) ([]models.CreditPack, error) {
	return s.repo.List(ctx, true)
}

func (s *PackService) List(ctx context.Context) ([]models.CreditPack, error) {
	return s.repo.List(ctx, false)
}

func (s *PackService) Create(ctx context.Context, input CreatePackInput) (*models.CreditPack, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if input.Currency == "" {
		input.Currency = defaultCurrency
	}
	if input.PriceMinorUnits <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	if input.Credits <= 0 {
		return nil, fmt.Errorf("credits must be positive")
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	pack := models.CreditPack{
		Title:           input.Title,
		Description:     input.Description,
		Currency:        input.Currency,
		PriceMinorUnits: input.PriceMinorUnits,
		Credits:         input.Credits,
		IsActive:        isActive,
	}
	return s.repo.Create(ctx, &pack)
}

func (s *PackService) Update(ctx context.Context, id int64, input UpdatePackInput) (*models.CreditPack, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("pack not found")
	}
	if input.Title != nil {
		existing.Title = *input.Title
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = *input.Currency
	}
	if input.PriceMinorUnits != nil && *input.PriceMinorUnits > 0 {
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.Credits != nil && *input.Credits > 0 {
		existing.Credits = *input.Credits
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	return s.repo.Update(ctx, existing)
}

func (s *PackService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}
