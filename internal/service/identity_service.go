package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/runrevr/imagerefresh/internal/models"
	"github.com/runrevr/imagerefresh/internal/repository"
)

var ErrAmbiguousIdentity = errors.New("exactly one of user id and device fingerprint must be given")

// IdentityService resolves credit-consuming callers to exactly one identity:
// a registered user or an anonymous device fingerprint, never both.
type IdentityService struct {
	identities *repository.IdentityRepository
}

func NewIdentityService(identities *repository.IdentityRepository) *IdentityService {
	return &IdentityService{identities: identities}
}

func (s *IdentityService) Resolve(ctx context.Context, userID *int64, fingerprint string) (*models.Identity, error) {
	switch {
	case userID != nil && fingerprint != "":
		return nil, ErrAmbiguousIdentity
	case userID != nil:
		ident, _, err := s.identities.EnsureUser(ctx, *userID)
		if err != nil {
			return nil, fmt.Errorf("resolve user identity: %w", err)
		}
		return ident, nil
	case fingerprint != "":
		ident, _, err := s.identities.EnsureFingerprint(ctx, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("resolve fingerprint identity: %w", err)
		}
		return ident, nil
	default:
		return nil, ErrAmbiguousIdentity
	}
}

func (s *IdentityService) FindByUserID(ctx context.Context, userID int64) (*models.Identity, error) {
	return s.identities.FindByUserID(ctx, userID)
}
