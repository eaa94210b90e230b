package models

import "time"

// TransformStrategy is one of the supported ways of encoding an outbound
// request to the image provider.
type TransformStrategy string

const (
	StrategyMultipart  TransformStrategy = "multipart"
	StrategyJSONBase64 TransformStrategy = "json-base64"
)

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusSucceeded RequestStatus = "succeeded"
	StatusFailed    RequestStatus = "failed"
)

type ImageKind string

const (
	KindOriginal    ImageKind = "original"
	KindTransformed ImageKind = "transformed"
	KindVariant     ImageKind = "variant"
)

// CreditType records which balance a debit was taken from.
type CreditType string

const (
	CreditFree CreditType = "free"
	CreditPaid CreditType = "paid"
)

// Identity attributes credit consumption to a registered user or to an
// anonymous device fingerprint. Exactly one of UserID and Fingerprint is set.
type Identity struct {
	ID          int64
	UserID      *int64
	Fingerprint string
	CreatedAt   time.Time
}

type CreditBalance struct {
	IdentityID       int64
	FreeCreditUsed   bool
	LastFreeCreditAt *time.Time
	PaidCredits      int
	UpdatedAt        time.Time
}

// Availability is the read-side view of a balance.
type Availability struct {
	HasFreeCredit bool `json:"free_available"`
	PaidCredits   int  `json:"paid"`
	Total         int  `json:"total"`
}

type StoredImage struct {
	ID            int64
	IdentityID    *int64
	Key           string
	URL           string
	Kind          ImageKind
	ContentType   string
	ParentImageID *int64
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

type TransformationRequest struct {
	ID               int64
	IdentityID       int64
	SourceImageID    int64
	Prompt           string
	RequestedSize    string
	Status           RequestStatus
	StrategyAttempts []TransformStrategy
	FailureKind      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type TransformationResult struct {
	ID        int64
	RequestID int64
	ImageID   int64
	URL       string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type PromoCode struct {
	ID        int64
	Code      string
	Credits   int
	MaxUses   int
	Uses      int
	CreatedAt time.Time
}

// CreditPack is a purchasable bundle of paid credits shown to the frontend.
type CreditPack struct {
	ID              int64
	Title           string
	Description     string
	Currency        string
	PriceMinorUnits int
	Credits         int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
