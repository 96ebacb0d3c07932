package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vastramart/api/internal/domain"
	pfirestore "github.com/vastramart/api/internal/platform/firestore"
	"github.com/vastramart/api/internal/repositories"
)

const accessCodesCollection = "accessCodes"

type accessCodeDocument struct {
	Code       string     `firestore:"code"`
	IssuedTo   string     `firestore:"issuedTo"`
	IssuedAt   time.Time  `firestore:"issuedAt"`
	ExpiresAt  time.Time  `firestore:"expiresAt"`
	ConsumedAt *time.Time `firestore:"consumedAt,omitempty"`
}

// AccessCodeRepository implements repositories.AccessCodeRepository backed by
// Firestore.
type AccessCodeRepository struct {
	provider *pfirestore.Provider
	codes    *pfirestore.BaseRepository[accessCodeDocument]
}

// NewAccessCodeRepository constructs a Firestore-backed access code repository.
func NewAccessCodeRepository(provider *pfirestore.Provider) (*AccessCodeRepository, error) {
	if provider == nil {
		return nil, errors.New("access code repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[accessCodeDocument](provider, accessCodesCollection, nil)
	return &AccessCodeRepository{
		provider: provider,
		codes:    base,
	}, nil
}

// Insert stores a freshly issued code.
func (r *AccessCodeRepository) Insert(ctx context.Context, code domain.AccessCode) (domain.AccessCode, error) {
	if r == nil || r.provider == nil {
		return domain.AccessCode{}, errors.New("access code repository not initialised")
	}
	id := strings.TrimSpace(code.ID)
	if id == "" {
		return domain.AccessCode{}, errors.New("access code repository: id is required")
	}
	doc := accessCodeDocument{
		Code:      code.Code,
		IssuedTo:  code.IssuedTo,
		IssuedAt:  code.IssuedAt.UTC(),
		ExpiresAt: code.ExpiresAt.UTC(),
	}
	if _, err := r.codes.Create(ctx, id, doc); err != nil {
		return domain.AccessCode{}, err
	}
	return code, nil
}

// Consume atomically burns the code. Unknown codes fail not-found; consumed or
// expired codes fail with a precondition conflict.
func (r *AccessCodeRepository) Consume(ctx context.Context, code string, now time.Time) (domain.AccessCode, error) {
	if r == nil || r.provider == nil {
		return domain.AccessCode{}, errors.New("access code repository not initialised")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.AccessCode{}, errors.New("access code repository: code is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.AccessCode{}, err
	}
	now = now.UTC()

	var consumed domain.AccessCode
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		query := client.Collection(accessCodesCollection).Where("code", "==", code).Limit(1)
		snaps, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return status.Errorf(codes.NotFound, "access code %s not found", code)
		}
		snap := snaps[0]

		var doc accessCodeDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore access codes decode %s: %w", snap.Ref.ID, err)
		}
		record := accessCodeFromDocument(snap.Ref.ID, doc)
		if record.Consumed() {
			return status.Errorf(codes.FailedPrecondition, "access code %s already consumed", code)
		}
		if record.Expired(now) {
			return status.Errorf(codes.FailedPrecondition, "access code %s expired", code)
		}

		if err := tx.Update(snap.Ref, []firestore.Update{
			{Path: "consumedAt", Value: now},
		}); err != nil {
			return err
		}
		record.ConsumedAt = &now
		consumed = record
		return nil
	})
	if err != nil {
		return domain.AccessCode{}, pfirestore.WrapError("accessCodes.consume", err)
	}
	return consumed, nil
}

func accessCodeFromDocument(id string, doc accessCodeDocument) domain.AccessCode {
	return domain.AccessCode{
		ID:         id,
		Code:       doc.Code,
		IssuedTo:   doc.IssuedTo,
		IssuedAt:   doc.IssuedAt,
		ExpiresAt:  doc.ExpiresAt,
		ConsumedAt: doc.ConsumedAt,
	}
}

// Ensure interface compliance.
var _ repositories.AccessCodeRepository = (*AccessCodeRepository)(nil)
