package repository

import (
	"context"
	"errors"
	"fmt"
	"newsletter/internal/model"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrClaimNotHeld is returned when a response is saved for a key that has no pending claim.
var ErrClaimNotHeld = errors.New("idempotency key is not claimed")

// ClaimOutcome is the result of trying to claim an idempotency key.
type ClaimOutcome int

const (
	// ClaimAcquired means the caller inserted the record and must produce the response.
	ClaimAcquired ClaimOutcome = iota
	// ClaimCompleted means a response was already saved; it is returned alongside.
	ClaimCompleted
	// ClaimInFlight means another execution holds the key and has not saved a response yet.
	ClaimInFlight
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimAcquired:
		return "acquired"
	case ClaimCompleted:
		return "completed"
	case ClaimInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// IdempotencyInterface is the only writer of the idempotency table.
type IdempotencyInterface interface {
	Claim(ctx context.Context, callerID, key string) (ClaimOutcome, *model.SavedResponse, error)
	Get(ctx context.Context, callerID, key string) (*model.IdempotencyRecord, error)
	SaveResponse(ctx context.Context, callerID, key string, resp *model.SavedResponse) error
	WithTx(tx *gorm.DB) IdempotencyInterface
}

type IdempotencyRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewIdempotencyRepository(db *gorm.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db, now: time.Now}
}

// Claim inserts a bare record for the key. The unique primary key is the mutual exclusion
// primitive: a conflicting insert means somebody else claimed the key first.
//
// Must run inside the transaction that will later call SaveResponse, so that a rollback
// releases the claim together with the business writes.
func (r *IdempotencyRepository) Claim(ctx context.Context, callerID, key string) (ClaimOutcome, *model.SavedResponse, error) {
	// The previous owner may roll back between our insert and our read; one more insert
	// then takes the freed key.
	for attempt := 0; attempt < 2; attempt++ {
		rec := model.IdempotencyRecord{
			CallerID:       callerID,
			IdempotencyKey: key,
			CreatedAt:      r.now().UTC(),
		}
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return 0, nil, fmt.Errorf("claim idempotency key: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return ClaimAcquired, nil, nil
		}

		existing, err := r.Get(ctx, callerID, key)
		if err != nil {
			return 0, nil, err
		}
		if existing == nil {
			continue
		}
		if existing.Completed() {
			return ClaimCompleted, existing.Response(), nil
		}
		return ClaimInFlight, nil, nil
	}
	return ClaimInFlight, nil, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, callerID, key string) (*model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	err := r.db.WithContext(ctx).
		Where("caller_id = ? AND idempotency_key = ?", callerID, key).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load idempotency record: %w", err)
	}
	return &rec, nil
}

// SaveResponse attaches the response to a claimed record. A record is written once and never
// updated again.
func (r *IdempotencyRepository) SaveResponse(ctx context.Context, callerID, key string, resp *model.SavedResponse) error {
	if resp == nil {
		return errors.New("save idempotency response: nil response")
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	res := r.db.WithContext(ctx).Model(&model.IdempotencyRecord{}).
		Where("caller_id = ? AND idempotency_key = ? AND response_status IS NULL", callerID, key).
		Updates(map[string]any{
			"response_status":  resp.StatusCode,
			"response_headers": datatypes.JSONSlice[model.HeaderPair](resp.Headers),
			"response_body":    body,
		})
	if res.Error != nil {
		return fmt.Errorf("save idempotency response: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return ErrClaimNotHeld
	}
	return nil
}

func (r *IdempotencyRepository) WithTx(tx *gorm.DB) IdempotencyInterface {
	return &IdempotencyRepository{db: tx, now: r.now}
}
