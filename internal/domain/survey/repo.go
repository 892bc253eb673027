package survey

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no survey configuration matches the lookup.
var ErrNotFound = errors.New("survey config not found")

type ConfigRepository interface {
	Create(ctx context.Context, c *SurveyConfig) error
	GetByID(ctx context.Context, id int64) (*SurveyConfig, error)
	// GetActive returns the newest active configuration.
	GetActive(ctx context.Context) (*SurveyConfig, error)
	Update(ctx context.Context, c *SurveyConfig) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*SurveyConfig, int, error)
}
