package labelx

import (
	"context"
	"fmt"
	"strings"
)

// The public predict type "author_name" is stored in the warehouse column "author".
const (
	PredictTypeAuthorName = "author_name"
	PredictTypeAuthor     = "author"
)

// NormalizePredictType rewrites known aliases to their warehouse column name.
func NormalizePredictType(predictType string) string {
	if predictType == PredictTypeAuthorName {
		return PredictTypeAuthor
	}
	return predictType
}

// Validator checks a submitted TaskConfig before anything is dispatched.
type Validator struct {
	patterns PatternResolver
}

func NewValidator(patterns PatternResolver) *Validator {
	return &Validator{patterns: patterns}
}

// Validate returns the normalized config with its pattern attached, or a
// validation *Error. It performs no writes and is safe to retry.
func (v *Validator) Validate(ctx context.Context, cfg TaskConfig) (TaskConfig, error) {
	const op = "validate"

	if strings.TrimSpace(cfg.ModelType) == "" || strings.TrimSpace(cfg.PredictType) == "" {
		return TaskConfig{}, &Error{Kind: KindInvalidConfig, Op: op, Detail: "model_type and predict_type are required"}
	}
	if !cfg.StartTime.Before(cfg.EndTime) {
		return TaskConfig{}, &Error{Kind: KindInvalidTimeRange, Op: op}
	}
	if cfg.Countdown < 0 {
		return TaskConfig{}, &Error{Kind: KindInvalidConfig, Op: op, Detail: fmt.Sprintf("countdown must be non-negative, got %d", cfg.Countdown)}
	}

	// Pattern files are keyed by the public predict type.
	pattern, err := v.patterns.Resolve(ctx, cfg.ModelType, cfg.PredictType)
	if err != nil {
		return TaskConfig{}, newError(KindPatternResolution, op, err)
	}
	cfg.Pattern = pattern
	cfg.PredictType = NormalizePredictType(cfg.PredictType)
	return cfg, nil
}
