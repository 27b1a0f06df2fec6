package labelx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Pattern is the resource that configures the label stage for a
// (model_type, predict_type) pair.
type Pattern struct {
	ModelType   string         `json:"model_type"`
	PredictType string         `json:"predict_type"`
	Source      string         `json:"source"`
	Rules       map[string]any `json:"rules"`
}

// PatternResolver looks up the pattern for a model/predict type pair.
type PatternResolver interface {
	Resolve(ctx context.Context, modelType, predictType string) (*Pattern, error)
}

var (
	ErrPatternNotFound = errors.New("pattern not found")

	patternNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	patternExts   = []string{".yaml", ".yml", ".toml", ".json"}
)

// DirPatternResolver reads patterns from <Root>/<model_type>/<predict_type>.<ext>.
type DirPatternResolver struct {
	Root string
}

func NewDirPatternResolver(root string) *DirPatternResolver {
	return &DirPatternResolver{Root: root}
}

func (r *DirPatternResolver) Resolve(ctx context.Context, modelType, predictType string) (*Pattern, error) {
	if !patternNameRe.MatchString(modelType) || !patternNameRe.MatchString(predictType) {
		return nil, fmt.Errorf("invalid pattern name %q/%q", modelType, predictType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(r.Root, modelType)
	for _, ext := range patternExts {
		path := filepath.Join(dir, predictType+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read pattern %s: %w", path, err)
		}
		rules, err := decodePattern(ext, data)
		if err != nil {
			return nil, fmt.Errorf("parse pattern %s: %w", path, err)
		}
		return &Pattern{
			ModelType:   modelType,
			PredictType: predictType,
			Source:      path,
			Rules:       rules,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPatternNotFound, filepath.Join(dir, predictType+".{"+strings.Join(trimDots(patternExts), ",")+"}"))
}

func decodePattern(ext string, data []byte) (map[string]any, error) {
	rules := map[string]any{}
	switch ext {
	case ".toml":
		if err := toml.Unmarshal(data, &rules); err != nil {
			return nil, err
		}
	default:
		// JSON is valid YAML.
		if err := yaml.Unmarshal(data, &rules); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func trimDots(exts []string) []string {
	out := make([]string, len(exts))
	for i, e := range exts {
		out[i] = strings.TrimPrefix(e, ".")
	}
	return out
}
