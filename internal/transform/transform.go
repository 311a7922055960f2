// Package transform converts request and response payloads between the
// shapes clients send and the shapes backend services expect.
//
// Four kinds are supported: none (identity), json (field mapping,
// templating and field add/remove), xml (map to document and back) and
// custom (a restricted CEL expression over the payload).
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// Transformation errors. Every failure returned by Transform is a
// *util.TransformationError wrapping one of these.
var (
	ErrInvalidDataType   = errors.New("invalid data type for transformation")
	ErrInvalidFieldPath  = errors.New("invalid field path")
	ErrTemplateExecution = errors.New("template execution failed")
	ErrUnknownKind       = errors.New("unknown transform kind")
)

// Transformer applies configured payload transformations.
type Transformer struct {
	logger    observability.Logger
	evaluator *Evaluator
	templates *templateCache
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(t *Transformer) {
		t.logger = logger
	}
}

// WithEvaluator shares an expression evaluator, typically with the
// aggregator so both reuse the same compiled programs.
func WithEvaluator(e *Evaluator) Option {
	return func(t *Transformer) {
		t.evaluator = e
	}
}

// WithTemplateCacheSize bounds the number of parsed templates kept.
func WithTemplateCacheSize(n int) Option {
	return func(t *Transformer) {
		t.templates = newTemplateCache(n)
	}
}

// New creates a Transformer.
func New(opts ...Option) (*Transformer, error) {
	t := &Transformer{
		logger:    observability.NopLogger(),
		templates: newTemplateCache(defaultMaxTemplates),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.evaluator == nil {
		e, err := NewEvaluator(WithEvaluatorLogger(t.logger))
		if err != nil {
			return nil, err
		}
		t.evaluator = e
	}
	return t, nil
}

// Evaluator returns the expression evaluator used by custom transforms.
func (t *Transformer) Evaluator() *Evaluator {
	return t.evaluator
}

var (
	defaultTransformer     *Transformer
	defaultTransformerOnce sync.Once
)

// Default returns a shared Transformer with default settings.
func Default() *Transformer {
	defaultTransformerOnce.Do(func() {
		t, err := New()
		if err != nil {
			// the environment only declares static variables
			panic(err)
		}
		defaultTransformer = t
	})
	return defaultTransformer
}

// Transform applies kind to data using the shared Transformer.
func Transform(data any, kind string, cfg config.TransformConfig) (any, error) {
	return Default().Transform(context.Background(), data, kind, cfg)
}

// Transform applies kind to data. The input is never modified.
func (t *Transformer) Transform(ctx context.Context, data any, kind string, cfg config.TransformConfig) (any, error) {
	kind = config.EffectiveKind(kind)
	if kind == config.TransformNone {
		return data, nil
	}

	start := time.Now()
	out, err := t.apply(ctx, data, kind, cfg)
	recordOperation(kind, err, time.Since(start).Seconds())
	if err != nil {
		t.logger.WithContext(ctx).Debug("transformation failed",
			observability.String("kind", kind),
			observability.Error(err),
		)
		return nil, util.NewTransformationError(kind, err)
	}
	return out, nil
}

func (t *Transformer) apply(ctx context.Context, data any, kind string, cfg config.TransformConfig) (any, error) {
	switch kind {
	case config.TransformJSON:
		return t.transformJSON(data, cfg)
	case config.TransformXML:
		return transformXML(data, cfg)
	case config.TransformCustom:
		if cfg.Expression == "" {
			return nil, fmt.Errorf("%w: custom transform has no expression", ErrExpression)
		}
		return t.evaluator.Eval(ctx, cfg.Expression, map[string]any{VarData: data})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// transformJSON maps, renders, then adds and removes fields. A non-empty
// mapping is a projection: only mapped fields survive.
func (t *Transformer) transformJSON(data any, cfg config.TransformConfig) (any, error) {
	data, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	result := deepCopy(data)

	if len(cfg.Mapping) > 0 {
		projected := make(map[string]any, len(cfg.Mapping))
		sources := make([]string, 0, len(cfg.Mapping))
		for src := range cfg.Mapping {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			v, ok := Lookup(data, src)
			if !ok {
				continue
			}
			if err := setPath(projected, cfg.Mapping[src], deepCopy(v)); err != nil {
				return nil, err
			}
		}
		result = projected
	}

	if cfg.Template != "" {
		rendered, err := t.templates.render(cfg.Template, data)
		if err != nil {
			return nil, err
		}
		result = rendered
	}

	if len(cfg.AddFields) == 0 && len(cfg.RemoveFields) == 0 {
		return result, nil
	}

	obj, ok := result.(map[string]any)
	if !ok {
		if result != nil {
			return nil, fmt.Errorf("%w: cannot add or remove fields on %T", ErrInvalidDataType, result)
		}
		obj = make(map[string]any)
	}
	fields := make([]string, 0, len(cfg.AddFields))
	for path := range cfg.AddFields {
		fields = append(fields, path)
	}
	sort.Strings(fields)
	for _, path := range fields {
		if err := setPath(obj, path, deepCopy(cfg.AddFields[path])); err != nil {
			return nil, err
		}
	}
	for _, path := range cfg.RemoveFields {
		if err := deletePath(obj, path); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// transformXML encodes maps as XML documents and decodes XML text into maps.
func transformXML(data any, cfg config.TransformConfig) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		return mapToXML(v, cfg.RootElement)
	case string:
		return xmlToMap([]byte(v), cfg.UnwrapRoot)
	case []byte:
		return xmlToMap(v, cfg.UnwrapRoot)
	default:
		return nil, fmt.Errorf("%w: xml transform needs a map or XML text, got %T", ErrInvalidDataType, data)
	}
}

// decodeText parses raw JSON text; already decoded values pass through.
func decodeText(data any) (any, error) {
	var raw []byte
	switch v := data.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return data, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: payload is not JSON: %w", ErrInvalidDataType, err)
	}
	return out, nil
}
