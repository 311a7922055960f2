package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// Content types written for transformed bodies.
const (
	ContentTypeJSON = "application/json"
	ContentTypeXML  = "application/xml; charset=utf-8"
)

// DecodeBody turns a raw body into a transformable value: decoded JSON
// for JSON payloads, text otherwise. Empty bodies decode to nil.
func DecodeBody(body []byte, contentType string) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if isJSON(contentType, trimmed) {
		var v any
		if err := json.Unmarshal(trimmed, &v); err == nil {
			return v
		}
	}
	return string(body)
}

func isJSON(contentType string, body []byte) bool {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
		}
	}
	return body[0] == '{' || body[0] == '['
}

// EncodeBody serializes a transformed value. Text is written verbatim;
// everything else is encoded as JSON.
func EncodeBody(v any, kind, originalContentType string) ([]byte, string, error) {
	switch val := v.(type) {
	case nil:
		return nil, originalContentType, nil
	case string:
		if config.EffectiveKind(kind) == config.TransformXML {
			return []byte(val), ContentTypeXML, nil
		}
		return []byte(val), originalContentType, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, "", fmt.Errorf("encode transformed payload: %w", err)
		}
		return b, ContentTypeJSON, nil
	}
}

// TransformBody decodes body, applies kind and re-encodes the result. The
// returned content type reflects the new payload. With kind none the body
// and content type are returned untouched.
func (t *Transformer) TransformBody(
	ctx context.Context,
	body []byte,
	contentType, kind string,
	cfg config.TransformConfig,
) ([]byte, string, error) {
	if config.EffectiveKind(kind) == config.TransformNone {
		return body, contentType, nil
	}

	out, err := t.Transform(ctx, DecodeBody(body, contentType), kind, cfg)
	if err != nil {
		return nil, "", err
	}
	encoded, ct, err := EncodeBody(out, kind, contentType)
	if err != nil {
		return nil, "", util.NewTransformationError(config.EffectiveKind(kind), err)
	}
	return encoded, ct, nil
}
