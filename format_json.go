package syncstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type jsonFormat struct {
	indent string
}

// JSONFormat returns the default format. Entries are stored as JSON values
// under an "entries" object.
func JSONFormat() Format {
	return jsonFormat{}
}

// IndentedJSONFormat is JSONFormat with human friendly indentation.
func IndentedJSONFormat() Format {
	return jsonFormat{indent: "  "}
}

type jsonEnvelope struct {
	Version   int                        `json:"version"`
	Account   Account                    `json:"account"`
	Authority string                     `json:"authority"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Entries   map[string]json.RawMessage `json:"entries"`
}

func (jsonFormat) Name() string {
	return "json"
}

func (f jsonFormat) Marshal(doc Document) ([]byte, error) {
	envelope := jsonEnvelope{
		Version:   doc.Version,
		Account:   doc.Account,
		Authority: doc.Authority,
		UpdatedAt: doc.UpdatedAt,
		Entries:   make(map[string]json.RawMessage, len(doc.Entries)),
	}
	for key, value := range doc.Entries {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("json: entry %q: %w", key, err)
		}
		envelope.Entries[key] = raw
	}
	if f.indent != "" {
		return json.MarshalIndent(envelope, "", f.indent)
	}
	return json.Marshal(envelope)
}

func (jsonFormat) Unmarshal(data []byte) (RawDocument, error) {
	var envelope jsonEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return RawDocument{}, fmt.Errorf("json: %w", err)
	}
	doc := RawDocument{
		Version:   envelope.Version,
		Account:   envelope.Account,
		Authority: envelope.Authority,
		UpdatedAt: envelope.UpdatedAt,
		Entries:   make(map[string]RawValue, len(envelope.Entries)),
	}
	for key, raw := range envelope.Entries {
		doc.Entries[key] = jsonRaw(raw)
	}
	return doc, nil
}

type jsonRaw json.RawMessage

func (r jsonRaw) Decode(target any) error {
	if generic, ok := target.(*any); ok {
		decoder := json.NewDecoder(bytes.NewReader(r))
		decoder.UseNumber()
		var out any
		if err := decoder.Decode(&out); err != nil {
			return err
		}
		*generic = normalizeJSONNumbers(out)
		return nil
	}
	return json.Unmarshal(r, target)
}

// normalizeJSONNumbers turns json.Number into int64 when the literal is an
// integer and float64 otherwise, so evaluators see real numbers.
func normalizeJSONNumbers(value any) any {
	switch typed := value.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(typed.String(), 10, 64); err == nil {
			return i
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case map[string]any:
		for key, item := range typed {
			typed[key] = normalizeJSONNumbers(item)
		}
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = normalizeJSONNumbers(item)
		}
		return typed
	default:
		return value
	}
}
