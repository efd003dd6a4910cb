package syncstate

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type yamlFormat struct{}

// YAMLFormat stores the document as YAML. Entry values follow yaml.v3
// encoding rules; struct fields without yaml tags are lowercased.
func YAMLFormat() Format {
	return yamlFormat{}
}

type yamlEnvelope struct {
	Version   int            `yaml:"version"`
	Account   Account        `yaml:"account"`
	Authority string         `yaml:"authority"`
	UpdatedAt time.Time      `yaml:"updated_at"`
	Entries   map[string]any `yaml:"entries"`
}

type yamlRawEnvelope struct {
	Version   int                  `yaml:"version"`
	Account   Account              `yaml:"account"`
	Authority string               `yaml:"authority"`
	UpdatedAt time.Time            `yaml:"updated_at"`
	Entries   map[string]yaml.Node `yaml:"entries"`
}

func (yamlFormat) Name() string {
	return "yaml"
}

func (yamlFormat) Marshal(doc Document) ([]byte, error) {
	entries := doc.Entries
	if entries == nil {
		entries = map[string]any{}
	}
	out, err := yaml.Marshal(yamlEnvelope{
		Version:   doc.Version,
		Account:   doc.Account,
		Authority: doc.Authority,
		UpdatedAt: doc.UpdatedAt,
		Entries:   entries,
	})
	if err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return out, nil
}

func (yamlFormat) Unmarshal(data []byte) (RawDocument, error) {
	var envelope yamlRawEnvelope
	if err := yaml.Unmarshal(data, &envelope); err != nil {
		return RawDocument{}, fmt.Errorf("yaml: %w", err)
	}
	doc := RawDocument{
		Version:   envelope.Version,
		Account:   envelope.Account,
		Authority: envelope.Authority,
		UpdatedAt: envelope.UpdatedAt,
		Entries:   make(map[string]RawValue, len(envelope.Entries)),
	}
	for key, node := range envelope.Entries {
		node := node
		doc.Entries[key] = yamlRaw{node: &node}
	}
	return doc, nil
}

type yamlRaw struct {
	node *yaml.Node
}

func (r yamlRaw) Decode(target any) error {
	if r.node == nil {
		return nil
	}
	return r.node.Decode(target)
}
