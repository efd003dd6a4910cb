// Package openapi describes the sync state HTTP API, including the typed
// entries of a key registry, as an OpenAPI document.
package openapi

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-syncstate"
)

const statePath = "/accounts/{accountType}/{accountName}/authorities/{authority}"

// Document builds the OpenAPI document of the routes served by httpapi.
// Every key in registry becomes a property of the Entries schema.
func Document(registry *syncstate.Registry, opts ...Option) (map[string]any, error) {
	config := newGeneratorConfig(opts)

	entries, err := entriesSchema(registry)
	if err != nil {
		return nil, err
	}

	document := map[string]any{
		"openapi": config.openAPIVersion,
		"info":    buildInfo(config.info),
		"paths":   buildPaths(config.basePath, config.policies),
		"components": map[string]any{
			"schemas": map[string]any{
				"Account":         accountSchema(),
				"Ref":             refSchema(),
				"Meta":            metaSchema(),
				"Entries":         entries,
				"State":           stateSchema(),
				"PolicyResult":    policySchema(),
				"Error":           errorSchema(),
				"FieldDescriptor": fieldDescriptorSchema(),
			},
		},
	}
	if len(config.servers) > 0 {
		servers := make([]any, 0, len(config.servers))
		for _, url := range config.servers {
			servers = append(servers, map[string]any{"url": url})
		}
		document["servers"] = servers
	}
	if err := validateDocument(document); err != nil {
		return nil, err
	}
	return document, nil
}

func entriesSchema(registry *syncstate.Registry) (map[string]any, error) {
	properties := map[string]any{}
	for _, name := range registry.Names() {
		desc, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		schema, err := SchemaFor(desc.Type())
		if err != nil {
			return nil, fmt.Errorf("openapi: key %q: %w", name, err)
		}
		schema["x-go-type"] = desc.TypeName()
		properties[name] = schema
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}, nil
}

func buildInfo(info openapiInfo) map[string]any {
	out := map[string]any{
		"title":   info.Title,
		"version": info.Version,
	}
	if info.Description != "" {
		out["description"] = info.Description
	}
	return out
}

func buildPaths(prefix string, policies []string) map[string]any {
	refParams := []any{
		pathParameter("accountType"),
		pathParameter("accountName"),
		pathParameter("authority"),
	}
	policyParam := pathParameter("policy")
	if len(policies) > 0 {
		enum := make([]any, 0, len(policies))
		for _, name := range policies {
			enum = append(enum, name)
		}
		policyParam["schema"] = map[string]any{"type": "string", "enum": enum}
	}
	withPolicy := append(append([]any{}, refParams...), policyParam)

	return map[string]any{
		prefix + "/health": map[string]any{
			"get": operation("getHealth", "Liveness check", nil, map[string]any{
				"200": jsonResponse("OK", map[string]any{
					"type":       "object",
					"properties": map[string]any{"status": map[string]any{"type": "string"}},
				}),
			}),
		},
		prefix + "/keys": map[string]any{
			"get": operation("listKeys", "Registered keys and the active format", nil, map[string]any{
				"200": jsonResponse("OK", map[string]any{
					"type": "object",
					"properties": map[string]any{
						"format": map[string]any{"type": "string"},
						"keys":   map[string]any{"type": "array", "items": schemaRef("FieldDescriptor")},
					},
				}),
			}),
		},
		prefix + "/states": map[string]any{
			"get": operation("listStates", "Persisted refs", nil, map[string]any{
				"200": jsonResponse("OK", map[string]any{
					"type": "object",
					"properties": map[string]any{
						"states": map[string]any{"type": "array", "items": schemaRef("Ref")},
					},
				}),
				"501": errorResponse("Store cannot list states"),
			}),
		},
		prefix + statePath: map[string]any{
			"get": operation("getState", "Load a sync state", refParams, map[string]any{
				"200": jsonResponse("OK", schemaRef("State")),
				"400": errorResponse("Invalid ref"),
				"404": errorResponse("State not found"),
				"422": errorResponse("State is corrupt"),
			}),
			"delete": operation("deleteState", "Delete a sync state", refParams, map[string]any{
				"204": map[string]any{"description": "Deleted"},
				"400": errorResponse("Invalid ref"),
			}),
		},
		prefix + statePath + "/policies/{policy}": map[string]any{
			"get": operation("checkPolicy", "Evaluate a named policy against a sync state", withPolicy, map[string]any{
				"200": jsonResponse("OK", schemaRef("PolicyResult")),
				"404": errorResponse("State or policy not found"),
				"422": errorResponse("Policy evaluation failed"),
			}),
		},
	}
}

func operation(id, summary string, params []any, responses map[string]any) map[string]any {
	op := map[string]any{
		"operationId": id,
		"summary":     summary,
		"responses":   responses,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	return op
}

func pathParameter(name string) map[string]any {
	return map[string]any{
		"name":     name,
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string"},
	}
}

func jsonResponse(description string, schema map[string]any) map[string]any {
	return map[string]any{
		"description": description,
		"content": map[string]any{
			"application/json": map[string]any{"schema": schema},
		},
	}
}

func errorResponse(description string) map[string]any {
	return jsonResponse(description, schemaRef("Error"))
}

func schemaRef(name string) map[string]any {
	return map[string]any{"$ref": "#/components/schemas/" + name}
}

func object(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func accountSchema() map[string]any {
	return object(map[string]any{
		"name": map[string]any{"type": "string"},
		"type": map[string]any{"type": "string"},
	}, "name", "type")
}

func refSchema() map[string]any {
	return object(map[string]any{
		"account":   schemaRef("Account"),
		"authority": map[string]any{"type": "string"},
	}, "account", "authority")
}

func metaSchema() map[string]any {
	return object(map[string]any{
		"snapshot_id": map[string]any{"type": "string"},
		"etag":        map[string]any{"type": "string"},
		"updated_at":  map[string]any{"type": "string", "format": "date-time"},
		"extra": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		},
	})
}

func stateSchema() map[string]any {
	return object(map[string]any{
		"account":   schemaRef("Account"),
		"authority": map[string]any{"type": "string"},
		"meta":      schemaRef("Meta"),
		"entries":   schemaRef("Entries"),
	}, "account", "authority", "meta", "entries")
}

func policySchema() map[string]any {
	return object(map[string]any{
		"policy": map[string]any{"type": "string"},
		"expr":   map[string]any{"type": "string"},
		"result": map[string]any{"type": "boolean"},
	}, "policy", "expr", "result")
}

func errorSchema() map[string]any {
	return object(map[string]any{
		"error": object(map[string]any{
			"code":    map[string]any{"type": "string"},
			"message": map[string]any{"type": "string"},
		}, "code", "message"),
	}, "error")
}

func fieldDescriptorSchema() map[string]any {
	return object(map[string]any{
		"path": map[string]any{"type": "string"},
		"type": map[string]any{"type": "string"},
	}, "path", "type")
}

func validateDocument(document map[string]any) error {
	if document == nil {
		return fmt.Errorf("openapi: document cannot be nil")
	}
	openapi, _ := document["openapi"].(string)
	if openapi == "" {
		return fmt.Errorf("openapi: document missing version string")
	}
	info, _ := document["info"].(map[string]any)
	if info == nil {
		return fmt.Errorf("openapi: document missing info section")
	}
	if title, _ := info["title"].(string); title == "" {
		return fmt.Errorf("openapi: info.title must be set")
	}
	if version, _ := info["version"].(string); version == "" {
		return fmt.Errorf("openapi: info.version must be set")
	}
	paths, _ := document["paths"].(map[string]any)
	if len(paths) == 0 {
		return fmt.Errorf("openapi: document must define at least one path")
	}
	for pathKey, pathValue := range paths {
		if !strings.HasPrefix(pathKey, "/") {
			return fmt.Errorf("openapi: path %q must start with /", pathKey)
		}
		pathItem, _ := pathValue.(map[string]any)
		if len(pathItem) == 0 {
			return fmt.Errorf("openapi: path %q missing operations", pathKey)
		}
		for method, operationValue := range pathItem {
			operation, _ := operationValue.(map[string]any)
			if operation == nil {
				return fmt.Errorf("openapi: operation %s %s invalid payload", method, pathKey)
			}
			if _, ok := operation["operationId"].(string); !ok {
				return fmt.Errorf("openapi: operation %s %s missing operationId", method, pathKey)
			}
			if responses, _ := operation["responses"].(map[string]any); len(responses) == 0 {
				return fmt.Errorf("openapi: operation %s %s missing responses", method, pathKey)
			}
		}
	}
	return nil
}
