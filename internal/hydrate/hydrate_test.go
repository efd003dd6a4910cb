package hydrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"testing"
)

func TestDecoderFromFixtures(t *testing.T) {
	fx := loadFixture(t, "hydrate_sync_settings.json")

	for _, tc := range fx.Cases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			decoder := NewDecoder[syncSettings](buildOptions(tc)...)

			ctx := Context{
				State:     tc.State,
				Authority: tc.Authority,
			}

			result, err := decoder.Decode(ctx, tc.Input)

			if tc.ExpectErr != "" {
				if err == nil {
					t.Fatalf("expected error %q, got nil", tc.ExpectErr)
				}
				if !strings.Contains(err.Error(), tc.ExpectErr) {
					t.Fatalf("expected error containing %q, got %v", tc.ExpectErr, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}

			if !reflect.DeepEqual(tc.Expect, result) {
				t.Fatalf("decoded snapshot mismatch:\nwant: %#v\n got: %#v", tc.Expect, result)
			}
		})
	}
}

func TestDecoderRejectsNilPayload(t *testing.T) {
	_, err := NewDecoder[syncSettings]().Decode(Context{State: "x/y/z"}, nil)
	if err == nil || !strings.Contains(err.Error(), `payload is nil for state "x/y/z"`) {
		t.Fatalf("expected nil payload error, got %v", err)
	}
}

func TestDecoderDoesNotMutateInput(t *testing.T) {
	input := map[string]any{"sync-token": "tok"}
	decoder := NewDecoder[syncSettings](WithRenamedKeys[syncSettings](map[string]string{"sync-token": "syncToken"}))
	if _, err := decoder.Decode(Context{}, input); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := input["sync-token"]; !ok {
		t.Fatalf("expected caller payload untouched, got %v", input)
	}
}

func buildOptions(tc fixtureCase) []DecoderOption[syncSettings] {
	options := []DecoderOption[syncSettings]{}

	for _, optName := range tc.Options {
		switch optName {
		case "disallow_unknown":
			options = append(options, WithDisallowUnknownFields[syncSettings]())
		case "rename":
			options = append(options, WithRenamedKeys[syncSettings](map[string]string{
				"sync-token":     "syncToken",
				"last-full-sync": "lastFullSync",
			}))
		}
	}

	for _, hookName := range tc.PreHooks {
		switch hookName {
		case "window_split":
			options = append(options, WithPreHook[syncSettings](windowPreHook))
		}
	}

	for _, hookName := range tc.PostHooks {
		switch hookName {
		case "default_collection":
			options = append(options, WithPostHook[syncSettings](defaultCollectionPostHook))
		}
	}

	return options
}

func windowPreHook(_ Context, payload map[string]any) (map[string]any, error) {
	value, ok := payload["window"].(string)
	if !ok || value == "" {
		return payload, nil
	}

	parts := strings.Split(value, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid window %q", value)
	}
	past, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}
	future, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, err
	}

	payload["window"] = map[string]any{"past": past, "future": future}
	return payload, nil
}

func defaultCollectionPostHook(ctx Context, settings *syncSettings) error {
	if settings == nil {
		return errors.New("settings are nil")
	}
	if len(settings.Collections) > 0 {
		return nil
	}
	settings.Collections = []string{ctx.Authority + ":default"}
	return nil
}

type fixture struct {
	Description string        `json:"description"`
	Cases       []fixtureCase `json:"cases"`
}

type fixtureCase struct {
	Name      string         `json:"name"`
	State     string         `json:"state"`
	Authority string         `json:"authority"`
	Input     map[string]any `json:"input"`
	Expect    syncSettings   `json:"expect"`
	ExpectErr string         `json:"expectErr"`
	PreHooks  []string       `json:"preHooks"`
	PostHooks []string       `json:"postHooks"`
	Options   []string       `json:"options"`
}

type syncSettings struct {
	SyncToken    string     `json:"syncToken"`
	Window       syncWindow `json:"window"`
	Collections  []string   `json:"collections"`
	LastFullSync string     `json:"lastFullSync"`
}

type syncWindow struct {
	Past   int `json:"past"`
	Future int `json:"future"`
}

func loadFixture(t *testing.T, name string) fixture {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to resolve caller")
	}
	path := filepath.Join(filepath.Dir(file), "testdata", name)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read hydrate fixture %q: %v", name, err)
	}
	var fx fixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		t.Fatalf("failed to unmarshal hydrate fixture %q: %v", name, err)
	}
	return fx
}
