package syncstate

import (
	htmltemplate "html/template"
	"strings"
	"testing"
	texttemplate "text/template"
)

func TestRegistryRegister(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(syncTokenKey, pageKey); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(NewKey[string]("sync_token")); err != nil {
		t.Fatalf("expected identical registration to be a no-op, got %v", err)
	}

	err := registry.Register(NewKey[int]("sync_token"))
	if err == nil || !strings.Contains(err.Error(), `"sync_token" already registered as string`) {
		t.Fatalf("expected type conflict, got %v", err)
	}
	if err := registry.Register(nil); err == nil {
		t.Fatalf("expected nil descriptor to be rejected")
	}
	if err := registry.Register(Key[int]{}); err == nil {
		t.Fatalf("expected blank descriptor to be rejected")
	}

	if desc, ok := registry.Lookup("page"); !ok || desc.TypeName() != "int" {
		t.Fatalf("expected page lookup, got %v %t", desc, ok)
	}
	if diff := cmpJSON([]string{"page", "sync_token"}, registry.Names()); diff != "" {
		t.Fatalf("names mismatch: %s", diff)
	}
	want := []FieldDescriptor{{Path: "page", Type: "int"}, {Path: "sync_token", Type: "string"}}
	if diff := cmpJSON(want, registry.Describe()); diff != "" {
		t.Fatalf("describe mismatch: %s", diff)
	}
}

func TestRegistryRegisterIsAllOrNothing(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(pageKey)

	err := registry.Register(syncTokenKey, NewKey[string]("page"))
	if err == nil || !strings.Contains(err.Error(), `"page" already registered as int`) {
		t.Fatalf("expected type conflict, got %v", err)
	}
	if _, ok := registry.Lookup("sync_token"); ok {
		t.Fatalf("expected failed batch to register nothing")
	}
	if err := registry.Register(NewKey[int]("cursor"), NewKey[string]("cursor")); err == nil {
		t.Fatalf("expected conflict inside one batch")
	}
	if _, ok := registry.Lookup("cursor"); ok {
		t.Fatalf("expected conflicting batch to register nothing")
	}
}

func TestRegistryComparesTypesNotNames(t *testing.T) {
	textKey := NewKey[texttemplate.Template]("template")
	htmlKey := NewKey[htmltemplate.Template]("template")
	if textKey.TypeName() != htmlKey.TypeName() {
		t.Skipf("type names differ: %s vs %s", textKey.TypeName(), htmlKey.TypeName())
	}

	registry := NewRegistry()
	registry.MustRegister(textKey)
	if err := registry.Register(htmlKey); err == nil {
		t.Fatalf("expected distinct types sharing a name to conflict")
	}
}

func TestRegistryClone(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(pageKey)
	clone := registry.Clone()
	clone.MustRegister(syncTokenKey)

	if _, ok := registry.Lookup("sync_token"); ok {
		t.Fatalf("expected clone to be independent")
	}
	if _, ok := clone.Lookup("page"); !ok {
		t.Fatalf("expected clone to keep existing descriptors")
	}

	var nilRegistry *Registry
	if _, ok := nilRegistry.Lookup("page"); ok || nilRegistry.Names() != nil || nilRegistry.Clone() != nil {
		t.Fatalf("expected nil registry to be empty")
	}
}

func TestRegisterKeyUsesDefaultRegistry(t *testing.T) {
	key := RegisterKey[int]("registry_test_counter")
	if desc, ok := DefaultRegistry().Lookup(key.Name()); !ok || desc.TypeName() != "int" {
		t.Fatalf("expected key in default registry")
	}
	if DefaultContext().Registry() != DefaultRegistry() {
		t.Fatalf("expected default context to use the default registry")
	}
	if DefaultContext().Format().Name() != "json" {
		t.Fatalf("expected default context to use json")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected conflicting RegisterKey to panic")
		}
	}()
	RegisterKey[string]("registry_test_counter")
}

func TestMustRegisterPanics(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(pageKey)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustRegister to panic on conflict")
		}
	}()
	registry.MustRegister(NewKey[string]("page"))
}

func TestNewContextDefaults(t *testing.T) {
	rc := NewContext(nil, WithRegistry(nil))
	if rc.Format().Name() != "json" {
		t.Fatalf("expected nil format to fall back to json")
	}
	if rc.Registry() != DefaultRegistry() {
		t.Fatalf("expected nil registry option to keep the default registry")
	}
}
