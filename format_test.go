package syncstate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFormatsRoundTrip(t *testing.T) {
	formats := []Format{JSONFormat(), IndentedJSONFormat(), YAMLFormat(), XMLFormat()}

	for _, format := range formats {
		format := format
		t.Run(format.Name(), func(t *testing.T) {
			rc := NewContext(format, WithRegistry(testRegistry(t)))
			store := NewMemoryStore()

			state, err := New(testRef, store, WithContext(rc), WithClock(func() time.Time { return testTime }))
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			defer state.Close()
			Set(state, syncTokenKey, "token <&> 1")
			Set(state, lastFullKey, testTime.Add(-48*time.Hour))
			Set(state, collectionKey, []string{"work", "home"})
			Set(state, pageKey, 42)
			if format.Name() != "xml" {
				Set(state, windowKey, syncWindow{Past: 7, Future: 30})
			}
			if err := state.Store(context.Background()); err != nil {
				t.Fatalf("store: %v", err)
			}

			loaded, err := New(testRef, store, WithContext(rc))
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			defer loaded.Close()
			if err := loaded.Load(context.Background()); err != nil {
				t.Fatalf("load: %v", err)
			}
			if diff := cmpJSON(state.Snapshot(), loaded.Snapshot()); diff != "" {
				t.Fatalf("%s snapshot mismatch: %s", format.Name(), diff)
			}
			if got, _ := Get(loaded, lastFullKey); !got.Equal(testTime.Add(-48 * time.Hour)) {
				t.Fatalf("unexpected timestamp %s", got)
			}
		})
	}
}

func TestFormatEnvelopes(t *testing.T) {
	doc := Document{
		Version:   DocumentVersion,
		Account:   testRef.Account,
		Authority: testRef.Authority,
		UpdatedAt: testTime,
		Entries:   map[string]any{"sync_token": "abc"},
	}

	cases := []struct {
		format   Format
		contains []string
	}{
		{JSONFormat(), []string{`"version":1`, `"entries":{"sync_token":"abc"}`, `"authority":"com.example.calendar"`}},
		{YAMLFormat(), []string{"version: 1", "authority: com.example.calendar", "sync_token: abc"}},
		{XMLFormat(), []string{`<syncstate version="1"`, `account-type="com.example.caldav"`, `<entry key="sync_token"><value>abc</value></entry>`}},
	}
	for _, tc := range cases {
		data, err := tc.format.Marshal(doc)
		if err != nil {
			t.Fatalf("%s marshal: %v", tc.format.Name(), err)
		}
		for _, fragment := range tc.contains {
			if !strings.Contains(string(data), fragment) {
				t.Fatalf("%s output missing %q:\n%s", tc.format.Name(), fragment, data)
			}
		}

		raw, err := tc.format.Unmarshal(data)
		if err != nil {
			t.Fatalf("%s unmarshal: %v", tc.format.Name(), err)
		}
		if raw.Version != DocumentVersion || raw.Account != testRef.Account || raw.Authority != testRef.Authority {
			t.Fatalf("%s envelope mismatch: %+v", tc.format.Name(), raw)
		}
		if !raw.UpdatedAt.Equal(testTime) {
			t.Fatalf("%s updated_at mismatch: %s", tc.format.Name(), raw.UpdatedAt)
		}
		var token string
		if err := raw.Entries["sync_token"].Decode(&token); err != nil || token != "abc" {
			t.Fatalf("%s entry decode: %q %v", tc.format.Name(), token, err)
		}
	}
}

func TestDecodeRejectsForeignDocuments(t *testing.T) {
	rc := NewContext(JSONFormat(), WithRegistry(testRegistry(t)))
	other := NewRef("bob@example.com", testRef.Account.Type, testRef.Authority)

	foreign, err := rc.encode(other, map[string]any{"page": 1}, testTime)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	future, err := JSONFormat().Marshal(Document{Version: DocumentVersion + 1, Account: testRef.Account, Authority: testRef.Authority})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"garbage", []byte("<<<"), "json"},
		{"other ref", foreign, "document belongs to"},
		{"newer version", future, "unsupported document version 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rc.decode(testRef, tc.data)
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestXMLGenericValues(t *testing.T) {
	rc := NewContext(XMLFormat(), WithRegistry(NewRegistry()))
	data, err := rc.encode(testRef, map[string]any{
		"collections": []string{"work", "home"},
		"page":        3,
	}, testTime)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	entries, err := rc.decode(testRef, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	generic := func(name string) any {
		value, err := entries[name].(*deferredValue).generic()
		if err != nil {
			t.Fatalf("generic %s: %v", name, err)
		}
		return value
	}
	if got := generic("page"); got != "3" {
		t.Fatalf("expected generic xml scalar as string, got %#v", got)
	}
	if diff := cmpJSON([]any{"work", "home"}, generic("collections")); diff != "" {
		t.Fatalf("collections mismatch: %s", diff)
	}
}

func TestXMLRejectsDuplicateEntries(t *testing.T) {
	data := []byte(`<syncstate version="1" account-name="a" account-type="b" authority="c">` +
		`<entry key="page"><value>1</value></entry><entry key="page"><value>2</value></entry></syncstate>`)
	if _, err := XMLFormat().Unmarshal(data); err == nil || !strings.Contains(err.Error(), "duplicate entry") {
		t.Fatalf("expected duplicate entry error, got %v", err)
	}
}

func TestEncodeFailureIsStoreError(t *testing.T) {
	state := newTestState(t, NewMemoryStore())
	state.Put(NewKey[chan int]("broken"), make(chan int))

	err := state.Store(context.Background())
	if !errors.Is(err, ErrStore) || !strings.Contains(err.Error(), "encode json") {
		t.Fatalf("expected encode failure, got %v", err)
	}
}
