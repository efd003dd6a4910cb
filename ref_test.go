package syncstate

import (
	"errors"
	"strings"
	"testing"
)

type refFixture struct {
	Cases []struct {
		Name string `json:"name"`
		Ref  struct {
			AccountName string `json:"account_name"`
			AccountType string `json:"account_type"`
			Authority   string `json:"authority"`
		} `json:"ref"`
		Identifier string `json:"identifier"`
		Error      string `json:"error"`
	} `json:"cases"`
	InvalidIdentifiers []string `json:"invalid_identifiers"`
}

func TestRefIdentifierFixture(t *testing.T) {
	fixture := loadFixture[refFixture](t, "ref_identifier.json")

	for _, tc := range fixture.Cases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			ref := NewRef(tc.Ref.AccountName, tc.Ref.AccountType, tc.Ref.Authority)
			identifier, err := ref.Identifier()
			if tc.Error != "" {
				if !errors.Is(err, ErrInvalidRef) || !strings.Contains(err.Error(), tc.Error) {
					t.Fatalf("expected %q, got %v", tc.Error, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("identifier: %v", err)
			}
			if identifier != tc.Identifier {
				t.Fatalf("expected %q got %q", tc.Identifier, identifier)
			}

			parsed, err := ParseIdentifier(identifier)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if parsed != ref {
				t.Fatalf("expected %+v got %+v", ref, parsed)
			}
		})
	}
}

func TestParseIdentifierRejectsMalformed(t *testing.T) {
	fixture := loadFixture[refFixture](t, "ref_identifier.json")
	for _, identifier := range fixture.InvalidIdentifiers {
		if _, err := ParseIdentifier(identifier); !errors.Is(err, ErrInvalidRef) {
			t.Fatalf("expected ErrInvalidRef for %q, got %v", identifier, err)
		}
	}
}

func TestRefString(t *testing.T) {
	if got := testRef.String(); got != "com.example.caldav/alice@example.com/com.example.calendar" {
		t.Fatalf("unexpected ref string %q", got)
	}
}

func TestSortRefsUsesEscapedIdentifier(t *testing.T) {
	refs := []Ref{
		NewRef("z", "a", "x"),
		NewRef("n", "t", ".hidden"),
		NewRef("z", "a b", "x"),
	}
	SortRefs(refs)

	got := make([]string, 0, len(refs))
	for _, ref := range refs {
		got = append(got, ref.String())
	}
	if diff := cmpJSON([]string{"a b/z/x", "a/z/x", "t/n/.hidden"}, got); diff != "" {
		t.Fatalf("order mismatch: %s", diff)
	}
}
