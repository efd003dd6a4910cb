package syncstate

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Account identifies the account a sync state belongs to.
type Account struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Ref identifies one persisted sync state: an account plus the authority
// whose data is being synchronized.
type Ref struct {
	Account   Account
	Authority string
}

// NewRef is a shorthand for building a Ref.
func NewRef(accountName, accountType, authority string) Ref {
	return Ref{
		Account:   Account{Name: accountName, Type: accountType},
		Authority: authority,
	}
}

// Validate reports whether every part of the ref is populated.
func (r Ref) Validate() error {
	switch {
	case strings.TrimSpace(r.Account.Name) == "":
		return fmt.Errorf("%w: account name is required", ErrInvalidRef)
	case strings.TrimSpace(r.Account.Type) == "":
		return fmt.Errorf("%w: account type is required", ErrInvalidRef)
	case strings.TrimSpace(r.Authority) == "":
		return fmt.Errorf("%w: authority is required", ErrInvalidRef)
	}
	return nil
}

// Identifier returns the canonical storage key for the ref:
// `<account type>/<account name>/<authority>` with each part path-escaped.
func (r Ref) Identifier() (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	return r.escaped(), nil
}

// ParseIdentifier is the inverse of Ref.Identifier.
func ParseIdentifier(identifier string) (Ref, error) {
	parts := strings.Split(identifier, "/")
	if len(parts) != 3 {
		return Ref{}, fmt.Errorf("%w: identifier %q must have three segments", ErrInvalidRef, identifier)
	}
	for i, part := range parts {
		unescaped, err := url.PathUnescape(part)
		if err != nil {
			return Ref{}, fmt.Errorf("%w: identifier %q: %v", ErrInvalidRef, identifier, err)
		}
		parts[i] = unescaped
	}
	ref := NewRef(parts[1], parts[0], parts[2])
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// String renders the ref for logs and error messages.
// SortRefs orders refs by identifier, the order every Lister returns.
func SortRefs(refs []Ref) {
	keys := make(map[Ref]string, len(refs))
	for _, ref := range refs {
		keys[ref] = ref.escaped()
	}
	sort.SliceStable(refs, func(i, j int) bool {
		return keys[refs[i]] < keys[refs[j]]
	})
}

func (r Ref) escaped() string {
	return url.PathEscape(r.Account.Type) + "/" +
		url.PathEscape(r.Account.Name) + "/" +
		url.PathEscape(r.Authority)
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Account.Type, r.Account.Name, r.Authority)
}

func (r Ref) isZero() bool {
	return r.Account.Name == "" && r.Account.Type == "" && r.Authority == ""
}
