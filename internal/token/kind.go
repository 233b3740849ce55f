package token

import "fmt"

// Kind distinguishes access from refresh credentials. It is serialized in
// the "type" claim.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Kinds lists every valid kind.
var Kinds = []Kind{KindAccess, KindRefresh}

func (k Kind) Valid() bool {
	switch k {
	case KindAccess, KindRefresh:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown token kind %q", s)
	}
	return k, nil
}
