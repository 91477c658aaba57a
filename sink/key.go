package sink

import (
	"strings"

	"golang.org/x/text/cases"

	"advisor/schemas"
)

type KeyKind string

const (
	KeyNone      KeyKind = ""
	KeyNamePhone KeyKind = "name_phone"
	KeyEmail     KeyKind = "email"
)

// Key is the natural key used to recognise the same visitor across
// submissions: the normalized full name plus phone when a phone is known,
// otherwise the normalized email.
type Key struct {
	Kind  KeyKind
	Name  string
	Phone string
	Email string
}

func KeyOf(l schemas.Lead) Key {
	if phone := strings.TrimSpace(l.Phone); phone != "" {
		return Key{
			Kind:  KeyNamePhone,
			Name:  normalize(l.FirstName + " " + l.LastName),
			Phone: phone,
		}
	}
	if email := normalize(l.Email); email != "" {
		return Key{Kind: KeyEmail, Email: email}
	}
	return Key{}
}

func (k Key) IsZero() bool {
	return k.Kind == KeyNone
}

func (k Key) String() string {
	switch k.Kind {
	case KeyNamePhone:
		return "(" + k.Name + "," + k.Phone + ")"
	case KeyEmail:
		return "(" + k.Email + ")"
	}
	return ""
}

// normalize trims, collapses inner whitespace and case-folds s. Casers are
// stateful, so one is built per call.
func normalize(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
