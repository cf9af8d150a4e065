package jpcard

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
)

func TestNewCardIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		ct      CardType
		raw     string
		want    string
		wantErr bool
	}{
		{"MyNumber", MyNumber, "123456789012", "123456789012", false},
		{"MyNumber with spaces", MyNumber, " 123456789012\n", "123456789012", false},
		{"MyNumber too short", MyNumber, "12AB", "", true},
		{"MyNumber letters", MyNumber, "12345678901A", "", true},
		{"MyNumber empty", MyNumber, "", "", true},
		{"Zairyu", Zairyu, "AB12345678CD", "AB12345678CD", false},
		{"Zairyu lower case", Zairyu, "ab12345678cd", "AB12345678CD", false},
		{"Zairyu digits only", Zairyu, "123456789012", "", true},
		{"Unknown type", CardType("passport"), "123456789012", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewCardIdentifier(tt.ct, tt.raw)
			if tt.wantErr {
				var ae *carderr.AuthError
				if !errors.As(err, &ae) {
					t.Fatalf("expected *carderr.AuthError, got %v", err)
				}
				if !errors.Is(err, carderr.ErrInvalidIdentifierFormat) {
					t.Errorf("expected ErrInvalidIdentifierFormat, got %v", err)
				}
				if ae.RetriesLeft != -1 || ae.Status != 0 {
					t.Errorf("no exchange happened, got %+v", ae)
				}
				if !id.IsZero() {
					t.Error("identifier should be zero on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := string(id.Secret()); got != tt.want {
				t.Errorf("Secret() = %q, want %q", got, tt.want)
			}
			if id.CardType() != tt.ct {
				t.Errorf("CardType() = %s, want %s", id.CardType(), tt.ct)
			}
		})
	}
}

func TestCardIdentifier_Redaction(t *testing.T) {
	id, err := NewCardIdentifier(Zairyu, "AB12345678CD")
	if err != nil {
		t.Fatal(err)
	}

	for _, format := range []string{"%s", "%v", "%+v", "%#v"} {
		out := fmt.Sprintf(format, id)
		if strings.Contains(out, "AB12345678CD") || strings.Contains(out, "12345678") {
			t.Errorf("%s leaks the identifier: %q", format, out)
		}
	}
	if id.String() != "************" {
		t.Errorf("String() = %q", id.String())
	}

	// Mutating the returned slice must not alter the identifier.
	s := id.Secret()
	s[0] = 'X'
	if string(id.Secret()) != "AB12345678CD" {
		t.Error("Secret() aliases internal state")
	}
}

func TestNewCardIdentifier_ErrorDoesNotLeak(t *testing.T) {
	raw := "98765X"
	_, err := NewCardIdentifier(MyNumber, raw)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), raw) || strings.Contains(fmt.Sprintf("%+v", err), raw) {
		t.Errorf("error leaks the identifier: %v", err)
	}
}
