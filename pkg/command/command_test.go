package command

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
	"github.com/gregLibert/zairyu-nfc/pkg/jpcard"
	"github.com/gregLibert/zairyu-nfc/pkg/tlv"
)

func builderFor(t *testing.T, ct jpcard.CardType, keys jpcard.KeyDeriver) Builder {
	t.Helper()
	p, err := jpcard.ProfileFor(ct)
	if err != nil {
		t.Fatalf("ProfileFor(%s) error = %v", ct, err)
	}
	return New(p, keys)
}

func encode(t *testing.T, b interface{ Bytes() ([]byte, error) }) []byte {
	t.Helper()
	raw, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	return raw
}

func TestSelectApplication(t *testing.T) {
	tests := []struct {
		ct   jpcard.CardType
		want []byte
	}{
		{jpcard.MyNumber, tlv.Hex("00 A4 04 0C 0A D3 92 10 00 31 00 01 01 04 08")},
		{jpcard.Zairyu, tlv.Hex("00 A4 04 0C 10 D3 92 F0 00 4F 02 00 00 00 00 00 00 00 00 00 00")},
	}

	for _, tt := range tests {
		t.Run(string(tt.ct), func(t *testing.T) {
			got := encode(t, builderFor(t, tt.ct, nil).SelectApplication())
			if !bytes.Equal(got, tt.want) {
				t.Errorf("SelectApplication() = %X, want %X", got, tt.want)
			}
		})
	}
}

func TestAuthenticate_MyNumber(t *testing.T) {
	b := builderFor(t, jpcard.MyNumber, nil)
	id, err := jpcard.NewCardIdentifier(jpcard.MyNumber, "123456789012")
	if err != nil {
		t.Fatalf("NewCardIdentifier() error = %v", err)
	}

	cmd, err := b.Authenticate(id)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	want := tlv.Hex("00 20 00 80 0C", "31 32 33 34 35 36 37 38 39 30 31 32")
	if got := encode(t, cmd); !bytes.Equal(got, want) {
		t.Errorf("Authenticate() = %X, want %X", got, want)
	}
	if !cmd.Sensitive {
		t.Error("authentication command must be Sensitive")
	}
}

// fixedKeys stands in for the caller-supplied Residence Card key scheme.
var fixedKeys = jpcard.KeyDeriverFunc(func(jpcard.CardIdentifier) ([]byte, error) {
	return bytes.Repeat([]byte{0xA5}, jpcard.AccessKeyLength), nil
})

func TestAuthenticate_Deterministic(t *testing.T) {
	for _, tc := range []struct {
		ct jpcard.CardType
		id string
	}{
		{jpcard.MyNumber, "123456789012"},
		{jpcard.Zairyu, "ab12345678cd"},
	} {
		b := builderFor(t, tc.ct, fixedKeys)
		id, err := jpcard.NewCardIdentifier(tc.ct, tc.id)
		if err != nil {
			t.Fatalf("NewCardIdentifier(%s) error = %v", tc.ct, err)
		}

		first, err1 := b.Authenticate(id)
		second, err2 := b.Authenticate(id)
		if err1 != nil || err2 != nil {
			t.Fatalf("Authenticate() errors = %v, %v", err1, err2)
		}
		if !bytes.Equal(encode(t, first), encode(t, second)) {
			t.Errorf("%s: Authenticate() is not deterministic", tc.ct)
		}
	}
}

func TestAuthenticate_Zairyu(t *testing.T) {
	key := bytes.Repeat([]byte{0x5A}, jpcard.AccessKeyLength)
	b := builderFor(t, jpcard.Zairyu, jpcard.KeyDeriverFunc(func(jpcard.CardIdentifier) ([]byte, error) {
		return key, nil
	}))
	id, _ := jpcard.NewCardIdentifier(jpcard.Zairyu, "AB12345678CD")

	cmd, err := b.Authenticate(id)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	want := append(tlv.Hex("00 82 00 00 10"), key...)
	if got := encode(t, cmd); !bytes.Equal(got, want) {
		t.Errorf("Authenticate() = %X, want %X", got, want)
	}
}

func TestAuthenticate_Errors(t *testing.T) {
	t.Run("Identifier of another card type", func(t *testing.T) {
		id, _ := jpcard.NewCardIdentifier(jpcard.MyNumber, "123456789012")
		_, err := builderFor(t, jpcard.Zairyu, nil).Authenticate(id)
		if !errors.Is(err, carderr.ErrInvalidIdentifierFormat) {
			t.Errorf("error = %v, want ErrInvalidIdentifierFormat", err)
		}
	})

	t.Run("Zero identifier", func(t *testing.T) {
		_, err := builderFor(t, jpcard.MyNumber, nil).Authenticate(jpcard.CardIdentifier{})
		if !errors.Is(err, carderr.ErrInvalidIdentifierFormat) {
			t.Errorf("error = %v, want ErrInvalidIdentifierFormat", err)
		}
	})

	t.Run("Deriver failure does not leak", func(t *testing.T) {
		b := builderFor(t, jpcard.Zairyu, jpcard.KeyDeriverFunc(func(id jpcard.CardIdentifier) ([]byte, error) {
			return nil, errors.New("hsm rejected " + string(id.Secret()))
		}))
		id, _ := jpcard.NewCardIdentifier(jpcard.Zairyu, "AB12345678CD")

		_, err := b.Authenticate(id)
		if !errors.Is(err, carderr.ErrKeyDerivation) {
			t.Fatalf("error = %v, want ErrKeyDerivation", err)
		}
		if strings.Contains(err.Error(), "AB12345678CD") {
			t.Errorf("error leaks identifier: %v", err)
		}
	})

	t.Run("No deriver", func(t *testing.T) {
		id, _ := jpcard.NewCardIdentifier(jpcard.Zairyu, "AB12345678CD")
		_, err := builderFor(t, jpcard.Zairyu, nil).Authenticate(id)

		var auth *carderr.AuthError
		if !errors.As(err, &auth) || !errors.Is(err, carderr.ErrKeyDerivation) {
			t.Fatalf("error = %v, want AuthError(ErrKeyDerivation)", err)
		}
		if auth.Step != "derive-key" {
			t.Errorf("Step = %q, want derive-key", auth.Step)
		}
	})

	t.Run("Short derived key", func(t *testing.T) {
		b := builderFor(t, jpcard.Zairyu, jpcard.KeyDeriverFunc(func(jpcard.CardIdentifier) ([]byte, error) {
			return []byte{1, 2, 3}, nil
		}))
		id, _ := jpcard.NewCardIdentifier(jpcard.Zairyu, "AB12345678CD")
		if _, err := b.Authenticate(id); !errors.Is(err, carderr.ErrKeyDerivation) {
			t.Errorf("error = %v, want ErrKeyDerivation", err)
		}
	})
}

func TestSelectDataObject(t *testing.T) {
	b := builderFor(t, jpcard.MyNumber, nil)
	obj, _ := b.Profile.Object("card-info")

	want := tlv.Hex("00 A4 02 0C 02 00 01")
	if got := encode(t, b.SelectDataObject(obj)); !bytes.Equal(got, want) {
		t.Errorf("SelectDataObject() = %X, want %X", got, want)
	}
}

func TestReadChunk(t *testing.T) {
	b := builderFor(t, jpcard.MyNumber, nil)

	cmd, err := b.ReadChunk(0x0123, 1000)
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	if cmd.Ne != MaxChunkLength {
		t.Errorf("length not capped: Ne = %d", cmd.Ne)
	}
	if got := encode(t, cmd); !bytes.Equal(got, tlv.Hex("00 B0 01 23 00")) {
		t.Errorf("ReadChunk() = %X", got)
	}

	_, err = b.ReadChunk(0x8000, 16)
	var re *carderr.ReadError
	if !errors.As(err, &re) || re.Offset != 0x8000 {
		t.Errorf("error = %v, want ReadError at offset 0x8000", err)
	}
}
