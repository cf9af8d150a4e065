package tlv

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/moov-io/bertlv"
)

type cardFields struct {
	Version    []byte `tlv:"DF21" fmt:"int"`
	Name       []byte `tlv:"DF22" fmt:"utf8"`
	BirthDate  []byte `tlv:"DF24" fmt:"ascii"`
	CardNumber []byte `tlv:"DF23"`
	RawData    []byte // No tag
	Sex        []byte `tlv:"DF25"`
	Unknown    []bertlv.TLV
}

func TestWriteStructFields(t *testing.T) {
	card := cardFields{
		Version:    []byte{0x01, 0x02},
		Name:       []byte("山田"),
		BirthDate:  []byte{'1', '9', '8', '5', 0x00},
		CardNumber: []byte{0xAB, 0x12},
		RawData:    []byte{0xCA, 0xFE},
		Unknown: []bertlv.TLV{
			{Tag: "DF2F", Value: []byte{0x12, 0x34}},
		},
	}

	tests := []struct {
		name          string
		prefix        string
		input         interface{}
		expectedLines []string
	}{
		{
			name:   "Struct Pointer Input",
			prefix: "Basic",
			input:  &card,
			expectedLines: []string{
				"    - Basic.Version (DF21): 0102 (Dec: 258)",
				`    - Basic.Name (DF22): E5B1B1E794B0 ("山田")`,
				`    - Basic.BirthDate (DF24): 3139383500 ("1985.")`,
				"    - Basic.CardNumber (DF23): AB12",
				"    - Basic.RawData: CAFE",
				"    - Basic.Unknown Tag DF2F: 1234",
			},
		},
		{
			name:   "Struct Value Input",
			prefix: "Val",
			input:  card,
			expectedLines: []string{
				"    - Val.Version (DF21): 0102 (Dec: 258)",
				`    - Val.Name (DF22): E5B1B1E794B0 ("山田")`,
				`    - Val.BirthDate (DF24): 3139383500 ("1985.")`,
				"    - Val.CardNumber (DF23): AB12",
				"    - Val.RawData: CAFE",
				"    - Val.Unknown Tag DF2F: 1234",
			},
		},
		{
			name:          "Nil Pointer",
			prefix:        "Nil",
			input:         (*cardFields)(nil),
			expectedLines: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sb strings.Builder
			WriteStructFields(&sb, tt.prefix, tt.input)
			actualLines := strings.Split(sb.String(), "\n")

			if diff := cmp.Diff(tt.expectedLines, actualLines); diff != "" {
				t.Errorf("Mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteStructFields_SeparatesBlocks(t *testing.T) {
	var sb strings.Builder
	WriteStructFields(&sb, "A", cardFields{Sex: []byte{0x31}})
	WriteStructFields(&sb, "B", cardFields{Sex: []byte{0x32}})

	want := "    - A.Sex (DF25): 31\n    - B.Sex (DF25): 32"
	if got := sb.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatByteValue_OversizedInt(t *testing.T) {
	data := Hex("01 02 03 04 05 06 07 08 09")
	if got := formatByteValue(data, "int"); got != "010203040506070809" {
		t.Errorf("formatByteValue() = %q", got)
	}
}

func TestMakeSafeASCII(t *testing.T) {
	input := []byte{0x41, 0x42, 0x00, 0x1F, 0x7F, 0x43} // AB, null, US, DEL, C
	want := "AB...C"                                    // 0x7F (127) is > 126, so it becomes dot

	got := MakeSafeASCII(input)
	if got != want {
		t.Errorf("MakeSafeASCII() = %q, want %q", got, want)
	}
}
