package cardsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/zairyu-nfc/pkg/jpcard"
	"github.com/gregLibert/zairyu-nfc/pkg/tlv"
)

func TestEncode_SkipsEmptyFields(t *testing.T) {
	got, err := Encode("FF40", field("DF41", []byte("AB")), field("DF42", nil))
	require.NoError(t, err)
	assert.Equal(t, tlv.Hex("FF 40 05 DF 41 02 41 42"), got)
}

func TestSized(t *testing.T) {
	objects, err := Objects(jpcard.MyNumber, DemoHolder(jpcard.MyNumber))
	require.NoError(t, err)

	for _, size := range []int{96, 128, 300} {
		got, err := Sized(objects["basic-info"], "DF2F", size)
		require.NoError(t, err, "size %d", size)
		assert.Len(t, got, size)

		records, err := tlv.Walk(got)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, size, records[0].TotalLength())
	}

	_, err = Sized(objects["basic-info"], "DF2F", 10)
	assert.Error(t, err)
}

func TestObjects_DecodeRoundTrip(t *testing.T) {
	for _, ct := range jpcard.CardTypes {
		t.Run(string(ct), func(t *testing.T) {
			objects, err := Objects(ct, DemoHolder(ct))
			require.NoError(t, err)

			profile, err := jpcard.ProfileFor(ct)
			require.NoError(t, err)

			var buffers []jpcard.RawCardBuffer
			for _, obj := range profile.Objects {
				data := objects[obj.Name]
				buffers = append(buffers, jpcard.RawCardBuffer{Object: obj.WithLength(len(data)), Data: data})
			}

			rec, err := jpcard.Decode(ct, buffers)
			require.NoError(t, err)

			h := DemoHolder(ct)
			assert.Equal(t, h.Name, rec.Text(jpcard.FieldName))
			assert.Equal(t, h.Address, rec.Text(jpcard.FieldAddress))
			assert.Equal(t, h.CardNumber, rec.Text(jpcard.FieldCardNumber))
			assert.Empty(t, rec.Unrecognized())
		})
	}
}

func TestObjects_RejectsUnencodableText(t *testing.T) {
	h := DemoHolder(jpcard.Zairyu)
	h.Name = "😀"
	_, err := Objects(jpcard.Zairyu, h)
	assert.Error(t, err)
}

func TestForIdentifier(t *testing.T) {
	_, err := ForIdentifier(jpcard.MyNumber, "12AB", nil, nil)
	assert.Error(t, err)

	_, err = ForIdentifier(jpcard.MyNumber, DemoMyNumberIdentifier, nil, map[string][]byte{"identity": {0x71, 0x00}})
	assert.Error(t, err)

	card, err := ForIdentifier(jpcard.MyNumber, DemoMyNumberIdentifier, nil, map[string][]byte{"card-info": {0xFF, 0x40, 0x00}})
	require.NoError(t, err)
	assert.Equal(t, []byte(DemoMyNumberIdentifier), card.Secret)
	assert.Contains(t, card.Files, [2]byte{0x00, 0x01})
}

func TestKeyDeriver(t *testing.T) {
	a, _ := jpcard.NewCardIdentifier(jpcard.Zairyu, "AB12345678CD")
	b, _ := jpcard.NewCardIdentifier(jpcard.Zairyu, "ab12345678cd")
	c, _ := jpcard.NewCardIdentifier(jpcard.Zairyu, "AB12345679CD")

	ka, err := KeyDeriver.DeriveKey(a)
	require.NoError(t, err)
	assert.Len(t, ka, jpcard.AccessKeyLength)

	kb, _ := KeyDeriver.DeriveKey(b)
	assert.Equal(t, ka, kb, "normalised identifiers must derive the same key")

	kc, _ := KeyDeriver.DeriveKey(c)
	assert.NotEqual(t, ka, kc)

	_, err = KeyDeriver.DeriveKey(jpcard.CardIdentifier{})
	assert.Error(t, err)
}
