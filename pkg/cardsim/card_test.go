package cardsim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
	"github.com/gregLibert/zairyu-nfc/pkg/jpcard"
	"github.com/gregLibert/zairyu-nfc/pkg/tlv"
)

func myNumberCard(t *testing.T) *Card {
	t.Helper()
	card, _, err := Demo(jpcard.MyNumber)
	require.NoError(t, err)
	return card
}

func transmit(t *testing.T, c *Card, apdu string) []byte {
	t.Helper()
	resp, err := c.Transmit(context.Background(), tlv.Hex(apdu))
	require.NoError(t, err)
	return resp
}

func TestCard_MyNumberSequence(t *testing.T) {
	c := myNumberCard(t)

	// READ BINARY before anything else
	assert.Equal(t, tlv.Hex("69 82"), transmit(t, c, "00 B0 00 00 08"))

	assert.Equal(t, tlv.Hex("90 00"), transmit(t, c, "00 A4 04 0C 0A D3 92 10 00 31 00 01 01 04 08"))
	assert.Equal(t, tlv.Hex("90 00"), transmit(t, c, "00 20 00 80 0C 31 32 33 34 35 36 37 38 39 30 31 32"))
	assert.Equal(t, tlv.Hex("90 00"), transmit(t, c, "00 A4 02 0C 02 00 02"))

	resp := transmit(t, c, "00 B0 00 00 04")
	assert.Equal(t, tlv.Hex("FF 20"), resp[:2])
	assert.Equal(t, tlv.Hex("90 00"), resp[len(resp)-2:])
	assert.Len(t, resp, 6)

	assert.Equal(t, 2, c.Count(0xB0))
	assert.Len(t, c.Commands(), 5)
}

func TestCard_ReadBinaryBounds(t *testing.T) {
	c := myNumberCard(t)
	transmit(t, c, "00 A4 04 0C 0A D3 92 10 00 31 00 01 01 04 08")
	transmit(t, c, "00 20 00 80 0C 31 32 33 34 35 36 37 38 39 30 31 32")
	transmit(t, c, "00 A4 02 0C 02 00 01")

	size := len(c.Files[[2]byte{0x00, 0x01}])

	// Le = 00 asks for 256 bytes and gets the short file with an EOF warning.
	resp := transmit(t, c, "00 B0 00 00 00")
	assert.Len(t, resp, size+2)
	assert.Equal(t, tlv.Hex("62 82"), resp[size:])

	// Offset past the end
	assert.Equal(t, tlv.Hex("6B 00"), transmit(t, c, "00 B0 01 00 10"))

	// Short EF identifier in P1 is not supported
	assert.Equal(t, tlv.Hex("6A 81"), transmit(t, c, "00 B0 81 00 10"))
}

func TestCard_SelectErrors(t *testing.T) {
	c := myNumberCard(t)

	assert.Equal(t, tlv.Hex("6A 82"), transmit(t, c, "00 A4 02 0C 02 00 02"), "EF before application")
	assert.Equal(t, tlv.Hex("6A 82"), transmit(t, c, "00 A4 04 0C 02 D3 92"), "unknown AID")

	transmit(t, c, "00 A4 04 0C 0A D3 92 10 00 31 00 01 01 04 08")
	assert.Equal(t, tlv.Hex("6A 82"), transmit(t, c, "00 A4 02 0C 02 00 09"), "unknown EF")
	assert.Equal(t, tlv.Hex("6D 00"), transmit(t, c, "00 CA 00 00 00"))
}

func TestCard_RetryCounter(t *testing.T) {
	c := myNumberCard(t)
	transmit(t, c, "00 A4 04 0C 0A D3 92 10 00 31 00 01 01 04 08")

	wrong := "00 20 00 80 0C 30 30 30 30 30 30 30 30 30 30 30 30"
	assert.Equal(t, tlv.Hex("63 C2"), transmit(t, c, wrong))
	assert.Equal(t, tlv.Hex("63 C1"), transmit(t, c, wrong))
	assert.Equal(t, tlv.Hex("63 C0"), transmit(t, c, wrong))
	assert.Equal(t, tlv.Hex("69 83"), transmit(t, c, wrong))

	// Blocked even for the right identifier
	assert.Equal(t, tlv.Hex("69 83"), transmit(t, c, "00 20 00 80 0C 31 32 33 34 35 36 37 38 39 30 31 32"))
}

func TestCard_WrongAuthMethod(t *testing.T) {
	c := myNumberCard(t)
	transmit(t, c, "00 A4 04 0C 0A D3 92 10 00 31 00 01 01 04 08")
	assert.Equal(t, tlv.Hex("69 85"), transmit(t, c, "00 82 00 00 10 00 01 02 03 04 05 06 07 08 09 0A 0B 0C 0D 0E 0F"))
	assert.Equal(t, tlv.Hex("6A 86"), transmit(t, c, "00 20 00 81 0C 31 32 33 34 35 36 37 38 39 30 31 32"))
}

func TestCard_ZairyuExternalAuthenticate(t *testing.T) {
	card, identifier, err := Demo(jpcard.Zairyu)
	require.NoError(t, err)

	id, err := jpcard.NewCardIdentifier(jpcard.Zairyu, identifier)
	require.NoError(t, err)
	key, err := KeyDeriver.DeriveKey(id)
	require.NoError(t, err)

	transmit(t, card, "00 A4 04 0C 10 D3 92 F0 00 4F 02 00 00 00 00 00 00 00 00 00 00")

	apdu := append(tlv.Hex("00 82 00 00 10"), key...)
	resp, err := card.Transmit(context.Background(), apdu)
	require.NoError(t, err)
	assert.Equal(t, tlv.Hex("90 00"), resp)

	// VERIFY is not how this card authenticates
	assert.Equal(t, tlv.Hex("69 85"), transmit(t, card, "00 20 00 00 01 00"))
}

func TestCard_DisconnectResetsState(t *testing.T) {
	c := myNumberCard(t)
	transmit(t, c, "00 A4 04 0C 0A D3 92 10 00 31 00 01 01 04 08")
	transmit(t, c, "00 20 00 80 0C 31 32 33 34 35 36 37 38 39 30 31 32")
	transmit(t, c, "00 A4 02 0C 02 00 02")

	require.NoError(t, c.Disconnect())
	assert.Equal(t, 1, c.Disconnects())
	assert.Equal(t, tlv.Hex("69 82"), transmit(t, c, "00 B0 00 00 04"))
}

func TestCard_Faults(t *testing.T) {
	c := myNumberCard(t)
	c.Inject(Fault{INS: 0xA4, Nth: 2, Err: carderr.ErrTagLost})
	c.Inject(Fault{INS: 0x20, Status: 0x6F00})

	assert.Equal(t, tlv.Hex("90 00"), transmit(t, c, "00 A4 04 0C 0A D3 92 10 00 31 00 01 01 04 08"))
	assert.Equal(t, tlv.Hex("6F 00"), transmit(t, c, "00 20 00 80 0C 31 32 33 34 35 36 37 38 39 30 31 32"))

	_, err := c.Transmit(context.Background(), tlv.Hex("00 A4 02 0C 02 00 02"))
	assert.True(t, errors.Is(err, carderr.ErrTagLost))

	// Third SELECT is served normally
	assert.Equal(t, tlv.Hex("90 00"), transmit(t, c, "00 A4 02 0C 02 00 02"))
}

func TestCard_ShortByFault(t *testing.T) {
	c := myNumberCard(t)
	c.Inject(Fault{INS: 0xB0, Nth: 1, ShortBy: 3})
	transmit(t, c, "00 A4 04 0C 0A D3 92 10 00 31 00 01 01 04 08")
	transmit(t, c, "00 20 00 80 0C 31 32 33 34 35 36 37 38 39 30 31 32")
	transmit(t, c, "00 A4 02 0C 02 00 02")

	assert.Len(t, transmit(t, c, "00 B0 00 00 08"), 5+2)
	assert.Len(t, transmit(t, c, "00 B0 00 00 08"), 8+2)
}

func TestCard_HangFault(t *testing.T) {
	c := myNumberCard(t)
	c.Inject(Fault{Hang: true})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Transmit(ctx, tlv.Hex("00 A4 04 0C 0A D3 92 10 00 31 00 01 01 04 08"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHost(t *testing.T) {
	c := myNumberCard(t)
	h := &Host{Card: c}

	tag, err := h.DetectTag(context.Background())
	require.NoError(t, err)
	assert.Same(t, c, tag)
	assert.Equal(t, 1, h.Detected())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = (&Host{}).DetectTag(ctx)
	assert.ErrorIs(t, err, carderr.ErrNoTagDetected)
}
