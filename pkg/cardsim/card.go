// Package cardsim simulates the chip of a Japanese identity card at the APDU level.
//
// The simulated Card answers SELECT, VERIFY, EXTERNAL AUTHENTICATE and READ BINARY the way
// the real chips do, enforces the select/authenticate/read order and keeps its retry
// counter. It records every command and every Disconnect, and faults can be injected on
// any command to reproduce tag loss, timeouts and odd status words.
//
// Host adapts a Card to session.Host so the whole acquisition pipeline runs without a
// reader.
package cardsim

import (
	"bytes"
	"context"
	"sync"

	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
	"github.com/gregLibert/zairyu-nfc/pkg/iso7816"
	"github.com/gregLibert/zairyu-nfc/pkg/jpcard"
	"github.com/gregLibert/zairyu-nfc/pkg/session"
)

// DefaultRetries is the authentication retry counter of a fresh card.
const DefaultRetries = 3

// Fault replaces the normal behaviour of the card for matching commands.
type Fault struct {
	INS byte // Instruction to match, 0 for any
	Nth int  // 1-based occurrence among matching commands, 0 for every occurrence

	Err     error  // Returned by Transmit instead of a response
	Status  uint16 // Answered with no data instead of the normal response
	ShortBy int    // Bytes removed from the end of the normal response data
	Hang    bool   // Block until the exchange context is done
}

// Card is a simulated chip.
type Card struct {
	Profile jpcard.Profile
	Secret  []byte             // Reference data of VERIFY or key of EXTERNAL AUTHENTICATE
	Files   map[[2]byte][]byte // Transparent EFs of the application
	Retries int                // Remaining authentication attempts

	mu            sync.Mutex
	appSelected   bool
	authenticated bool
	current       []byte
	hasCurrent    bool
	faults        []Fault
	counts        map[byte]int
	commands      [][]byte
	disconnects   int
}

// New creates a card of the given profile holding files, unlocked by secret.
func New(profile jpcard.Profile, secret []byte, files map[[2]byte][]byte) *Card {
	return &Card{
		Profile: profile,
		Secret:  append([]byte(nil), secret...),
		Files:   files,
		Retries: DefaultRetries,
		counts:  make(map[byte]int),
	}
}

// Inject adds a fault. Faults are matched in the order they were added.
func (c *Card) Inject(f Fault) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, f)
}

// Commands returns a copy of every command received, in order.
func (c *Card) Commands() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.commands))
	for i, cmd := range c.commands {
		out[i] = append([]byte(nil), cmd...)
	}
	return out
}

// Count returns how many commands with instruction ins were received.
func (c *Card) Count(ins byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[ins]
}

// Disconnects returns how many times the card was disconnected.
func (c *Card) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// Disconnect implements session.Tag. The card resets its security state.
func (c *Card) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.appSelected = false
	c.authenticated = false
	c.hasCurrent = false
	return nil
}

// Transmit implements session.Tag.
func (c *Card) Transmit(ctx context.Context, apdu []byte) ([]byte, error) {
	c.mu.Lock()

	c.commands = append(c.commands, append([]byte(nil), apdu...))
	if len(apdu) < 4 {
		c.mu.Unlock()
		return sw(iso7816.SW_ERR_WRONG_LENGTH), nil
	}

	ins := apdu[1]
	c.counts[ins]++
	fault := c.matchFault(ins)

	if fault != nil {
		switch {
		case fault.Hang:
			c.mu.Unlock()
			<-ctx.Done()
			return nil, ctx.Err()
		case fault.Err != nil:
			c.mu.Unlock()
			return nil, fault.Err
		case fault.Status != 0:
			c.mu.Unlock()
			return sw(iso7816.StatusWord(fault.Status)), nil
		}
	}

	resp := c.handle(apdu)
	c.mu.Unlock()

	if fault != nil && fault.ShortBy > 0 {
		data, trailer := resp[:len(resp)-2], resp[len(resp)-2:]
		cut := len(data) - fault.ShortBy
		if cut < 0 {
			cut = 0
		}
		resp = append(append([]byte(nil), data[:cut]...), trailer...)
	}
	return resp, nil
}

func (c *Card) matchFault(ins byte) *Fault {
	for i := range c.faults {
		f := &c.faults[i]
		if f.INS != 0 && f.INS != ins {
			continue
		}
		n := len(c.commands)
		if f.INS != 0 {
			n = c.counts[ins]
		}
		if f.Nth == 0 || f.Nth == n {
			return f
		}
	}
	return nil
}

// handle runs one command against the card state. c.mu is held.
func (c *Card) handle(apdu []byte) []byte {
	ins, p1, p2 := apdu[1], apdu[2], apdu[3]
	data, le, ok := parseBody(apdu[4:])
	if !ok {
		return sw(iso7816.SW_ERR_WRONG_LENGTH)
	}

	switch iso7816.InsCode(ins) {
	case iso7816.INS_SELECT:
		return c.selectFile(p1, data)
	case iso7816.INS_VERIFY:
		return c.authenticate(jpcard.AuthVerify, p2, data)
	case iso7816.INS_EXTERNAL_AUTHENTICATE:
		return c.authenticate(jpcard.AuthExternal, p2, data)
	case iso7816.INS_READ_BINARY:
		return c.readBinary(p1, p2, le)
	default:
		return sw(iso7816.SW_ERR_INS_INVALID)
	}
}

func (c *Card) selectFile(p1 byte, data []byte) []byte {
	switch iso7816.SelectionMethod(p1) {
	case iso7816.SelectByDFName:
		c.authenticated = false
		c.hasCurrent = false
		c.appSelected = bytes.Equal(data, c.Profile.AID)
		if !c.appSelected {
			return sw(iso7816.SW_ERR_FILE_NOT_FOUND)
		}
		return sw(iso7816.SW_NO_ERROR)

	case iso7816.SelectEFUnderCurrentDF:
		if !c.appSelected || len(data) != 2 {
			return sw(iso7816.SW_ERR_FILE_NOT_FOUND)
		}
		file, ok := c.Files[[2]byte{data[0], data[1]}]
		if !ok {
			return sw(iso7816.SW_ERR_FILE_NOT_FOUND)
		}
		c.current = file
		c.hasCurrent = true
		return sw(iso7816.SW_NO_ERROR)

	default:
		return sw(iso7816.SW_ERR_FUNC_NOT_SUPPORTED)
	}
}

func (c *Card) authenticate(method jpcard.AuthMethod, p2 byte, data []byte) []byte {
	if !c.appSelected || c.Profile.Auth != method {
		return sw(iso7816.SW_ERR_COND_OF_USE_NOT_SAT)
	}
	if p2 != c.Profile.AuthReference {
		return sw(iso7816.SW_ERR_INCORRECT_PARAMS_P1P2)
	}
	if c.Retries <= 0 {
		return sw(iso7816.SW_ERR_AUTH_METHOD_BLOCKED)
	}

	if bytes.Equal(data, c.Secret) {
		c.Retries = DefaultRetries
		c.authenticated = true
		return sw(iso7816.SW_NO_ERROR)
	}

	c.Retries--
	c.authenticated = false
	return sw(iso7816.NewStatusWord(0x63, 0xC0|byte(c.Retries)))
}

func (c *Card) readBinary(p1, p2 byte, le int) []byte {
	if !c.authenticated {
		return sw(iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT)
	}
	if !c.hasCurrent {
		return sw(iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF)
	}
	if p1&0x80 != 0 {
		return sw(iso7816.SW_ERR_FUNC_NOT_SUPPORTED)
	}

	offset := int(p1)<<8 | int(p2)
	if offset >= len(c.current) {
		return sw(iso7816.SW_ERR_WRONG_P1P2)
	}

	end := offset + le
	status := iso7816.SW_NO_ERROR
	if end > len(c.current) {
		end = len(c.current)
		status = iso7816.SW_WARN_EOF_REACHED
	}

	resp := append([]byte(nil), c.current[offset:end]...)
	return append(resp, sw(status)...)
}

// parseBody splits a short APDU body into data and Ne (0 when absent).
func parseBody(body []byte) (data []byte, ne int, ok bool) {
	switch {
	case len(body) == 0:
		return nil, 0, true
	case len(body) == 1:
		ne = int(body[0])
		if ne == 0 {
			ne = iso7816.MaxShortLe
		}
		return nil, ne, true
	}

	lc := int(body[0])
	switch len(body) - 1 - lc {
	case 0:
		return body[1:], 0, lc > 0
	case 1:
		ne = int(body[len(body)-1])
		if ne == 0 {
			ne = iso7816.MaxShortLe
		}
		return body[1 : 1+lc], ne, lc > 0
	default:
		return nil, 0, false
	}
}

func sw(s iso7816.StatusWord) []byte {
	return []byte{s.SW1(), s.SW2()}
}

// Host presents a Card to session.Open.
type Host struct {
	Card *Card // nil simulates an empty reader

	mu       sync.Mutex
	detected int
}

// DetectTag implements session.Host.
func (h *Host) DetectTag(ctx context.Context) (session.Tag, error) {
	if h.Card == nil {
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, carderr.ErrNoTagDetected
		}
		return nil, ctx.Err()
	}

	h.mu.Lock()
	h.detected++
	h.mu.Unlock()
	return h.Card, nil
}

// Detected returns how many sessions were opened on the host.
func (h *Host) Detected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detected
}
