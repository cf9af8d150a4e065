package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ebfe/scard"
	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
)

// PC/SC HOST:
// Contactless readers exposed through PC/SC (pcscd on Linux, WinSCard on Windows).
// Multi-slot readers also expose their SAM slots as readers; those never hold an NFC
// tag and are filtered out of listings and default selection.

// statusPollInterval bounds each GetStatusChange call so that ctx is checked regularly.
const statusPollInterval = 250 * time.Millisecond

// pcscContext is the part of scard.Context used here, so tests can run without pcscd.
type pcscContext interface {
	ListReaders() ([]string, error)
	GetStatusChange(rs []scard.ReaderState, timeout time.Duration) error
	Connect(reader string) (pcscCard, error)
	Release() error
}

type pcscCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Disconnect(d scard.Disposition) error
}

type scardContext struct {
	*scard.Context
}

func (c scardContext) Connect(reader string) (pcscCard, error) {
	card, err := c.Context.Connect(reader, scard.ShareExclusive, scard.ProtocolAny)
	if err != nil {
		return nil, err
	}
	return card, nil
}

func establishContext() (pcscContext, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context (is pcscd running?): %w", err)
	}
	return scardContext{ctx}, nil
}

// IsSAMSlot reports whether a reader name designates a SAM slot.
func IsSAMSlot(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, " sam") || strings.Contains(lower, "sam ")
}

// PCSCHost detects tags on a PC/SC reader.
type PCSCHost struct {
	// Reader is the reader name; empty selects the first contactless reader.
	Reader string

	establish func() (pcscContext, error)
}

// NewPCSCHost creates a host on the named reader ("" for the first one).
func NewPCSCHost(reader string) *PCSCHost {
	return &PCSCHost{Reader: reader, establish: establishContext}
}

// ListReaders returns the contactless readers, SAM slots excluded.
func (h *PCSCHost) ListReaders() ([]string, error) {
	pc, err := h.context()
	if err != nil {
		return nil, err
	}
	defer pc.Release()

	return listContactless(pc)
}

func (h *PCSCHost) context() (pcscContext, error) {
	if h.establish == nil {
		return establishContext()
	}
	return h.establish()
}

func listContactless(pc pcscContext) ([]string, error) {
	names, err := pc.ListReaders()
	if err != nil {
		if errors.Is(err, scard.ErrNoReadersAvailable) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}

	readers := make([]string, 0, len(names))
	for _, name := range names {
		if IsSAMSlot(name) {
			continue
		}
		readers = append(readers, name)
	}
	return readers, nil
}

// DetectTag waits until a card is present on the reader, then connects to it.
func (h *PCSCHost) DetectTag(ctx context.Context) (Tag, error) {
	pc, err := h.context()
	if err != nil {
		return nil, err
	}

	tag, err := h.detect(ctx, pc)
	if err != nil {
		pc.Release()
		return nil, err
	}
	return tag, nil
}

func (h *PCSCHost) detect(ctx context.Context, pc pcscContext) (Tag, error) {
	reader := h.Reader
	if reader == "" {
		readers, err := listContactless(pc)
		if err != nil {
			return nil, err
		}
		if len(readers) == 0 {
			return nil, fmt.Errorf("no contactless reader connected: %w", carderr.ErrNoTagDetected)
		}
		reader = readers[0]
	}

	rs := []scard.ReaderState{{Reader: reader, CurrentState: scard.StateUnaware}}
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, carderr.ErrNoTagDetected
			}
			return nil, err
		}

		err := pc.GetStatusChange(rs, statusPollInterval)
		if err != nil && !errors.Is(err, scard.ErrTimeout) {
			return nil, fmt.Errorf("reader %q status: %w", reader, err)
		}
		if err == nil && rs[0].EventState&scard.StatePresent != 0 {
			break
		}
		if err == nil {
			rs[0].CurrentState = rs[0].EventState
		}
	}

	card, err := pc.Connect(reader)
	if err != nil {
		if isRemoval(err) {
			return nil, carderr.ErrTagLost
		}
		return nil, fmt.Errorf("connect to %q: %w", reader, err)
	}

	return &pcscTag{ctx: pc, card: card}, nil
}

// pcscTag is a card connected through PC/SC.
type pcscTag struct {
	ctx  pcscContext
	card pcscCard
}

// Transmit runs the blocking SCardTransmit in a goroutine so that ctx can abandon it.
func (t *pcscTag) Transmit(ctx context.Context, apdu []byte) ([]byte, error) {
	type result struct {
		resp []byte
		err  error
	}
	results := make(chan result, 1)

	go func() {
		resp, err := t.card.Transmit(apdu)
		results <- result{resp, err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			return nil, mapTransmitError(r.err)
		}
		return r.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *pcscTag) Disconnect() error {
	err := t.card.Disconnect(scard.LeaveCard)
	if rerr := t.ctx.Release(); err == nil {
		err = rerr
	}
	return err
}

func isRemoval(err error) bool {
	return errors.Is(err, scard.ErrRemovedCard) ||
		errors.Is(err, scard.ErrResetCard) ||
		errors.Is(err, scard.ErrNoSmartcard)
}

func mapTransmitError(err error) error {
	switch {
	case isRemoval(err):
		return carderr.ErrTagLost
	case errors.Is(err, scard.ErrTimeout):
		return carderr.ErrTimeout
	default:
		return fmt.Errorf("%w: %v", carderr.ErrTransportInterrupted, err)
	}
}
