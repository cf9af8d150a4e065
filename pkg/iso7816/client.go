package iso7816

import (
	"context"
	"fmt"
)

// CLIENT & PROTOCOL LOGIC:
// The Client acts as a high-level driver over the physical connection.
// It implements the automatic handling of ISO 7816-3 transport behaviors that are
// often exposed to the application layer in T=0 protocols:
//
// 1. "61 XX" (Response Available):
//    The card indicates that XX bytes are waiting. The client automatically generates
//    and sends a GET RESPONSE command to retrieve them.
//
// 2. "6C XX" (Wrong Length):
//    The card indicates that the expected length (Le) was incorrect and suggests XX.
//    The client automatically re-sends the original command with Le = XX.
//
// The Send() method returns a Trace, which is a log of all atomic transactions
// occurred to fulfill the logical request. Every physical exchange goes through the
// Transmitter one at a time; the client never has two commands in flight.

// maxAutoSteps bounds the number of follow-up exchanges (GET RESPONSE / re-send) per Send.
const maxAutoSteps = 16

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(ctx context.Context, cmd []byte) ([]byte, error)
}

// Client manages the high-level communication with the card.
type Client struct {
	Card Transmitter
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits a command and handles protocol logic (61xx, 6Cxx).
// Transport errors are returned unwrapped so callers can classify them with errors.Is.
func (c *Client) Send(ctx context.Context, cmd *CommandAPDU) (Trace, error) {
	return c.send(ctx, cmd, 0, false)
}

func (c *Client) send(ctx context.Context, cmd *CommandAPDU, depth int, resent bool) (Trace, error) {
	if depth > maxAutoSteps {
		return nil, fmt.Errorf("protocol loop: more than %d automatic follow-ups", maxAutoSteps)
	}

	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(ctx, rawCmd)
	if err != nil {
		return nil, err
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, err
	}

	trace := Trace{{Command: cmd, Response: resp}}

	sw1 := resp.Status.SW1()
	sw2 := resp.Status.SW2()

	switch {
	case sw1 == 0x61:
		// GET RESPONSE must use the same logical channel as the original command.
		respCls := cmd.Class
		respCls.IsChained = false

		ne := int(sw2)
		if ne == 0 {
			ne = MaxShortLe
		}
		getRespCmd := NewCommandAPDU(respCls, mustInstruction(INS_GET_RESPONSE), 0x00, 0x00, nil, ne)

		subTrace, err := c.send(ctx, getRespCmd, depth+1, resent)
		if err != nil {
			return trace, err
		}
		return append(trace, subTrace...), nil

	case sw1 == 0x6C && !resent:
		// Clone so the caller's command is never mutated.
		newCmd := *cmd
		newCmd.Ne = int(sw2)
		if newCmd.Ne == 0 {
			newCmd.Ne = MaxShortLe
		}

		subTrace, err := c.send(ctx, &newCmd, depth+1, true)
		if err != nil {
			return trace, err
		}
		return append(trace, subTrace...), nil
	}

	return trace, nil
}
