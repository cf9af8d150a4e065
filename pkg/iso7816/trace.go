package iso7816

// TRANSACTION:
// A Transaction represents the atomic unit of communication defined in ISO 7816-3:
// one Command APDU (C-APDU) sent by the terminal, followed by one Response APDU (R-APDU)
// sent back by the card.
//
// TRACE:
// A Trace is a chronological sequence of Transactions. A single logical intent
// (e.g. "read 256 bytes at offset 512") may take several physical transactions:
// 1. "61 XX": the terminal must send a GET RESPONSE.
// 2. "6C XX": the terminal must re-send the command with Le = XX.
//
// In these cases, the Trace contains the entire conversation, and IsSuccess() evaluates
// the final outcome.

// Transaction represents a completed Command-Response pair.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess checks if the transaction ended with a successful status.
// It returns false if the response is missing.
func (t *Transaction) IsSuccess() bool {
	if t.Response == nil {
		return false
	}
	return t.Response.Status.IsSuccess()
}

// Trace is a sequence of transactions (Command-Response pairs).
type Trace []Transaction

// Last returns the final transaction of the trace.
// Returns nil if the trace is empty.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess checks if the FINAL transaction in the trace was successful.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}

// Status returns the final status word, or 0 for an empty trace.
func (t Trace) Status() StatusWord {
	last := t.Last()
	if last == nil || last.Response == nil {
		return 0
	}
	return last.Response.Status
}

// Data returns the response payload of the logical operation: the data of the last
// non GET RESPONSE exchange followed by the data of every GET RESPONSE after it.
func (t Trace) Data() []byte {
	start := 0
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Command == nil || t[i].Command.Instruction.Raw != INS_GET_RESPONSE {
			start = i
			break
		}
	}

	var out []byte
	for _, tx := range t[start:] {
		if tx.Response != nil {
			out = append(out, tx.Response.Data...)
		}
	}
	return out
}
