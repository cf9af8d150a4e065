package iso7816

import (
	"fmt"
	"strings"
)

// TRACE REPORT:
// Describe renders a Trace as an ASCII report, one block per physical exchange.
// Protocol auto-handling (GET RESPONSE, re-send with corrected Le) shows up as extra
// blocks. The data field of Sensitive commands is replaced by its length, and so is any
// response payload when redact is requested by the caller through DescribeRedacted.

// Describe generates a detailed report of every exchange in the trace.
// Command data of Sensitive commands is never printed.
func Describe(t Trace) string {
	return describe(t, false)
}

// DescribeRedacted is Describe with response payloads reduced to their length.
func DescribeRedacted(t Trace) string {
	return describe(t, true)
}

func describe(t Trace, redactPayload bool) string {
	var sb strings.Builder

	sb.WriteString("=== APDU TRACE REPORT ===\n")
	if len(t) == 0 {
		sb.WriteString("    - Empty trace.\n")
		return sb.String()
	}

	for i, tx := range t {
		cmd := tx.Command
		if cmd == nil {
			continue
		}

		sb.WriteString(fmt.Sprintf("[%d] Command: %s\n", i+1, commandTitle(cmd, i > 0)))
		sb.WriteString(fmt.Sprintf("    + Header:  %s P1=%02X P2=%02X\n", cmd.Class.Verbose(), cmd.P1, cmd.P2))

		if cmd.Instruction.Raw == INS_SELECT {
			sb.WriteString(fmt.Sprintf("    + Method:  %s | %s\n",
				SelectionMethod(cmd.P1), SelectionControl(cmd.P2&0x0C)))
		}
		if cmd.Instruction.Raw == INS_READ_BINARY {
			sb.WriteString(fmt.Sprintf("    + Offset:  %d\n", ReadBinaryOffset(cmd)))
		}

		if len(cmd.Data) > 0 {
			if cmd.Sensitive {
				sb.WriteString(fmt.Sprintf("    + Data:    <redacted, %d bytes>\n", len(cmd.Data)))
			} else {
				sb.WriteString(fmt.Sprintf("    + Data:    %X (%q)\n", cmd.Data, makeSafeASCII(cmd.Data)))
			}
		}
		if cmd.Ne > 0 {
			sb.WriteString(fmt.Sprintf("    + Le:      %d\n", cmd.Ne))
		}

		resp := tx.Response
		if resp == nil {
			sb.WriteString("    + Result:  no response\n\n")
			continue
		}

		resultMsg := "[!!]"
		if resp.Status.IsSuccess() || resp.Status.IsEndOfFile() {
			resultMsg = "[OK]"
		}
		sb.WriteString(fmt.Sprintf("    + Result:  [%02X %02X] %s %s\n",
			resp.Status.SW1(), resp.Status.SW2(), resultMsg, resp.Status.Verbose()))

		if len(resp.Data) > 0 {
			sb.WriteString(fmt.Sprintf("    + Payload: %d bytes\n", len(resp.Data)))
			if !redactPayload {
				sb.WriteString(fmt.Sprintf("      Dump:    %X\n", resp.Data))
			}
		}
		sb.WriteString("\n")
	}

	outcome := "FAILURE"
	if t.IsSuccess() {
		outcome = "SUCCESS"
	}
	sb.WriteString(fmt.Sprintf("[=] FINAL OUTCOME: %s (%d exchanges, %d data bytes)\n", outcome, len(t), len(t.Data())))

	return sb.String()
}

func commandTitle(cmd *CommandAPDU, followUp bool) string {
	name := cmd.Instruction.Raw.String()
	switch {
	case cmd.Instruction.Raw == INS_GET_RESPONSE:
		return name + " (Auto-handling)"
	case followUp:
		return name + " (Re-sent with corrected Le)"
	default:
		return name
	}
}

func makeSafeASCII(data []byte) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 && r <= 126 {
			return r
		}
		return '.'
	}, string(data))
}
