/*
Package iso7816 implements the ISO/IEC 7816-4 command layer used to talk to the IC chip of
Japanese identity cards (Residence Card and My Number Card).

It provides Command and Response APDU structures, Status Word (SW) analysis, the handful of
command builders the acquisition needs (SELECT, VERIFY, EXTERNAL AUTHENTICATE, READ BINARY),
and a Client that hides the T=0 transport quirks from callers.

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

There is no pipelining: the next command is only sent once the previous response has been
received.

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK).
  - 0x61XX: Success, but response data is still available (XX bytes).
  - 0x6282: Warning, end of file reached before Le bytes were read.
  - 0x63CX: Verification failed, X tries remaining.
  - 0x6CXX: Error, wrong length expectation (XX is the correct length).
  - Other: Various error conditions.

# Usage Example: Reading the start of an elementary file

	client := iso7816.NewClient(sess)

	trace, err := client.Send(ctx, iso7816.SelectEF(iso7816.DefaultClass, [2]byte{0x00, 0x02}))
	if err != nil {
	    return err
	}
	if !trace.IsSuccess() {
	    return fmt.Errorf("select failed: %s", trace.Last().Response.Status.Verbose())
	}

	cmd, err := iso7816.ReadBinary(iso7816.DefaultClass, 0, 8)
	if err != nil {
	    return err
	}
	trace, err = client.Send(ctx, cmd)
	if err != nil {
	    return err
	}
	fmt.Println(iso7816.Describe(trace))
*/
package iso7816
