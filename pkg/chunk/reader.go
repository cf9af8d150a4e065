// Package chunk reads a whole data object from the selected elementary file.
//
// READ STRATEGY:
//  1. A header read fetches the first bytes of the file. The TLV header found there gives
//     the declared length of the object (header + value).
//  2. Successive READ BINARY commands advance the offset by the size of each answer until
//     exactly the declared length has been accumulated.
//  3. An answer shorter than requested is read again once at the same offset; a second
//     short answer fails with ErrShortChunk. The header read follows the same rule.
//  4. A file that ends (6282 or 6B00) before the declared length fails with
//     ErrLengthMismatch.
//  5. Transport timeouts and interruptions are retried up to Policy.Retries times per
//     chunk, then the read fails with ErrChunkExhausted wrapping the last cause.
//
// A partial buffer is never returned.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
	"github.com/gregLibert/zairyu-nfc/pkg/command"
	"github.com/gregLibert/zairyu-nfc/pkg/iso7816"
	"github.com/gregLibert/zairyu-nfc/pkg/jpcard"
	"github.com/gregLibert/zairyu-nfc/pkg/tlv"
)

// HeaderReadLength is the size of the first read whatever the chunk size. It covers the
// longest TLV header.
const HeaderReadLength = 8

// MaxObjectLength is the largest object addressable with 15-bit READ BINARY offsets.
const MaxObjectLength = iso7816.MaxReadOffset + 1

// Sender exchanges one logical command with the card. *iso7816.Client implements it.
type Sender interface {
	Send(ctx context.Context, cmd *iso7816.CommandAPDU) (iso7816.Trace, error)
}

// Policy bounds the chunked read.
type Policy struct {
	ChunkSize  int           // Bytes requested per READ BINARY, capped at command.MaxChunkLength
	Retries    int           // Retries per chunk on transport timeout or interruption
	RetryDelay time.Duration // Wait between retries
}

// DefaultPolicy reads full 256-byte chunks and retries twice.
var DefaultPolicy = Policy{
	ChunkSize:  command.MaxChunkLength,
	Retries:    2,
	RetryDelay: 50 * time.Millisecond,
}

// Reader reads objects through a Sender.
type Reader struct {
	sender  Sender
	builder command.Builder
	policy  Policy
}

// NewReader creates a Reader. A ChunkSize outside 1..MaxChunkLength is replaced by
// MaxChunkLength.
func NewReader(sender Sender, builder command.Builder, policy Policy) *Reader {
	if policy.ChunkSize <= 0 || policy.ChunkSize > command.MaxChunkLength {
		policy.ChunkSize = command.MaxChunkLength
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	return &Reader{sender: sender, builder: builder, policy: policy}
}

// ReadObject reads the currently selected file as the object obj.
// The returned buffer is exactly the declared length of the object.
func (r *Reader) ReadObject(ctx context.Context, obj jpcard.DataObjectDescriptor) (jpcard.RawCardBuffer, error) {
	head, header, err := r.readHeader(ctx, obj)
	if err != nil {
		return jpcard.RawCardBuffer{}, err
	}

	declared := header.TotalLength()
	if declared > MaxObjectLength {
		return jpcard.RawCardBuffer{}, &carderr.ReadError{
			Object: obj.Name,
			Err:    carderr.ErrLengthMismatch,
			Cause:  fmt.Errorf("declared length %d exceeds %d", declared, MaxObjectLength),
		}
	}

	// The header read may run past the object into the file's padding.
	if len(head) > declared {
		head = head[:declared]
	}

	buf := make([]byte, 0, declared)
	buf = append(buf, head...)

	for len(buf) < declared {
		offset := len(buf)
		want := declared - offset
		if want > r.policy.ChunkSize {
			want = r.policy.ChunkSize
		}

		data, eof, err := r.readAt(ctx, obj, offset, want)
		if err != nil {
			return jpcard.RawCardBuffer{}, err
		}

		if len(data) < want && !eof {
			data, eof, err = r.readAt(ctx, obj, offset, want)
			if err != nil {
				return jpcard.RawCardBuffer{}, err
			}
			if len(data) < want && !eof {
				return jpcard.RawCardBuffer{}, &carderr.ReadError{
					Object: obj.Name,
					Offset: offset,
					Err:    carderr.ErrShortChunk,
					Cause:  fmt.Errorf("requested %d bytes, received %d", want, len(data)),
				}
			}
		}

		if len(data) < want {
			return jpcard.RawCardBuffer{}, &carderr.ReadError{
				Object: obj.Name,
				Offset: offset + len(data),
				Status: uint16(iso7816.SW_WARN_EOF_REACHED),
				Err:    carderr.ErrLengthMismatch,
				Cause:  fmt.Errorf("file ends at %d, declared %d", offset+len(data), declared),
			}
		}

		buf = append(buf, data...)
	}

	if len(buf) != declared {
		return jpcard.RawCardBuffer{}, &carderr.ReadError{
			Object: obj.Name,
			Offset: len(buf),
			Err:    carderr.ErrLengthMismatch,
			Cause:  fmt.Errorf("accumulated %d bytes, declared %d", len(buf), declared),
		}
	}

	return jpcard.RawCardBuffer{Object: obj.WithLength(declared), Data: buf}, nil
}

// readHeader reads the start of the file and parses the object header found there.
// An answer cut short by the card (success status, fewer bytes than asked, header
// incomplete) is read again once like any other chunk. When the card reports the end
// of the file instead, the bytes are all there is and a bad header is a DecodeError.
func (r *Reader) readHeader(ctx context.Context, obj jpcard.DataObjectDescriptor) ([]byte, tlv.Header, error) {
	var (
		data   []byte
		header tlv.Header
		eof    bool
		err    error
	)
	for attempt := 0; attempt < 2; attempt++ {
		data, eof, err = r.readAt(ctx, obj, 0, HeaderReadLength)
		if err != nil {
			return nil, tlv.Header{}, err
		}
		header, err = tlv.ParseHeader(data)
		if err == nil {
			return data, header, nil
		}
		if eof || len(data) >= HeaderReadLength || !errors.Is(err, carderr.ErrTruncatedRecord) {
			break
		}
		if attempt == 1 {
			return nil, tlv.Header{}, &carderr.ReadError{
				Object: obj.Name,
				Err:    carderr.ErrShortChunk,
				Cause:  fmt.Errorf("requested %d bytes, received %d", HeaderReadLength, len(data)),
			}
		}
	}

	var de *carderr.DecodeError
	if errors.As(err, &de) {
		named := *de
		named.Object = obj.Name
		return nil, tlv.Header{}, &named
	}
	return nil, tlv.Header{}, err
}

// readAt sends one READ BINARY with retries and checks the answer. eof reports a 6282
// answer: fewer bytes than requested were left in the file.
func (r *Reader) readAt(ctx context.Context, obj jpcard.DataObjectDescriptor, offset, length int) ([]byte, bool, error) {
	cmd, err := r.builder.ReadChunk(offset, length)
	if err != nil {
		var re *carderr.ReadError
		if errors.As(err, &re) {
			re.Object = obj.Name
		}
		return nil, false, err
	}

	trace, err := r.send(ctx, cmd)
	if err != nil {
		if retryable(err) {
			return nil, false, &carderr.ReadError{Object: obj.Name, Offset: offset, Err: carderr.ErrChunkExhausted, Cause: err}
		}
		return nil, false, err
	}

	sw := trace.Status()
	if !sw.IsSuccess() && !sw.IsEndOfFile() {
		return nil, false, statusError(obj, offset, sw)
	}

	data := trace.Data()
	if len(data) > length {
		return nil, false, &carderr.ReadError{
			Object: obj.Name,
			Offset: offset,
			Status: uint16(sw),
			Err:    carderr.ErrLengthMismatch,
			Cause:  fmt.Errorf("requested %d bytes, received %d", length, len(data)),
		}
	}
	return data, sw.IsEndOfFile(), nil
}

func (r *Reader) send(ctx context.Context, cmd *iso7816.CommandAPDU) (iso7816.Trace, error) {
	op := func() (iso7816.Trace, error) {
		trace, err := r.sender.Send(ctx, cmd)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return trace, err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.policy.RetryDelay), uint64(r.policy.Retries)),
		ctx,
	)
	return backoff.RetryWithData(op, policy)
}

func retryable(err error) bool {
	return errors.Is(err, carderr.ErrTimeout) || errors.Is(err, carderr.ErrTransportInterrupted)
}

func statusError(obj jpcard.DataObjectDescriptor, offset int, sw iso7816.StatusWord) error {
	re := &carderr.ReadError{Object: obj.Name, Offset: offset, Status: uint16(sw), Err: carderr.ErrUnexpectedReply}
	switch sw {
	case iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT:
		re.Err = carderr.ErrSecurityStatus
	case iso7816.SW_ERR_FILE_NOT_FOUND:
		re.Err = carderr.ErrObjectNotFound
	case iso7816.SW_ERR_WRONG_P1P2:
		// Offset past the end of the file: the object is shorter than its header says.
		re.Err = carderr.ErrLengthMismatch
	}
	return re
}
