// Package acquire reads a Japanese identity card from end to end.
//
// ACQUISITION STATES:
//
//	idle -> session-open -> authenticated -> object-selected -> reading -> decoding -> complete
//
// The object-selected/reading pair repeats once per data object of the card profile,
// inside the same session. Any state may end in failed. A failed attempt is final: the
// caller starts a new acquisition, which waits for a new tag presentation.
//
// Every transition is logged once with the attempt ID. The session is closed exactly
// once on every path before Acquire returns.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
	"github.com/gregLibert/zairyu-nfc/pkg/chunk"
	"github.com/gregLibert/zairyu-nfc/pkg/command"
	"github.com/gregLibert/zairyu-nfc/pkg/iso7816"
	"github.com/gregLibert/zairyu-nfc/pkg/jpcard"
	"github.com/gregLibert/zairyu-nfc/pkg/session"
)

// State is a step of the acquisition.
type State string

const (
	StateIdle           State = "idle"
	StateSessionOpen    State = "session-open"
	StateAuthenticated  State = "authenticated"
	StateObjectSelected State = "object-selected"
	StateReading        State = "reading"
	StateDecoding       State = "decoding"
	StateComplete       State = "complete"
	StateFailed         State = "failed"
)

// DefaultTimeout bounds a whole acquisition when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options configures an Acquirer.
type Options struct {
	Session session.Options
	Policy  chunk.Policy
	Timeout time.Duration     // Total acquisition time, DefaultTimeout when zero
	Keys    jpcard.KeyDeriver // Residence Card access key; required for jpcard.Zairyu
	Logger  log.Interface     // log.Log when nil

	// Record receives every logical exchange, authentication included. Sensitive
	// commands must be rendered with iso7816.DescribeRedacted.
	Record func(iso7816.Trace)

	// RecordRaw receives the objects read from the card once the session is closed,
	// before they are decoded. It is called even when decoding then fails.
	RecordRaw func([]jpcard.RawCardBuffer)
}

// Acquirer runs acquisitions against one Host. It holds no per-attempt state and is
// safe for concurrent use; each call opens its own session.
type Acquirer struct {
	host session.Host
	opts Options
}

// New creates an Acquirer.
func New(host session.Host, opts Options) *Acquirer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Policy == (chunk.Policy{}) {
		opts.Policy = chunk.DefaultPolicy
	}
	if opts.Logger == nil {
		opts.Logger = log.Log
	}
	return &Acquirer{host: host, opts: opts}
}

// Error is the failure of one acquisition attempt. Err is one of the carderr category
// errors.
type Error struct {
	Attempt  string
	CardType jpcard.CardType
	State    State // State the attempt was in when it failed
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("acquire %s [%s] failed in state %s: %v", e.CardType, e.Attempt, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Acquire reads the card of type ct presented to the host, authenticating with
// identifier. It returns a fully decoded record or an *Error; never both.
func (a *Acquirer) Acquire(ctx context.Context, ct jpcard.CardType, identifier string) (*jpcard.CardRecord, error) {
	r := &attempt{
		id:       uuid.NewString(),
		cardType: ct,
		state:    StateIdle,
		start:    time.Now(),
		record:   a.opts.Record,
	}
	r.log = a.opts.Logger.WithFields(log.Fields{
		"attempt":   r.id,
		"card_type": string(ct),
	})

	profile, err := jpcard.ProfileFor(ct)
	if err != nil {
		return nil, r.fail(&carderr.AuthError{Step: "card-type", RetriesLeft: -1, Reason: err.Error(), Err: carderr.ErrInvalidIdentifierFormat})
	}

	// The identifier is checked and the authentication command built before any tag
	// exchange.
	id, err := jpcard.NewCardIdentifier(ct, identifier)
	if err != nil {
		return nil, r.fail(err)
	}
	builder := command.New(profile, a.opts.Keys)
	auth, err := builder.Authenticate(id)
	if err != nil {
		return nil, r.fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	var buffers []jpcard.RawCardBuffer
	err = session.With(ctx, a.host, a.opts.Session, func(ctx context.Context, s *session.Session) error {
		r.transition(StateSessionOpen, "")
		bufs, err := r.readAll(ctx, s, builder, auth, a.opts.Policy)
		buffers = bufs
		return err
	})
	if err != nil {
		return nil, r.fail(a.classify(ctx, err))
	}

	if a.opts.RecordRaw != nil {
		a.opts.RecordRaw(buffers)
	}

	r.transition(StateDecoding, "")
	rec, err := jpcard.Decode(ct, buffers)
	if err != nil {
		return nil, r.fail(err)
	}

	r.transition(StateComplete, "")
	return rec, nil
}

// classify turns context and protocol errors into the carderr taxonomy.
func (a *Acquirer) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return &carderr.SessionError{Op: "acquisition", Err: fmt.Errorf("%w after %s", carderr.ErrTimeout, a.opts.Timeout)}
	}
	if carderr.Category(err) != "unknown" {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &carderr.SessionError{Op: "acquisition", Err: err}
	}
	return &carderr.SessionError{Op: "exchange", Err: fmt.Errorf("%w: %v", carderr.ErrTransportInterrupted, err)}
}

// attempt is the state of one Acquire call.
type attempt struct {
	id       string
	cardType jpcard.CardType
	state    State
	start    time.Time
	log      log.Interface
	record   func(iso7816.Trace)
}

func (r *attempt) transition(to State, object string) {
	fields := log.Fields{
		"from":    string(r.state),
		"to":      string(to),
		"elapsed": time.Since(r.start).Round(time.Millisecond).String(),
	}
	if object != "" {
		fields["object"] = object
	}
	r.log.WithFields(fields).Info("state transition")
	r.state = to
}

func (r *attempt) fail(err error) error {
	r.log.WithFields(log.Fields{
		"from":     string(r.state),
		"to":       string(StateFailed),
		"elapsed":  time.Since(r.start).Round(time.Millisecond).String(),
		"category": carderr.Category(err),
	}).WithError(err).Warn("state transition")

	failed := &Error{Attempt: r.id, CardType: r.cardType, State: r.state, Err: err}
	r.state = StateFailed
	return failed
}

// recordingSender implements chunk.Sender and hands every trace to the recorder.
type recordingSender struct {
	client *iso7816.Client
	record func(iso7816.Trace)
}

func (s recordingSender) Send(ctx context.Context, cmd *iso7816.CommandAPDU) (iso7816.Trace, error) {
	trace, err := s.client.Send(ctx, cmd)
	if s.record != nil && len(trace) > 0 {
		s.record(trace)
	}
	return trace, err
}

// readAll runs the protocol part of the acquisition on an open session.
func (r *attempt) readAll(ctx context.Context, s *session.Session, b command.Builder, auth *iso7816.CommandAPDU, policy chunk.Policy) ([]jpcard.RawCardBuffer, error) {
	sender := recordingSender{client: iso7816.NewClient(s), record: r.record}

	trace, err := sender.Send(ctx, b.SelectApplication())
	if err != nil {
		return nil, err
	}
	if sw := trace.Status(); !sw.IsSuccess() {
		return nil, selectError("application", sw)
	}

	trace, err = sender.Send(ctx, auth)
	if err != nil {
		return nil, err
	}
	if sw := trace.Status(); !sw.IsSuccess() {
		return nil, authError(b.Profile.Auth, sw)
	}
	r.transition(StateAuthenticated, "")

	reader := chunk.NewReader(sender, b, policy)
	buffers := make([]jpcard.RawCardBuffer, 0, len(b.Profile.Objects))

	for _, obj := range b.Profile.Objects {
		trace, err := sender.Send(ctx, b.SelectDataObject(obj))
		if err != nil {
			return nil, err
		}
		if sw := trace.Status(); !sw.IsSuccess() {
			return nil, selectError(obj.Name, sw)
		}
		r.transition(StateObjectSelected, obj.Name)

		r.transition(StateReading, obj.Name)
		buf, err := reader.ReadObject(ctx, obj)
		if err != nil {
			return nil, err
		}
		buffers = append(buffers, buf)
	}

	return buffers, nil
}

func selectError(object string, sw iso7816.StatusWord) error {
	re := &carderr.ReadError{Object: object, Status: uint16(sw), Err: carderr.ErrUnexpectedReply}
	if sw == iso7816.SW_ERR_FILE_NOT_FOUND {
		re.Err = carderr.ErrObjectNotFound
	}
	return re
}

// authError maps the status of VERIFY / EXTERNAL AUTHENTICATE. The error only carries
// the status word and the retry counter.
func authError(method jpcard.AuthMethod, sw iso7816.StatusWord) error {
	ae := &carderr.AuthError{
		Step:        strings.ToLower(strings.ReplaceAll(method.String(), " ", "-")),
		Status:      uint16(sw),
		RetriesLeft: -1,
		Err:         carderr.ErrAuthRejected,
	}
	switch {
	case sw.IsCounter():
		ae.RetriesLeft = sw.RetriesLeft()
	case sw == iso7816.SW_ERR_AUTH_METHOD_BLOCKED:
		ae.Err = carderr.ErrAuthBlocked
	default:
		ae.Reason = sw.Verbose()
	}
	return ae
}
