// Package bridge implements the Bridge Client (§4.3): a mode of the
// executable that pipes a child process's standard streams through the
// broker without that process linking the broker protocol itself.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/socratic-shell/symposium-sub004/internal/acquire"
	"github.com/socratic-shell/symposium-sub004/internal/busclient"
	"github.com/socratic-shell/symposium-sub004/internal/envelope"
	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// InitialBackoff and MaxBackoff bound the bridge's reconnect curve (§4.3
// "bounded backoff", an Open Question SPEC_FULL.md resolves as exponential
// with a cap — see DESIGN.md).
const (
	InitialBackoff = 50 * time.Millisecond
	MaxBackoff     = 5 * time.Second
)

// Options configures one Bridge session.
type Options struct {
	EndpointPath string
	Role         string
	// TypeTag is the type every line read from In is wrapped in before
	// submission to the broker — the Bridge does not itself parse stdin as
	// envelopes (§4.3: "constructs an envelope wrapping the payload in the
	// configured type tag").
	TypeTag envelope.Tag
	// Subscription narrows which envelopes are written back to Out; nil
	// keeps the default (every broadcast and directed-to-self type).
	Subscription []envelope.Tag
	In           io.Reader
	Out          io.Writer
	// SpawnDaemon starts a detached broker process at EndpointPath when this
	// Bridge wins the acquisition race. The Bridge immediately releases its
	// own listener afterward and dials in as an ordinary peer — it never
	// serves broker traffic inline (§9 DESIGN NOTES keeps exactly one kind
	// of envelope-delivery path in the system).
	SpawnDaemon func() error
}

// Run drives the Bridge until ctx is canceled or the broker connection is
// lost, in which case it returns a *symptom.Error so the caller can map it
// to the "distinctive status" §4.3 requires. Reaching EOF on stdin stops
// forwarding to the broker but does not end Run: envelopes the broker
// delivers keep being written to stdout.
func Run(ctx context.Context, opts Options) error {
	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return readStdin(groupCtx, opts, client)
	})
	group.Go(func() error {
		return writeStdout(groupCtx, opts, client)
	})

	err = group.Wait()
	if err != nil && groupCtx.Err() != nil && err == groupCtx.Err() {
		return nil
	}
	return err
}

// connect implements §4.3's lifecycle: consult the Acquirer; if this
// process wins the race, spawn the real daemon and dial as a peer; if it
// loses, dial directly with bounded exponential backoff.
func connect(ctx context.Context, opts Options) (*busclient.Client, error) {
	result, err := acquire.Acquire(opts.EndpointPath)
	if err != nil {
		return nil, err
	}
	if result.Listener != nil {
		result.Listener.Close()
		if opts.SpawnDaemon != nil {
			if err := opts.SpawnDaemon(); err != nil {
				return nil, symptom.Wrap(symptom.BindFailure, err, "spawning detached broker")
			}
		}
	}

	backoff := InitialBackoff
	for {
		client, err := busclient.Dial(opts.EndpointPath, opts.Role, opts.Subscription)
		if err == nil {
			return client, nil
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > MaxBackoff {
			backoff = MaxBackoff
		}
	}
}

func readStdin(ctx context.Context, opts Options, client *busclient.Client) error {
	scanner := bufio.NewScanner(opts.In)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		payload := make(json.RawMessage, len(line))
		copy(payload, line)
		env := &envelope.Envelope{ID: uuid.NewString(), Type: opts.TypeTag, Payload: payload}
		if err := client.Send(env); err != nil {
			return symptom.Wrap(symptom.DeliveryDropped, err, "bridge forwarding stdin line")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return symptom.Wrap(symptom.ProtocolViolation, err, "reading bridge stdin")
	}
	return nil
}

func writeStdout(ctx context.Context, opts Options, client *busclient.Client) error {
	enc := json.NewEncoder(opts.Out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-client.Inbound():
			if !ok {
				if err := client.Err(); err != nil {
					return symptom.Wrap(symptom.DeliveryDropped, err, "bridge lost broker connection")
				}
				return nil
			}
			if err := enc.Encode(env); err != nil {
				return symptom.Wrap(symptom.ProtocolViolation, err, "bridge writing stdout line")
			}
		}
	}
}
