// Package telemetry wires the Braid's operations into OpenTelemetry spans.
// Span names and the kinds of attributes worth attaching are grounded on
// pzverkov's pkg/metrics span-name/SpanAttributes conventions; the
// implementation itself goes through the real go.opentelemetry.io/otel API
// rather than that package's hand-rolled Tracer interface, since the project
// stack already carries the real SDK.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ElMoorish/ComLock"

// Span names for Braid operations, mirroring pzverkov's SpanHandshake*/
// SpanEncrypt/SpanDecrypt/SpanRekey naming scheme.
const (
	SpanHandshakeInitiate = "comlock.handshake.initiate"
	SpanHandshakeAccept   = "comlock.handshake.accept"
	SpanStepSend          = "comlock.braid.step_send"
	SpanStepRecv          = "comlock.braid.step_recv"
	SpanDHRatchet         = "comlock.ratchet.dh_ratchet"
	SpanFragmentSplit     = "comlock.fragment.split"
	SpanFragmentAbsorb    = "comlock.fragment.absorb"
	SpanSphinxBuild       = "comlock.sphinx.build"
	SpanSphinxProcessHop  = "comlock.sphinx.process_hop"
	SpanSchedulerEmit     = "comlock.cover.emit"
)

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span under the package-wide tracer. Callers end it by
// calling End on the returned function with the operation's error (nil on
// success), matching kamune/pzverkov's SpanEnder convention.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := tracer().Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// SessionAttributes builds the common attribute set attached to nearly
// every Braid span, mirroring pzverkov's SpanAttributes.ToMap but producing
// real OTel attribute.KeyValue pairs instead of a generic map.
func SessionAttributes(contactID string, sendCounter, recvCounter uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("comlock.contact_id", contactID),
		attribute.Int64("comlock.send_counter", int64(sendCounter)),
		attribute.Int64("comlock.recv_counter", int64(recvCounter)),
	}
}
