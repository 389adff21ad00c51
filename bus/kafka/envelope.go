/*
envelope.go - Wire encoding for engine events

PURPOSE:
  Every message on the bus is a JSON envelope: a type discriminator plus
  the event payload. Inbound messages decode to the engine's event types;
  outbound events encode with their kind and route to a per-kind topic.

KEYING:
  Messages are keyed by aggregate (claimant/employer). With a hash
  balancer this keeps each aggregate's events on one partition, which is
  what makes the per-aggregate ordering guarantee hold across the wire.
*/
package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/warp/entitlement-engine/engine"
)

// Topic layout. All inbound kinds share one topic so an aggregate's
// reports, facts and ticks stay ordered relative to each other.
const (
	TopicInbound    = "entitlement.inbound"
	TopicNeeds      = "entitlement.needs"
	TopicStates     = "entitlement.period-states"
	TopicPayments   = "entitlement.payment-lines"
	TopicCompliance = "entitlement.compliance"
	TopicHalts      = "entitlement.halts"
)

// Envelope is the wire form of every message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeInbound wraps an engine event for the inbound topic.
func EncodeInbound(ev engine.Event) (key, value []byte, err error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s: %w", ev.EventKind(), err)
	}
	value, err = json.Marshal(Envelope{Type: ev.EventKind(), Payload: payload})
	if err != nil {
		return nil, nil, err
	}
	return []byte(ev.Aggregate().String()), value, nil
}

// DecodeInbound unwraps one inbound message into an engine event.
func DecodeInbound(value []byte) (engine.Event, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var ev engine.Event
	switch env.Type {
	case engine.InboundSourceReport:
		ev = &engine.SourceReportEvent{}
	case engine.InboundFactReceived:
		ev = &engine.FactReceivedEvent{}
	case engine.InboundReevaluate:
		ev = &engine.ReevaluateEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", engine.ErrUnknownEventType, env.Type)
	}

	if err := json.Unmarshal(env.Payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}

// outboundTopic maps an outbound kind to its topic.
func outboundTopic(kind string) (string, error) {
	switch kind {
	case engine.OutboundNeedRequested:
		return TopicNeeds, nil
	case engine.OutboundStateChanged:
		return TopicStates, nil
	case engine.OutboundLinesDiffed:
		return TopicPayments, nil
	case engine.OutboundTrace:
		return TopicCompliance, nil
	case engine.OutboundHalted:
		return TopicHalts, nil
	default:
		return "", fmt.Errorf("no topic for outbound kind %q", kind)
	}
}

// outboundKey extracts the aggregate key for partitioning.
func outboundKey(out engine.Outbound) []byte {
	switch o := out.(type) {
	case *engine.NeedRequested:
		return []byte(o.Key.String())
	case *engine.PeriodStateChanged:
		return []byte(o.Key.String())
	case *engine.PaymentLinesDiffed:
		return []byte(o.Key.String())
	case *engine.ComplianceTrace:
		return []byte(o.Key.String())
	case *engine.ClaimantHalted:
		return []byte(o.Key.String())
	default:
		return nil
	}
}
