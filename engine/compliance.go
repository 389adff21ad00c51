/*
compliance.go - Rule-application side channel

PURPOSE:
  Every decision the engine takes is justified by a rule id (which
  precedence rule resolved a day, why a period was rejected, which lines
  were dispatched). The domain packages collect these as traces; the
  engine re-publishes them as outbound events so an external compliance
  collector can persist them without being consulted on any decision.
*/
package engine

import (
	"time"

	"github.com/warp/entitlement-engine/period"
)

// ComplianceTrace wraps one rule-application record for the wire.
type ComplianceTrace struct {
	Key   AggregateKey `json:"aggregate"`
	Trace period.Trace `json:"trace"`
	At    time.Time    `json:"at"`
}

func (*ComplianceTrace) OutboundKind() string { return OutboundTrace }
