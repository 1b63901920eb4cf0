package parser

import (
	"encoding/json"
	"fmt"
	"time"

	"logpipe/pkg/models"
)

// Firewall events arrive as JSON emitted by the user gateways, not as a
// wrapped log line:
//
//	{"user":"alice","source":"10.7.1.2","target":"192.168.1.50","time":1554998203}
type firewallEvent struct {
	User   *string  `json:"user"`
	Source *string  `json:"source"`
	Target *string  `json:"target"`
	Time   *float64 `json:"time"`
}

type FirewallParser struct{}

func NewFirewallParser() *FirewallParser {
	return &FirewallParser{}
}

func (p *FirewallParser) DocType() models.DocType {
	return models.DocTypeFirewall
}

func (p *FirewallParser) Parse(plaintext []byte) (models.Document, error) {
	var event firewallEvent
	if err := json.Unmarshal(plaintext, &event); err != nil {
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("payload is not a firewall event: %w", err))
	}

	switch {
	case event.User == nil:
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("missing required field user"))
	case event.Source == nil:
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("missing required field source"))
	case event.Target == nil:
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("missing required field target"))
	case event.Time == nil:
		return models.Document{}, newParseError(p.DocType(), plaintext, fmt.Errorf("missing required field time"))
	}

	return models.Document{
		Type:      p.DocType(),
		Timestamp: time.Unix(int64(*event.Time), 0).UTC(),
		// username is both a tag (to group by user over time) and a
		// field (to aggregate unique users per window); the backend
		// cannot do both from one column.
		Tags: map[string]string{
			"username": *event.User,
		},
		Fields: map[string]interface{}{
			"user":    *event.User,
			"source":  *event.Source,
			"target":  *event.Target,
			"packets": 1, // each event represents a single packet
		},
	}, nil
}
