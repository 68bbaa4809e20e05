package model

import "time"

// MessageType identifies the kind of outbound notification.
type MessageType string

const (
	MsgOrderAssignment     MessageType = "order_assignment"
	MsgEmergencyAssignment MessageType = "emergency_assignment"
	MsgAssignmentAwarded   MessageType = "assignment_awarded"
	MsgAssignmentDenied    MessageType = "assignment_denied"
	MsgTrafficAlert        MessageType = "traffic_alert"
	MsgPredictiveAlert     MessageType = "predictive_alert"
	MsgNegotiationResult   MessageType = "negotiation_result"
	MsgOrderPending        MessageType = "order_pending"
)

// Broadcast is the recipient used for messages not addressed to one worker.
const Broadcast = "broadcast"

// Message is the structured record handed to notification sinks.
type Message struct {
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Type      MessageType    `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage builds a message stamped with ts.
func NewMessage(sender, recipient string, typ MessageType, payload map[string]any, ts time.Time) Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return Message{Sender: sender, Recipient: recipient, Type: typ, Payload: payload, Timestamp: ts}
}
