package ws

import (
	"encoding/json"
	"time"
)

// Inbound message types accepted over the socket.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
	MsgGetStatus   = "get_status"
)

// Outbound message types.
const (
	MsgSubscriptionConfirmed   = "subscription_confirmed"
	MsgUnsubscriptionConfirmed = "unsubscription_confirmed"
	MsgPong                    = "pong"
	MsgStatus                  = "status"
	MsgError                   = "error"
	MsgBuildStatus             = "build_status"
)

// clientMessage is the tagged envelope clients send.
type clientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

func marshalEnvelope(msgType string, fields map[string]any) []byte {
	envelope := map[string]any{
		"type":      msgType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		envelope[k] = v
	}
	data, _ := json.Marshal(envelope)
	return data
}

func errorMessage(detail string) []byte {
	return marshalEnvelope(MsgError, map[string]any{"message": detail})
}
