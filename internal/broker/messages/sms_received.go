package messages

import "time"

// SMSReceived is an inbound courier notification forwarded by an SMS gateway.
type SMSReceived struct {
	MessageID  string    `json:"message_id"`
	Sender     string    `json:"sender,omitempty"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}
