package outbound

import "github.com/chatdesk/courier/pkg/wapp"

// Queue names, one per outbound job kind.
const (
	QueueSendText      = "send-text"
	QueueSendButtons   = "send-buttons"
	QueueSendList      = "send-list"
	QueueSendImage     = "send-image"
	QueueSendDocument  = "send-document"
	QueueSendBotNode   = "send-bot-node"
	QueueProcessRefund = "process-refund"
)

// TextPayload is one outbound text message tied to a support case.
type TextPayload struct {
	PhoneNo   string `json:"phoneNo"`
	Text      string `json:"text"`
	CaseID    int64  `json:"caseId"`
	MessageID int64  `json:"messageId"`
}

// ButtonsPayload is an interactive quick-reply message.
type ButtonsPayload struct {
	PhoneNo   string        `json:"phoneNo"`
	Body      string        `json:"body"`
	Buttons   []wapp.Button `json:"buttons"`
	CaseID    int64         `json:"caseId"`
	MessageID int64         `json:"messageId"`
}

// ListPayload is an interactive list message.
type ListPayload struct {
	PhoneNo     string             `json:"phoneNo"`
	Body        string             `json:"body"`
	ButtonLabel string             `json:"buttonLabel"`
	Sections    []wapp.ListSection `json:"sections"`
	CaseID      int64              `json:"caseId"`
	MessageID   int64              `json:"messageId"`
}

// ImagePayload is an outbound image message.
type ImagePayload struct {
	PhoneNo   string `json:"phoneNo"`
	Link      string `json:"link"`
	Caption   string `json:"caption,omitempty"`
	CaseID    int64  `json:"caseId"`
	MessageID int64  `json:"messageId"`
}

// DocumentPayload is an outbound document message.
type DocumentPayload struct {
	PhoneNo   string `json:"phoneNo"`
	Link      string `json:"link"`
	Filename  string `json:"filename,omitempty"`
	Caption   string `json:"caption,omitempty"`
	CaseID    int64  `json:"caseId"`
	MessageID int64  `json:"messageId"`
}

// BotNodePayload asks the bot engine to fire one conversation-flow node.
type BotNodePayload struct {
	PhoneNo string `json:"phoneNo"`
	CaseID  int64  `json:"caseId"`
	NodeID  string `json:"nodeId"`
}

// RefundPayload is one refund to process against the payment gateway.
type RefundPayload struct {
	CaseID      int64  `json:"caseId"`
	PaymentID   string `json:"paymentId"`
	AmountPaise int64  `json:"amountPaise"`
	Reason      string `json:"reason,omitempty"`
}
