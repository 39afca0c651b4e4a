// Package outbound is the producer API of the delivery subsystem: one
// typed enqueue per outbound job kind, each carrying a deterministic
// singleton key, plus the handlers workers run against the WhatsApp API
// and the refund/bot collaborators.
package outbound

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chatdesk/courier/pkg/queuex"
	"github.com/chatdesk/courier/pkg/wapp"
)

// StatusNotifier is the success-feedback collaborator. Implementations
// must be idempotent by message ID: a retried job may notify twice.
type StatusNotifier interface {
	MarkDelivered(ctx context.Context, caseID, messageID int64, wireMessageID string) error
}

// RefundProcessor executes a refund against the payment gateway.
type RefundProcessor interface {
	ProcessRefund(ctx context.Context, refund RefundPayload) error
}

// BotEngine fires one bot conversation-flow node at a recipient.
type BotEngine interface {
	SendNode(ctx context.Context, phoneNo string, caseID int64, nodeID string) error
}

// Service enqueues outbound jobs and owns their handlers. Enqueue methods
// only guarantee durable acceptance; delivery happens on a worker and is
// observed through the StatusNotifier.
type Service struct {
	queue   *queuex.Client
	wa      *wapp.Client
	status  StatusNotifier
	refunds RefundProcessor
	bot     BotEngine
}

// NewService creates the producer service.
func NewService(queue *queuex.Client, wa *wapp.Client, status StatusNotifier, refunds RefundProcessor, bot BotEngine) *Service {
	return &Service{
		queue:   queue,
		wa:      wa,
		status:  status,
		refunds: refunds,
		bot:     bot,
	}
}

// ---------------------------------------------------------------------------
// Typed enqueue methods
// ---------------------------------------------------------------------------

// EnqueueText accepts a text send. Retrying the same case/message pair
// returns the already-queued job.
func (s *Service) EnqueueText(ctx context.Context, p TextPayload) (string, error) {
	if p.PhoneNo == "" || p.Text == "" {
		return "", outboundErrors.NewWithMessage(ErrInvalidPayload, "phoneNo and text are required")
	}
	return s.enqueue(ctx, QueueSendText, p, messageKey(p.CaseID, p.MessageID))
}

// EnqueueButtons accepts an interactive quick-reply send.
func (s *Service) EnqueueButtons(ctx context.Context, p ButtonsPayload) (string, error) {
	if p.PhoneNo == "" || len(p.Buttons) == 0 {
		return "", outboundErrors.NewWithMessage(ErrInvalidPayload, "phoneNo and buttons are required")
	}
	return s.enqueue(ctx, QueueSendButtons, p, messageKey(p.CaseID, p.MessageID))
}

// EnqueueList accepts an interactive list send.
func (s *Service) EnqueueList(ctx context.Context, p ListPayload) (string, error) {
	if p.PhoneNo == "" || len(p.Sections) == 0 {
		return "", outboundErrors.NewWithMessage(ErrInvalidPayload, "phoneNo and sections are required")
	}
	return s.enqueue(ctx, QueueSendList, p, messageKey(p.CaseID, p.MessageID))
}

// EnqueueImage accepts an image send.
func (s *Service) EnqueueImage(ctx context.Context, p ImagePayload) (string, error) {
	if p.PhoneNo == "" || p.Link == "" {
		return "", outboundErrors.NewWithMessage(ErrInvalidPayload, "phoneNo and link are required")
	}
	return s.enqueue(ctx, QueueSendImage, p, messageKey(p.CaseID, p.MessageID))
}

// EnqueueDocument accepts a document send.
func (s *Service) EnqueueDocument(ctx context.Context, p DocumentPayload) (string, error) {
	if p.PhoneNo == "" || p.Link == "" {
		return "", outboundErrors.NewWithMessage(ErrInvalidPayload, "phoneNo and link are required")
	}
	return s.enqueue(ctx, QueueSendDocument, p, messageKey(p.CaseID, p.MessageID))
}

// EnqueueBotNode accepts a bot-reply job.
func (s *Service) EnqueueBotNode(ctx context.Context, p BotNodePayload) (string, error) {
	if p.PhoneNo == "" || p.NodeID == "" {
		return "", outboundErrors.NewWithMessage(ErrInvalidPayload, "phoneNo and nodeId are required")
	}
	return s.enqueue(ctx, QueueSendBotNode, p, botNodeKey(p.CaseID, p.NodeID))
}

// EnqueueRefund accepts a refund job, keyed by payment so the same
// payment can never hold two live refund jobs.
func (s *Service) EnqueueRefund(ctx context.Context, p RefundPayload) (string, error) {
	if p.PaymentID == "" || p.AmountPaise <= 0 {
		return "", outboundErrors.NewWithMessage(ErrInvalidPayload, "paymentId and a positive amount are required")
	}
	return s.enqueue(ctx, QueueProcessRefund, p, refundKey(p.PaymentID))
}

// ScheduleText accepts a text send that becomes eligible at runAt.
func (s *Service) ScheduleText(ctx context.Context, p TextPayload, runAt time.Time) (string, error) {
	if p.PhoneNo == "" || p.Text == "" {
		return "", outboundErrors.NewWithMessage(ErrInvalidPayload, "phoneNo and text are required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", outboundErrors.NewWithCause(ErrInvalidPayload, err)
	}
	return s.queue.Schedule(ctx, QueueSendText, data, runAt, queuex.EnqueueOptions{
		SingletonKey: messageKey(p.CaseID, p.MessageID),
	})
}

func (s *Service) enqueue(ctx context.Context, queue string, payload any, singletonKey string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", outboundErrors.NewWithCause(ErrInvalidPayload, err)
	}
	return s.queue.Enqueue(ctx, queue, data, queuex.EnqueueOptions{SingletonKey: singletonKey})
}
