package outbound

import (
	"context"
	"encoding/json"

	"github.com/chatdesk/courier/pkg/logx"
	"github.com/chatdesk/courier/pkg/queuex"
)

// RegisterHandlers wires one handler per outbound queue onto the queue
// client. The send queues all target the throttled WhatsApp surface and
// share the admission gate; refunds hit the payment gateway and do not.
func (s *Service) RegisterHandlers(base queuex.WorkerConfig) {
	throttled := base
	throttled.RateLimited = true

	s.queue.RegisterHandler(QueueSendText, s.handleSendText, throttled)
	s.queue.RegisterHandler(QueueSendButtons, s.handleSendButtons, throttled)
	s.queue.RegisterHandler(QueueSendList, s.handleSendList, throttled)
	s.queue.RegisterHandler(QueueSendImage, s.handleSendImage, throttled)
	s.queue.RegisterHandler(QueueSendDocument, s.handleSendDocument, throttled)
	s.queue.RegisterHandler(QueueSendBotNode, s.handleSendBotNode, throttled)

	unthrottled := base
	unthrottled.RateLimited = false
	s.queue.RegisterHandler(QueueProcessRefund, s.handleProcessRefund, unthrottled)
}

func (s *Service) handleSendText(ctx context.Context, job *queuex.Job) error {
	var p TextPayload
	if err := unmarshalPayload(job, &p); err != nil {
		return err
	}

	wireID, err := s.wa.SendText(ctx, p.PhoneNo, p.Text)
	if err != nil {
		return err
	}
	s.notifyDelivered(ctx, p.CaseID, p.MessageID, wireID)
	return nil
}

func (s *Service) handleSendButtons(ctx context.Context, job *queuex.Job) error {
	var p ButtonsPayload
	if err := unmarshalPayload(job, &p); err != nil {
		return err
	}

	wireID, err := s.wa.SendButtons(ctx, p.PhoneNo, p.Body, p.Buttons)
	if err != nil {
		return err
	}
	s.notifyDelivered(ctx, p.CaseID, p.MessageID, wireID)
	return nil
}

func (s *Service) handleSendList(ctx context.Context, job *queuex.Job) error {
	var p ListPayload
	if err := unmarshalPayload(job, &p); err != nil {
		return err
	}

	wireID, err := s.wa.SendList(ctx, p.PhoneNo, p.Body, p.ButtonLabel, p.Sections)
	if err != nil {
		return err
	}
	s.notifyDelivered(ctx, p.CaseID, p.MessageID, wireID)
	return nil
}

func (s *Service) handleSendImage(ctx context.Context, job *queuex.Job) error {
	var p ImagePayload
	if err := unmarshalPayload(job, &p); err != nil {
		return err
	}

	wireID, err := s.wa.SendImage(ctx, p.PhoneNo, p.Link, p.Caption)
	if err != nil {
		return err
	}
	s.notifyDelivered(ctx, p.CaseID, p.MessageID, wireID)
	return nil
}

func (s *Service) handleSendDocument(ctx context.Context, job *queuex.Job) error {
	var p DocumentPayload
	if err := unmarshalPayload(job, &p); err != nil {
		return err
	}

	wireID, err := s.wa.SendDocument(ctx, p.PhoneNo, p.Link, p.Filename, p.Caption)
	if err != nil {
		return err
	}
	s.notifyDelivered(ctx, p.CaseID, p.MessageID, wireID)
	return nil
}

func (s *Service) handleSendBotNode(ctx context.Context, job *queuex.Job) error {
	var p BotNodePayload
	if err := unmarshalPayload(job, &p); err != nil {
		return err
	}
	return s.bot.SendNode(ctx, p.PhoneNo, p.CaseID, p.NodeID)
}

func (s *Service) handleProcessRefund(ctx context.Context, job *queuex.Job) error {
	var p RefundPayload
	if err := unmarshalPayload(job, &p); err != nil {
		return err
	}
	return s.refunds.ProcessRefund(ctx, p)
}

// notifyDelivered reports delivery to the status collaborator. The send
// already happened, so a feedback failure is logged rather than returned:
// failing the job here would re-send the message.
func (s *Service) notifyDelivered(ctx context.Context, caseID, messageID int64, wireID string) {
	if s.status == nil {
		return
	}
	if err := s.status.MarkDelivered(ctx, caseID, messageID, wireID); err != nil {
		logx.WithError(err).
			WithField("case_id", caseID).
			WithField("message_id", messageID).
			Warn("outbound: delivery feedback failed")
	}
}

func unmarshalPayload(job *queuex.Job, v any) error {
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return outboundErrors.NewWithCause(ErrBadJobPayload, err).WithDetail("job_id", job.ID)
	}
	return nil
}
