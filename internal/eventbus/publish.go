package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cropdoc/api/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectDiagnosisCompleted carries a models.DiagnosisEvent per stored diagnosis.
const SubjectDiagnosisCompleted = "cropdoc.diagnosis.completed"

// Publisher announces domain events.
type Publisher interface {
	PublishDiagnosis(ctx context.Context, ev models.DiagnosisEvent) error
}

// PublishDiagnosis appends ev to the stream. The diagnosis id doubles as
// the JetStream message id so retries are deduplicated.
func (b *Bus) PublishDiagnosis(ctx context.Context, ev models.DiagnosisEvent) error {
	msg, err := diagnosisMsg(ev)
	if err != nil {
		return err
	}
	ack, err := b.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	b.logger.Debug("event published",
		zap.String("subject", msg.Subject),
		zap.Uint64("seq", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate),
	)
	return nil
}

func diagnosisMsg(ev models.DiagnosisEvent) (*nats.Msg, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode diagnosis event: %w", err)
	}
	msg := nats.NewMsg(SubjectDiagnosisCompleted)
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, ev.DiagnosisID.String())
	msg.Header.Set("Content-Type", "application/json")
	return msg, nil
}

// Nop discards events. It stands in when NATS is unreachable at startup.
type Nop struct{}

func (Nop) PublishDiagnosis(context.Context, models.DiagnosisEvent) error { return nil }
