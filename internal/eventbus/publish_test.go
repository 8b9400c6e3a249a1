package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cropdoc/api/internal/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosisMsg(t *testing.T) {
	ev := models.DiagnosisEvent{
		DiagnosisID:       uuid.New(),
		PredictedClass:    "Common Rust",
		ConfidencePercent: 88.5,
		OccurredAt:        time.Date(2025, 11, 20, 15, 59, 0, 0, time.UTC),
	}

	msg, err := diagnosisMsg(ev)
	require.NoError(t, err)
	assert.Equal(t, SubjectDiagnosisCompleted, msg.Subject)
	assert.Equal(t, ev.DiagnosisID.String(), msg.Header.Get(nats.MsgIdHdr))

	var back models.DiagnosisEvent
	require.NoError(t, json.Unmarshal(msg.Data, &back))
	assert.Equal(t, ev, back)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishDiagnosis(context.Background(), models.DiagnosisEvent{}))
}
