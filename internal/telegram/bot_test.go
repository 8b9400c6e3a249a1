package telegram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cropdoc/api/internal/diagnosis"
	"github.com/cropdoc/api/internal/inference"
	"github.com/cropdoc/api/internal/models"
)

type recordingSender struct {
	sent []tgbotapi.Chattable
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.sent = append(r.sent, c)
	return tgbotapi.Message{}, nil
}

func (r *recordingSender) texts() []string {
	var out []string
	for _, c := range r.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

type memFiles map[string][]byte

func (m memFiles) Fetch(_ context.Context, id string) (io.ReadCloser, error) {
	b, ok := m[id]
	if !ok {
		return nil, errors.New("no such file")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type stubDiagnoser struct {
	out *diagnosis.Outcome
	err error
	req diagnosis.Request
}

func (s *stubDiagnoser) Diagnose(_ context.Context, req diagnosis.Request) (*diagnosis.Outcome, error) {
	s.req = req
	return s.out, s.err
}

func command(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}
}

func TestCommands(t *testing.T) {
	s := &recordingSender{}
	bot := NewBot(s, memFiles{}, &stubDiagnoser{}, zap.NewNop())

	bot.HandleMessage(context.Background(), command(7, "/start"))
	bot.HandleMessage(context.Background(), command(7, "/help"))
	bot.HandleMessage(context.Background(), command(7, "/weather"))
	bot.HandleMessage(context.Background(), &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}, Text: "hi"})

	assert.Equal(t, []string{msgStart, msgHelp, msgUnknownCommand, msgSendPhoto}, s.texts())
}

func TestPhotoIsDiagnosed(t *testing.T) {
	s := &recordingSender{}
	d := &stubDiagnoser{out: &diagnosis.Outcome{
		Result: &inference.Result{PredictedClass: "Common Rust", ConfidencePercent: 88.5, ExplanationImagePath: "/media/explanations/lime_x.jpg"},
		Diagnosis: models.Diagnosis{Treatments: []models.DiseaseTreatment{
			{DrugName: "Mancozeb", AdministrationInstructions: "25g in 20L every 7 days"},
		}},
	}}
	bot := NewBot(s, memFiles{"big": []byte("jpeg")}, d, zap.NewNop())

	bot.HandleMessage(context.Background(), &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 9},
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", FileUniqueID: "s1", Width: 90},
			{FileID: "big", FileUniqueID: "b1", Width: 1280},
		},
	})

	assert.Equal(t, "telegram_b1.jpg", d.req.Filename)
	texts := s.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, msgProcessing, texts[0])
	assert.Contains(t, texts[1], "Diagnosis: Common Rust")
	assert.Contains(t, texts[1], "Confidence: 88.50%")
	assert.Contains(t, texts[1], "- Mancozeb: 25g in 20L every 7 days")

	require.Len(t, s.sent, 3)
	photo, ok := s.sent[2].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, int64(9), photo.ChatID)
	assert.Equal(t, tgbotapi.FilePath("/media/explanations/lime_x.jpg"), photo.File)
}

func TestUndecodablePhoto(t *testing.T) {
	s := &recordingSender{}
	d := &stubDiagnoser{err: &inference.ImageDecodeError{Source: "x", Err: errors.New("bad")}}
	bot := NewBot(s, memFiles{"doc": []byte("gif?")}, d, zap.NewNop())

	bot.HandleMessage(context.Background(), &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 3},
		Document: &tgbotapi.Document{FileID: "doc", FileName: "leaf.heic", MimeType: "image/heic"},
	})
	assert.Equal(t, []string{msgProcessing, msgNotAnImage}, s.texts())
}

func TestDownloadFailure(t *testing.T) {
	s := &recordingSender{}
	bot := NewBot(s, memFiles{}, &stubDiagnoser{}, zap.NewNop())

	bot.HandleMessage(context.Background(), &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 3},
		Photo: []tgbotapi.PhotoSize{{FileID: "gone"}},
	})
	assert.Equal(t, []string{msgProcessing, msgFailed}, s.texts())
}

func TestFormatOutcomeWithoutTreatments(t *testing.T) {
	got := FormatOutcome(&diagnosis.Outcome{Result: &inference.Result{PredictedClass: "Healthy", ConfidencePercent: 97}})
	assert.Equal(t, "Diagnosis: Healthy\nConfidence: 97.00%\n\nNo treatment on record for this result.", got)
}
