// Package telegram lets farmers diagnose leaves by sending a photo to a
// Telegram bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/cropdoc/api/internal/diagnosis"
	"github.com/cropdoc/api/internal/inference"
)

const (
	msgStart = `Hello! I diagnose maize leaf diseases.

Send me a clear photo of a single leaf and I will tell you what I see, how sure I am, and what treatment is recommended.

Commands:
/help - how to take a good photo`

	msgHelp = `How to use the bot:

1. Photograph one leaf in daylight
2. Fill the frame with the leaf
3. Send the photo (as a photo or as an image file)

You will get the diagnosis, the recommended treatment and the photo with the regions that drove the decision highlighted in blue.`

	msgSendPhoto      = "Please send a photo of a maize leaf."
	msgUnknownCommand = "Unknown command. Use /help for instructions."
	msgProcessing     = "Analysing your photo..."
	msgNotAnImage     = "I could not read that file as an image. Please send a JPEG or PNG photo."
	msgFailed         = "Sorry, the diagnosis failed. Please try again with another photo."
)

// Sender is the part of the Telegram API the bot writes to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// FileFetcher downloads a file the user sent.
type FileFetcher interface {
	Fetch(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Diagnoser runs the shared diagnosis flow.
type Diagnoser interface {
	Diagnose(ctx context.Context, req diagnosis.Request) (*diagnosis.Outcome, error)
}

// Bot answers commands and diagnoses photos.
type Bot struct {
	sender    Sender
	files     FileFetcher
	diagnoser Diagnoser
	logger    *zap.Logger
}

// NewBot creates a bot around an already-authorized sender.
func NewBot(sender Sender, files FileFetcher, diagnoser Diagnoser, logger *zap.Logger) *Bot {
	return &Bot{sender: sender, files: files, diagnoser: diagnoser, logger: logger}
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, api *tgbotapi.BotAPI) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				b.HandleMessage(ctx, update.Message)
			}
		}
	}
}

// HandleMessage dispatches one incoming message.
func (b *Bot) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	switch {
	case msg.IsCommand():
		b.handleCommand(msg)
	case len(msg.Photo) > 0:
		// Telegram lists sizes smallest first.
		photo := msg.Photo[len(msg.Photo)-1]
		b.diagnose(ctx, msg.Chat.ID, photo.FileID, photo.FileUniqueID+".jpg")
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		b.diagnose(ctx, msg.Chat.ID, msg.Document.FileID, msg.Document.FileName)
	default:
		b.sendText(msg.Chat.ID, msgSendPhoto)
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendText(msg.Chat.ID, msgStart)
	case "help":
		b.sendText(msg.Chat.ID, msgHelp)
	default:
		b.sendText(msg.Chat.ID, msgUnknownCommand)
	}
}

func (b *Bot) diagnose(ctx context.Context, chatID int64, fileID, filename string) {
	b.sendText(chatID, msgProcessing)

	body, err := b.files.Fetch(ctx, fileID)
	if err != nil {
		b.logger.Error("failed to download photo", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, msgFailed)
		return
	}
	defer body.Close()

	out, err := b.diagnoser.Diagnose(ctx, diagnosis.Request{Filename: "telegram_" + filename, Body: body})
	if err != nil {
		var decodeErr *inference.ImageDecodeError
		if errors.As(err, &decodeErr) {
			b.sendText(chatID, msgNotAnImage)
			return
		}
		b.logger.Error("telegram diagnosis failed", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, msgFailed)
		return
	}

	b.sendText(chatID, FormatOutcome(out))

	if path := out.Result.ExplanationImagePath; path != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
		photo.Caption = "Highlighted: regions supporting " + out.Result.PredictedClass
		if _, err := b.sender.Send(photo); err != nil {
			b.logger.Warn("failed to send explanation photo", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

// FormatOutcome renders a diagnosis as a chat message.
func FormatOutcome(out *diagnosis.Outcome) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Diagnosis: %s\nConfidence: %.2f%%\n", out.Result.PredictedClass, out.Result.ConfidencePercent)

	ts := out.Diagnosis.Treatments
	if len(ts) == 0 {
		sb.WriteString("\nNo treatment on record for this result.")
		return sb.String()
	}
	sb.WriteString("\nRecommended treatment:")
	for _, t := range ts {
		fmt.Fprintf(&sb, "\n- %s: %s", t.DrugName, t.AdministrationInstructions)
	}
	return sb.String()
}

func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// APIFiles downloads files through the Bot API file endpoint.
type APIFiles struct {
	API    *tgbotapi.BotAPI
	Client *http.Client
}

func (f APIFiles) Fetch(ctx context.Context, fileID string) (io.ReadCloser, error) {
	url, err := f.API.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
