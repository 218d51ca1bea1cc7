package storage

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/semmidev/pgstash/internal/config"
)

// Bot API upload limit for documents.
const telegramMaxFileBytes = 50 << 20

// TelegramStorage posts artifacts and run summaries to a chat. Nothing sent
// can be listed or deleted later, so retention is a no-op.
type TelegramStorage struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(cfg *config.UploadTarget) (*TelegramStorage, error) {
	return newTelegram(cfg, tgbotapi.APIEndpoint)
}

func newTelegram(cfg *config.UploadTarget, endpoint string) (*TelegramStorage, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat_id %q: %w", cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramStorage{bot: bot, chatID: chatID}, nil
}

// Upload sends the artifact as a document. Files above the Bot API limit
// are announced by name and size only.
func (t *TelegramStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	sizeMB := float64(info.Size()) / (1024 * 1024)
	if info.Size() > telegramMaxFileBytes {
		return t.Notify(ctx, fmt.Sprintf("📦 Backup %s (%.2f MB) is too large to attach", remoteName, sizeMB))
	}

	doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FilePath(localPath))
	doc.Caption = fmt.Sprintf("📦 Backup: %s (%.2f MB)", remoteName, sizeMB)
	if _, err := t.bot.Send(doc); err != nil {
		return fmt.Errorf("failed to send telegram file: %w", err)
	}

	return nil
}

func (t *TelegramStorage) List(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

func (t *TelegramStorage) Delete(ctx context.Context, remoteName string) error {
	return nil
}

func (t *TelegramStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	return []string{}, nil
}

// Notify sends a plain text message to the configured chat.
func (t *TelegramStorage) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, message)); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}
