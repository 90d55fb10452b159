package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/satoshis-endgame/sentinel/pkg/logger"
	"github.com/satoshis-endgame/sentinel/pkg/models"
)

// Notifier delivers emergency patterns to a Telegram channel.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewNotifier creates the Telegram notifier.
func NewNotifier(botToken string, chatID int64) (*Notifier, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot.Debug = false

	logger.Info("telegram notifier initialized",
		zap.String("bot_username", bot.Self.UserName),
		zap.Int64("chat_id", chatID),
	)

	return &Notifier{api: bot, chatID: chatID}, nil
}

// Send delivers one emergency pattern alert.
func (n *Notifier) Send(ctx context.Context, pattern models.EmergencyPattern) error {
	msg := tgbotapi.NewMessage(n.chatID, formatPattern(pattern))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}

	logger.Info("alert delivered to telegram",
		zap.String("kind", string(pattern.Kind)),
		zap.String("severity", string(pattern.Severity)),
	)
	return nil
}

// SendStartup announces that monitoring came online.
func (n *Notifier) SendStartup(ctx context.Context, watchedCount int) error {
	text := fmt.Sprintf(
		"🛡️ *Sentinel online*\nWatching %d quantum-vulnerable addresses.\n`%s`",
		watchedCount,
		time.Now().UTC().Format(time.RFC3339),
	)
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := n.api.Send(msg)
	return err
}

func formatPattern(p models.EmergencyPattern) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s *%s* (%s)\n", severityEmoji(p.Severity), patternTitle(p.Kind), p.Severity)
	fmt.Fprintf(&b, "Score: %.0f/100\n", p.Score)
	fmt.Fprintf(&b, "Wallets: %d\n", len(p.WalletAddresses))
	fmt.Fprintf(&b, "Total value: %s BTC\n", p.TotalValueBTC.StringFixed(4))
	fmt.Fprintf(&b, "Window: %s - %s\n",
		p.WindowStart.UTC().Format("15:04:05"),
		p.WindowEnd.UTC().Format("15:04:05"),
	)
	if p.Details != "" {
		fmt.Fprintf(&b, "%s\n", p.Details)
	}

	// First few addresses, abbreviated
	limit := len(p.WalletAddresses)
	if limit > 5 {
		limit = 5
	}
	for _, addr := range p.WalletAddresses[:limit] {
		fmt.Fprintf(&b, "`%s`\n", abbreviate(addr))
	}
	if len(p.WalletAddresses) > limit {
		fmt.Fprintf(&b, "…and %d more\n", len(p.WalletAddresses)-limit)
	}

	return b.String()
}

func patternTitle(kind models.PatternKind) string {
	switch kind {
	case models.PatternDormantSurge:
		return "Dormant Wallet Surge"
	case models.PatternCoordinatedMovement:
		return "Coordinated Movement"
	case models.PatternValueConcentration:
		return "Value Concentration"
	case models.PatternStatisticalAnomaly:
		return "Statistical Anomaly"
	default:
		return string(kind)
	}
}

func severityEmoji(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "🚨"
	case models.SeverityHigh:
		return "⚠️"
	case models.SeverityMedium:
		return "🔶"
	default:
		return "ℹ️"
	}
}

func abbreviate(addr string) string {
	if len(addr) <= 16 {
		return addr
	}
	return addr[:10] + "..." + addr[len(addr)-4:]
}
