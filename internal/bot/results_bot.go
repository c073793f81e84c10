package bot

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dutch_scoreboard/internal/domain"
	"dutch_scoreboard/internal/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ResultsBot присылает владельцу итоги завершенной партии в личку
type ResultsBot struct {
	bot    *tgbotapi.BotAPI
	stopCh chan struct{}
	wg     sync.WaitGroup
	log    *slog.Logger
}

// NewResultsBot создаёт бота уведомлений об итогах
func NewResultsBot(token string) (*ResultsBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log := logger.With("component", "results_bot")
	log.Info("results bot authorized", "username", bot.Self.UserName)

	return &ResultsBot{
		bot:    bot,
		stopCh: make(chan struct{}),
		log:    log,
	}, nil
}

// Start запускает прослушивание команд
func (b *ResultsBot) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.bot.GetUpdatesChan(u)
	b.log.Info("starting bot update loop")

	for {
		select {
		case <-b.stopCh:
			b.log.Info("stopping bot update loop")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}

			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			b.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleCommand(msg)
			}(update.Message)
		}
	}
}

// Stop плавно останавливает бота
func (b *ResultsBot) Stop() {
	b.log.Info("stopping results bot...")
	close(b.stopCh)
	b.bot.StopReceivingUpdates()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("results bot stopped gracefully")
	case <-time.After(10 * time.Second):
		b.log.Warn("results bot shutdown timeout, some handlers may not have completed")
	}
}

func (b *ResultsBot) handleCommand(msg *tgbotapi.Message) {
	var response string

	switch msg.Command() {
	case "start", "help":
		response = `<b>Dutch Scoreboard</b>

Я присылаю итоги завершённых партий.

Откройте mini app, ведите счёт там — как только партия будет завершена, сюда придёт финальная таблица.`

	default:
		response = "Неизвестная команда. Используйте /help."
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, response)
	reply.ParseMode = "HTML"
	reply.ReplyToMessageID = msg.MessageID

	if _, err := b.bot.Send(reply); err != nil {
		b.log.Error("error sending message", "error", err)
	}
}

// NotifyFinalized отправляет владельцу финальную таблицу партии
func (b *ResultsBot) NotifyFinalized(tgID int64, e *domain.HistoryEntry) {
	var sb strings.Builder
	sb.WriteString("<b>Партия завершена!</b>\n\n")
	sb.WriteString(fmt.Sprintf("Раундов: %d\n", e.RoundCount))
	if e.DurationS > 0 {
		sb.WriteString(fmt.Sprintf("Длительность: %s\n", (time.Duration(e.DurationS) * time.Second).String()))
	}
	sb.WriteString("\n")

	for i, p := range e.Players {
		marker := ""
		if p.Name == e.Winner {
			marker = " 🏆"
		}
		if p.IsDutch {
			marker += " (dutch)"
		}
		sb.WriteString(fmt.Sprintf("%d. %s — %d%s\n", i+1, p.Name, p.Score, marker))
	}

	msg := tgbotapi.NewMessage(tgID, sb.String())
	msg.ParseMode = "HTML"
	if _, err := b.bot.Send(msg); err != nil {
		b.log.Error("не удалось отправить итоги партии", "tg_id", tgID, "error", err)
	}
}
