package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"trade_ledger/internal/models"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Evaluator очередь оценок, которой управляют из чата.
type Evaluator interface {
	Counts() Badge
	Pending() []models.EvaluationTask
	Unresolved() []*models.IncomingPosition
	MarkOpeningShown(ctx context.Context, exchange, positionID string, meta models.UserMetadata) error
	SubmitClosing(ctx context.Context, exchange, positionID string, meta models.UserMetadata) error
	ResolveUnresolved(ctx context.Context, exchange, positionID string, retry bool) error
}

// Syncer внеочередной проход сверки.
type Syncer interface {
	TriggerNow(ctx context.Context) (models.PassResult, error)
}

const (
	cbOpen  = "open"
	cbClose = "close"
	cbRetry = "retry"
	cbDrop  = "drop"
)

// reply одно исходящее сообщение, опционально с inline-кнопками.
type reply struct {
	text string
	kb   *tgbot.InlineKeyboardMarkup
}

// Telegram отправка в один чат и команды оценки из него же.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	log    *zap.Logger

	mu        sync.RWMutex
	evaluator Evaluator
	syncer    Syncer
	cancel    context.CancelFunc
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID, log: log.Named("telegram")}, nil
}

// SetEvaluator очередь создаётся после нотифайера, поэтому подключается отдельно.
func (t *Telegram) SetEvaluator(e Evaluator) {
	t.mu.Lock()
	t.evaluator = e
	t.mu.Unlock()
}

// SetSyncer есть только в serve, где работает планировщик.
func (t *Telegram) SetSyncer(s Syncer) {
	t.mu.Lock()
	t.syncer = s
	t.mu.Unlock()
}

func (t *Telegram) deps() (Evaluator, Syncer) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.evaluator, t.syncer
}

func (t *Telegram) Notify(_ context.Context, msg string) error {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return nil
	}
	_, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg))
	return err
}

// Start long-polling команд и нажатий кнопок из нашего чата.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}

	go t.consume(ctx, t.bot.GetUpdatesChan(u))
	return nil
}

// consume выходит по ctx или когда StopReceivingUpdates закрыл канал.
func (t *Telegram) consume(ctx context.Context, updates tgbot.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, upd)
		}
	}
}

func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, upd tgbot.Update) {
	// 1) команды
	if msg := upd.Message; msg != nil {
		if msg.Chat == nil || msg.Chat.ID != t.chatID || !msg.IsCommand() {
			return
		}
		if msg.Command() == "sync" {
			// проход может идти долго, не держим приём апдейтов
			go t.send(t.handleCommand(ctx, msg.Command(), msg.CommandArguments()))
			return
		}
		t.send(t.handleCommand(ctx, msg.Command(), msg.CommandArguments()))
		return
	}

	// 2) inline-кнопки
	if cb := upd.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != t.chatID {
			return
		}
		// отвечаем ТГ, чтобы убрать "часики" на кнопке
		_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

		status := t.handleCallback(ctx, cb.Data)
		edit := tgbot.NewEditMessageText(t.chatID, cb.Message.MessageID, cb.Message.Text+"\n\n"+status)
		if _, err := t.bot.Send(edit); err != nil {
			t.log.Warn("edit callback message failed", zap.Error(err))
		}
	}
}

func (t *Telegram) send(replies []reply) {
	if t.bot == nil {
		return
	}
	for _, r := range replies {
		msg := tgbot.NewMessage(t.chatID, r.text)
		if r.kb != nil {
			msg.ReplyMarkup = *r.kb
		}
		if _, err := t.bot.Send(msg); err != nil {
			t.log.Warn("telegram send failed", zap.Error(err))
		}
	}
}

func text(s string) []reply { return []reply{{text: s}} }

// handleCommand /pending, /sync, /open, /close, /retry, /drop.
func (t *Telegram) handleCommand(ctx context.Context, cmd, args string) []reply {
	ev, syncer := t.deps()
	if cmd == "sync" {
		if syncer == nil {
			return text("❗️ Сверка по запросу доступна только в serve")
		}
		res, err := syncer.TriggerNow(ctx)
		if err != nil {
			return text("❌ Сверка не прошла: " + err.Error())
		}
		return text(formatPass(res))
	}

	if ev == nil {
		return text("❗️ Очередь оценок ещё не готова")
	}
	switch cmd {
	case "pending":
		return pendingReplies(ev)
	case "open", "close":
		ex, id, rest, ok := parseTarget(args)
		if !ok {
			return text(fmt.Sprintf("Формат: /%s <биржа:позиция> [заметка #тег]", cmd))
		}
		meta := parseMetadata(rest)
		var err error
		if cmd == "open" {
			err = ev.MarkOpeningShown(ctx, ex, id, meta)
		} else {
			err = ev.SubmitClosing(ctx, ex, id, meta)
		}
		return text(result(err, "✅ Оценка сохранена: "+models.PositionKey(ex, id)))
	case "retry", "drop":
		ex, id, _, ok := parseTarget(args)
		if !ok {
			return text(fmt.Sprintf("Формат: /%s <биржа:позиция>", cmd))
		}
		err := ev.ResolveUnresolved(ctx, ex, id, cmd == "retry")
		return text(result(err, resolvedText(cmd == "retry", models.PositionKey(ex, id))))
	default:
		return text("Команды: /pending, /sync, /open, /close, /retry, /drop")
	}
}

// handleCallback данные кнопки: verb::exchange:positionId.
func (t *Telegram) handleCallback(ctx context.Context, data string) string {
	ev, _ := t.deps()
	if ev == nil {
		return "❗️ Очередь оценок ещё не готова"
	}
	verb, key, ok := strings.Cut(data, "::")
	if !ok {
		return "❗️ Неизвестная кнопка"
	}
	ex, id, ok := strings.Cut(key, ":")
	if !ok || ex == "" || id == "" {
		return "❗️ Неизвестная кнопка"
	}

	var err error
	switch verb {
	case cbOpen:
		err = ev.MarkOpeningShown(ctx, ex, id, models.UserMetadata{})
	case cbClose:
		err = ev.SubmitClosing(ctx, ex, id, models.UserMetadata{})
	case cbRetry, cbDrop:
		err = ev.ResolveUnresolved(ctx, ex, id, verb == cbRetry)
		return result(err, resolvedText(verb == cbRetry, key))
	default:
		return "❗️ Неизвестная кнопка"
	}
	return result(err, "✅ Оценено")
}

func pendingReplies(ev Evaluator) []reply {
	b := ev.Counts()
	if b.Total() == 0 {
		return text("📭 Нечего оценивать")
	}
	out := text("📝 Ждут оценки: " + b.String())
	for _, task := range ev.Pending() {
		key := models.PositionKey(task.Exchange, task.PositionID)
		switch task.Kind {
		case models.EvaluationOpening:
			out = append(out, reply{
				text: fmt.Sprintf("🟢 Открытие %s %s %s\n/open %s заметка #тег", task.Symbol, task.Side, key, key),
				kb:   keyboard(tgbot.NewInlineKeyboardButtonData("✅ Без заметки", cbOpen+"::"+key)),
			})
		case models.EvaluationClosing:
			out = append(out, reply{
				text: fmt.Sprintf("🔴 Закрытие %s %s %s\n/close %s заметка #тег", task.Symbol, task.Side, key, key),
				kb:   keyboard(tgbot.NewInlineKeyboardButtonData("✅ Без заметки", cbClose+"::"+key)),
			})
		}
	}
	for _, p := range ev.Unresolved() {
		key := models.PositionKey(p.Exchange, p.PositionID)
		out = append(out, reply{
			text: fmt.Sprintf("⚠️ Нет истории закрытия %s %s (%d попыток)", p.Symbol, key, p.CloseMisses),
			kb: keyboard(
				tgbot.NewInlineKeyboardButtonData("🔁 Повторить", cbRetry+"::"+key),
				tgbot.NewInlineKeyboardButtonData("🗑 Удалить", cbDrop+"::"+key),
			),
		})
	}
	return out
}

func keyboard(buttons ...tgbot.InlineKeyboardButton) *tgbot.InlineKeyboardMarkup {
	kb := tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(buttons...))
	return &kb
}

// parseTarget "okx:123:1709280000000 заметка" -> okx, 123:1709280000000, "заметка".
func parseTarget(args string) (exchange, positionID, rest string, ok bool) {
	args = strings.TrimSpace(args)
	if args == "" {
		return "", "", "", false
	}
	key, rest, _ := strings.Cut(args, " ")
	exchange, positionID, ok = strings.Cut(key, ":")
	if !ok || exchange == "" || positionID == "" {
		return "", "", "", false
	}
	return exchange, positionID, strings.TrimSpace(rest), true
}

// parseMetadata слова с # уходят в теги, остальное в заметку.
func parseMetadata(s string) models.UserMetadata {
	var (
		meta  models.UserMetadata
		words []string
	)
	for _, w := range strings.Fields(s) {
		if tag, ok := strings.CutPrefix(w, "#"); ok && tag != "" {
			meta.Tags = append(meta.Tags, tag)
			continue
		}
		words = append(words, w)
	}
	meta.Note = strings.Join(words, " ")
	return meta
}

func formatPass(res models.PassResult) string {
	return fmt.Sprintf("🔄 Сверка за %s: новых %d, обновлено %d, закрыто %d, отложено %d, без истории %d, ошибок %d",
		res.Duration.Round(time.Millisecond), len(res.Created), len(res.Updated), len(res.Closed),
		len(res.Deferred), len(res.Unresolved), len(res.Errors))
}

func resolvedText(retry bool, key string) string {
	if retry {
		return "🔁 Снова сверяется: " + key
	}
	return "🗑 Удалена: " + key
}

func result(err error, ok string) string {
	if err != nil {
		return "❌ " + err.Error()
	}
	return ok
}
