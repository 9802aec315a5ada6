package telegram

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"moviebot/internal/metrics"

	"go.uber.org/zap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	// maxRetries сколько раз повторяем при 429.
	maxRetries = 1
	// maxRetryWait дольше этого не ждём: обработчик вебхука синхронный.
	maxRetryWait = 5 * time.Second
	// maxAlbum лимит Telegram на число элементов в альбоме.
	maxAlbum = 10
)

// SendOptions дополнительные параметры текстового сообщения.
type SendOptions struct {
	Keyboard *tgbotapi.InlineKeyboardMarkup
	ReplyTo  int
}

// Client обёртка над Bot API. Ошибки отправки логируются и не
// пробрасываются, кроме фото: там вызывающий откатывается на текст.
type Client struct {
	api   *tgbotapi.BotAPI
	log   *zap.Logger
	sleep func(time.Duration)
}

// New авторизует бота через getMe. endpoint в формате tgbotapi.APIEndpoint,
// пустая строка означает api.telegram.org.
func New(token, endpoint string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	log.Info("bot authorized", zap.String("username", api.Self.UserName))
	return &Client{api: api, log: log, sleep: time.Sleep}, nil
}

// API исходный клиент tgbotapi (long polling, вебхук).
func (c *Client) API() *tgbotapi.BotAPI { return c.api }

// Username имя бота без @.
func (c *Client) Username() string { return c.api.Self.UserName }

// SendText HTML-сообщение. Возвращает message_id или 0 при ошибке.
func (c *Client) SendText(chatID int64, text string, opts SendOptions) int {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeHTML
	m.DisableWebPagePreview = true
	m.ReplyToMessageID = opts.ReplyTo
	if opts.Keyboard != nil {
		m.ReplyMarkup = *opts.Keyboard
	}

	var sent tgbotapi.Message
	err := c.do("sendMessage", func() error {
		var err error
		sent, err = c.api.Send(m)
		return err
	})
	if err != nil {
		c.log.Warn("failed to send text message", zap.Error(err), zap.Int64("chat_id", chatID))
		return 0
	}
	return sent.MessageID
}

// SendPhoto фото по URL с HTML-подписью.
func (c *Client) SendPhoto(chatID int64, photoURL, caption string) error {
	p := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoURL))
	p.Caption = caption
	p.ParseMode = tgbotapi.ModeHTML

	err := c.do("sendPhoto", func() error {
		_, err := c.api.Send(p)
		return err
	})
	if err != nil {
		c.log.Warn("failed to send photo", zap.Error(err), zap.Int64("chat_id", chatID), zap.String("photo", photoURL))
	}
	return err
}

// SendAlbum альбом из фото, подпись у первого. Одно фото уходит через sendPhoto.
func (c *Client) SendAlbum(chatID int64, photoURLs []string, caption string) error {
	switch {
	case len(photoURLs) == 0:
		return errors.New("empty album")
	case len(photoURLs) == 1:
		return c.SendPhoto(chatID, photoURLs[0], caption)
	case len(photoURLs) > maxAlbum:
		photoURLs = photoURLs[:maxAlbum]
	}

	media := make([]interface{}, 0, len(photoURLs))
	for i, u := range photoURLs {
		item := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(u))
		if i == 0 {
			item.Caption = caption
			item.ParseMode = tgbotapi.ModeHTML
		}
		media = append(media, item)
	}
	group := tgbotapi.NewMediaGroup(chatID, media)

	err := c.do("sendMediaGroup", func() error {
		_, err := c.api.SendMediaGroup(group)
		return err
	})
	if err != nil {
		c.log.Warn("failed to send album", zap.Error(err), zap.Int64("chat_id", chatID))
	}
	return err
}

// Delete удаляет сообщение. Уже удалённое сообщение не считается ошибкой.
func (c *Client) Delete(chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	err := c.do("deleteMessage", func() error {
		_, err := c.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
		return err
	})
	if err != nil && !isMessageGone(err) {
		c.log.Warn("failed to delete message", zap.Error(err), zap.Int64("chat_id", chatID), zap.Int("message_id", messageID))
	}
}

// AnswerCallback снимает индикатор загрузки с кнопки.
func (c *Client) AnswerCallback(callbackID, text string) {
	err := c.do("answerCallbackQuery", func() error {
		_, err := c.api.Request(tgbotapi.NewCallback(callbackID, text))
		return err
	})
	if err != nil {
		c.log.Warn("failed to answer callback", zap.Error(err), zap.String("callback_id", callbackID))
	}
}

// EditKeyboard заменяет клавиатуру сообщения.
func (c *Client) EditKeyboard(chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup) {
	err := c.do("editMessageReplyMarkup", func() error {
		_, err := c.api.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, markup))
		return err
	})
	if err != nil && !isNotModified(err) {
		c.log.Warn("failed to edit keyboard", zap.Error(err), zap.Int64("chat_id", chatID), zap.Int("message_id", messageID))
	}
}

// EditText заменяет текст сообщения (клавиатура при этом снимается).
func (c *Client) EditText(chatID int64, messageID int, text string) {
	e := tgbotapi.NewEditMessageText(chatID, messageID, text)
	e.ParseMode = tgbotapi.ModeHTML
	e.DisableWebPagePreview = true

	err := c.do("editMessageText", func() error {
		_, err := c.api.Request(e)
		return err
	})
	if err != nil && !isNotModified(err) {
		c.log.Warn("failed to edit text", zap.Error(err), zap.Int64("chat_id", chatID), zap.Int("message_id", messageID))
	}
}

// SetWebhook регистрирует адрес вебхука.
func (c *Client) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return err
	}
	return c.do("setWebhook", func() error {
		_, err := c.api.Request(wh)
		return err
	})
}

// DeleteWebhook снимает вебхук перед long polling.
func (c *Client) DeleteWebhook() error {
	return c.do("deleteWebhook", func() error {
		_, err := c.api.Request(tgbotapi.DeleteWebhookConfig{})
		return err
	})
}

// do выполняет вызов с повтором при 429.
func (c *Client) do(method string, call func() error) error {
	for attempt := 1; ; attempt++ {
		err := call()
		wait, limited := retryAfter(err)
		if err == nil || !limited || attempt > maxRetries || wait > maxRetryWait {
			metrics.TelegramRequests.WithLabelValues(method, metrics.Outcome(err)).Inc()
			return err
		}

		metrics.TelegramRequests.WithLabelValues(method, "rate_limited").Inc()
		c.log.Warn("rate limited by Telegram, waiting",
			zap.String("method", method),
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt),
		)
		c.sleep(wait)
	}
}

// retryAfter время ожидания из ответа 429.
func retryAfter(err error) (time.Duration, bool) {
	apiErr, ok := asAPIError(err)
	if !ok || apiErr.Code != http.StatusTooManyRequests {
		return 0, false
	}
	wait := time.Duration(apiErr.RetryAfter) * time.Second
	if wait <= 0 {
		wait = time.Second
	}
	return wait, true
}

// asAPIError ошибка Bot API, отданная tgbotapi по значению или по указателю.
func asAPIError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

func apiMessage(err error) string {
	if apiErr, ok := asAPIError(err); ok {
		return strings.ToLower(apiErr.Message)
	}
	return ""
}

func isMessageGone(err error) bool {
	msg := apiMessage(err)
	return strings.Contains(msg, "message to delete not found") || strings.Contains(msg, "message can't be deleted")
}

func isNotModified(err error) bool {
	return strings.Contains(apiMessage(err), "message is not modified")
}
