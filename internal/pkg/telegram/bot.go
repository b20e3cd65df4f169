// internal/pkg/telegram/bot.go
package telegram

import (
	"strconv"
	"strings"

	"fooddelivery/internal/pkg/httpclient"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// CallbackPrefix 是订单状态按钮的回调前缀，格式为 order_status:<orderId>:<status>
const CallbackPrefix = "order_status:"

// NewBot 使用可追踪的 HTTP 客户端创建 Bot。
func NewBot(token string, client *httpclient.Client, debug bool) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}
	bot.Debug = debug
	return bot, nil
}

// CallbackData 生成按钮的回调数据
func CallbackData(orderID int64, status string) string {
	return CallbackPrefix + strconv.FormatInt(orderID, 10) + ":" + status
}

// ParseCallbackData 解析回调数据，格式不合法时 ok 为 false
func ParseCallbackData(data string) (orderID int64, status string, ok bool) {
	if !strings.HasPrefix(data, CallbackPrefix) {
		return 0, "", false
	}
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return 0, "", false
	}
	orderID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || orderID <= 0 {
		return 0, "", false
	}
	return orderID, parts[2], true
}

// StatusKeyboard 为每个可选的目标状态生成一个按钮，每行一个
func StatusKeyboard(orderID int64, targets []string, label func(string) string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, t := range targets {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label(t), CallbackData(orderID, t)),
		))
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}
