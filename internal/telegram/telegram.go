package telegram

import (
	"net/http"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"
)

// Settings 机器人初始化参数
type Settings struct {
	Token  string
	Client *http.Client
}

type Telegram struct {
	logger   *zap.Logger
	settings Settings
	client   *tele.Bot
}

type Option func(telegram *Telegram)

func NewTelegram(logger *zap.Logger, settings Settings, options ...Option) (*Telegram, error) {

	poller := &tele.LongPoller{Timeout: 10 * time.Second}

	userMiddleware := tele.NewMiddlewarePoller(poller, func(u *tele.Update) bool {

		return true
	})

	client, err := tele.NewBot(tele.Settings{
		ParseMode: tele.ModeMarkdown,
		Token:     settings.Token,
		Poller:    userMiddleware,
		Client:    settings.Client,
	})
	if err != nil {
		return nil, err
	}

	client.Use(middleware.AutoRespond())

	var (
		menu = &tele.ReplyMarkup{ResizeKeyboard: true}
	)

	err = client.SetCommands([]tele.Command{
		{Text: "/start", Description: "启动机器人，显示主菜单"},
		{Text: "/help", Description: "获取帮助信息"},
		{Text: "/status", Description: "查看交易循环状态"},
		{Text: "/positions", Description: "查看在管持仓"},
	})
	if err != nil {
		return nil, err
	}

	menu.Reply()

	bot := &Telegram{
		logger:   logger,
		settings: settings,
		client:   client,
	}

	for _, option := range options {
		option(bot)
	}

	return bot, nil
}

// Handle 注册命令处理器
func (r *Telegram) Handle(endpoint string, handler tele.HandlerFunc) {
	r.client.Handle(endpoint, handler)
}

func (r *Telegram) Start() {
	go r.client.Start()
}

// Notify 推送一条纯文本通知，内容先按 MarkdownV2 规则转义
func (r *Telegram) Notify(chatId, msg string) error {
	_chatId := cast.ToInt(chatId)
	_, err := r.client.Send(tele.ChatID(_chatId), escapeMarkdownV2(msg), &tele.SendOptions{ParseMode: tele.ModeMarkdownV2})
	return err
}
