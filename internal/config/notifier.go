package config

// Notifier falls back to log-only delivery when BotToken is empty.
type Notifier struct {
	BotToken   string `env:"NOTIFIER_BOT_TOKEN" json:"-"`
	ChatID     int64  `env:"NOTIFIER_CHAT_ID" validate:"required_with=BotToken"`
	BufferSize int    `env:"NOTIFIER_BUFFER_SIZE" envDefault:"100" validate:"gte=1"`
}

func (n Notifier) Telegram() bool {
	return n.BotToken != ""
}
