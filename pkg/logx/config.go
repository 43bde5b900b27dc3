package logx

import "context"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// AlertConfig forwards high-severity lines to an operator phone.
type AlertConfig struct {
	Enabled bool
	Phone   string
	// MinLevel defaults to WARN.
	MinLevel string
	// PerMinute caps forwarded lines; bursts beyond it are dropped.
	PerMinute int
}

// AlertSender delivers one operator alert. The gateway client satisfies it.
type AlertSender interface {
	SendAlert(ctx context.Context, phone, text string) error
}

const defaultLogFile = "./expirybot.log"
