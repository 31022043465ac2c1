package transport

import (
	"context"
	"errors"
)

// ErrUndeliverable marks a send that will not succeed on retry, such as a
// user who blocked the bot.
var ErrUndeliverable = errors.New("chat is unreachable")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	// FromName is the sender's display name as set in the messenger.
	FromName string
	Text     string
	Private  bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is an inline button. Data is delivered back as Callback.Data.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool

	// Keyboard replaces the persistent reply keyboard.
	Keyboard [][]string
	// RemoveKeyboard hides the reply keyboard. Ignored when Keyboard is set.
	RemoveKeyboard bool
	// Inline is attached to the first message chunk.
	Inline [][]Button
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand is one entry of the messenger's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command
// menu. ChatID 0 sets the default menu; otherwise the menu is scoped to that
// chat.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, chatID int64, cmds []BotCommand) error
}
