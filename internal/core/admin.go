package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pillbot/internal/storage"
	"pillbot/internal/transport"
	"pillbot/pkg/logx"
)

func (b *Bot) cmdAddTemplate(ctx context.Context, m *transport.Message, kind storage.TemplateKind, args string) {
	t, err := b.store.CreateTemplate(ctx, kind, args)
	if err != nil {
		b.reply(ctx, m.ChatID, fmt.Sprintf("Could not add the template: %v", err))
		return
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf("%s template added (id %s).", kind, t.ID))
}

func (b *Bot) cmdListTemplates(ctx context.Context, m *transport.Message) {
	list, err := b.store.ListTemplates(ctx, "")
	if err != nil {
		b.log.Error("listing templates failed", logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not list templates.")
		return
	}
	if len(list) == 0 {
		b.reply(ctx, m.ChatID, "No templates yet. Built-in fallback texts are in use.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Templates:\n")
	for _, t := range list {
		fmt.Fprintf(&sb, "\n[%s] %s\n%s\n", t.Kind, t.ID, t.Content)
	}
	b.reply(ctx, m.ChatID, sb.String())
}

func (b *Bot) cmdSetStatus(ctx context.Context, m *transport.Message, args string) {
	idStr, text, _ := strings.Cut(strings.TrimSpace(args), " ")
	id, err := strconv.ParseInt(idStr, 10, 64)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		b.reply(ctx, m.ChatID, "Usage: /setstatus <telegramId> <text>")
		return
	}

	err = b.store.SetCustomStatus(ctx, id, text)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, "No user with that Telegram id.")
		return
	}
	if err != nil {
		b.log.Error("setting status failed", logx.Int64("user", id), logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not set the status.")
		return
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf("Status for %d set to: %s", id, text))
}

func (b *Bot) cmdClearStatus(ctx context.Context, m *transport.Message, args string) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		b.reply(ctx, m.ChatID, "Usage: /clearstatus <telegramId>")
		return
	}

	err = b.store.SetCustomStatus(ctx, id, "")
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, "No user with that Telegram id.")
		return
	}
	if err != nil {
		b.log.Error("clearing status failed", logx.Int64("user", id), logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not clear the status.")
		return
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf("Status for %d cleared.", id))
}

func (b *Bot) cmdDeleteTemplate(ctx context.Context, m *transport.Message, args string) {
	id := strings.TrimSpace(args)
	if id == "" {
		b.reply(ctx, m.ChatID, "Usage: /deletemessage <id> (see /listmessages)")
		return
	}
	err := b.store.DeleteTemplate(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, m.ChatID, "No template with that id.")
		return
	}
	if err != nil {
		b.log.Error("deleting template failed", logx.String("template", id), logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not delete the template.")
		return
	}
	b.reply(ctx, m.ChatID, "Template deleted.")
}
