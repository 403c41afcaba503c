package email

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Template names understood by the downstream mail renderer.
const (
	TemplateLowVolumeWarning    = "low_volume_warning"
	TemplateTicketStatusChanged = "ticket_status_changed"
	TemplateTicketClientReply   = "ticket_client_reply"
	TemplateTicketAdminReply    = "ticket_admin_reply"
)

var ErrNoRecipients = errors.New("no_recipients")

// Provider hands a template name and its variables to the mail transport.
// Rendering and delivery belong to the transport, not to callers.
type Provider interface {
	SendTemplate(ctx context.Context, to []string, templateName string, variables map[string]any) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) SendTemplate(ctx context.Context, to []string, templateName string, variables map[string]any) error {
	return nil
}

// LogProvider records outgoing mail as structured log lines.
type LogProvider struct {
	log *zap.Logger
}

func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("email.provider")}
}

func (p *LogProvider) SendTemplate(ctx context.Context, to []string, templateName string, variables map[string]any) error {
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	keys := make([]string, 0, len(variables))
	for key := range variables {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	p.log.Info("email queued",
		zap.String("template", templateName),
		zap.Int("recipients", len(recipients)),
		zap.Strings("variables", keys),
	)
	return nil
}
