package email

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogProviderRecordsTemplate(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	provider := NewLogProvider(zap.New(core))

	err := provider.SendTemplate(context.Background(), []string{" a@example.com ", ""}, TemplateLowVolumeWarning, map[string]any{
		"remainingMinutes": 45,
		"companyName":      "Acme",
	})
	assert.NoError(t, err)

	entries := logs.FilterMessage("email queued").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, TemplateLowVolumeWarning, fields["template"])
		assert.EqualValues(t, 1, fields["recipients"])
	}
}

func TestLogProviderRejectsEmptyRecipients(t *testing.T) {
	provider := NewLogProvider(zap.NewNop())
	err := provider.SendTemplate(context.Background(), []string{"  "}, TemplateTicketAdminReply, nil)
	assert.ErrorIs(t, err, ErrNoRecipients)
}
