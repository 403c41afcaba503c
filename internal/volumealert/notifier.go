package volumealert

import (
	"context"
	"fmt"

	"github.com/smallbiznis/supportdesk/internal/config"
	directorydomain "github.com/smallbiznis/supportdesk/internal/directory/domain"
	"github.com/smallbiznis/supportdesk/internal/events"
	obsmetrics "github.com/smallbiznis/supportdesk/internal/observability/metrics"
	sldomain "github.com/smallbiznis/supportdesk/internal/servicelevel/domain"
	"github.com/smallbiznis/supportdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Outbox     *events.Outbox
	Directory  directorydomain.Repository
	Settings   *config.VolumeSettingsHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Notifier records VolumeLow events alongside the balance write that caused them.
type Notifier struct {
	log        *zap.Logger
	outbox     *events.Outbox
	directory  directorydomain.Repository
	settings   *config.VolumeSettingsHolder
	obsMetrics *obsmetrics.Metrics
}

func NewNotifier(p Params) *Notifier {
	return &Notifier{
		log:        p.Log.Named("volumealert.notifier"),
		outbox:     p.Outbox,
		directory:  p.Directory,
		settings:   p.Settings,
		obsMetrics: p.ObsMetrics,
	}
}

// ObserveTx must run inside the transaction that lowered the balance from
// previous to sl.RemainingMinutes, after the balance write. It returns the
// published event, or a zero Event when no warning is due.
func (n *Notifier) ObserveTx(ctx context.Context, tx *gorm.DB, previous int, sl sldomain.ServiceLevel) (events.Event, error) {
	settings := n.settings.Get()
	if !ShouldWarn(previous, sl.RemainingMinutes, settings) {
		return events.Event{}, nil
	}

	companyName := ""
	company, err := n.directory.FindCompany(ctx, tx, sl.CompanyID)
	if err != nil {
		return events.Event{}, db.Wrap(err)
	}
	if company != nil {
		companyName = company.Name
	}

	payload, err := events.ToPayload(BuildPayload(companyName, sl))
	if err != nil {
		return events.Event{}, err
	}

	evt, err := n.outbox.PublishTx(ctx, tx, events.Event{
		Type:        events.EventVolumeLow,
		AggregateID: sl.ID,
		Payload:     payload,
		DedupeKey:   fmt.Sprintf("volume_low:%s:%d", sl.ID.String(), sl.Version),
	})
	if err != nil {
		return events.Event{}, err
	}

	n.obsMetrics.RecordLowVolumeWarning(ctx)
	n.log.Info("low volume warning raised",
		zap.String("service_level_id", sl.ID.String()),
		zap.Int("previous_minutes", previous),
		zap.Int("remaining_minutes", sl.RemainingMinutes),
		zap.Int("threshold_minutes", settings.WarningThresholdMinutes),
	)
	return evt, nil
}
