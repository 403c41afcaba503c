package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supportdesk/internal/actorcontext"
	auditdomain "github.com/smallbiznis/supportdesk/internal/audit/domain"
	auditrepo "github.com/smallbiznis/supportdesk/internal/audit/repository"
	auditservice "github.com/smallbiznis/supportdesk/internal/audit/service"
	"github.com/smallbiznis/supportdesk/internal/clock"
	"github.com/smallbiznis/supportdesk/internal/servicelevel/domain"
	"github.com/smallbiznis/supportdesk/internal/servicelevel/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   domain.Service
	db    *gorm.DB
	clock *clock.FakeClock
}

func setup(t *testing.T) fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.ServiceLevel{}, &auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC))

	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: auditrepo.Provide(),
	})
	svc := NewService(Params{
		DB: conn, Log: zap.NewNop(), Clock: fake, Repo: repository.Provide(), AuditSvc: audit,
	})
	return fixture{svc: svc, db: conn, clock: fake}
}

func seedServiceLevel(t *testing.T, conn *gorm.DB, companyID snowflake.ID, remaining int, next *time.Time) domain.ServiceLevel {
	t.Helper()
	sl := domain.ServiceLevel{
		ID:                companyID + 1000,
		CompanyID:         companyID,
		Name:              "Gold",
		TimeVolumeMinutes: 480,
		RemainingMinutes:  remaining,
		HourlyRate:        decimal.NewFromInt(80),
		RenewalType:       domain.RenewalMonthly,
		NextRenewalAt:     next,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	require.NoError(t, conn.Create(&sl).Error)
	return sl
}

func adminCtx() context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{UserID: 1, Role: actorcontext.RoleAdmin})
}

func TestRenewResetsBalanceAndWritesAudit(t *testing.T) {
	f := setup(t)
	next := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	seedServiceLevel(t, f.db, 10, 35, &next)

	renewed, err := f.svc.Renew(adminCtx(), 10)
	require.NoError(t, err)
	assert.Equal(t, 480, renewed.RemainingMinutes)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), renewed.NextRenewalAt.UTC())
	assert.EqualValues(t, 1, renewed.Version)

	var audits []auditdomain.AuditLog
	require.NoError(t, f.db.Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, "service_level.renewed", audits[0].Action)
	assert.Equal(t, "ADMIN", audits[0].ActorRole)
}

func TestRenewRequiresAdmin(t *testing.T) {
	f := setup(t)
	seedServiceLevel(t, f.db, 10, 35, nil)

	clientCtx := actorcontext.WithActor(context.Background(), actorcontext.Actor{UserID: 2, Role: actorcontext.RoleClient, CompanyID: 10})
	_, err := f.svc.Renew(clientCtx, 10)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Renew(adminCtx(), 99)
	assert.ErrorIs(t, err, domain.ErrServiceLevelNotFound)
}

func TestRenewDueAdvancesOnePeriodPerRun(t *testing.T) {
	f := setup(t)
	overdue := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	seedServiceLevel(t, f.db, 10, 0, &overdue)
	seedServiceLevel(t, f.db, 20, 100, &future)

	result, err := f.svc.RenewDue(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{10}, result.Renewed)
	assert.Empty(t, result.Failed)

	var sl domain.ServiceLevel
	require.NoError(t, f.db.Where("company_id = ?", 10).First(&sl).Error)
	assert.Equal(t, 480, sl.RemainingMinutes)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), sl.NextRenewalAt.UTC())

	var untouched domain.ServiceLevel
	require.NoError(t, f.db.Where("company_id = ?", 20).First(&untouched).Error)
	assert.Equal(t, 100, untouched.RemainingMinutes)

	var audit auditdomain.AuditLog
	require.NoError(t, f.db.First(&audit).Error)
	assert.Equal(t, auditdomain.ActorRoleSystem, audit.ActorRole)
}

func TestGetByCompanyEnforcesOwnership(t *testing.T) {
	f := setup(t)
	seedServiceLevel(t, f.db, 10, 200, nil)

	own := actorcontext.WithActor(context.Background(), actorcontext.Actor{UserID: 2, Role: actorcontext.RoleClient, CompanyID: 10})
	sl, err := f.svc.GetByCompany(own, 10)
	require.NoError(t, err)
	assert.Equal(t, 200, sl.RemainingMinutes)

	other := actorcontext.WithActor(context.Background(), actorcontext.Actor{UserID: 3, Role: actorcontext.RoleClient, CompanyID: 11})
	_, err = f.svc.GetByCompany(other, 10)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUpdateBalanceRejectsStaleVersion(t *testing.T) {
	f := setup(t)
	seeded := seedServiceLevel(t, f.db, 10, 200, nil)
	repo := repository.Provide()

	fresh := seeded
	fresh.RemainingMinutes = 140
	require.NoError(t, repo.UpdateBalance(context.Background(), f.db, &fresh, f.clock.Now()))
	assert.EqualValues(t, 1, fresh.Version)

	stale := seeded
	stale.RemainingMinutes = 100
	err := repo.UpdateBalance(context.Background(), f.db, &stale, f.clock.Now())
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	var stored domain.ServiceLevel
	require.NoError(t, f.db.First(&stored, "id = ?", seeded.ID).Error)
	assert.Equal(t, 140, stored.RemainingMinutes)
}

func TestOverlappingRenewalRunsRenewOnce(t *testing.T) {
	f := setup(t)
	due := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	seedServiceLevel(t, f.db, 10, 20, &due)

	now := f.clock.Now()
	listed, err := repository.Provide().ListDueCompanyIDs(context.Background(), f.db, now, 10)
	require.NoError(t, err)
	require.Equal(t, []snowflake.ID{10}, listed)

	result, err := f.svc.RenewDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{10}, result.Renewed)

	// A second run still holding the earlier listing.
	_, err = f.svc.(*Service).renewCompany(context.Background(), listed[0], "scheduled", &now)
	assert.ErrorIs(t, err, domain.ErrNotDue)

	var sl domain.ServiceLevel
	require.NoError(t, f.db.Where("company_id = ?", 10).First(&sl).Error)
	assert.Equal(t, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC), sl.NextRenewalAt.UTC())
	assert.Equal(t, 31, sl.RenewalDay)
	assert.EqualValues(t, 1, sl.Version)

	var audits int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Count(&audits).Error)
	assert.EqualValues(t, 1, audits)

	again, err := f.svc.RenewDue(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, again.Renewed)
	assert.Empty(t, again.Skipped)
}

func TestManualRenewIgnoresDueDate(t *testing.T) {
	f := setup(t)
	future := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	seedServiceLevel(t, f.db, 10, 20, &future)

	renewed, err := f.svc.Renew(adminCtx(), 10)
	require.NoError(t, err)
	assert.Equal(t, 480, renewed.RemainingMinutes)
	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), renewed.NextRenewalAt.UTC())
}
