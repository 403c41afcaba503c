package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/supportdesk/internal/directory/domain"
	"github.com/smallbiznis/supportdesk/internal/directory/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDirectory(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Company{}, &domain.User{}))

	return NewService(Params{DB: conn, Log: zap.NewNop(), Repo: repository.Provide()}), conn
}

func TestListCompanyRecipientsFiltersByPreferenceAndRole(t *testing.T) {
	svc, conn := setupDirectory(t)
	ctx := context.Background()
	now := time.Now().UTC()

	companyID := snowflake.ID(10)
	otherCompany := snowflake.ID(11)
	require.NoError(t, conn.Create(&domain.Company{ID: companyID, Name: "Acme", CreatedAt: now}).Error)
	require.NoError(t, conn.Create([]domain.User{
		{ID: 1, Role: "ADMIN", Name: "Root", Email: "root@example.com", CreatedAt: now},
		{ID: 2, CompanyID: &companyID, Role: "CLIENT", Name: "A", Email: "a@example.com", NotifyLowVolume: true, NotifyTicketUpdates: true, CreatedAt: now},
		{ID: 3, CompanyID: &companyID, Role: "CLIENT", Name: "B", Email: "b@example.com", NotifyLowVolume: false, NotifyTicketUpdates: true, CreatedAt: now},
		{ID: 4, CompanyID: &otherCompany, Role: "CLIENT", Name: "C", Email: "c@example.com", NotifyLowVolume: true, NotifyTicketUpdates: true, CreatedAt: now},
	}).Error)

	lowVolume, err := svc.ListCompanyRecipients(ctx, companyID, "", domain.PreferenceLowVolume)
	require.NoError(t, err)
	require.Len(t, lowVolume, 1)
	assert.Equal(t, snowflake.ID(2), lowVolume[0].ID)

	updates, err := svc.ListCompanyRecipients(ctx, companyID, "CLIENT", domain.PreferenceTicketUpdates)
	require.NoError(t, err)
	assert.Len(t, updates, 2)

	admins, err := svc.ListAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "root@example.com", admins[0].Email)

	_, err = svc.ListCompanyRecipients(ctx, companyID, "", domain.Preference("sms"))
	assert.ErrorIs(t, err, domain.ErrInvalidPreference)
}

func TestGetCompanyNotFound(t *testing.T) {
	svc, _ := setupDirectory(t)

	_, err := svc.GetCompany(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrCompanyNotFound)

	_, err = svc.GetCompany(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidCompany)
}
