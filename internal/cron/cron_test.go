package cron

import (
	"context"
	"os"
	"testing"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes"

	"github.com/elektrine/domainstack/config"
	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/enum"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/models"
	"github.com/elektrine/domainstack/internal/repository"
	"github.com/elektrine/domainstack/internal/repository/mocks"
	"github.com/elektrine/domainstack/internal/utils"
)

type mockKubernetesInterface struct {
	kubernetes.Interface
	mock.Mock
}

type recordingJobs struct {
	enqueued []interfaces.DomainJob
	inFlight map[string]bool
}

func (j *recordingJobs) Enqueue(_ context.Context, job interfaces.DomainJob) error {
	if j.inFlight[job.DomainID] {
		return er.ErrProvisioningInFlight
	}
	j.enqueued = append(j.enqueued, job)
	return nil
}

func (j *recordingJobs) SetHandler(interfaces.JobHandler) {}
func (j *recordingJobs) Start(context.Context) error      { return nil }
func (j *recordingJobs) Stop()                            {}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func getConfig() *config.Config {
	return &config.Config{
		AppConfig:     &config.AppConfig{},
		RenewalConfig: &config.RenewalConfig{ThresholdDays: 30},
	}
}

func TestNewCronManager(t *testing.T) {
	// Arrange
	cfg := getConfig()
	log := getLogger()
	k8s := &mockKubernetesInterface{}

	// Act
	cm := NewCronManager(cfg, log, k8s, nil, nil, nil)

	// Assert
	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.Equal(t, log, cm.log)
	assert.Equal(t, k8s, cm.k8s)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_StartCron(t *testing.T) {
	os.Setenv("CRON_SCHEDULE_HEARTBEAT", "0 * * * * *")
	os.Setenv("CRON_SCHEDULE_CERTIFICATE_RENEWAL", "0 15 3 * * *")
	os.Setenv("CRON_SCHEDULE_EMAIL_DNS_RECHECK", "0 30 * * * *")
	defer os.Unsetenv("CRON_SCHEDULE_HEARTBEAT")
	defer os.Unsetenv("CRON_SCHEDULE_CERTIFICATE_RENEWAL")
	defer os.Unsetenv("CRON_SCHEDULE_EMAIL_DNS_RECHECK")

	// Arrange
	cm := NewCronManager(getConfig(), getLogger(), &mockKubernetesInterface{}, nil, nil, nil)

	// Act
	cm.StartCron()
	defer cm.cron.Stop()

	// Assert
	assert.NotNil(t, cm.cron)
	assert.Equal(t, 3, len(cm.jobIDs))
	assert.Contains(t, cm.jobIDs, "heartbeat")
	assert.Contains(t, cm.jobIDs, "certificate_renewal")
	assert.Contains(t, cm.jobIDs, "email_dns_recheck")
}

func TestCronManager_Stop(t *testing.T) {
	// Arrange
	cm := NewCronManager(getConfig(), getLogger(), &mockKubernetesInterface{}, nil, nil, nil)
	mockCron := cronv3.New()
	mockCron.Start()
	cm.cron = mockCron

	// Act
	cm.Stop()

	// Assert
	select {
	case <-cm.stopCh:
		// Channel is closed as expected
	default:
		t.Error("Stop channel was not closed")
	}
}

func TestCronManager_ScanExpiringCertificates(t *testing.T) {
	repo := mocks.NewInMemoryCustomDomainRepository()

	soon := utils.Now().Add(10 * 24 * time.Hour)
	far := utils.Now().Add(40 * 24 * time.Hour)
	repo.Seed(&models.CustomDomain{
		ID: "dom-soon", UserID: "user-1", Domain: "expiring.example.com",
		Status: enum.DomainStatusActive, SSLStatus: enum.SSLStatusIssued,
		CertificateExpiresAt: &soon,
	})
	repo.Seed(&models.CustomDomain{
		ID: "dom-far", UserID: "user-1", Domain: "fresh.example.com",
		Status: enum.DomainStatusActive, SSLStatus: enum.SSLStatusIssued,
		CertificateExpiresAt: &far,
	})
	repo.Seed(&models.CustomDomain{
		ID: "dom-pending", UserID: "user-1", Domain: "pending.example.com",
		Status: enum.DomainStatusPending, SSLStatus: enum.SSLStatusNone,
	})

	jobs := &recordingJobs{}
	cm := NewCronManager(getConfig(), getLogger(), nil,
		&repository.Repositories{CustomDomainRepository: repo}, jobs, nil)

	cm.scanExpiringCertificates()

	require.Len(t, jobs.enqueued, 1)
	assert.Equal(t, "dom-soon", jobs.enqueued[0].DomainID)
	assert.Equal(t, enum.JobActionRenew, jobs.enqueued[0].Action)
}

func TestCronManager_ScanExpiringCertificates_SkipsInFlight(t *testing.T) {
	repo := mocks.NewInMemoryCustomDomainRepository()

	soon := utils.Now().Add(5 * 24 * time.Hour)
	repo.Seed(&models.CustomDomain{
		ID: "dom-busy", UserID: "user-1", Domain: "busy.example.com",
		Status: enum.DomainStatusActive, SSLStatus: enum.SSLStatusIssued,
		CertificateExpiresAt: &soon,
	})
	repo.Seed(&models.CustomDomain{
		ID: "dom-idle", UserID: "user-1", Domain: "idle.example.com",
		Status: enum.DomainStatusActive, SSLStatus: enum.SSLStatusIssued,
		CertificateExpiresAt: &soon,
	})

	jobs := &recordingJobs{inFlight: map[string]bool{"dom-busy": true}}
	cm := NewCronManager(getConfig(), getLogger(), nil,
		&repository.Repositories{CustomDomainRepository: repo}, jobs, nil)

	// An in-flight domain is skipped without aborting the scan.
	cm.scanExpiringCertificates()

	require.Len(t, jobs.enqueued, 1)
	assert.Equal(t, "dom-idle", jobs.enqueued[0].DomainID)
}
