package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/elektrine/domainstack/config"
	"github.com/elektrine/domainstack/interfaces"
	cron_config "github.com/elektrine/domainstack/internal/cron/config"
	"github.com/elektrine/domainstack/internal/enum"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/repository"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/internal/utils"
)

// CONSTANTS
const (
	// GroupDomainstack is the group for domainstack related jobs
	GroupDomainstack = "domainstack"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupDomainstack: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	k8s      kubernetes.Interface
	stopCh   chan struct{}
	jobIDs   map[string]cronv3.EntryID
	postgres *repository.Repositories
	jobs     interfaces.JobsService
	registry interfaces.DomainRegistry
}

func NewCronManager(cfg *config.Config, log logger.Logger, k8s kubernetes.Interface, postgres *repository.Repositories, jobs interfaces.JobsService, registry interfaces.DomainRegistry) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		k8s:      k8s,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		postgres: postgres,
		jobs:     jobs,
		registry: registry,
	}
}

// Start initializes and starts the cron manager with leader election
// If k8s is nil, it will start in local mode without leader election
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "domainstack-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		ctx := context.Background()
		le.Run(ctx)
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	if cronConfig.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	if cronConfig.CronScheduleCertificateRenewal != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleCertificateRenewal, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupDomainstack].Lock()
			defer jobLocks.locks[GroupDomainstack].Unlock()
			cm.scanExpiringCertificates()
		})
		if err != nil {
			cm.log.Fatalf("Could not add certificate renewal cron job: %v", err)
		}
		cm.jobIDs["certificate_renewal"] = id
		cm.log.Infof("Registered certificate renewal job with schedule: %s", cronConfig.CronScheduleCertificateRenewal)
	}

	if cronConfig.CronScheduleEmailDNSRecheck != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleEmailDNSRecheck, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupDomainstack].Lock()
			defer jobLocks.locks[GroupDomainstack].Unlock()
			cm.recheckEmailDNS()
		})
		if err != nil {
			cm.log.Fatalf("Could not add email dns recheck cron job: %v", err)
		}
		cm.jobIDs["email_dns_recheck"] = id
		cm.log.Infof("Registered email dns recheck job with schedule: %s", cronConfig.CronScheduleEmailDNSRecheck)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// scanExpiringCertificates enqueues a renew job for every issued certificate
// inside the renewal window. An in-flight job for a domain is not an error.
func (cm *CronManager) scanExpiringCertificates() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.scanExpiringCertificates")
	defer span.Finish()
	tracing.SetDefaultCronJobSpanTags(ctx, span)

	threshold := utils.Now().Add(time.Duration(cm.cfg.RenewalConfig.ThresholdDays) * 24 * time.Hour)
	span.LogKV("threshold", threshold)

	expiring, err := cm.postgres.CustomDomainRepository.GetExpiring(ctx, threshold)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to load expiring certificates: %v", err)
		return
	}

	queued := 0
	for _, domain := range expiring {
		err := cm.jobs.Enqueue(ctx, interfaces.DomainJob{DomainID: domain.ID, Action: enum.JobActionRenew})
		if err != nil {
			if errors.Is(err, er.ErrProvisioningInFlight) {
				continue
			}
			tracing.TraceErr(span, err)
			cm.log.Errorf("Failed to enqueue renewal for %s: %v", domain.Domain, err)
			if recordErr := cm.postgres.CustomDomainRepository.RecordFailure(ctx, domain.ID, err.Error()); recordErr != nil {
				cm.log.Errorf("Failed to record enqueue failure for %s: %v", domain.Domain, recordErr)
			}
			continue
		}
		queued++
	}

	span.LogKV("result.expiring", len(expiring), "result.queued", queued)
	cm.log.Infof("Certificate renewal scan: %d expiring, %d queued", len(expiring), queued)
}

// recheckEmailDNS refreshes the persisted MX/SPF/DKIM/DMARC flags for every
// email-enabled domain so drifted records show up without user action.
func (cm *CronManager) recheckEmailDNS() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.recheckEmailDNS")
	defer span.Finish()
	tracing.SetDefaultCronJobSpanTags(ctx, span)

	domains, err := cm.postgres.CustomDomainRepository.GetAllEmailEnabled(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to load email-enabled domains: %v", err)
		return
	}

	for _, domain := range domains {
		if _, err := cm.registry.RefreshEmailDNS(ctx, domain.Domain); err != nil {
			tracing.TraceErr(span, err)
			cm.log.Errorf("Failed to refresh email dns for %s: %v", domain.Domain, err)
		}
	}

	span.LogKV("result.domains", len(domains))
	cm.log.Infof("Email DNS recheck completed for %d domains", len(domains))
}
