package services

import (
	"context"

	"github.com/pkg/errors"

	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/enum"
)

// domainJobHandler dispatches queued domain jobs to the provisioner.
func domainJobHandler(provisioner interfaces.CertificateProvisioner) interfaces.JobHandler {
	return func(ctx context.Context, job interfaces.DomainJob) error {
		switch job.Action {
		case enum.JobActionProvision:
			return provisioner.Provision(ctx, job.DomainID)
		case enum.JobActionRenew:
			return provisioner.Renew(ctx, job.DomainID)
		default:
			return errors.Errorf("unknown job action %q", job.Action)
		}
	}
}
