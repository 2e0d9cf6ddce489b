// Package jobs runs async domain provisioning work with per-domain dedup.
// With a RabbitMQ URL configured, jobs flow through a durable queue with a
// DLQ; without one, they run in-process.
package jobs

import (
	"github.com/redis/go-redis/v9"

	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/logger"
)

func NewJobsService(rabbitmqURL string, redisClient *redis.Client, log logger.Logger) (interfaces.JobsService, error) {
	locker := newDedupLocker(redisClient)

	if rabbitmqURL == "" {
		log.Info("no RabbitMQ URL configured, running domain jobs in-process")
		return newInlineJobsService(locker, log), nil
	}
	return newRabbitJobsService(rabbitmqURL, locker, log)
}
