package queue

import (
	"github.com/ternarybob/harvestyard/internal/interfaces"
	"github.com/ternarybob/harvestyard/internal/models"
)

// Registry resolves the (task_type, engine) pair used to name a queue and
// the default retry policy applied to it, centralizing the naming
// convention so callers never hand-build queue name strings.
type Registry struct {
	defaultPolicy map[string]interfaces.RetryPolicy
}

func NewRegistry() *Registry {
	return &Registry{
		defaultPolicy: map[string]interfaces.RetryPolicy{
			"scrape": {MaxAttempts: 3, BaseDelayMS: 2000, Factor: 2},
			"crawl":  {MaxAttempts: 5, BaseDelayMS: 5000, Factor: 2},
			"search": {MaxAttempts: 2, BaseDelayMS: 1000, Factor: 2},
			"map":    {MaxAttempts: 2, BaseDelayMS: 1000, Factor: 2},
		},
	}
}

// QueueNameFor returns the queue name for a job type/engine pair.
func (r *Registry) QueueNameFor(jobType string, engine models.Engine) string {
	return models.QueueName(jobType, engine)
}

// PolicyFor returns the default retry policy for a job type.
func (r *Registry) PolicyFor(jobType string) interfaces.RetryPolicy {
	if p, ok := r.defaultPolicy[jobType]; ok {
		return p
	}
	return interfaces.RetryPolicy{MaxAttempts: 3, BaseDelayMS: 2000, Factor: 2}
}
