package cloud

import (
	"context"
	"log/slog"

	"github.com/chiquitav2/ddcloud/internal/config"
	"github.com/chiquitav2/ddcloud/pkg/events"
	"github.com/chiquitav2/ddcloud/pkg/logger"
)

// Actions used in cloud/<name>/<action> tags
const (
	ActionCreating   = "creating"
	ActionRequesting = "requesting"
	ActionCreated    = "created"
	ActionDeploying  = "deploying"
	ActionDeployed   = "deployed"
	ActionDestroying = "destroying"
	ActionDestroyed  = "destroyed"
)

// FireEvent publishes a lifecycle event. A nil bus drops the event, and a
// failing subscriber is logged but never fails the operation.
func FireEvent(ctx context.Context, bus events.Bus, log *logger.Logger, message, tag string, data map[string]any) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, events.NewCloudEvent(tag, message, data)); err != nil && log != nil {
		log.WarnErrCtx(ctx, "event delivery failed", err, slog.String("tag", tag))
	}
}

// GetAgentInterface returns which address list the agent should use to
// reach its master; it follows ssh_interface unless agent_interface is set.
func GetAgentInterface(vm config.VM, opts *config.Opts) string {
	ssh := config.GetString("ssh_interface", vm, opts, "public_ips", false)
	return config.GetString("agent_interface", vm, opts, ssh, false)
}
