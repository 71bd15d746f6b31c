package dimensiondata

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/chiquitav2/ddcloud/internal/cache"
	"github.com/chiquitav2/ddcloud/internal/cloud"
	"github.com/chiquitav2/ddcloud/internal/config"
	"github.com/chiquitav2/ddcloud/internal/metrics"
	"github.com/chiquitav2/ddcloud/pkg/compute"
	"github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/chiquitav2/ddcloud/pkg/events"
	"github.com/chiquitav2/ddcloud/pkg/logger"
	"github.com/samber/lo"
)

// NoIPMessage is the fatal error when the node never reports a usable address
const NoIPMessage = "No IP addresses could be found."

// destroyTimeout bounds the best-effort cleanup after a failed IP wait
const destroyTimeout = 2 * time.Minute

// Create deploys a single node from vm, waits for it to get an address and
// bootstraps it. Lookup and request failures are returned as ordinary
// errors; a node that never comes up is destroyed and reported as SystemExit.
func (p *Provider) Create(ctx context.Context, vm config.VM) (map[string]any, error) {
	start := time.Now()
	vm = vm.Clone()

	if ref, ok := vm["provider"]; ok {
		vm["driver"] = ref
		delete(vm, "provider")
	}

	name := vm.Name()
	if profile := vm.Profile(); profile != "" && !config.IsProfileConfigured(p.opts, p.alias, profile, []string{"image"}) {
		p.creationFailed("config")
		return nil, errors.NewConfigError(fmt.Sprintf("profile %q is not configured for provider %s", profile, p.alias), nil)
	}

	ctx = logger.WithNode(logger.WithProfile(logger.WithProvider(ctx, p.alias), vm.Profile()), name)
	op := p.logger.StartOp(ctx, "create")

	cloud.FireEvent(ctx, p.bus, p.logger, "starting create", events.CloudTag(name, cloud.ActionCreating), map[string]any{
		"name":     name,
		"profile":  vm.Profile(),
		"provider": vm["driver"],
	})

	p.logger.InfoContext(ctx, "creating cloud VM", slog.String("name", name))

	conn, err := p.GetConn(ctx)
	if err != nil {
		op.Fail(err, "connection failed")
		p.creationFailed("config")
		return nil, err
	}

	op.Phase("lookup", "resolving location, image and network")
	password := config.GetString("auth", vm, p.opts, "", false)
	if password == "" {
		if password, err = cloud.SecurePassword(16); err != nil {
			op.Fail(err, "password generation failed")
			return nil, err
		}
		vm["auth"] = password
	}

	createOpts, err := p.buildCreateOpts(ctx, conn, vm, password)
	if err != nil {
		err = errors.NewProviderError(errors.ErrCodeProvisionFailed,
			fmt.Sprintf("Error creating %s on DIMENSIONDATA", name), false, err)
		op.Fail(err, "lookup failed")
		p.creationFailed("lookup")
		return nil, err
	}

	op.Phase("request", "requesting node")

	cloud.FireEvent(ctx, p.bus, p.logger, "requesting instance", events.CloudTag(name, cloud.ActionRequesting), map[string]any{
		"kwargs": map[string]any{
			"name":              createOpts.Name,
			"image":             createOpts.Image.ID,
			"auth":              "",
			"ex_description":    createOpts.Description,
			"ex_network_domain": createOpts.NetworkDomain.ID,
			"ex_vlan":           createOpts.VLAN.ID,
			"ex_is_started":     createOpts.Started,
		},
	})

	data, err := conn.CreateNode(ctx, createOpts)
	if err != nil {
		err = errors.NewProviderError(errors.ErrCodeProvisionFailed,
			fmt.Sprintf("Error creating %s on DIMENSIONDATA", name), false, err)
		op.Fail(err, "create request failed")
		p.creationFailed("request")
		return nil, err
	}

	op.Phase("wait", "waiting for an address", slog.String("id", data.ID))
	res, err := cloud.WaitForIP(ctx, p.queryNodeData(conn, vm, data), p.waitOptions(vm))
	p.observeWait(res, err)
	if err != nil {
		p.destroyAfterFailedWait(ctx, data)
		op.Fail(err, "node never reported an address")
		p.creationFailed("wait")
		return nil, errors.NewSystemExit(errors.Message(err), err)
	}
	node := res.Value
	p.logger.DebugContext(ctx, "VM is now running", slog.Int("attempts", res.Attempts))

	proto := protocol(vm, p.opts)
	ipAddress := PreferredIP(proto, addressesFor(SSHInterface(vm, p.opts), node.PublicIPs, node.PrivateIPs))
	agentIP := PreferredIP(proto, addressesFor(cloud.GetAgentInterface(vm, p.opts), node.PublicIPs, node.PrivateIPs))
	p.logger.DebugContext(ctx, "using IP address", slog.String("ssh_host", ipAddress), slog.String("agent_host", agentIP))

	if ipAddress == "" {
		err := errors.NewSystemExit(NoIPMessage, nil)
		op.Fail(err, "no usable address")
		p.creationFailed("no_ip")
		return nil, err
	}

	op.Phase("bootstrap", "bootstrapping node", slog.String("ssh_host", ipAddress))
	vm["agent_host"] = agentIP
	vm["ssh_host"] = ipAddress
	vm["password"] = password

	ret, err := p.bootstrapper.Bootstrap(ctx, vm, p.opts)
	if err != nil {
		op.Fail(err, "bootstrap failed")
		p.creationFailed("bootstrap")
		return nil, err
	}

	delete(node.Extra, "password")
	maps.Copy(ret, node.ToMap())

	if p.cache != nil {
		if err := p.cache.Put(ctx, cache.RecordFromNode(p.alias, node, nil)); err != nil {
			p.logger.WarnErrCtx(ctx, "failed to cache node", err)
		}
	}

	cloud.FireEvent(ctx, p.bus, p.logger, "created instance", events.CloudTag(name, cloud.ActionCreated), map[string]any{
		"name":     name,
		"profile":  vm.Profile(),
		"provider": vm["driver"],
	})

	if p.metrics != nil {
		p.metrics.NodeCreated(p.alias, time.Since(start))
	}
	op.Complete("created cloud VM", slog.String("id", node.ID))
	return ret, nil
}

// buildCreateOpts resolves location, image, network domain and VLAN for vm
func (p *Provider) buildCreateOpts(ctx context.Context, conn compute.NetworkDriver, vm config.VM, password string) (compute.CreateNodeOpts, error) {
	var opts compute.CreateNodeOpts

	locationID := config.GetString("location", vm, p.opts, "", false)
	location, err := conn.ExGetLocationByID(ctx, locationID)
	if err != nil {
		return opts, err
	}

	images, err := conn.ListImages(ctx, location)
	if err != nil {
		return opts, err
	}
	imageRef := config.GetString("image", vm, p.opts, "", false)
	image, ok := lo.Find(images, func(i compute.Image) bool { return i.ID == imageRef || i.Name == imageRef })
	if !ok {
		return opts, errors.NewNotFoundError(fmt.Sprintf("image %q not found in %s", imageRef, location.ID), nil)
	}

	domains, err := conn.ExListNetworkDomains(ctx, location)
	if err != nil {
		return opts, err
	}
	domainRef := config.GetString("network_domain", vm, p.opts, "", false)
	domain, ok := lo.Find(domains, func(d compute.NetworkDomain) bool { return d.Name == domainRef || d.ID == domainRef })
	if !ok {
		return opts, errors.NewNotFoundError(fmt.Sprintf("network domain %q not found in %s", domainRef, location.ID), nil)
	}

	vlans, err := conn.ExListVLANs(ctx, location, &domain)
	if err != nil {
		return opts, err
	}
	vlan, err := pickVLAN(vlans, config.GetString("vlan", vm, p.opts, "", false), domain)
	if err != nil {
		return opts, err
	}

	return compute.CreateNodeOpts{
		Name:          vm.Name(),
		Image:         image,
		Auth:          compute.NodeAuthPassword{Password: password},
		Description:   config.GetString("description", vm, p.opts, "", false),
		NetworkDomain: domain,
		VLAN:          vlan,
		Started:       config.GetBool("is_started", vm, p.opts, true, false),
	}, nil
}

// pickVLAN returns the VLAN named or identified by ref, or the first one
func pickVLAN(vlans []compute.VLAN, ref string, domain compute.NetworkDomain) (compute.VLAN, error) {
	if ref == "" {
		if vlan, ok := lo.First(vlans); ok {
			return vlan, nil
		}
		return compute.VLAN{}, errors.NewNotFoundError(fmt.Sprintf("network domain %s has no VLANs", domain.Name), nil)
	}
	vlan, ok := lo.Find(vlans, func(v compute.VLAN) bool { return v.Name == ref || v.ID == ref })
	if !ok {
		return compute.VLAN{}, errors.NewNotFoundError(fmt.Sprintf("VLAN %q not found in network domain %s", ref, domain.Name), nil)
	}
	return vlan, nil
}

// queryNodeData is the WaitForIP callback: it refreshes the node by id and
// returns the created node with its addresses once a usable set is reported.
func (p *Provider) queryNodeData(conn compute.NetworkDriver, vm config.VM, data *compute.Node) cloud.PollFunc[compute.Node] {
	iface := SSHInterface(vm, p.opts)

	return func(ctx context.Context, attempt int) (*compute.Node, error) {
		node, err := conn.ExGetNodeByID(ctx, data.ID)
		if err != nil {
			p.logger.ErrorCtx(ctx, "failed to refresh node", err,
				slog.String("id", data.ID), slog.Int("attempt", attempt))
			return nil, err
		}
		p.logger.DebugContext(ctx, "loaded node data",
			slog.String("name", node.Name),
			slog.String("state", string(node.State)))

		if !node.Running() {
			return nil, nil
		}

		public, private := ClassifyIPs(node.PublicIPs, node.PrivateIPs)
		if moved := len(public) - len(lo.Uniq(node.PublicIPs)); moved > 0 {
			p.logger.WarnContext(ctx, "private list held public addresses", slog.Int("moved", moved))
		}
		if _, ok := SelectIPs(iface, public, private); !ok {
			return nil, nil
		}

		out := *data
		out.State = node.State
		out.PublicIPs = public
		out.PrivateIPs = private
		out.Extra = maps.Clone(data.Extra)
		if out.Extra == nil {
			out.Extra = map[string]any{}
		}
		return &out, nil
	}
}

func (p *Provider) destroyAfterFailedWait(ctx context.Context, node *compute.Node) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyTimeout)
	defer cancel()

	if _, err := p.funcs.DestroyNode(ctx, node); err != nil {
		p.logger.WarnErrCtx(ctx, "cleanup after failed wait did not destroy the node", err)
	}
}

func (p *Provider) observeWait(res *cloud.WaitResult[compute.Node], err error) {
	if p.metrics == nil || res == nil {
		return
	}
	outcome := metrics.WaitSucceeded
	switch {
	case errors.IsExecutionTimeout(err):
		outcome = metrics.WaitTimedOut
	case err != nil:
		outcome = metrics.WaitFailed
	}
	p.metrics.ObserveIPWait(res.Elapsed, res.Attempts, outcome)
}

func (p *Provider) creationFailed(reason string) {
	if p.metrics != nil {
		p.metrics.NodeCreationFailed(p.alias, reason)
	}
}
