// Package nodefuncs holds the provider entry points that only need a compute
// driver. Providers bind them to their own connection getter and re-export
// them unchanged.
package nodefuncs

import (
	"context"
	"fmt"
	"log/slog"
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
	"github.com/spf13/cast"
)

// SelectionKey is the global option holding the fields list_nodes_select returns
const SelectionKey = "query.selection"

// ConnFunc returns a ready driver connection
type ConnFunc func(ctx context.Context) (compute.Driver, error)

// Funcs are the shared entry points bound to one provider alias
type Funcs struct {
	Conn    ConnFunc
	Opts    *config.Opts
	Alias   string
	Logger  *logger.Logger
	Bus     events.Bus
	Metrics *metrics.Metrics
	Cache   *cache.Store
}

// New binds the shared functions to conn and the host services in deps
func New(conn ConnFunc, deps cloud.Deps) *Funcs {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Funcs{
		Conn:    conn,
		Opts:    deps.Opts,
		Alias:   deps.Alias,
		Logger:  log.WithComponent("nodefuncs"),
		Bus:     deps.Bus,
		Metrics: deps.Metrics,
		Cache:   deps.Cache,
	}
}

func requireFunction(name string, call cloud.CallKind) error {
	if call == cloud.CallAction {
		return errors.NewSystemExit(fmt.Sprintf("The %s function must be called with -f or --function.", name), nil)
	}
	return nil
}

func requireAction(name string, call cloud.CallKind) error {
	if call != cloud.CallAction {
		return errors.NewSystemExit(fmt.Sprintf("The %s action must be called with -a or --action.", name), nil)
	}
	return nil
}

func (f *Funcs) AvailLocations(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	if err := requireFunction("avail_locations", call); err != nil {
		return nil, err
	}
	conn, err := f.Conn(ctx)
	if err != nil {
		return nil, err
	}
	locations, err := conn.ListLocations(ctx)
	if err != nil {
		return nil, err
	}

	return lo.Associate(locations, func(l compute.Location) (string, map[string]any) {
		return l.Name, map[string]any{
			"id":      l.ID,
			"name":    l.Name,
			"country": l.Country,
			"extra":   l.Extra,
		}
	}), nil
}

func (f *Funcs) AvailImages(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	if err := requireFunction("avail_images", call); err != nil {
		return nil, err
	}
	conn, err := f.Conn(ctx)
	if err != nil {
		return nil, err
	}
	images, err := conn.ListImages(ctx, nil)
	if err != nil {
		return nil, err
	}

	return lo.Associate(images, func(i compute.Image) (string, map[string]any) {
		return i.Name, map[string]any{
			"id":       i.ID,
			"name":     i.Name,
			"location": i.Location,
			"extra":    i.Extra,
		}
	}), nil
}

func (f *Funcs) AvailSizes(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	if err := requireFunction("avail_sizes", call); err != nil {
		return nil, err
	}
	conn, err := f.Conn(ctx)
	if err != nil {
		return nil, err
	}
	sizes, err := conn.ListSizes(ctx, nil)
	if err != nil {
		return nil, err
	}

	return lo.Associate(sizes, func(s compute.Size) (string, map[string]any) {
		return s.Name, map[string]any{
			"id":    s.ID,
			"name":  s.Name,
			"ram":   s.RAM,
			"disk":  s.Disk,
			"price": s.Price,
			"extra": s.Extra,
		}
	}), nil
}

// GetImage matches the request's image against image ids and names
func (f *Funcs) GetImage(ctx context.Context, vm config.VM) (*compute.Image, error) {
	want := config.GetString("image", vm, f.Opts, "", false)
	conn, err := f.Conn(ctx)
	if err != nil {
		return nil, err
	}
	images, err := conn.ListImages(ctx, nil)
	if err != nil {
		return nil, err
	}

	img, ok := lo.Find(images, func(i compute.Image) bool {
		return want != "" && (i.ID == want || i.Name == want)
	})
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("The specified image, '%s', could not be found.", want), nil)
	}
	return &img, nil
}

// GetSize matches the request's size against size ids and names
func (f *Funcs) GetSize(ctx context.Context, vm config.VM) (*compute.Size, error) {
	want := config.GetString("size", vm, f.Opts, "", false)
	conn, err := f.Conn(ctx)
	if err != nil {
		return nil, err
	}
	sizes, err := conn.ListSizes(ctx, nil)
	if err != nil {
		return nil, err
	}

	size, ok := lo.Find(sizes, func(s compute.Size) bool {
		return want != "" && (s.ID == want || s.Name == want)
	})
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("The specified size, '%s', could not be found.", want), nil)
	}
	return &size, nil
}

func (f *Funcs) ListNodes(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	if err := requireFunction("list_nodes", call); err != nil {
		return nil, err
	}
	nodes, err := f.nodes(ctx)
	if err != nil {
		return nil, err
	}

	return lo.Associate(nodes, func(n compute.Node) (string, map[string]any) {
		return n.Name, lo.PickByKeys(n.ToMap(), []string{"id", "image", "name", "private_ips", "public_ips", "size", "state"})
	}), nil
}

func (f *Funcs) ListNodesFull(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	if err := requireFunction("list_nodes_full", call); err != nil {
		return nil, err
	}
	nodes, err := f.nodes(ctx)
	if err != nil {
		return nil, err
	}

	return lo.Associate(nodes, func(n compute.Node) (string, map[string]any) {
		return n.Name, n.ToMap()
	}), nil
}

// ListNodesSelect narrows ListNodesFull to the fields named by query.selection
func (f *Funcs) ListNodesSelect(ctx context.Context, call cloud.CallKind) (cloud.Results, error) {
	if err := requireFunction("list_nodes_select", call); err != nil {
		return nil, err
	}
	var selection []string
	if f.Opts != nil {
		selection = cast.ToStringSlice(f.Opts.Global[SelectionKey])
	}
	if len(selection) == 0 {
		return nil, errors.NewConfigError("no fields selected; set query.selection", nil)
	}

	full, err := f.ListNodesFull(ctx, call)
	if err != nil {
		return nil, err
	}
	return lo.MapValues(full, func(node map[string]any, _ string) map[string]any {
		return lo.PickByKeys(node, selection)
	}), nil
}

func (f *Funcs) ShowInstance(ctx context.Context, name string, call cloud.CallKind) (map[string]any, error) {
	if err := requireAction("show_instance", call); err != nil {
		return nil, err
	}
	node, err := f.GetNode(ctx, name)
	if err != nil {
		return nil, err
	}
	return node.ToMap(), nil
}

// GetNode returns the node called name
func (f *Funcs) GetNode(ctx context.Context, name string) (*compute.Node, error) {
	nodes, err := f.nodes(ctx)
	if err != nil {
		return nil, err
	}
	node, ok := lo.Find(nodes, func(n compute.Node) bool { return n.Name == name })
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("node %s was not found", name), nil).
			WithMetadata("node", name)
	}
	return &node, nil
}

// Destroy deletes the node and forgets its cache entry
func (f *Funcs) Destroy(ctx context.Context, name string, call cloud.CallKind) (map[string]any, error) {
	if call == cloud.CallFunction {
		return nil, errors.NewSystemExit("The destroy action must be called with -d, --destroy, -a or --action.", nil)
	}
	return f.destroy(ctx, name, func(ctx context.Context) (*compute.Node, error) {
		return f.GetNode(ctx, name)
	})
}

// DestroyNode deletes a node the caller already holds, addressing it by id
// so a different server sharing its name is never touched.
func (f *Funcs) DestroyNode(ctx context.Context, node *compute.Node) (map[string]any, error) {
	return f.destroy(ctx, node.Name, func(context.Context) (*compute.Node, error) {
		return node, nil
	})
}

func (f *Funcs) destroy(ctx context.Context, name string, resolve func(context.Context) (*compute.Node, error)) (map[string]any, error) {
	ctx = logger.WithNode(logger.WithProvider(ctx, f.Alias), name)
	op := f.Logger.StartOp(ctx, "destroy")

	cloud.FireEvent(ctx, f.Bus, f.Logger, "destroying instance", events.CloudTag(name, cloud.ActionDestroying),
		map[string]any{"name": name})

	op.Phase("lookup", "resolving node")
	node, err := resolve(ctx)
	if err != nil {
		op.Fail(err, "node lookup failed")
		return nil, err
	}
	conn, err := f.Conn(ctx)
	if err != nil {
		op.Fail(err, "connection failed")
		return nil, err
	}

	op.Phase("request", "requesting deletion", slog.String("id", node.ID))
	if err := conn.DestroyNode(ctx, node); err != nil {
		err = errors.NewProviderError(errors.ErrCodeDestructionFailed, fmt.Sprintf("failed to destroy %s", name), false, err)
		op.Fail(err, "destroy request failed")
		return nil, err
	}

	cloud.FireEvent(ctx, f.Bus, f.Logger, "destroyed instance", events.CloudTag(name, cloud.ActionDestroyed),
		map[string]any{"name": name})

	if f.Metrics != nil {
		f.Metrics.NodeDestroyed(f.Alias)
	}
	if f.Cache != nil {
		if err := f.Cache.Delete(ctx, f.Alias, name); err != nil {
			f.Logger.WarnErrCtx(ctx, "failed to remove node from cache", err)
		}
	}

	op.Complete("node destroyed", slog.String("id", node.ID))
	return map[string]any{"name": name, "id": node.ID, "destroyed": true}, nil
}

// Reboot restarts the node; only valid as an action
func (f *Funcs) Reboot(ctx context.Context, name string, call cloud.CallKind) (map[string]any, error) {
	if err := requireAction("reboot", call); err != nil {
		return nil, err
	}
	node, err := f.GetNode(ctx, name)
	if err != nil {
		return nil, err
	}
	conn, err := f.Conn(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := conn.RebootNode(ctx, node); err != nil {
		return nil, errors.NewProviderError(errors.ErrCodeProvisionFailed, fmt.Sprintf("failed to reboot %s", name), false, err)
	}
	f.Logger.InfoContext(logger.WithNode(ctx, name), "node rebooting", slog.Duration("duration", time.Since(start)))
	return map[string]any{"name": name, "rebooted": true}, nil
}

// Script renders the deploy script the request would run
func (f *Funcs) Script(vm config.VM) (string, error) {
	return cloud.RenderScript(vm, f.Opts)
}

func (f *Funcs) nodes(ctx context.Context) ([]compute.Node, error) {
	conn, err := f.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn.ListNodes(ctx)
}
