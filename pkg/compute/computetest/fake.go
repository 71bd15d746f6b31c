// Package computetest provides an in-memory compute.NetworkDriver.
package computetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chiquitav2/ddcloud/pkg/compute"
)

// ErrNotFound is returned for unknown ids
var ErrNotFound = errors.New("not found")

// Driver is a scriptable in-memory driver. Nodes holds the current
// inventory; NodesHook, when set, replaces it for ListNodes and
// ExGetNodeByID so tests can walk a node through states across polls.
type Driver struct {
	mu sync.Mutex

	Locations      []compute.Location
	Images         []compute.Image
	Sizes          []compute.Size
	NetworkDomains []compute.NetworkDomain
	VLANs          []compute.VLAN
	Nodes          []compute.Node

	NodesHook  func(call int) ([]compute.Node, error)
	CreateErr  error
	DestroyErr error
	ListErr    error

	Created   []compute.CreateNodeOpts
	Destroyed []string
	Rebooted  []string
	nodeCalls int
}

var _ compute.NetworkDriver = (*Driver)(nil)

func (d *Driver) Name() string { return "fake" }

func (d *Driver) ListLocations(ctx context.Context) ([]compute.Location, error) {
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	return d.Locations, nil
}

func (d *Driver) ExGetLocationByID(ctx context.Context, id string) (*compute.Location, error) {
	for _, l := range d.Locations {
		if l.ID == id {
			return &l, nil
		}
	}
	return nil, fmt.Errorf("location %s: %w", id, ErrNotFound)
}

func (d *Driver) ListImages(ctx context.Context, location *compute.Location) ([]compute.Image, error) {
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	return d.Images, nil
}

func (d *Driver) ListSizes(ctx context.Context, location *compute.Location) ([]compute.Size, error) {
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	return d.Sizes, nil
}

func (d *Driver) ExListNetworkDomains(ctx context.Context, location *compute.Location) ([]compute.NetworkDomain, error) {
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	return d.NetworkDomains, nil
}

func (d *Driver) ExListVLANs(ctx context.Context, location *compute.Location, domain *compute.NetworkDomain) ([]compute.VLAN, error) {
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	var out []compute.VLAN
	for _, v := range d.VLANs {
		if domain == nil || v.NetworkDomainID == domain.ID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (d *Driver) ListNodes(ctx context.Context) ([]compute.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inventory()
}

func (d *Driver) ExGetNodeByID(ctx context.Context, id string) (*compute.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	nodes, err := d.inventory()
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.ID == id {
			return &n, nil
		}
	}
	return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
}

// inventory counts a node read; caller holds mu
func (d *Driver) inventory() ([]compute.Node, error) {
	d.nodeCalls++
	if d.NodesHook != nil {
		return d.NodesHook(d.nodeCalls)
	}
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	return append([]compute.Node(nil), d.Nodes...), nil
}

// NodeCalls reports how often ListNodes and ExGetNodeByID ran
func (d *Driver) NodeCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nodeCalls
}

func (d *Driver) CreateNode(ctx context.Context, opts compute.CreateNodeOpts) (*compute.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Created = append(d.Created, opts)
	if d.CreateErr != nil {
		return nil, d.CreateErr
	}
	node := compute.Node{
		ID:    fmt.Sprintf("node-%d", len(d.Created)),
		Name:  opts.Name,
		State: compute.StatePending,
		Image: opts.Image.ID,
		Extra: map[string]any{"password": opts.Auth.Password, "networkDomainId": opts.NetworkDomain.ID},
	}
	d.Nodes = append(d.Nodes, node)
	return &node, nil
}

func (d *Driver) DestroyNode(ctx context.Context, node *compute.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.DestroyErr != nil {
		return d.DestroyErr
	}
	d.Destroyed = append(d.Destroyed, node.ID)
	return nil
}

func (d *Driver) RebootNode(ctx context.Context, node *compute.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Rebooted = append(d.Rebooted, node.ID)
	return nil
}
