// Package compute describes the provider-neutral node model and the driver
// contract a cloud library implements.
package compute

import (
	"context"
	"time"
)

// NodeState is the provider-neutral lifecycle state of a node
type NodeState string

const (
	StateRunning    NodeState = "running"
	StateStopped    NodeState = "stopped"
	StatePending    NodeState = "pending"
	StateRebooting  NodeState = "rebooting"
	StateTerminated NodeState = "terminated"
	StateError      NodeState = "error"
	StateUnknown    NodeState = "unknown"
)

// Node is a compute instance as reported by a driver
type Node struct {
	ID         string
	Name       string
	State      NodeState
	PublicIPs  []string
	PrivateIPs []string
	Size       string
	Image      string
	Location   string
	Created    time.Time
	Extra      map[string]any
}

// Running reports whether the node has reached the running state
func (n *Node) Running() bool {
	return n.State == StateRunning
}

// ToMap renders the node in the loosely typed shape results are merged into
func (n *Node) ToMap() map[string]any {
	extra := make(map[string]any, len(n.Extra))
	for k, v := range n.Extra {
		extra[k] = v
	}

	m := map[string]any{
		"id":          n.ID,
		"name":        n.Name,
		"state":       string(n.State),
		"public_ips":  nonNil(n.PublicIPs),
		"private_ips": nonNil(n.PrivateIPs),
		"size":        n.Size,
		"image":       n.Image,
		"extra":       extra,
	}
	if n.Location != "" {
		m["location"] = n.Location
	}
	if !n.Created.IsZero() {
		m["created"] = n.Created.UTC().Format(time.RFC3339)
	}
	return m
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type Location struct {
	ID      string
	Name    string
	Country string
	Extra   map[string]any
}

type Image struct {
	ID       string
	Name     string
	Location string
	Extra    map[string]any
}

type Size struct {
	ID    string
	Name  string
	RAM   int
	Disk  int
	Price float64
	Extra map[string]any
}

// NodeAuthPassword carries the administrator password for a new node
type NodeAuthPassword struct {
	Password string
}

type NetworkDomain struct {
	ID          string
	Name        string
	Description string
	Location    string
	Plan        string
	Status      string
}

type VLAN struct {
	ID              string
	Name            string
	Description     string
	NetworkDomainID string
	PrivateIPv4     string
	IPv6            string
	Status          string
}

// CreateNodeOpts are the arguments of a node creation request
type CreateNodeOpts struct {
	Name          string
	Image         Image
	Auth          NodeAuthPassword
	Description   string
	NetworkDomain NetworkDomain
	VLAN          VLAN
	Started       bool
}

// Driver is the minimal compute contract
type Driver interface {
	Name() string
	ListNodes(ctx context.Context) ([]Node, error)
	ListSizes(ctx context.Context, location *Location) ([]Size, error)
	ListImages(ctx context.Context, location *Location) ([]Image, error)
	ListLocations(ctx context.Context) ([]Location, error)
	CreateNode(ctx context.Context, opts CreateNodeOpts) (*Node, error)
	DestroyNode(ctx context.Context, node *Node) error
	RebootNode(ctx context.Context, node *Node) error
}

// NetworkDriver is implemented by drivers that place nodes into network
// domains and VLANs.
type NetworkDriver interface {
	Driver
	ExGetLocationByID(ctx context.Context, id string) (*Location, error)
	ExListNetworkDomains(ctx context.Context, location *Location) ([]NetworkDomain, error)
	ExListVLANs(ctx context.Context, location *Location, domain *NetworkDomain) ([]VLAN, error)
	ExGetNodeByID(ctx context.Context, id string) (*Node, error)
}
