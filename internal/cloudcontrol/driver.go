package cloudcontrol

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chiquitav2/ddcloud/pkg/compute"
	"github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/samber/lo"
)

// DriverName is the name the driver registers under
const DriverName = "dimensiondata"

// Driver implements compute.NetworkDriver against CloudControl
type Driver struct {
	client *Client
}

var _ compute.NetworkDriver = (*Driver)(nil)

// NewDriver creates a driver for the account described by cfg
func NewDriver(cfg Config) (*Driver, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Driver{client: client}, nil
}

func (d *Driver) Name() string { return DriverName }

// Client exposes the underlying API client
func (d *Driver) Client() *Client { return d.client }

func (d *Driver) ListLocations(ctx context.Context) ([]compute.Location, error) {
	dcs, err := listAll[datacenter](ctx, d.client, "list_locations", "infrastructure/datacenter", "datacenter", nil)
	if err != nil {
		return nil, err
	}
	return lo.Map(dcs, func(dc datacenter, _ int) compute.Location { return toLocation(dc) }), nil
}

// ExGetLocationByID returns the datacenter with id
func (d *Driver) ExGetLocationByID(ctx context.Context, id string) (*compute.Location, error) {
	if id == "" {
		return nil, errors.NewNotFoundError("no location id given", nil)
	}

	dcs, err := listAll[datacenter](ctx, d.client, "get_location", "infrastructure/datacenter", "datacenter",
		map[string]string{"id": id})
	if err != nil {
		return nil, err
	}

	dc, ok := lo.Find(dcs, func(dc datacenter) bool { return dc.ID == id })
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("location %s not found", id), nil)
	}
	loc := toLocation(dc)
	return &loc, nil
}

// ListImages returns OS and customer images, optionally limited to a location
func (d *Driver) ListImages(ctx context.Context, location *compute.Location) ([]compute.Image, error) {
	query := map[string]string{"datacenterId": locationID(location)}

	osImages, err := listAll[osImage](ctx, d.client, "list_images", "image/osImage", "osImage", query)
	if err != nil {
		return nil, err
	}
	customerImages, err := listAll[osImage](ctx, d.client, "list_images", "image/customerImage", "customerImage", query)
	if err != nil {
		return nil, err
	}

	images := lo.Map(osImages, func(img osImage, _ int) compute.Image { return toImage(img, "os") })
	images = append(images, lo.Map(customerImages, func(img osImage, _ int) compute.Image { return toImage(img, "customer") })...)
	return images, nil
}

// ListSizes returns the single size the platform offers; CPU and memory come from the image.
func (d *Driver) ListSizes(_ context.Context, _ *compute.Location) ([]compute.Size, error) {
	return []compute.Size{{ID: "default", Name: "default"}}, nil
}

func (d *Driver) ExListNetworkDomains(ctx context.Context, location *compute.Location) ([]compute.NetworkDomain, error) {
	domains, err := listAll[networkDomain](ctx, d.client, "list_network_domains", "network/networkDomain", "networkDomain",
		map[string]string{"datacenterId": locationID(location)})
	if err != nil {
		return nil, err
	}
	return lo.Map(domains, func(nd networkDomain, _ int) compute.NetworkDomain {
		return compute.NetworkDomain{
			ID:          nd.ID,
			Name:        nd.Name,
			Description: nd.Description,
			Location:    nd.DatacenterID,
			Plan:        nd.Type,
			Status:      nd.State,
		}
	}), nil
}

func (d *Driver) ExListVLANs(ctx context.Context, location *compute.Location, domain *compute.NetworkDomain) ([]compute.VLAN, error) {
	query := map[string]string{"datacenterId": locationID(location)}
	if domain != nil {
		query["networkDomainId"] = domain.ID
	}

	vlans, err := listAll[vlan](ctx, d.client, "list_vlans", "network/vlan", "vlan", query)
	if err != nil {
		return nil, err
	}
	return lo.Map(vlans, func(v vlan, _ int) compute.VLAN {
		return compute.VLAN{
			ID:              v.ID,
			Name:            v.Name,
			Description:     v.Description,
			NetworkDomainID: v.NetworkDomain.ID,
			PrivateIPv4:     cidr(v.PrivateIPv4Range),
			IPv6:            cidr(v.IPv6Range),
			Status:          v.State,
		}
	}), nil
}

// NATRule maps an internal address to a public one inside a network domain
type NATRule struct {
	ID         string
	InternalIP string
	ExternalIP string
	State      string
}

func (d *Driver) ExListNATRules(ctx context.Context, networkDomainID string) ([]NATRule, error) {
	rules, err := listAll[natRule](ctx, d.client, "list_nat_rules", "network/natRule", "natRule",
		map[string]string{"networkDomainId": networkDomainID})
	if err != nil {
		return nil, err
	}
	return lo.Map(rules, func(r natRule, _ int) NATRule {
		return NATRule{ID: r.ID, InternalIP: r.InternalIP, ExternalIP: r.ExternalIP, State: r.State}
	}), nil
}

func (d *Driver) ListNodes(ctx context.Context) ([]compute.Node, error) {
	servers, err := listAll[server](ctx, d.client, "list_nodes", "server/server", "server", nil)
	if err != nil {
		return nil, err
	}

	nat := natLookup{driver: d, byDomain: map[string]map[string][]string{}}
	nodes := make([]compute.Node, 0, len(servers))
	for _, s := range servers {
		external, err := nat.externalIPs(ctx, s)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, toNode(s, external))
	}
	return nodes, nil
}

// ExGetNodeByID fetches a single server
func (d *Driver) ExGetNodeByID(ctx context.Context, id string) (*compute.Node, error) {
	var s server
	if err := d.client.get(ctx, "get_node", "server/server/"+id, nil, &s); err != nil {
		return nil, err
	}

	nat := natLookup{driver: d, byDomain: map[string]map[string][]string{}}
	external, err := nat.externalIPs(ctx, s)
	if err != nil {
		return nil, err
	}
	node := toNode(s, external)
	return &node, nil
}

// CreateNode deploys a server and returns it as first reported by the API
func (d *Driver) CreateNode(ctx context.Context, opts compute.CreateNodeOpts) (*compute.Node, error) {
	if opts.Name == "" || opts.Image.ID == "" {
		return nil, errors.NewProviderError(errors.ErrCodeInvalidCall, "name and image are required to create a node", false, nil)
	}
	if opts.NetworkDomain.ID == "" || opts.VLAN.ID == "" {
		return nil, errors.NewProviderError(errors.ErrCodeInvalidCall, "network domain and VLAN are required to create a node", false, nil)
	}

	req := deployServerRequest{
		Name:                  opts.Name,
		Description:           opts.Description,
		ImageID:               opts.Image.ID,
		Start:                 opts.Started,
		AdministratorPassword: opts.Auth.Password,
		NetworkInfo:           deployNetworkInfo{NetworkDomainID: opts.NetworkDomain.ID},
	}
	req.NetworkInfo.PrimaryNic.VlanID = opts.VLAN.ID

	resp, err := d.client.post(ctx, "create_node", "server/deployServer", req)
	if err != nil {
		return nil, err
	}

	id := resp.info("serverId")
	if id == "" {
		return nil, errors.NewAPIError(errors.ErrCodeAPIDecode, "deployServer response carries no serverId", false, nil)
	}

	node, err := d.ExGetNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	node.Extra["password"] = opts.Auth.Password
	return node, nil
}

func (d *Driver) DestroyNode(ctx context.Context, node *compute.Node) error {
	_, err := d.client.post(ctx, "destroy_node", "server/deleteServer", idRequest{ID: node.ID})
	return err
}

func (d *Driver) RebootNode(ctx context.Context, node *compute.Node) error {
	_, err := d.client.post(ctx, "reboot_node", "server/rebootServer", idRequest{ID: node.ID})
	return err
}

type natLookup struct {
	driver   *Driver
	byDomain map[string]map[string][]string
}

func (n *natLookup) externalIPs(ctx context.Context, s server) ([]string, error) {
	domainID := s.NetworkInfo.NetworkDomainID
	internal := s.NetworkInfo.PrimaryNic.PrivateIPv4
	if domainID == "" || internal == "" {
		return nil, nil
	}

	table, ok := n.byDomain[domainID]
	if !ok {
		rules, err := n.driver.ExListNATRules(ctx, domainID)
		if err != nil {
			return nil, err
		}
		table = make(map[string][]string)
		for _, r := range rules {
			table[r.InternalIP] = append(table[r.InternalIP], r.ExternalIP)
		}
		n.byDomain[domainID] = table
	}
	return table[internal], nil
}

func toLocation(dc datacenter) compute.Location {
	return compute.Location{
		ID:      dc.ID,
		Name:    dc.DisplayName,
		Country: dc.Country,
		Extra: map[string]any{
			"city":  dc.City,
			"state": dc.State,
			"type":  dc.Type,
		},
	}
}

func toImage(img osImage, kind string) compute.Image {
	return compute.Image{
		ID:       img.ID,
		Name:     img.Name,
		Location: img.DatacenterID,
		Extra: map[string]any{
			"description": img.Description,
			"type":        kind,
			"os_id":       img.OperatingSystem.ID,
			"os_name":     img.OperatingSystem.DisplayName,
			"os_family":   img.OperatingSystem.Family,
			"cpu_count":   img.CPU.Count,
			"memory_gb":   img.MemoryGb,
		},
	}
}

func toNode(s server, natExternal []string) compute.Node {
	var private, public []string
	if ip := s.NetworkInfo.PrimaryNic.PrivateIPv4; ip != "" {
		private = append(private, ip)
	}
	if ip := s.NetworkInfo.PrimaryNic.IPv6; ip != "" {
		public = append(public, ip)
	}
	public = append(public, natExternal...)

	var created time.Time
	if s.CreateTime != "" {
		created, _ = time.Parse(time.RFC3339, s.CreateTime)
	}

	return compute.Node{
		ID:         s.ID,
		Name:       s.Name,
		State:      nodeState(s),
		PublicIPs:  lo.Uniq(public),
		PrivateIPs: private,
		Size:       "default",
		Image:      s.SourceImageID,
		Location:   s.DatacenterID,
		Created:    created,
		Extra: map[string]any{
			"description":       s.Description,
			"status":            s.State,
			"started":           s.Started,
			"deployed":          s.Deployed,
			"cpu_count":         s.CPU.Count,
			"memory_gb":         s.MemoryGb,
			"network_domain_id": s.NetworkInfo.NetworkDomainID,
			"vlan_id":           s.NetworkInfo.PrimaryNic.VlanID,
		},
	}
}

func nodeState(s server) compute.NodeState {
	switch {
	case s.State == "NORMAL" && s.Started:
		return compute.StateRunning
	case s.State == "NORMAL":
		return compute.StateStopped
	case s.State == "PENDING_DELETE":
		return compute.StateTerminated
	case strings.HasPrefix(s.State, "PENDING_"):
		return compute.StatePending
	case strings.HasPrefix(s.State, "FAILED_"), s.State == "REQUIRES_SUPPORT":
		return compute.StateError
	default:
		return compute.StateUnknown
	}
}

func locationID(loc *compute.Location) string {
	if loc == nil {
		return ""
	}
	return loc.ID
}

func cidr(r ipRange) string {
	if r.Address == "" {
		return ""
	}
	return fmt.Sprintf("%s/%d", r.Address, r.PrefixSize)
}
