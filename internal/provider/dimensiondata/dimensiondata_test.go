package dimensiondata

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chiquitav2/ddcloud/internal/cache"
	"github.com/chiquitav2/ddcloud/internal/cloud"
	"github.com/chiquitav2/ddcloud/internal/cloudcontrol"
	"github.com/chiquitav2/ddcloud/internal/config"
	"github.com/chiquitav2/ddcloud/internal/metrics"
	"github.com/chiquitav2/ddcloud/pkg/compute"
	"github.com/chiquitav2/ddcloud/pkg/compute/computetest"
	apperrors "github.com/chiquitav2/ddcloud/pkg/errors"
	"github.com/chiquitav2/ddcloud/pkg/events"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBootstrapper struct {
	vms []config.VM
	err error
}

func (b *recordingBootstrapper) Bootstrap(ctx context.Context, vm config.VM, opts *config.Opts) (map[string]any, error) {
	b.vms = append(b.vms, vm.Clone())
	if b.err != nil {
		return nil, b.err
	}
	return map[string]any{"deployed": true, "script_output": "ok"}, nil
}

type harness struct {
	provider *Provider
	driver   *computetest.Driver
	boot     *recordingBootstrapper
	metrics  *metrics.Metrics
	store    *cache.Store
	tags     func() []string
}

func testOpts(provider map[string]any) *config.Opts {
	prov := map[string]any{
		"driver":                   "dimensiondata",
		"user_id":                  "alice",
		"key":                      "s3cret",
		"region":                   "dd-na",
		"wait_for_ip_timeout":      "500ms",
		"wait_for_ip_interval":     "1ms",
		"wait_for_ip_max_failures": 3,
	}
	for k, v := range provider {
		prov[k] = v
	}
	return config.NewOpts(nil,
		map[string]map[string]any{"my-dd": prov},
		map[string]map[string]any{
			"web": {"provider": "my-dd", "image": "img-1", "location": "NA9", "network_domain": "prod"},
		},
	)
}

func fakeDriver() *computetest.Driver {
	return &computetest.Driver{
		Locations: []compute.Location{{ID: "NA9", Name: "US - East 3"}},
		Images: []compute.Image{
			{ID: "img-1", Name: "Ubuntu 22.04 64-bit", Location: "NA9"},
			{ID: "img-2", Name: "CentOS 7 64-bit", Location: "NA9"},
		},
		NetworkDomains: []compute.NetworkDomain{
			{ID: "nd-0", Name: "staging"},
			{ID: "nd-1", Name: "prod"},
		},
		VLANs: []compute.VLAN{
			{ID: "vlan-1", Name: "web", NetworkDomainID: "nd-1"},
			{ID: "vlan-2", Name: "db", NetworkDomainID: "nd-1"},
			{ID: "vlan-9", Name: "other", NetworkDomainID: "nd-0"},
		},
	}
}

// nodeSequence reports web-01 in the given states, repeating the last one
func nodeSequence(steps ...compute.Node) func(int) ([]compute.Node, error) {
	return func(call int) ([]compute.Node, error) {
		i := min(call-1, len(steps)-1)
		n := steps[i]
		n.ID = "node-1"
		n.Name = "web-01"
		return []compute.Node{n}, nil
	}
}

func newHarness(t *testing.T, opts *config.Opts) *harness {
	t.Helper()

	h := &harness{
		driver:  fakeDriver(),
		boot:    &recordingBootstrapper{},
		metrics: metrics.New(),
		store:   cache.NewTestStore(t),
	}

	bus := events.NewBus(events.DefaultBusConfig(), nil)
	t.Cleanup(func() { bus.Close() })
	var mu sync.Mutex
	var tags []string
	require.NoError(t, bus.Subscribe(events.Wildcard, func(ctx context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		tags = append(tags, e.Tag())
		return nil
	}))
	h.tags = func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), tags...)
	}

	p, err := New(cloud.Deps{
		Opts:         opts,
		Alias:        "my-dd",
		Bus:          bus,
		Metrics:      h.metrics,
		Cache:        h.store,
		Bootstrapper: h.boot,
	})
	require.NoError(t, err)
	h.provider = p.(*Provider)
	h.provider.connect = func(context.Context) (compute.NetworkDriver, error) { return h.driver, nil }
	return h
}

func newVM(t *testing.T, opts *config.Opts, overrides map[string]any) config.VM {
	vm, err := config.NewVM(opts, "web", "web-01", overrides)
	require.NoError(t, err)
	return vm
}

func TestCreatePublicInterface(t *testing.T) {
	opts := testOpts(nil)
	h := newHarness(t, opts)
	h.driver.NodesHook = nodeSequence(
		compute.Node{State: compute.StatePending},
		compute.Node{State: compute.StateRunning, PrivateIPs: []string{"10.0.0.5"}},
		compute.Node{State: compute.StateRunning, PrivateIPs: []string{"10.0.0.5"}, PublicIPs: []string{"2607:f480::5", "168.128.1.5"}},
	)

	ret, err := h.provider.Create(context.Background(), newVM(t, opts, map[string]any{"auth": "Root-Pa55"}))
	require.NoError(t, err)

	require.Len(t, h.driver.Created, 1)
	req := h.driver.Created[0]
	assert.Equal(t, "web-01", req.Name)
	assert.Equal(t, "img-1", req.Image.ID)
	assert.Equal(t, "nd-1", req.NetworkDomain.ID)
	assert.Equal(t, "vlan-1", req.VLAN.ID)
	assert.Equal(t, "Root-Pa55", req.Auth.Password)
	assert.True(t, req.Started)

	require.Len(t, h.boot.vms, 1)
	assert.Equal(t, "168.128.1.5", h.boot.vms[0]["ssh_host"])
	assert.Equal(t, "168.128.1.5", h.boot.vms[0]["agent_host"])
	assert.Equal(t, "Root-Pa55", h.boot.vms[0]["password"])

	assert.Equal(t, true, ret["deployed"])
	assert.Equal(t, "node-1", ret["id"])
	assert.Equal(t, "running", ret["state"])
	assert.Equal(t, []string{"10.0.0.5"}, ret["private_ips"])
	assert.NotContains(t, ret["extra"], "password")
	assert.Equal(t, 3, h.driver.NodeCalls())

	assert.Equal(t, []string{
		"cloud/web-01/creating",
		"cloud/web-01/requesting",
		"cloud/web-01/created",
	}, h.tags())

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NodesCreated.WithLabelValues("my-dd")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IPWaits.WithLabelValues(metrics.WaitSucceeded)))

	rec, err := h.store.Get(context.Background(), "my-dd", "web-01")
	require.NoError(t, err)
	assert.Equal(t, "node-1", rec.ID)
	assert.NotContains(t, rec.Data["extra"], "password")
}

func TestCreatePrivateInterface(t *testing.T) {
	opts := testOpts(map[string]any{"ssh_interface": "private_ips"})
	h := newHarness(t, opts)
	h.driver.NodesHook = nodeSequence(
		compute.Node{State: compute.StateRunning, PrivateIPs: []string{"10.0.0.5"}},
	)

	_, err := h.provider.Create(context.Background(), newVM(t, opts, nil))
	require.NoError(t, err)

	assert.Equal(t, 1, h.driver.NodeCalls())
	assert.Equal(t, "10.0.0.5", h.boot.vms[0]["ssh_host"])
	assert.Equal(t, "10.0.0.5", h.boot.vms[0]["agent_host"])
}

func TestCreateAgentInterfaceDiffers(t *testing.T) {
	opts := testOpts(map[string]any{"ssh_interface": "private_ips", "agent_interface": "public_ips"})
	h := newHarness(t, opts)
	h.driver.NodesHook = nodeSequence(
		compute.Node{State: compute.StateRunning, PrivateIPs: []string{"10.0.0.5"}, PublicIPs: []string{"168.128.1.5"}},
	)

	_, err := h.provider.Create(context.Background(), newVM(t, opts, nil))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", h.boot.vms[0]["ssh_host"])
	assert.Equal(t, "168.128.1.5", h.boot.vms[0]["agent_host"])
}

func TestCreateReclassifiesPublicAddress(t *testing.T) {
	opts := testOpts(nil)
	h := newHarness(t, opts)
	h.driver.NodesHook = nodeSequence(
		compute.Node{State: compute.StateRunning, PrivateIPs: []string{"10.0.0.5", "168.128.1.5"}},
	)

	ret, err := h.provider.Create(context.Background(), newVM(t, opts, nil))
	require.NoError(t, err)
	assert.Equal(t, "168.128.1.5", h.boot.vms[0]["ssh_host"])
	assert.Equal(t, []string{"168.128.1.5"}, ret["public_ips"])
	assert.Equal(t, []string{"10.0.0.5"}, ret["private_ips"])
}

func TestCreateGeneratesPassword(t *testing.T) {
	opts := testOpts(nil)
	h := newHarness(t, opts)
	h.driver.NodesHook = nodeSequence(
		compute.Node{State: compute.StateRunning, PublicIPs: []string{"168.128.1.5"}},
	)

	_, err := h.provider.Create(context.Background(), newVM(t, opts, nil))
	require.NoError(t, err)

	pw, _ := h.boot.vms[0]["password"].(string)
	assert.Len(t, pw, 16)
	assert.Equal(t, pw, h.driver.Created[0].Auth.Password)
}

func TestCreateSelectsVLANAndOptions(t *testing.T) {
	opts := testOpts(nil)
	h := newHarness(t, opts)
	h.driver.NodesHook = nodeSequence(
		compute.Node{State: compute.StateRunning, PublicIPs: []string{"168.128.1.5"}},
	)

	vm := newVM(t, opts, map[string]any{
		"vlan":        "db",
		"image":       "CentOS 7 64-bit",
		"description": "database",
		"is_started":  false,
		"provider":    "my-dd",
	})
	delete(vm, "driver")

	_, err := h.provider.Create(context.Background(), vm)
	require.NoError(t, err)

	req := h.driver.Created[0]
	assert.Equal(t, "vlan-2", req.VLAN.ID)
	assert.Equal(t, "img-2", req.Image.ID)
	assert.Equal(t, "database", req.Description)
	assert.False(t, req.Started)
	assert.Equal(t, "my-dd", h.boot.vms[0]["driver"])
	assert.NotContains(t, h.boot.vms[0], "provider")
}

func TestCreateTimeoutDestroysNode(t *testing.T) {
	opts := testOpts(map[string]any{"wait_for_ip_timeout": "30ms"})
	h := newHarness(t, opts)
	h.driver.NodesHook = nodeSequence(compute.Node{State: compute.StatePending})

	_, err := h.provider.Create(context.Background(), newVM(t, opts, nil))
	require.Error(t, err)
	assert.True(t, apperrors.IsSystemExit(err))
	assert.True(t, apperrors.IsExecutionTimeout(err))

	assert.Equal(t, []string{"node-1"}, h.driver.Destroyed)
	assert.Empty(t, h.boot.vms)
	assert.Contains(t, h.tags(), "cloud/web-01/destroyed")
	assert.NotContains(t, h.tags(), "cloud/web-01/created")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CreationFailures.WithLabelValues("my-dd", "wait")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IPWaits.WithLabelValues(metrics.WaitTimedOut)))
	assert.Equal(t, uint64(1), ipWaitCount(t, h.metrics))
}

func TestCreatePollsNodeByID(t *testing.T) {
	opts := testOpts(nil)
	h := newHarness(t, opts)
	older := compute.Node{ID: "node-0", Name: "web-01", State: compute.StateRunning, PublicIPs: []string{"168.128.9.9"}}
	h.driver.NodesHook = func(call int) ([]compute.Node, error) {
		created := compute.Node{ID: "node-1", Name: "web-01", State: compute.StatePending}
		if call > 1 {
			created.State = compute.StateRunning
			created.PublicIPs = []string{"168.128.1.5"}
		}
		return []compute.Node{older, created}, nil
	}

	ret, err := h.provider.Create(context.Background(), newVM(t, opts, nil))
	require.NoError(t, err)

	assert.Equal(t, 2, h.driver.NodeCalls())
	assert.Equal(t, "node-1", ret["id"])
	assert.Equal(t, "168.128.1.5", h.boot.vms[0]["ssh_host"])
}

func TestCreateTimeoutLeavesSameNamedNode(t *testing.T) {
	opts := testOpts(map[string]any{"wait_for_ip_timeout": "30ms"})
	h := newHarness(t, opts)
	h.driver.NodesHook = func(int) ([]compute.Node, error) {
		return []compute.Node{
			{ID: "node-0", Name: "web-01", State: compute.StateRunning, PublicIPs: []string{"168.128.9.9"}},
			{ID: "node-1", Name: "web-01", State: compute.StatePending},
		}, nil
	}

	_, err := h.provider.Create(context.Background(), newVM(t, opts, nil))
	require.Error(t, err)
	assert.Equal(t, []string{"node-1"}, h.driver.Destroyed)
}

func ipWaitCount(t *testing.T, m *metrics.Metrics) uint64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, m.IPWaitDuration.Write(&metric))
	return metric.GetHistogram().GetSampleCount()
}

func TestCreateFailureBudget(t *testing.T) {
	opts := testOpts(nil)
	h := newHarness(t, opts)
	h.driver.NodesHook = func(int) ([]compute.Node, error) {
		return nil, errors.New("connection reset")
	}

	_, err := h.provider.Create(context.Background(), newVM(t, opts, nil))
	require.Error(t, err)
	assert.True(t, apperrors.IsSystemExit(err))
	assert.True(t, apperrors.IsExecutionFailure(err))

	// cleanup destroys by id without another lookup
	assert.Equal(t, 3, h.driver.NodeCalls())
	assert.Equal(t, []string{"node-1"}, h.driver.Destroyed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IPWaits.WithLabelValues(metrics.WaitFailed)))
	assert.Equal(t, uint64(1), ipWaitCount(t, h.metrics))
}

func TestCreateNoUsableAddress(t *testing.T) {
	opts := testOpts(map[string]any{"protocol": "ipv6"})
	h := newHarness(t, opts)
	h.driver.NodesHook = nodeSequence(
		compute.Node{State: compute.StateRunning, PublicIPs: []string{"168.128.1.5"}},
	)

	_, err := h.provider.Create(context.Background(), newVM(t, opts, nil))
	require.Error(t, err)
	assert.True(t, apperrors.IsSystemExit(err))
	assert.Equal(t, NoIPMessage, apperrors.Message(err))
	assert.Empty(t, h.boot.vms)
}

func TestCreateLookupFailuresAreNotFatal(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"unknown location", map[string]any{"location": "EU6"}},
		{"unknown image", map[string]any{"image": "img-404"}},
		{"unknown network domain", map[string]any{"network_domain": "dev"}},
		{"unknown vlan", map[string]any{"vlan": "dmz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOpts(nil)
			h := newHarness(t, opts)

			_, err := h.provider.Create(context.Background(), newVM(t, opts, tt.overrides))
			require.Error(t, err)
			assert.False(t, apperrors.IsSystemExit(err))
			assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeProvisionFailed))
			assert.Empty(t, h.driver.Created)
			assert.Equal(t, []string{"cloud/web-01/creating"}, h.tags())
		})
	}
}

func TestCreateRequestFailure(t *testing.T) {
	opts := testOpts(nil)
	h := newHarness(t, opts)
	h.driver.CreateErr = errors.New("NAME_NOT_UNIQUE")

	_, err := h.provider.Create(context.Background(), newVM(t, opts, nil))
	require.Error(t, err)
	assert.False(t, apperrors.IsSystemExit(err))
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeProvisionFailed))
	assert.Equal(t, 0, h.driver.NodeCalls())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CreationFailures.WithLabelValues("my-dd", "request")))
}

func TestCreateBootstrapFailure(t *testing.T) {
	opts := testOpts(nil)
	h := newHarness(t, opts)
	h.boot.err = apperrors.NewSSHError(apperrors.ErrCodeSSHTimeout, "port 22 did not open in time", true, nil)
	h.driver.NodesHook = nodeSequence(
		compute.Node{State: compute.StateRunning, PublicIPs: []string{"168.128.1.5"}},
	)

	_, err := h.provider.Create(context.Background(), newVM(t, opts, nil))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeSSHTimeout))
	assert.NotContains(t, h.tags(), "cloud/web-01/created")
}

func TestCreateUnconfiguredProfile(t *testing.T) {
	opts := testOpts(nil)
	opts.Profiles["other"] = map[string]any{"provider": "elsewhere", "image": "img-1"}
	h := newHarness(t, opts)

	vm, err := config.NewVM(opts, "other", "web-02", nil)
	require.NoError(t, err)

	_, err = h.provider.Create(context.Background(), vm)
	assert.True(t, apperrors.IsConfigError(err))
	assert.Empty(t, h.tags())
}

func TestVirtual(t *testing.T) {
	tests := []struct {
		name     string
		provider map[string]any
		want     bool
	}{
		{"configured", nil, true},
		{"missing key", map[string]any{"key": ""}, false},
		{"unknown region", map[string]any{"region": "dd-mars"}, false},
		{"unknown region with endpoint", map[string]any{"region": "dd-mars", "endpoint": "https://api.example.net"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(cloud.Deps{Opts: testOpts(tt.provider), Alias: "my-dd"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Virtual())
		})
	}
}

func TestRegistryLoadsDriver(t *testing.T) {
	r := cloud.NewRegistry()
	Register(r)

	p, err := r.Load(cloud.Deps{Opts: testOpts(nil)}, "my-dd:dimensiondata")
	require.NoError(t, err)
	assert.Equal(t, "my-dd", p.Alias())
	assert.Equal(t, DriverName, p.Driver())

	_, err = r.Load(cloud.Deps{Opts: testOpts(map[string]any{"user_id": ""})}, "my-dd")
	assert.True(t, apperrors.IsConfigError(err))
}

func TestGetConnBuildsCloudControlDriver(t *testing.T) {
	p, err := New(cloud.Deps{Opts: testOpts(map[string]any{"verify_ssl": false}), Alias: "my-dd"})
	require.NoError(t, err)
	dd := p.(*Provider)

	conn, err := dd.GetConn(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &cloudcontrol.Driver{}, conn)
	assert.Equal(t, DriverName, conn.Name())

	again, err := dd.GetConn(context.Background())
	require.NoError(t, err)
	assert.Same(t, conn, again)
}

func TestGetConnUnconfigured(t *testing.T) {
	p, err := New(cloud.Deps{Opts: testOpts(map[string]any{"region": ""}), Alias: "my-dd"})
	require.NoError(t, err)

	_, err = p.ListNodes(context.Background(), cloud.CallFunction)
	assert.True(t, apperrors.IsConfigError(err))
}

func TestWaitOptionsFromConfig(t *testing.T) {
	opts := testOpts(map[string]any{
		"wait_for_ip_timeout":             600,
		"wait_for_ip_interval":            10,
		"wait_for_ip_interval_multiplier": 1.5,
		"wait_for_ip_max_failures":        5,
	})
	h := newHarness(t, opts)

	w := h.provider.waitOptions(newVM(t, opts, nil))
	assert.Equal(t, "10m0s", w.Timeout.String())
	assert.Equal(t, "10s", w.Interval.String())
	assert.Equal(t, 1.5, w.IntervalMultiplier)
	assert.Equal(t, 5, w.MaxFailures)
}
