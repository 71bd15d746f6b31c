package dimensiondata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreferredIP(t *testing.T) {
	tests := []struct {
		name     string
		protocol string
		ips      []string
		want     string
	}{
		{"first ipv4", "ipv4", []string{"2607:f480::5", "10.0.0.5", "10.0.0.6"}, "10.0.0.5"},
		{"default is ipv4", "", []string{"fe80::1", "168.128.1.5"}, "168.128.1.5"},
		{"first ipv6", "ipv6", []string{"10.0.0.5", "2607:f480::5", "2607:f480::6"}, "2607:f480::5"},
		{"skips garbage", "ipv4", []string{"", "not-an-ip", "300.1.1.1", "10.0.0.7"}, "10.0.0.7"},
		{"skips zoned", "ipv6", []string{"fe80::1%eth0", "fd00::2"}, "fd00::2"},
		{"no match", "ipv6", []string{"10.0.0.5", "168.128.1.5"}, ""},
		{"empty", "ipv4", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PreferredIP(tt.protocol, tt.ips))
		})
	}
}

func TestClassifyIPs(t *testing.T) {
	public, private := ClassifyIPs(nil, []string{"10.0.0.5", "168.128.1.5", "192.168.3.4", "10.0.0.5"})
	assert.Equal(t, []string{"168.128.1.5"}, public)
	assert.Equal(t, []string{"10.0.0.5", "192.168.3.4"}, private)

	public, private = ClassifyIPs([]string{"168.128.1.5"}, []string{"168.128.1.5", "2607:f480:111::9"})
	assert.Equal(t, []string{"168.128.1.5", "2607:f480:111::9"}, public)
	assert.Empty(t, private)
}

func TestSelectIPs(t *testing.T) {
	pub := []string{"168.128.1.5"}
	priv := []string{"10.0.0.5"}

	tests := []struct {
		name    string
		iface   string
		public  []string
		private []string
		want    []string
		ok      bool
	}{
		{"private preferred and present", InterfacePrivate, pub, priv, priv, true},
		{"private preferred but missing", InterfacePrivate, pub, nil, pub, true},
		{"public preferred", InterfacePublic, pub, priv, pub, true},
		{"public preferred, only private", InterfacePublic, nil, priv, nil, false},
		{"nothing yet", InterfacePrivate, nil, nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectIPs(tt.iface, tt.public, tt.private)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
