package cloudcontrol

// Wire shapes of the CloudControl 2.4 JSON API

type pageInfo struct {
	PageNumber int `json:"pageNumber"`
	PageCount  int `json:"pageCount"`
	TotalCount int `json:"totalCount"`
	PageSize   int `json:"pageSize"`
}

type datacenter struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	City        string `json:"city"`
	State       string `json:"state"`
	Country     string `json:"country"`
	Type        string `json:"type"`
}

type osImage struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	DatacenterID    string `json:"datacenterId"`
	OperatingSystem struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Family      string `json:"family"`
	} `json:"operatingSystem"`
	CPU struct {
		Count int `json:"count"`
	} `json:"cpu"`
	MemoryGb int `json:"memoryGb"`
}

type networkDomain struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Type            string `json:"type"`
	SnatIPv4Address string `json:"snatIpv4Address"`
	State           string `json:"state"`
	DatacenterID    string `json:"datacenterId"`
}

type ipRange struct {
	Address    string `json:"address"`
	PrefixSize int    `json:"prefixSize"`
}

type vlan struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	NetworkDomain struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"networkDomain"`
	PrivateIPv4Range ipRange `json:"privateIpv4Range"`
	IPv6Range        ipRange `json:"ipv6Range"`
	State            string  `json:"state"`
}

type natRule struct {
	ID         string `json:"id"`
	InternalIP string `json:"internalIp"`
	ExternalIP string `json:"externalIp"`
	State      string `json:"state"`
}

type primaryNic struct {
	PrivateIPv4 string `json:"privateIpv4"`
	IPv6        string `json:"ipv6"`
	VlanID      string `json:"vlanId"`
}

type server struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	DatacenterID string `json:"datacenterId"`
	State        string `json:"state"`
	Started      bool   `json:"started"`
	Deployed     bool   `json:"deployed"`
	NetworkInfo  struct {
		PrimaryNic      primaryNic `json:"primaryNic"`
		NetworkDomainID string     `json:"networkDomainId"`
	} `json:"networkInfo"`
	CPU struct {
		Count int `json:"count"`
	} `json:"cpu"`
	MemoryGb      int    `json:"memoryGb"`
	SourceImageID string `json:"sourceImageId"`
	CreateTime    string `json:"createTime"`
}

type nameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// response is the body of every mutating call
type response struct {
	Operation    string      `json:"operation"`
	ResponseCode string      `json:"responseCode"`
	Message      string      `json:"message"`
	Info         []nameValue `json:"info"`
	RequestID    string      `json:"requestId"`
}

func (r *response) info(name string) string {
	for _, nv := range r.Info {
		if nv.Name == name {
			return nv.Value
		}
	}
	return ""
}

type deployServerRequest struct {
	Name                  string            `json:"name"`
	Description           string            `json:"description,omitempty"`
	ImageID               string            `json:"imageId"`
	Start                 bool              `json:"start"`
	AdministratorPassword string            `json:"administratorPassword"`
	NetworkInfo           deployNetworkInfo `json:"networkInfo"`
}

type deployNetworkInfo struct {
	NetworkDomainID string `json:"networkDomainId"`
	PrimaryNic      struct {
		VlanID string `json:"vlanId"`
	} `json:"primaryNic"`
}

type idRequest struct {
	ID string `json:"id"`
}
