package cloudcontrol

import (
	"fmt"
	"sort"

	"github.com/chiquitav2/ddcloud/pkg/errors"
)

// Region is a CloudControl geography and the API host serving it
type Region struct {
	Name        string
	Host        string
	Description string
}

var regions = map[string]Region{
	"dd-na":     {Name: "dd-na", Host: "api-na.dimensiondata.com", Description: "North America (NA)"},
	"dd-eu":     {Name: "dd-eu", Host: "api-eu.dimensiondata.com", Description: "Europe (EU)"},
	"dd-au":     {Name: "dd-au", Host: "api-au.dimensiondata.com", Description: "Australia (AU)"},
	"dd-au-gov": {Name: "dd-au-gov", Host: "api-canberra.dimensiondata.com", Description: "Australia Canberra ACT (AU)"},
	"dd-af":     {Name: "dd-af", Host: "api-mea.dimensiondata.com", Description: "Africa (AF)"},
	"dd-ap":     {Name: "dd-ap", Host: "api-ap.dimensiondata.com", Description: "Asia Pacific (AP)"},
	"dd-latam":  {Name: "dd-latam", Host: "api-latam.dimensiondata.com", Description: "South America (LATAM)"},
	"dd-canada": {Name: "dd-canada", Host: "api-canada.dimensiondata.com", Description: "Canada (CA)"},
}

// LookupRegion resolves a region name
func LookupRegion(name string) (Region, error) {
	r, ok := regions[name]
	if !ok {
		return Region{}, errors.NewConfigError(fmt.Sprintf("unknown CloudControl region %q", name), nil)
	}
	return r, nil
}

// Regions lists every known region ordered by name
func Regions() []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
