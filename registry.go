package dfadmin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dreamfactorysoftware/df-admin-data/resource"
)

// resourceInfo binds an admin resource path to its record type and the
// columns a table search matches against.
type resourceInfo struct {
	factory      resource.Factory
	searchFields []string
}

var registry = map[string]resourceInfo{
	"system/service": {
		factory:      func() resource.Record { return &resource.Service{} },
		searchFields: []string{"name", "label", "description"},
	},
	"system/admin": {
		factory:      func() resource.Record { return &resource.AdminUser{} },
		searchFields: []string{"name", "first_name", "last_name", "email"},
	},
	"system/role": {
		factory:      func() resource.Record { return &resource.Role{} },
		searchFields: []string{"name", "description"},
	},
	"system/limit": {
		factory:      func() resource.Record { return &resource.Limit{} },
		searchFields: []string{"name"},
	},
	"system/cors": {
		factory:      func() resource.Record { return &resource.CORSRule{} },
		searchFields: []string{"path", "origin", "description"},
	},
	"system/scheduler": {
		factory:      func() resource.Record { return &resource.SchedulerJob{} },
		searchFields: []string{"name", "description"},
	},
	"system/event_script": {
		factory:      func() resource.Record { return &resource.EventScript{} },
		searchFields: []string{"name"},
	},
	"system/lookup": {
		factory:      func() resource.Record { return &resource.LookupKey{} },
		searchFields: []string{"name"},
	},
}

// Resources lists the admin resource paths a Session can manage, sorted.
func Resources() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (resourceInfo, error) {
	info, ok := registry[strings.Trim(name, "/ ")]
	if !ok {
		return resourceInfo{}, fmt.Errorf("dfadmin: unknown resource %q", name)
	}
	return info, nil
}
