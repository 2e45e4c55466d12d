package orgs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PlanCatalog maps each plan to its default limits
type PlanCatalog map[Plan]Limits

// DefaultPlanCatalog returns the built-in plan limits
func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		PlanFree:       {Users: 3, Calls: 500, Contacts: 100, Teams: 1},
		PlanPro:        {Users: 10, Calls: 5000, Contacts: 1000, Teams: 5},
		PlanBusiness:   {Users: 50, Calls: 50000, Contacts: 10000, Teams: 20},
		PlanEnterprise: {Users: 999, Calls: 999999, Contacts: Unlimited, Teams: Unlimited},
	}
}

// LimitsFor returns the limits for plan, falling back to the free plan
func (c PlanCatalog) LimitsFor(plan Plan) Limits {
	if l, ok := c[plan]; ok {
		return l
	}
	if l, ok := c[PlanFree]; ok {
		return l
	}
	return DefaultPlanCatalog()[PlanFree]
}

// EffectiveLimits fills zero-valued limits on org from its plan
func (c PlanCatalog) EffectiveLimits(org *Organization) Limits {
	return mergeLimits(org.Limits, c.LimitsFor(org.Plan))
}

// mergeLimits fills zero fields of l from defaults
func mergeLimits(l, defaults Limits) Limits {
	if l.Users == 0 {
		l.Users = defaults.Users
	}
	if l.Calls == 0 {
		l.Calls = defaults.Calls
	}
	if l.Contacts == 0 {
		l.Contacts = defaults.Contacts
	}
	if l.Teams == 0 {
		l.Teams = defaults.Teams
	}
	return l
}

// planFile is the on-disk layout of a plan catalog override
type planFile struct {
	Plans map[Plan]Limits `yaml:"plans"`
}

// LoadPlanCatalog reads plan overrides from a YAML file and merges them over the
// defaults. Example:
//
//	plans:
//	  pro:
//	    users: 15
//	    calls: 7500
//	    contacts: 2000
//	    teams: 5
func LoadPlanCatalog(path string) (PlanCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}
	return ParsePlanCatalog(data)
}

// ParsePlanCatalog decodes YAML plan overrides and merges them over the defaults
func ParsePlanCatalog(data []byte) (PlanCatalog, error) {
	var file planFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}

	catalog := DefaultPlanCatalog()
	for plan, limits := range file.Plans {
		if !plan.Valid() {
			return nil, fmt.Errorf("unknown plan %q in catalog", plan)
		}
		for _, v := range []int64{limits.Users, limits.Calls, limits.Contacts, limits.Teams} {
			if v < Unlimited {
				return nil, fmt.Errorf("invalid limit %d for plan %s", v, plan)
			}
		}
		catalog[plan] = mergeLimits(limits, catalog[plan])
	}
	return catalog, nil
}
