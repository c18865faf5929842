// Package merge unions the live local and live remote results of a list
// query according to the synchronization scope of its filter.
package merge

import (
	"slices"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
)

// Plan says which sources answer a request and with which filters.
type Plan struct {
	Local        bool
	Remote       bool
	LocalFilter  entities.Filter
	RemoteFilter entities.Filter
}

// Mode names the plan for logs and metrics.
func (p Plan) Mode() string {
	switch {
	case p.Local && p.Remote:
		return "both"
	case p.Remote:
		return "remote"
	default:
		return "local"
	}
}

var localStatuses = []entities.SynchronizationStatus{entities.StatusDirty, entities.StatusReadyToSync}

// PlanSources decides the sources for filter. Offline, only the local store
// answers. Online, a status facet naming only local statuses (or an all
// negative id list) stays local, a facet naming only SYNC goes remote, and
// anything else queries both with disjoint filters.
func PlanSources(filter entities.Filter, online bool) Plan {
	if !online {
		return Plan{Local: true, LocalFilter: filter}
	}
	if filter.LocalIDHint() {
		return Plan{Local: true, LocalFilter: filter}
	}

	if filter.HasStatusFacet() {
		wantsSync := slices.Contains(filter.SynchronizationStatus, entities.StatusSync)
		local := slices.DeleteFunc(slices.Clone(filter.SynchronizationStatus), func(status entities.SynchronizationStatus) bool {
			return status == entities.StatusSync
		})
		switch {
		case !wantsSync:
			return Plan{Local: true, LocalFilter: filter}
		case len(local) == 0:
			return Plan{Remote: true, RemoteFilter: remoteOnly(filter)}
		default:
			localFilter := filter
			localFilter.SynchronizationStatus = local
			return Plan{Local: true, Remote: true, LocalFilter: localFilter, RemoteFilter: remoteOnly(filter)}
		}
	}

	localFilter := filter
	localFilter.SynchronizationStatus = slices.Clone(localStatuses)
	return Plan{Local: true, Remote: true, LocalFilter: localFilter, RemoteFilter: remoteOnly(filter)}
}

// remoteOnly drops the client-only facets the server never stores.
func remoteOnly(filter entities.Filter) entities.Filter {
	out := filter
	out.SynchronizationStatus = nil
	if len(filter.IncludedIDs) > 0 {
		out.IncludedIDs = slices.DeleteFunc(slices.Clone(filter.IncludedIDs), func(id int64) bool { return id < 0 })
	}
	return out
}
