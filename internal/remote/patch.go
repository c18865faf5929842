package remote

import (
	"slices"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
)

func (c *Client) applyPatches(plan MutationPlan, returned []entities.Entity) {
	for _, patch := range plan.CachePatches {
		ids := patch.IDs
		if len(ids) == 0 {
			ids = plan.IDs
		}
		apply := func(page entities.Page) entities.Page {
			return patchPage(page, patch.Kind, returned, ids)
		}

		c.watches.Each(func(key string, subject *stream.Subject[stream.Event[entities.Page]]) {
			c.mu.Lock()
			query, ok := c.watched[key]
			c.mu.Unlock()
			if !ok || query.Name != patch.QueryName {
				return
			}
			current, has := subject.Value()
			if !has || current.Err != nil {
				return
			}
			subject.Next(stream.Event[entities.Page]{Value: apply(current.Value)})
		})

		c.mu.Lock()
		for key, cached := range c.cache {
			if cached.query.Name == patch.QueryName {
				cached.page = apply(cached.page)
				c.cache[key] = cached
			}
		}
		c.mu.Unlock()
	}
}

// patchPage returns a patched copy of page; page itself is left untouched.
func patchPage(page entities.Page, kind PatchKind, returned []entities.Entity, ids []int64) entities.Page {
	out := copyPage(page)
	switch kind {
	case PatchInsert:
		var inserted []entities.Entity
		for _, entity := range returned {
			if indexOf(out.Data, entity) < 0 {
				inserted = append(inserted, entity)
			}
		}
		out.Data = append(inserted, out.Data...)
		adjustTotal(&out, len(inserted))
	case PatchRemove:
		before := len(out.Data)
		out.Data = slices.DeleteFunc(out.Data, func(entity entities.Entity) bool {
			id, ok := entities.IDOf(entity)
			return ok && slices.Contains(ids, id)
		})
		adjustTotal(&out, len(out.Data)-before)
	case PatchReplace:
		for _, entity := range returned {
			if index := indexOf(out.Data, entity); index >= 0 {
				out.Data[index] = entity
			}
		}
	}
	return out
}

func indexOf(data []entities.Entity, target entities.Entity) int {
	id, ok := entities.IDOf(target)
	if !ok {
		return -1
	}
	return slices.IndexFunc(data, func(entity entities.Entity) bool {
		other, has := entities.IDOf(entity)
		return has && other == id
	})
}

func adjustTotal(page *entities.Page, delta int) {
	if page.Total == nil {
		return
	}
	total := *page.Total + delta
	if total < 0 {
		total = 0
	}
	page.Total = &total
}
