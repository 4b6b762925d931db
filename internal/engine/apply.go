package engine

import "github.com/tatianab/story-loop/internal/models"

// ApplyDelta returns st updated with a parsed answer. st is not modified.
//
// Status values overwrite the current ones; empty values are ignored.
// Custom keys naming a configured extension replace that extension's data,
// other keys land in the _extra bucket. An incoming _extra object is merged
// into the bucket key by key.
func ApplyDelta(st models.GameState, ext models.ExtensionConfig, d *models.ParsedGameData) models.GameState {
	out := st.Clone()
	if out.CustomData == nil {
		out.CustomData = models.NewOrderedMap()
	}
	if d == nil {
		return out
	}

	for k, v := range d.Status {
		if v.Kind == models.StatusEmpty {
			continue
		}
		out.PlayerStatus[k] = v
	}

	custom := d.Custom.Clone()
	for _, k := range custom.Keys() {
		v, _ := custom.Get(k)
		switch {
		case k == models.ExtraKey:
			incoming, ok := v.(*models.OrderedMap)
			if !ok {
				continue
			}
			extra := extraBucket(out.CustomData)
			for _, ek := range incoming.Keys() {
				ev, _ := incoming.Get(ek)
				extra.Set(ek, ev)
			}
		case ext.Has(k):
			out.CustomData.Set(k, v)
		default:
			extraBucket(out.CustomData).Set(k, v)
		}
	}
	return out
}

func extraBucket(cd *models.OrderedMap) *models.OrderedMap {
	if v, ok := cd.Get(models.ExtraKey); ok {
		if m, ok := v.(*models.OrderedMap); ok {
			return m
		}
	}
	m := models.NewOrderedMap()
	cd.Set(models.ExtraKey, m)
	return m
}
