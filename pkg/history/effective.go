package history

// EffectiveVersions computes the set of version keys that are currently
// applied, walking rows in installed_rank order: a successful forward row
// (SQL or BASELINE) adds its version, a successful undo row removes it.
// Failed rows are ignored.
func EffectiveVersions(rows []*Row) map[string]bool {
	effective := make(map[string]bool)
	for _, r := range rows {
		if !r.Success || r.Version == nil {
			continue
		}
		if r.IsUndo() {
			delete(effective, *r.Version)
		} else {
			effective[*r.Version] = true
		}
	}
	return effective
}

// LatestRepeatable returns the most recent successful row per script for
// repeatable migrations (rows with a nil version and a non-baseline
// type).
func LatestRepeatable(rows []*Row) map[string]*Row {
	latest := make(map[string]*Row)
	for _, r := range rows {
		if !r.Success || r.Version != nil || r.Type == TypeBaseline {
			continue
		}
		latest[r.Script] = r
	}
	return latest
}

// Baseline returns the baseline row, or nil when the history carries
// none.
func Baseline(rows []*Row) *Row {
	for _, r := range rows {
		if r.Type == TypeBaseline && r.Success {
			return r
		}
	}
	return nil
}

// LatestForwardRank returns the most recent successful forward (SQL) row
// for each version key.
func LatestForwardRank(rows []*Row) map[string]*Row {
	latest := make(map[string]*Row)
	for _, r := range rows {
		if !r.Success || r.Version == nil || r.IsUndo() || r.Type == TypeBaseline {
			continue
		}
		latest[*r.Version] = r
	}
	return latest
}
