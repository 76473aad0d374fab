package warehouse

import "time"

// versionAsOf picks the dimension version effective on the given date:
// effective_date <= at and (end_date null or end_date >= at). Facts resolve
// against the version active when the sale occurred, not the current one.
func versionAsOf[T any](versions []T, at time.Time, bounds func(T) (time.Time, *time.Time)) (T, bool) {
	for _, v := range versions {
		eff, end := bounds(v)
		if eff.After(at) {
			continue
		}
		if end == nil || !end.Before(at) {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// earliestVersion returns the oldest version when the date predates every
// effective_date. Sales recorded before versioning began attribute to the
// first tracked version instead of becoming orphans.
func earliestVersion[T any](versions []T, at time.Time, bounds func(T) (time.Time, *time.Time)) (T, bool) {
	var zero T
	if len(versions) == 0 {
		return zero, false
	}
	first := versions[0]
	firstEff, _ := bounds(first)
	for _, v := range versions[1:] {
		if eff, _ := bounds(v); eff.Before(firstEff) {
			first, firstEff = v, eff
		}
	}
	if at.Before(firstEff) {
		return first, true
	}
	return zero, false
}

func customerBounds(d DimCustomer) (time.Time, *time.Time) {
	return d.EffectiveDate, d.EndDate
}

func productBounds(d DimProduct) (time.Time, *time.Time) {
	return d.EffectiveDate, d.EndDate
}
