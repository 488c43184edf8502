// Package models holds the data types shared across the launch pipeline:
// applications, tasks, offers, and the match results that flow between the
// launcher, the offer matcher manager and the offer processor.
package models

import "time"

// Constraint is a placement constraint attached to an App, evaluated by the
// TaskFactory against an Offer's attributes.
type Constraint struct {
	Field    string
	Operator string
	Value    string
}

// VersionInfo records when an App's desired instance count or its
// configuration last changed, independent of the current App.Version
// timestamp.
type VersionInfo struct {
	LastScalingAt      time.Time
	LastConfigChangeAt time.Time
}

// App is an application definition: a hierarchical path ID, a desired
// instance count, the version it was last deployed at, and its placement
// constraints.
type App struct {
	ID          string
	Instances   int
	Version     time.Time
	VersionInfo VersionInfo
	Constraints []Constraint

	// Command and Resources describe what a launched instance looks like.
	// They participate in IsUpgrade but not in the identity of the App.
	Command   string
	Resources Resources
}

// IsUpgrade reports whether other is a configuration change relative to a,
// i.e. same ID but some field other than Instances/Version/VersionInfo
// differs. Two Apps that differ only in Instances/Version/VersionInfo are a
// pure scaling change, not an upgrade.
func (a App) IsUpgrade(other App) bool {
	if a.ID != other.ID {
		return false
	}
	if a.Command != other.Command {
		return true
	}
	if !a.Resources.Equal(other.Resources) {
		return true
	}
	return !constraintsEqual(a.Constraints, other.Constraints)
}

func constraintsEqual(a, b []Constraint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
