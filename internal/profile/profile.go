// Package profile persists device profiles and switches the active one.
//
// A profile binds an STB class (owned by exactly one STB API plugin), a
// hardware submodel and a datasource. Profiles live as one INI file per
// profile in the profiles directory:
//
//	[profile]
//	classid  = mag
//	uuid     = 4f0c...
//	name     = Living room
//	submodel = 2
package profile

import (
	"context"

	"github.com/HerbHall/stbemu/pkg/roles"
)

// Profile is one emulated device configuration.
type Profile struct {
	ID            string
	Name          string
	ClassID       string
	SubmodelIndex int
	Submodel      roles.Submodel

	// Datasource is nil when no datasource plugin was available.
	Datasource roles.Datasource
	Provider   roles.StbAPIProvider
	Runtime    roles.ProfileRuntime

	path string
}

// Path returns the profile's descriptor file.
func (p *Profile) Path() string { return p.path }

// Start runs the class runtime's start hook.
func (p *Profile) Start(ctx context.Context) error {
	if p.Runtime == nil {
		return nil
	}
	return p.Runtime.Start(ctx)
}

// Stop runs the class runtime's stop hook.
func (p *Profile) Stop(ctx context.Context) error {
	if p.Runtime == nil {
		return nil
	}
	return p.Runtime.Stop(ctx)
}

// Info is the JSON view of a profile.
type Info struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ClassID  string `json:"class_id"`
	Submodel string `json:"submodel"`
	Active   bool   `json:"active"`
}

// Info returns the JSON view of p; active marks the current profile.
func (p *Profile) Info(active bool) Info {
	return Info{
		ID:       p.ID,
		Name:     p.Name,
		ClassID:  p.ClassID,
		Submodel: p.Submodel.ID,
		Active:   active,
	}
}

// Event is the payload of profile.* bus topics. Removed is only meaningful
// for profile.removed.
type Event struct {
	Profile *Profile
	Removed bool
}
