package entity

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/meshbridge/internal/bridges/mesh"
)

// Record is one persisted light or group.
type Record struct {
	Key         string    `json:"key"`
	Address     int       `json:"address"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Location    string    `json:"location,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Members     []int     `json:"members,omitempty"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`

	// State is the last stored snapshot, nil before the first notification.
	State *State `json:"state,omitempty"`
}

// State is the stored snapshot of one entity.
type State struct {
	Status          json.RawMessage `json:"status"`
	IsOn            *bool           `json:"is_on"`
	Brightness      *int            `json:"brightness"`
	ColorTempKelvin *int            `json:"color_temp_kelvin"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SceneRecord is one persisted scene.
type SceneRecord struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// RecordFromDescriptor converts a discovery descriptor.
func RecordFromDescriptor(d mesh.Descriptor, seenAt time.Time) Record {
	target := d.Target()
	return Record{
		Key:         target.Key(),
		Address:     d.Address,
		Kind:        d.Kind.String(),
		Name:        d.Name,
		DisplayName: d.DisplayName,
		Location:    d.Location,
		Tags:        slices.Clone(d.Tags),
		Members:     slices.Clone(d.Members),
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
	}
}

// StateFromEntity converts a live entity view.
func StateFromEntity(es mesh.EntityState, at time.Time) (State, error) {
	status, err := json.Marshal(es.Status)
	if err != nil {
		return State{}, fmt.Errorf("marshalling status: %w", err)
	}
	return State{
		Status:          status,
		IsOn:            es.IsOn,
		Brightness:      es.Brightness,
		ColorTempKelvin: es.ColorTempKelvin,
		UpdatedAt:       at,
	}, nil
}

// Validate checks the fields the schema requires.
func (r Record) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidRecord)
	}
	switch r.Kind {
	case mesh.KindMonochrome.String(), mesh.KindMultiwhite.String(), mesh.KindGroup.String():
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}
	return nil
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	out.Tags = slices.Clone(r.Tags)
	out.Members = slices.Clone(r.Members)
	if r.State != nil {
		s := *r.State
		s.Status = slices.Clone(r.State.Status)
		s.IsOn = clonePtr(r.State.IsOn)
		s.Brightness = clonePtr(r.State.Brightness)
		s.ColorTempKelvin = clonePtr(r.State.ColorTempKelvin)
		out.State = &s
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
