package mesh

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// allLightsGroup is the gateway's built-in group covering every light.
const (
	allLightsGroup       = "TOS_Internal_All"
	allLightsDisplayName = "All lights"
)

// Category is a discovery family.
type Category string

const (
	CategoryLights Category = "lights"
	CategoryGroups Category = "groups"
	CategoryScenes Category = "scenes"
)

// Descriptor is a light or group as advertised by the gateway.
type Descriptor struct {
	Address     int      `json:"address"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Tags        []string `json:"tags,omitempty"`
	Location    string   `json:"location,omitempty"`

	// Members lists light addresses in a group, in gateway order.
	Members []int `json:"members,omitempty"`

	// Kind is derived from Tags for lights and is always KindGroup for groups.
	Kind Kind `json:"-"`
}

// Target returns the addressing information commands need.
func (d Descriptor) Target() Target {
	return Target{
		Kind:        d.Kind,
		Address:     d.Address,
		Name:        d.Name,
		DisplayName: d.DisplayName,
	}
}

// Scene is a gateway scene.
type Scene struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// rawEntry is one element of a discovery array.
type rawEntry map[string]json.RawMessage

// decodeEntries parses a discovery payload into raw entries.
func decodeEntries(payload []byte) ([]rawEntry, error) {
	var entries []rawEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("%w: discovery payload must be an array: %w", ErrMalformedPayload, err)
	}
	return entries, nil
}

// ParseLights decodes the lights discovery payload.
//
// Entries without device_addr are skipped, as are entries whose
// device_types is non-empty but names neither a light nor a multiwhite/rgb
// capability. A missing device_name becomes "device_{addr}".
func ParseLights(payload []byte) ([]Descriptor, error) {
	entries, err := decodeEntries(payload)
	if err != nil {
		return nil, err
	}

	lights := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		addr, ok := e.getInt("device_addr")
		if !ok {
			continue
		}

		tags := e.getStrings("device_types")
		if len(tags) > 0 && !isLightType(tags) {
			continue
		}

		name := e.getString("device_name")
		if name == "" {
			name = fmt.Sprintf("device_%d", addr)
		}

		lights = append(lights, Descriptor{
			Address:     addr,
			Name:        name,
			DisplayName: name,
			Tags:        tags,
			Location:    e.getString("location"),
			Kind:        KindFromTags(tags),
		})
	}
	return lights, nil
}

func isLightType(tags []string) bool {
	for _, tag := range tags {
		t := strings.ToLower(tag)
		if strings.Contains(t, "light") || t == "multiwhite" || t == "rgb" {
			return true
		}
	}
	return false
}

// ParseGroups decodes the groups discovery payload. The gateway's
// built-in all-lights group is given a readable display name.
func ParseGroups(payload []byte) ([]Descriptor, error) {
	entries, err := decodeEntries(payload)
	if err != nil {
		return nil, err
	}

	groups := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		addr, ok := e.getInt("group_main_addr")
		if !ok {
			continue
		}

		name := e.getString("group_name")
		if name == "" {
			name = fmt.Sprintf("group_%d", addr)
		}
		display := name
		if name == allLightsGroup {
			display = allLightsDisplayName
		}

		groups = append(groups, Descriptor{
			Address:     addr,
			Name:        name,
			DisplayName: display,
			Members:     e.getInts("devices"),
			Kind:        KindGroup,
		})
	}
	return groups, nil
}

// ParseScenes decodes the scenes discovery payload.
func ParseScenes(payload []byte) ([]Scene, error) {
	entries, err := decodeEntries(payload)
	if err != nil {
		return nil, err
	}

	scenes := make([]Scene, 0, len(entries))
	for _, e := range entries {
		id, ok := e.getInt("scene_id")
		if !ok {
			continue
		}
		name := e.getString("scene_name")
		if name == "" {
			name = fmt.Sprintf("scene_%d", id)
		}
		scenes = append(scenes, Scene{ID: id, Name: name})
	}
	return scenes, nil
}

// getInt reads an integer given as a number or a numeric string.
func (e rawEntry) getInt(key string) (int, bool) {
	raw, ok := e[key]
	if !ok {
		return 0, false
	}
	return parseInt(raw)
}

func parseInt(raw json.RawMessage) (int, bool) {
	f, ok := parseNumber(raw)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func (e rawEntry) getString(key string) string {
	raw, ok := e[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	// Numeric names are kept as written.
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// getStrings reads a list of strings, accepting a single string as a list of one.
func (e rawEntry) getStrings(key string) []string {
	raw, ok := e[key]
	if !ok {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

func (e rawEntry) getInts(key string) []int {
	raw, ok := e[key]
	if !ok {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		if n, ok := parseInt(item); ok {
			out = append(out, n)
		}
	}
	return out
}

// DirectoryChange describes the effect of one discovery message.
type DirectoryChange struct {
	Category Category
	Added    []int
	Updated  []int
}

// Directory holds the latest descriptors per address.
//
// A descriptor is replaced wholesale when a later message carries the same
// address. Addresses absent from a later message are kept.
//
// Thread Safety: All methods are safe for concurrent use.
type Directory struct {
	mu     sync.RWMutex
	lights map[int]Descriptor
	groups map[int]Descriptor
	scenes map[int]Scene

	onChange   func(DirectoryChange)
	onChangeMu sync.RWMutex
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		lights: make(map[int]Descriptor),
		groups: make(map[int]Descriptor),
		scenes: make(map[int]Scene),
	}
}

// SetOnChange sets the callback fired after each update that added or
// changed something.
func (d *Directory) SetOnChange(fn func(DirectoryChange)) {
	d.onChangeMu.Lock()
	d.onChange = fn
	d.onChangeMu.Unlock()
}

// UpdateLights stores light descriptors and reports what changed.
func (d *Directory) UpdateLights(lights []Descriptor) DirectoryChange {
	d.mu.Lock()
	change := upsert(d.lights, lights, CategoryLights, func(x Descriptor) int { return x.Address }, descriptorEqual)
	d.mu.Unlock()
	d.fire(change)
	return change
}

// UpdateGroups stores group descriptors and reports what changed.
func (d *Directory) UpdateGroups(groups []Descriptor) DirectoryChange {
	d.mu.Lock()
	change := upsert(d.groups, groups, CategoryGroups, func(x Descriptor) int { return x.Address }, descriptorEqual)
	d.mu.Unlock()
	d.fire(change)
	return change
}

// UpdateScenes stores scenes and reports what changed.
func (d *Directory) UpdateScenes(scenes []Scene) DirectoryChange {
	d.mu.Lock()
	change := upsert(d.scenes, scenes, CategoryScenes, func(x Scene) int { return x.ID }, func(a, b Scene) bool { return a == b })
	d.mu.Unlock()
	d.fire(change)
	return change
}

func upsert[T any](m map[int]T, items []T, category Category, key func(T) int, equal func(a, b T) bool) DirectoryChange {
	change := DirectoryChange{Category: category}
	for _, item := range items {
		k := key(item)
		existing, ok := m[k]
		switch {
		case !ok:
			change.Added = append(change.Added, k)
		case !equal(existing, item):
			change.Updated = append(change.Updated, k)
		default:
			continue
		}
		m[k] = item
	}
	return change
}

func descriptorEqual(a, b Descriptor) bool {
	return a.Address == b.Address &&
		a.Name == b.Name &&
		a.DisplayName == b.DisplayName &&
		a.Location == b.Location &&
		a.Kind == b.Kind &&
		slices.Equal(a.Tags, b.Tags) &&
		slices.Equal(a.Members, b.Members)
}

func (d *Directory) fire(change DirectoryChange) {
	if len(change.Added) == 0 && len(change.Updated) == 0 {
		return
	}

	d.onChangeMu.RLock()
	fn := d.onChange
	d.onChangeMu.RUnlock()
	if fn != nil {
		fn(change)
	}
}

// Light returns the light at address.
func (d *Directory) Light(address int) (Descriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc, ok := d.lights[address]
	return desc, ok
}

// Group returns the group at address.
func (d *Directory) Group(address int) (Descriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc, ok := d.groups[address]
	return desc, ok
}

// Scene returns the scene with id.
func (d *Directory) Scene(id int) (Scene, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.scenes[id]
	return s, ok
}

// Lights returns all lights ordered by address.
func (d *Directory) Lights() []Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedValues(d.lights)
}

// Groups returns all groups ordered by address.
func (d *Directory) Groups() []Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedValues(d.groups)
}

// Scenes returns all scenes ordered by ID.
func (d *Directory) Scenes() []Scene {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedValues(d.scenes)
}

// Counts returns the number of lights, groups and scenes.
func (d *Directory) Counts() (lights, groups, scenes int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lights), len(d.groups), len(d.scenes)
}

func sortedValues[T any](m map[int]T) []T {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// String implements fmt.Stringer.
func (c DirectoryChange) String() string {
	return string(c.Category) + ": +" + strconv.Itoa(len(c.Added)) + " ~" + strconv.Itoa(len(c.Updated))
}
