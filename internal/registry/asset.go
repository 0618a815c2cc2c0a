package registry

import "strconv"

// Asset is the registry's view of an inventory item (spec.md §3).
type Asset struct {
	Iname       string
	Status      string
	Type        string
	Subtype     string
	Model       string
	Groups      []string
	DisplayName string
	// ParentChain is the containment chain datacenter->room->row->rack,
	// up to four entries, nearest-first (matches the original agent's
	// parent_name.1..parent_name.4 aux attributes).
	ParentChain []string
}

// Event is an asset announcement or deletion received from the bus.
type Event struct {
	Operation string // "update", "inventory", "delete"
	Iname     string
	Status    string
	Type      string
	Subtype   string
	Model     string
	// Ext carries the asset's auxiliary attributes verbatim, including
	// "name" (display name), "group.<n>" (group membership) and
	// "parent_name.1".."parent_name.4" (containment chain).
	Ext map[string]string
}

const activeStatus = "active"

// IsActive reports whether the event describes an active asset.
func (e Event) IsActive() bool { return e.Status == activeStatus }

// IsAnnouncement reports whether Operation is one that (re)publishes an
// asset's state, as opposed to deleting it.
func (e Event) IsAnnouncement() bool {
	return e.Operation == "update" || e.Operation == "inventory"
}

// groups extracts the set of group names from ext attributes whose key
// begins with "group." (§4.D point 3).
func (e Event) groups() []string {
	var out []string
	for k, v := range e.Ext {
		if len(k) > len("group.") && k[:len("group.")] == "group." {
			out = append(out, v)
		}
	}
	return out
}

// parentChain extracts parent_name.1..parent_name.4 in order, skipping
// any gaps.
func (e Event) parentChain() []string {
	var out []string
	for i := 1; i <= 4; i++ {
		key := parentNameKey(i)
		if v, ok := e.Ext[key]; ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

// hasAnyAux reports whether the event carries any auxiliary attribute
// at all — inventory messages may carry only ext attributes with no
// parent chain, and the registry must not blow away a previously known
// chain in that case (§4.D Parent-chain update policy).
func (e Event) hasAnyAux() bool {
	return len(e.Ext) > 0
}

func parentNameKey(i int) string {
	return "parent_name." + strconv.Itoa(i)
}

func (e Event) displayName() string {
	if v, ok := e.Ext["name"]; ok && v != "" {
		return v
	}
	return ""
}
