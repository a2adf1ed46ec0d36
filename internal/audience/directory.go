package audience

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"tourcast/internal/model"
)

// Recipient is a directory entry. Contacts hold per-channel addresses (push
// token, email, phone number); a missing entry means the recipient is not
// reachable on that channel. OptOut is per-recipient channel preference data,
// consulted at dispatch time.
type Recipient struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name,omitempty"`
	Roles    []string                `json:"roles,omitempty"`
	Position *model.GeoPoint         `json:"position,omitempty"`
	Contacts map[model.Channel]string `json:"contacts,omitempty"`
	OptOut   map[model.Channel]bool  `json:"opt_out,omitempty"`
	LastSeen time.Time               `json:"last_seen,omitempty"`
}

// Reachable reports whether the recipient can be addressed on ch: opted in
// and, for external channels, has a contact. In-app needs no address.
func (r *Recipient) Reachable(ch model.Channel) bool {
	if r == nil || r.OptOut[ch] {
		return false
	}
	if ch == model.ChannelInApp {
		return true
	}
	return r.Contacts[ch] != ""
}

func (r *Recipient) clone() *Recipient {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Roles = append([]string(nil), r.Roles...)
	if r.Position != nil {
		p := *r.Position
		cp.Position = &p
	}
	if r.Contacts != nil {
		cp.Contacts = make(map[model.Channel]string, len(r.Contacts))
		for k, v := range r.Contacts {
			cp.Contacts[k] = v
		}
	}
	if r.OptOut != nil {
		cp.OptOut = make(map[model.Channel]bool, len(r.OptOut))
		for k, v := range r.OptOut {
			cp.OptOut[k] = v
		}
	}
	return &cp
}

func (r *Recipient) hasRole(role string) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// Directory is the recipient registry the resolver queries. Membership is
// queried live at resolution time, never snapshotted at broadcast creation.
type Directory interface {
	ListAll(ctx context.Context) ([]*Recipient, error)
	ListByRoles(ctx context.Context, roles []string) ([]*Recipient, error)
	Get(ctx context.Context, id string) (*Recipient, error)
}

// MemoryDirectory is the built-in Directory. Mutable at runtime so position
// updates and opt-out changes are honored by later resolutions.
type MemoryDirectory struct {
	mu   sync.RWMutex
	byID map[string]*Recipient
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byID: map[string]*Recipient{}}
}

// LoadSeed populates the directory from a JSON file: an array of Recipient.
func (d *MemoryDirectory) LoadSeed(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var rs []*Recipient
	if err := json.Unmarshal(b, &rs); err != nil {
		return err
	}
	for _, r := range rs {
		d.Upsert(r)
	}
	return nil
}

func (d *MemoryDirectory) Upsert(r *Recipient) {
	if r == nil || r.ID == "" {
		return
	}
	d.mu.Lock()
	d.byID[r.ID] = r.clone()
	d.mu.Unlock()
}

func (d *MemoryDirectory) Remove(id string) {
	d.mu.Lock()
	delete(d.byID, id)
	d.mu.Unlock()
}

// SetPosition updates a recipient's last-known position.
func (d *MemoryDirectory) SetPosition(id string, p model.GeoPoint, at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.byID[id]
	if !ok {
		return false
	}
	cp := p
	r.Position = &cp
	if at.After(r.LastSeen) {
		r.LastSeen = at
	}
	return true
}

// SetOptOut flips a recipient's channel opt-out flag.
func (d *MemoryDirectory) SetOptOut(id string, ch model.Channel, out bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.byID[id]
	if !ok {
		return false
	}
	if r.OptOut == nil {
		r.OptOut = map[model.Channel]bool{}
	}
	r.OptOut[ch] = out
	return true
}

func (d *MemoryDirectory) ListAll(ctx context.Context) ([]*Recipient, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Recipient, 0, len(d.byID))
	for _, r := range d.byID {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryDirectory) ListByRoles(ctx context.Context, roles []string) ([]*Recipient, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Recipient
	for _, r := range d.byID {
		for _, role := range roles {
			if r.hasRole(role) {
				out = append(out, r.clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryDirectory) Get(ctx context.Context, id string) (*Recipient, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.byID[id]
	if !ok {
		return nil, model.NotFound("recipient", id)
	}
	return r.clone(), nil
}
