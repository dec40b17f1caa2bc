package sn

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// Seed is a well-known SN a newly-starting device pings first, persisted
// to and loaded from disk (spec §4.3: "bootstrap.go becomes the initial
// SN-list bootstrap for a newly-starting device").
type Seed struct {
	ID    objcodec.ObjectId `json:"id"`
	Addrs []string          `json:"addrs"`
	Name  string            `json:"name,omitempty"`
}

type seedWire struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs"`
	Name  string   `json:"name,omitempty"`
}

// SeedList manages the set of SN seeds a device bootstraps against.
type SeedList struct {
	mu   sync.RWMutex
	path string
	seeds []Seed
}

// LoadSeedList reads a seed list from path, starting empty if the file
// does not yet exist.
func LoadSeedList(path string) (*SeedList, error) {
	sl := &SeedList{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sl, nil
		}
		return nil, objcodec.NewInternalError("read seed list: %v", err)
	}

	var wire []seedWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, objcodec.NewInvalidFormat("parse seed list: %v", err)
	}
	for _, w := range wire {
		id, err := objcodec.ParseObjectId(w.ID)
		if err != nil {
			return nil, err
		}
		sl.seeds = append(sl.seeds, Seed{ID: id, Addrs: w.Addrs, Name: w.Name})
	}
	return sl, nil
}

// Add appends or replaces a seed and persists the list.
func (sl *SeedList) Add(seed Seed) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for i, existing := range sl.seeds {
		if existing.ID == seed.ID {
			sl.seeds[i] = seed
			return sl.save()
		}
	}
	sl.seeds = append(sl.seeds, seed)
	return sl.save()
}

// Remove deletes a seed by id.
func (sl *SeedList) Remove(id objcodec.ObjectId) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for i, s := range sl.seeds {
		if s.ID == id {
			sl.seeds = append(sl.seeds[:i], sl.seeds[i+1:]...)
			return sl.save()
		}
	}
	return objcodec.NewNotFound("seed %s not tracked", id)
}

// All returns a copy of the tracked seeds.
func (sl *SeedList) All() []Seed {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return append([]Seed(nil), sl.seeds...)
}

func (sl *SeedList) save() error {
	if sl.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(sl.path), 0700); err != nil {
		return objcodec.NewInternalError("create seed list directory: %v", err)
	}
	wire := make([]seedWire, len(sl.seeds))
	for i, s := range sl.seeds {
		wire[i] = seedWire{ID: s.ID.String(), Addrs: s.Addrs, Name: s.Name}
	}
	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return objcodec.NewInternalError("marshal seed list: %v", err)
	}
	return os.WriteFile(sl.path, data, 0600)
}
