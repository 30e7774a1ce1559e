package channel

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"flowcore.dev/engine/node"
)

// Directory is the persisted (domain,shard) -> websocket endpoint
// mapping a process consults to dial a remote domain it doesn't host
// itself, generalized from the teacher's registry.Registry: a
// mutex-guarded map with whole-file JSON load/save, narrowed from
// "named service with health-check URL" to "domain address with one
// endpoint URL".
type Directory struct {
	filePath string

	mu        sync.RWMutex
	endpoints map[node.Address]string
}

// entry is the on-disk shape of one Directory row.
type entry struct {
	Domain   int    `json:"domain"`
	Shard    int    `json:"shard"`
	Endpoint string `json:"endpoint"`
}

// OpenDirectory loads filePath if it exists (a fresh deployment simply
// starts empty) and returns a Directory backed by it.
func OpenDirectory(filePath string) (*Directory, error) {
	d := &Directory{filePath: filePath, endpoints: make(map[node.Address]string)}
	if err := d.Load(); err != nil {
		return nil, fmt.Errorf("channel: load directory: %w", err)
	}
	return d, nil
}

func (d *Directory) Load() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	d.endpoints = make(map[node.Address]string, len(entries))
	for _, e := range entries {
		addr := node.Address{Domain: node.NewDomainIndex(e.Domain), Shard: node.Shard(e.Shard)}
		d.endpoints[addr] = e.Endpoint
	}
	return nil
}

func (d *Directory) Save() error {
	d.mu.RLock()
	entries := make([]entry, 0, len(d.endpoints))
	for addr, endpoint := range d.endpoints {
		entries = append(entries, entry{Domain: addr.Domain.Int(), Shard: int(addr.Shard), Endpoint: endpoint})
	}
	d.mu.RUnlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return os.WriteFile(d.filePath, data, 0644)
}

// Register records addr's endpoint and persists the directory.
func (d *Directory) Register(addr node.Address, endpoint string) error {
	d.mu.Lock()
	d.endpoints[addr] = endpoint
	d.mu.Unlock()
	return d.Save()
}

// Unregister removes addr's endpoint and persists the directory.
func (d *Directory) Unregister(addr node.Address) error {
	d.mu.Lock()
	delete(d.endpoints, addr)
	d.mu.Unlock()
	return d.Save()
}

// Lookup returns addr's endpoint, if registered.
func (d *Directory) Lookup(addr node.Address) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	endpoint, ok := d.endpoints[addr]
	return endpoint, ok
}

// Resolver builds a Coordinator resolver function that dials the
// endpoint this Directory has on file for addr, using cfg as the
// template for every connection's backoff/framing tunables.
func (d *Directory) Resolver(cfg RemoteConfig) func(node.Address) (Transport, error) {
	return func(addr node.Address) (Transport, error) {
		endpoint, ok := d.Lookup(addr)
		if !ok {
			return nil, fmt.Errorf("channel: no directory entry for %s", addr)
		}
		conCfg := cfg
		conCfg.URL = endpoint
		return NewRemoteTransport(conCfg), nil
	}
}
