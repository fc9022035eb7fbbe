package metadata

import "sync"

// Strategy is a keyspace's replication strategy and its options, e.g.
// {class: SimpleStrategy, replication_factor: 3}.
type Strategy struct {
	Class   string
	Options map[string]string
}

// Keyspace is the cached metadata for one keyspace, per §3's data model.
type Keyspace struct {
	Name             string
	Strategy         Strategy
	Tables           map[string]Table
	Views            map[string]Table
	UDTs             map[string]UDT
	Functions        map[string]Function
	Aggregates       map[string]Aggregate
	TokenToReplica   map[string][]string // token range start -> replica endpoints
}

type Table struct {
	Name    string
	Columns []Column
}

type Column struct {
	Name string
	Type string
}

type UDT struct {
	Name   string
	Fields []Column
}

type Function struct {
	Name      string
	Signature string
}

type Aggregate struct {
	Name      string
	Signature string
}

// Cache is the mapping from keyspace name to Keyspace, rebuilt on
// partition-token ring changes and individually invalidated on targeted
// schema events.
type Cache struct {
	mu   sync.RWMutex
	data map[string]*Keyspace
}

func NewCache() *Cache {
	return &Cache{data: make(map[string]*Keyspace)}
}

func (c *Cache) Get(keyspace string) (*Keyspace, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.data[keyspace]
	return k, ok
}

func (c *Cache) Put(k *Keyspace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[k.Name] = k
}

// Drop purges a keyspace entirely — used for keyspace DROPPED events,
// which per §4.4.2 purge directly rather than going through a targeted
// sub-cache invalidation.
func (c *Cache) Drop(keyspace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, keyspace)
}

// InvalidateTable removes a single table from keyspace's cache, without
// dropping the rest of the keyspace's metadata.
func (c *Cache) InvalidateTable(keyspace, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.data[keyspace]; ok {
		delete(k.Tables, table)
	}
}

func (c *Cache) InvalidateUDT(keyspace, udt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.data[keyspace]; ok {
		delete(k.UDTs, udt)
	}
}

func (c *Cache) InvalidateFunction(keyspace, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.data[keyspace]; ok {
		delete(k.Functions, name)
	}
}

func (c *Cache) InvalidateAggregate(keyspace, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.data[keyspace]; ok {
		delete(k.Aggregates, name)
	}
}

// Keyspaces returns a snapshot slice of all cached keyspace names.
func (c *Cache) Keyspaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.data))
	for name := range c.data {
		out = append(out, name)
	}
	return out
}
