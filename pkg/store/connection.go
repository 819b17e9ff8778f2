package store

import "slices"

// Backend names accepted in Connection.Backend.
const (
	BackendElastic = "elastic"
	BackendLocal   = "local"
)

// Connection describes how to reach a store. It is handed to the backend
// without interpretation by the handle.
type Connection struct {
	// Backend selects the implementation: "elastic" (default) or "local".
	Backend string `yaml:"backend" json:"backend"`

	// Hosts are the cluster URLs for the elastic backend.
	Hosts []string `yaml:"hosts" json:"hosts"`
	// Username and Password enable basic authentication.
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	// APIKey is used instead of basic authentication when set.
	APIKey string `yaml:"api_key" json:"-"`
	// MaxRetries bounds retries of transient transport failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// DataDir is where the local backend keeps its files. Empty keeps
	// everything in memory.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// DefaultConnection points at a local development cluster.
func DefaultConnection() Connection {
	return Connection{
		Backend:    BackendElastic,
		Hosts:      []string{"http://localhost:9200"},
		Username:   "elastic",
		Password:   "changeme",
		MaxRetries: 3,
	}
}

// Clone returns a deep copy of c.
func (c Connection) Clone() Connection {
	out := c
	out.Hosts = slices.Clone(c.Hosts)
	return out
}
