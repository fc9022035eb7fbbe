package config

import "time"

// Config is the driver's root configuration, matching §6's recognized
// options. Viper unmarshals directly into this shape.
type Config struct {
	Logging  LoggingConfig   `yaml:"logging"`
	Cluster  ClusterConfig   `yaml:"cluster"`
	Profiles map[string]ExecutionProfile `yaml:"profiles"`
}

// ClusterConfig is §6's top-level cluster configuration surface.
type ClusterConfig struct {
	ContactPoints   []string `yaml:"contact_points"`
	LocalDataCenter string   `yaml:"local_data_center"`

	ProtocolOptions ProtocolOptions `yaml:"protocol_options"`
	Pooling         PoolingConfig   `yaml:"pooling"`
	SocketOptions   SocketConfig    `yaml:"socket_options"`
	QueryOptions    QueryOptions    `yaml:"query_options"`
	Encoding        EncodingOptions `yaml:"encoding"`

	Policies PoliciesConfig `yaml:"policies"`

	MaxPrepared           int           `yaml:"max_prepared"`
	RefreshSchemaDelay    time.Duration `yaml:"refresh_schema_delay"`
	IsMetadataSyncEnabled bool          `yaml:"is_metadata_sync_enabled"`
	PrepareOnAllHosts     bool          `yaml:"prepare_on_all_hosts"`
	RePrepareOnUp         bool          `yaml:"re_prepare_on_up"`

	SSL   SSLOptions   `yaml:"ssl_options"`
	Cloud CloudOptions `yaml:"cloud"`
	Auth  AuthOptions  `yaml:"auth"`
}

// ProtocolOptions is §6's `protocolOptions`.
type ProtocolOptions struct {
	Port                          int  `yaml:"port"`
	MaxVersion                    int  `yaml:"max_version"`
	NoCompact                     bool `yaml:"no_compact"`
	MaxSchemaAgreementWaitSeconds int  `yaml:"max_schema_agreement_wait_seconds"`
}

// PoolingConfig is §6's `pooling`.
type PoolingConfig struct {
	HeartBeatIntervalMs      int                `yaml:"heart_beat_interval_ms"`
	Warmup                   bool               `yaml:"warmup"`
	CoreConnectionsPerHost   map[string]int     `yaml:"core_connections_per_host"`
	MaxRequestsPerConnection int                `yaml:"max_requests_per_connection"`
	CoalescingThreshold      int                `yaml:"coalescing_threshold"`
}

// SocketConfig is §6's `socketOptions`.
type SocketConfig struct {
	ConnectTimeoutMs            int  `yaml:"connect_timeout_ms"`
	ReadTimeoutMs                int  `yaml:"read_timeout_ms"`
	DefunctReadTimeoutThreshold  int  `yaml:"defunct_read_timeout_threshold"`
	KeepAlive                    bool `yaml:"keep_alive"`
	KeepAliveDelayMs              int  `yaml:"keep_alive_delay_ms"`
	TCPNoDelay                    bool `yaml:"tcp_no_delay"`
}

// QueryOptions is §6's `queryOptions`.
type QueryOptions struct {
	Consistency string `yaml:"consistency"`
	FetchSize   int    `yaml:"fetch_size"`
	Prepare     bool   `yaml:"prepare"`
}

// EncodingOptions is §6's `encoding`; these knobs are consumed by the
// out-of-scope binary type codec, carried here only so config round-trips.
type EncodingOptions struct {
	CopyBuffer          bool   `yaml:"copy_buffer"`
	UseUndefinedAsUnset bool   `yaml:"use_undefined_as_unset"`
	MapType             string `yaml:"map"`
	SetType             string `yaml:"set"`
	UseBigIntAsLong     bool   `yaml:"use_big_int_as_long"`
	UseBigIntAsVarint   bool   `yaml:"use_big_int_as_varint"`
}

// PoliciesConfig names the one-of-each policy selection from §6. Only
// LoadBalancing is read at client construction (internal/client's
// resolveLoadBalancing); retry and speculative execution are chosen per
// ExecutionProfile, and the other names here are not read.
type PoliciesConfig struct {
	AddressTranslation string `yaml:"address_translation"`
	LoadBalancing      string `yaml:"load_balancing"`
	Reconnection       string `yaml:"reconnection"`
	Retry              string `yaml:"retry"`
	SpeculativeExecution string `yaml:"speculative_execution"`
	TimestampGeneration string `yaml:"timestamp_generation"`
}

// SSLOptions/CloudOptions/AuthOptions are carried through config for the
// out-of-scope TLS/cloud-bundle/auth-challenge collaborators named in
// SPEC_FULL.md's Non-goals; they are carried only so config round-trips,
// and no driver code reads or validates them.
type SSLOptions struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

type CloudOptions struct {
	SecureConnectBundle string `yaml:"secure_connect_bundle"`
}

type AuthOptions struct {
	Provider string `yaml:"provider"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ExecutionProfile is a named resolved set of request-affecting knobs;
// §6 requires a mandatory "default" entry.
type ExecutionProfile struct {
	Consistency    string        `yaml:"consistency"`
	ReadTimeoutMs  int           `yaml:"read_timeout_ms"`
	RetryPolicy    string        `yaml:"retry_policy"`
	LoadBalancing  string        `yaml:"load_balancing"`
	SpeculativeExecution string `yaml:"speculative_execution"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}
