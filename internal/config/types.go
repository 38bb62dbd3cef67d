package config

// Config is the top-level configuration parsed from the YAML config file:
// the functional-system topology, the configurable safety rule set, and
// the ambient server, reconciler, and sweeper settings.
type Config struct {
	Server      ServerConfig        `yaml:"server"      json:"server"`
	Reconciler  ReconcilerConfig    `yaml:"reconciler"  json:"reconciler"`
	Sweeper     SweeperConfig       `yaml:"sweeper"     json:"sweeper"`
	Idempotency IdempotencyConfig   `yaml:"idempotency" json:"idempotency"`
	Audit       AuditConfig         `yaml:"audit"       json:"audit"`
	Systems     []SystemDeclaration `yaml:"systems"     json:"systems"`
	Rules       []RuleDeclaration   `yaml:"rules"       json:"rules"`
}

// ServerConfig controls the REST/SSE listener and its TLS material.
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr" json:"listenAddr" validate:"omitempty,hostname_port"`
	TLSCert    string `yaml:"tlsCert"    json:"tlsCert"`
	TLSKey     string `yaml:"tlsKey"     json:"tlsKey"`
}

// ReconcilerConfig controls the periodic reconciliation sweep.
type ReconcilerConfig struct {
	Interval string `yaml:"interval" json:"interval"`
}

// SweeperConfig controls the override-expiration sweep.
type SweeperConfig struct {
	Interval string `yaml:"interval" json:"interval"`
}

// IdempotencyConfig controls the inbound-feedback dedup filter.
type IdempotencyConfig struct {
	TTL string `yaml:"ttl" json:"ttl"`
}

// AuditConfig points the audit log at its append-only backing file.
type AuditConfig struct {
	Path string `yaml:"path" json:"path"`
}

// DeviceDeclaration declares a single device and its membership in a
// functional system.
type DeviceDeclaration struct {
	ControllerID string `yaml:"controllerId"      json:"controllerId"`
	ComponentID  string `yaml:"componentId"       json:"componentId"`
	Type         string `yaml:"type"              json:"type"`
	FailSafe     string `yaml:"failSafe"          json:"failSafe,omitempty"`
}

// SystemDeclaration declares one functional system: its type, its
// member devices, and the configuration values the safety rule set and
// state calculator read out of FunctionalSystem.Configuration.
type SystemDeclaration struct {
	Name          string            `yaml:"name"          json:"name"`
	Type          string            `yaml:"type"          json:"type"`
	Configuration map[string]string `yaml:"configuration" json:"configuration"`
	Devices       []DeviceDeclaration `yaml:"devices"     json:"devices"`
}

// RuleDeclaration is the YAML shape of a configurable safety rule,
// feeding safety.ConfigurableSpec once parsed.
type RuleDeclaration struct {
	ID          string `yaml:"id"          json:"id"`
	Name        string `yaml:"name"        json:"name"`
	Description string `yaml:"description" json:"description"`
	Category    string `yaml:"category"    json:"category"`
	Priority    int    `yaml:"priority"    json:"priority"`
	Enabled     bool   `yaml:"enabled"     json:"enabled"`
	Condition   string `yaml:"condition"   json:"condition"`
	Action      string `yaml:"action"      json:"action"`
	Expression  string `yaml:"expression"  json:"expression"`
	Reason      string `yaml:"reason"      json:"reason"`
	FailOpen    bool   `yaml:"failOpen"    json:"failOpen"`
}
