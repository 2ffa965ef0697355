package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath  = "config/vault-config.json"
	DefaultBackupDir   = ".windsurf/backups"
	DefaultIgnoreFile  = ".secretignore"
	DefaultTokenFile   = "~/.vault-token"
	DefaultWorkers     = 8
	DefaultTimeout     = 10 * time.Second
	DefaultRetries     = 3
	DefaultIdentGroup  = 1
	DefaultValueGroup  = 2
	DefaultJWTAuthPath = "jwt"
)

// ValidBackends is the list of supported secret store backends.
var ValidBackends = []string{"hashicorp", "vault", "cli", "sql", "memory"}

// DefaultCandidateExtensions are the file extensions the scanner reads.
var DefaultCandidateExtensions = []string{
	".env", ".json", ".yaml", ".yml", ".js", ".ts", ".py", ".php", ".rb", ".go",
}

// DefaultAllowedDotfiles are dot-prefixed names the scanner still visits.
var DefaultAllowedDotfiles = []string{".env"}

// Error is returned for a malformed or incomplete configuration.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Document is the on-disk configuration layout. JSON documents are accepted
// because the YAML decoder reads them unchanged.
type Document struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Rule groups store settings, secret patterns and validator triggers.
type Rule struct {
	Name           string                   `yaml:"name" json:"name"`
	VaultConfig    VaultConfig              `yaml:"vault_config" json:"vault_config"`
	SecretPatterns map[string]PatternConfig `yaml:"secret_patterns" json:"secret_patterns"`
	Trigger        Trigger                  `yaml:"trigger" json:"trigger"`
	Scan           ScanConfig               `yaml:"scan" json:"scan"`
}

// VaultConfig holds store connection parameters.
type VaultConfig struct {
	Backend       string   `yaml:"backend" json:"backend"`
	Address       string   `yaml:"address" json:"address"`
	TokenFile     string   `yaml:"token_file" json:"token_file"`
	MountPath     string   `yaml:"mount_path" json:"mount_path"`
	BasePath      string   `yaml:"base_path" json:"base_path"`
	ProjectName   string   `yaml:"project_name" json:"project_name"`
	Timeout       Duration `yaml:"timeout" json:"timeout"`
	RetryAttempts int      `yaml:"retry_attempts" json:"retry_attempts"`
	JWTAuth       JWTAuth  `yaml:"jwt_auth" json:"jwt_auth"`
	DatabaseURL   string   `yaml:"database_url" json:"database_url"`
}

// JWTAuth configures a Vault JWT login used when no static token is present.
type JWTAuth struct {
	Role      string `yaml:"role" json:"role"`
	TokenFile string `yaml:"token_file" json:"token_file"`
	Mount     string `yaml:"mount" json:"mount"`
}

// PatternConfig describes one secret type.
type PatternConfig struct {
	Patterns  []PatternEntry `yaml:"patterns" json:"patterns"`
	VaultPath string         `yaml:"vault_path" json:"vault_path"`
}

// PatternEntry is a regular expression with the capture groups holding the
// identifier and the secret value. A bare string is accepted and uses groups
// 1 and 2.
type PatternEntry struct {
	Regex           string `yaml:"regex" json:"regex"`
	IdentifierGroup int    `yaml:"identifier_group" json:"identifier_group"`
	ValueGroup      int    `yaml:"value_group" json:"value_group"`

	// IdentifierDefaulted and ValueDefaulted are set when the group index
	// was not given and the default applies. A defaulted group that the
	// regex lacks falls back to the whole match; an explicit one is an error.
	IdentifierDefaulted bool `yaml:"-" json:"-"`
	ValueDefaulted      bool `yaml:"-" json:"-"`
}

func (p *PatternEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*p = PatternEntry{
			Regex:               node.Value,
			IdentifierGroup:     DefaultIdentGroup,
			ValueGroup:          DefaultValueGroup,
			IdentifierDefaulted: true,
			ValueDefaulted:      true,
		}
		return nil
	}
	var raw struct {
		Regex           string `yaml:"regex"`
		IdentifierGroup *int   `yaml:"identifier_group"`
		ValueGroup      *int   `yaml:"value_group"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = PatternEntry{Regex: raw.Regex}
	if raw.IdentifierGroup != nil {
		p.IdentifierGroup = *raw.IdentifierGroup
	} else {
		p.IdentifierGroup, p.IdentifierDefaulted = DefaultIdentGroup, true
	}
	if raw.ValueGroup != nil {
		p.ValueGroup = *raw.ValueGroup
	} else {
		p.ValueGroup, p.ValueDefaulted = DefaultValueGroup, true
	}
	return nil
}

// Trigger lists the glob patterns the validator checks.
type Trigger struct {
	FilePatterns []string `yaml:"file_patterns" json:"file_patterns"`
}

// ScanConfig tunes directory traversal and rewriting.
type ScanConfig struct {
	BackupDir           string   `yaml:"backup_dir" json:"backup_dir"`
	Workers             int      `yaml:"workers" json:"workers"`
	CandidateExtensions []string `yaml:"candidate_extensions" json:"candidate_extensions"`
	AllowedDotfiles     []string `yaml:"allowed_dotfiles" json:"allowed_dotfiles"`
	IgnoreFile          string   `yaml:"ignore_file" json:"ignore_file"`
}

// Duration decodes "10s" style strings as well as integer seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "" {
		return nil
	}
	if secs, err := strconv.Atoi(node.Value); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the resolved, validated configuration for a single run. It is
// built once by Load and must be treated as read-only afterwards.
type Config struct {
	Backend       string
	Address       string
	Token         string
	TokenFile     string
	MountPath     string
	BasePath      string
	ProjectName   string
	Timeout       time.Duration
	RetryAttempts int
	JWTAuth       JWTAuth
	DatabaseURL   string
	DataKey       string

	SecretPatterns map[string]PatternConfig
	FilePatterns   []string

	BackupDir           string
	Workers             int
	CandidateExtensions []string
	AllowedDotfiles     []string
	IgnoreFile          string

	// sources tracks where each value came from
	sources map[string]string

	// configFilePath is the path to the config file
	configFilePath string
}

// Attribute represents a configuration attribute with its value and source
type Attribute struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// newDefault returns a config with default values
func newDefault() *Config {
	return &Config{
		Backend:             "hashicorp",
		Address:             "http://127.0.0.1:8200",
		TokenFile:           DefaultTokenFile,
		MountPath:           "secret",
		BasePath:            "windsurf-projects",
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetries,
		BackupDir:           DefaultBackupDir,
		Workers:             DefaultWorkers,
		CandidateExtensions: append([]string(nil), DefaultCandidateExtensions...),
		AllowedDotfiles:     append([]string(nil), DefaultAllowedDotfiles...),
		IgnoreFile:          DefaultIgnoreFile,
		SecretPatterns:      map[string]PatternConfig{},
		sources:             make(map[string]string),
	}
}

// Path resolves the config file location: the explicit path if given, then
// VAULTSWEEP_CONFIG, then DefaultConfigPath.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("VAULTSWEEP_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load reads the config file at path, applies environment overrides and
// validates the result. The project name defaults to the base name of
// projectDir.
func Load(path, projectDir string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to read config file %s: %w", path, err)}
	}
	cfg, err := Parse(data, projectDir)
	if err != nil {
		return nil, err
	}
	cfg.configFilePath = path
	return cfg, nil
}

// Parse builds a Config from raw document bytes.
func Parse(data []byte, projectDir string) (*Config, error) {
	config := newDefault()
	for _, name := range attributeNames() {
		config.sources[name] = "default"
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to parse config document: %w", err)}
	}
	if len(doc.Rules) == 0 {
		return nil, &Error{Field: "rules", Err: errors.New("at least one rule is required")}
	}
	config.applyFileConfig(&doc.Rules[0])
	config.applyEnvConfig()

	if config.ProjectName == "" {
		config.ProjectName = projectName(projectDir)
		config.sources["project_name"] = "directory"
	}
	if config.Token == "" {
		config.Token = loadToken(config.TokenFile)
		if config.Token != "" {
			config.sources["token"] = "token_file"
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func attributeNames() []string {
	return []string{
		"backend", "address", "token", "token_file", "mount_path", "base_path",
		"project_name", "timeout", "retry_attempts", "database_url", "data_key",
		"file_patterns", "backup_dir", "workers", "candidate_extensions",
		"allowed_dotfiles", "ignore_file", "jwt_auth.role",
	}
}

func (c *Config) applyFileConfig(rule *Rule) {
	vc := rule.VaultConfig
	setString(c, "backend", &c.Backend, vc.Backend)
	setString(c, "address", &c.Address, vc.Address)
	setString(c, "token_file", &c.TokenFile, vc.TokenFile)
	setString(c, "mount_path", &c.MountPath, vc.MountPath)
	setString(c, "base_path", &c.BasePath, vc.BasePath)
	setString(c, "project_name", &c.ProjectName, vc.ProjectName)
	setString(c, "database_url", &c.DatabaseURL, vc.DatabaseURL)
	if vc.Timeout > 0 {
		c.Timeout = time.Duration(vc.Timeout)
		c.sources["timeout"] = "file"
	}
	if vc.RetryAttempts > 0 {
		c.RetryAttempts = vc.RetryAttempts
		c.sources["retry_attempts"] = "file"
	}
	if vc.JWTAuth.Role != "" {
		c.JWTAuth = vc.JWTAuth
		c.sources["jwt_auth.role"] = "file"
	}
	if c.JWTAuth.Mount == "" {
		c.JWTAuth.Mount = DefaultJWTAuthPath
	}

	if rule.SecretPatterns != nil {
		c.SecretPatterns = rule.SecretPatterns
	}
	if len(rule.Trigger.FilePatterns) > 0 {
		c.FilePatterns = rule.Trigger.FilePatterns
		c.sources["file_patterns"] = "file"
	}

	sc := rule.Scan
	setString(c, "backup_dir", &c.BackupDir, sc.BackupDir)
	setString(c, "ignore_file", &c.IgnoreFile, sc.IgnoreFile)
	if sc.Workers > 0 {
		c.Workers = sc.Workers
		c.sources["workers"] = "file"
	}
	if len(sc.CandidateExtensions) > 0 {
		c.CandidateExtensions = sc.CandidateExtensions
		c.sources["candidate_extensions"] = "file"
	}
	if len(sc.AllowedDotfiles) > 0 {
		c.AllowedDotfiles = sc.AllowedDotfiles
		c.sources["allowed_dotfiles"] = "file"
	}
}

func setString(c *Config, name string, dst *string, val string) {
	if val != "" {
		*dst = val
		c.sources[name] = "file"
	}
}

func (c *Config) applyEnvConfig() {
	envString := func(env, name string, dst *string) {
		if val := os.Getenv(env); val != "" {
			*dst = val
			c.sources[name] = "environment"
		}
	}
	envString("VAULTSWEEP_BACKEND", "backend", &c.Backend)
	envString("VAULT_ADDR", "address", &c.Address)
	envString("VAULT_TOKEN", "token", &c.Token)
	envString("VAULTSWEEP_MOUNT_PATH", "mount_path", &c.MountPath)
	envString("VAULTSWEEP_BASE_PATH", "base_path", &c.BasePath)
	envString("VAULTSWEEP_PROJECT", "project_name", &c.ProjectName)
	envString("DATABASE_URL", "database_url", &c.DatabaseURL)
	envString("VAULTSWEEP_DATA_KEY", "data_key", &c.DataKey)
	envString("VAULTSWEEP_BACKUP_DIR", "backup_dir", &c.BackupDir)

	if val := os.Getenv("VAULTSWEEP_WORKERS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil && i > 0 {
			c.Workers = i
			c.sources["workers"] = "environment"
		}
	}
}

// loadToken reads a store token from file, expanding a leading "~".
func loadToken(tokenFile string) string {
	if tokenFile == "" {
		return ""
	}
	if strings.HasPrefix(tokenFile, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		tokenFile = filepath.Join(home, strings.TrimPrefix(tokenFile, "~"))
	}
	data, err := os.ReadFile(tokenFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func projectName(projectDir string) string {
	if projectDir == "" {
		projectDir = "."
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return filepath.Base(projectDir)
	}
	return filepath.Base(abs)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	valid := false
	for _, b := range ValidBackends {
		if c.Backend == b {
			valid = true
			break
		}
	}
	if !valid {
		return &Error{Field: "backend", Err: fmt.Errorf("invalid backend %q", c.Backend)}
	}

	for name, val := range map[string]string{
		"mount_path":   c.MountPath,
		"base_path":    c.BasePath,
		"project_name": c.ProjectName,
	} {
		if val == "" {
			return &Error{Field: name, Err: errors.New("required")}
		}
		if strings.ContainsAny(val, ":}") {
			return &Error{Field: name, Err: fmt.Errorf("%q must not contain ':' or '}'", val)}
		}
	}

	if len(c.SecretPatterns) == 0 {
		return &Error{Field: "secret_patterns", Err: errors.New("at least one secret type is required")}
	}
	for typ, pc := range c.SecretPatterns {
		if len(pc.Patterns) == 0 {
			return &Error{Field: "secret_patterns." + typ, Err: errors.New("patterns are required")}
		}
		if strings.ContainsAny(pc.VaultPath, ":}") {
			return &Error{Field: "secret_patterns." + typ + ".vault_path", Err: errors.New("must not contain ':' or '}'")}
		}
		for i, p := range pc.Patterns {
			if p.Regex == "" {
				return &Error{Field: fmt.Sprintf("secret_patterns.%s.patterns[%d]", typ, i), Err: errors.New("regex is required")}
			}
			rgx, err := regexp.Compile(p.Regex)
			if err != nil {
				return &Error{Field: fmt.Sprintf("secret_patterns.%s.patterns[%d]", typ, i), Err: err}
			}
			if (!p.IdentifierDefaulted && p.IdentifierGroup > rgx.NumSubexp()) ||
				(!p.ValueDefaulted && p.ValueGroup > rgx.NumSubexp()) {
				return &Error{
					Field: fmt.Sprintf("secret_patterns.%s.patterns[%d]", typ, i),
					Err:   fmt.Errorf("capture group index exceeds the %d groups of the regex", rgx.NumSubexp()),
				}
			}
		}
	}

	if c.Backend == "sql" && c.DatabaseURL == "" {
		return &Error{Field: "database_url", Err: errors.New("required for the sql backend")}
	}
	if c.Workers < 1 {
		return &Error{Field: "workers", Err: errors.New("must be at least 1")}
	}
	return nil
}

// StoreRoot returns mount/base/project, the prefix of every store path.
func (c *Config) StoreRoot() string {
	return strings.Join([]string{c.MountPath, c.BasePath, c.ProjectName}, "/")
}

// ConfigFilePath returns the path to the config file
func (c *Config) ConfigFilePath() string {
	return c.configFilePath
}

// Source returns the source of a configuration attribute
func (c *Config) Source(name string) string {
	if c.sources == nil {
		return "default"
	}
	if s, ok := c.sources[name]; ok {
		return s
	}
	return "default"
}

// Attributes returns all configuration attributes with their values and sources
func (c *Config) Attributes() []Attribute {
	token := ""
	if c.Token != "" {
		token = "(set)"
	}
	dataKey := ""
	if c.DataKey != "" {
		dataKey = "(set)"
	}
	return []Attribute{
		{Name: "backend", Value: c.Backend, Source: c.Source("backend")},
		{Name: "address", Value: c.Address, Source: c.Source("address")},
		{Name: "token", Value: token, Source: c.Source("token")},
		{Name: "token_file", Value: c.TokenFile, Source: c.Source("token_file")},
		{Name: "mount_path", Value: c.MountPath, Source: c.Source("mount_path")},
		{Name: "base_path", Value: c.BasePath, Source: c.Source("base_path")},
		{Name: "project_name", Value: c.ProjectName, Source: c.Source("project_name")},
		{Name: "timeout", Value: c.Timeout.String(), Source: c.Source("timeout")},
		{Name: "retry_attempts", Value: strconv.Itoa(c.RetryAttempts), Source: c.Source("retry_attempts")},
		{Name: "jwt_auth.role", Value: c.JWTAuth.Role, Source: c.Source("jwt_auth.role")},
		{Name: "database_url", Value: redactURL(c.DatabaseURL), Source: c.Source("database_url")},
		{Name: "data_key", Value: dataKey, Source: c.Source("data_key")},
		{Name: "file_patterns", Value: strings.Join(c.FilePatterns, ","), Source: c.Source("file_patterns")},
		{Name: "backup_dir", Value: c.BackupDir, Source: c.Source("backup_dir")},
		{Name: "workers", Value: strconv.Itoa(c.Workers), Source: c.Source("workers")},
		{Name: "candidate_extensions", Value: strings.Join(c.CandidateExtensions, ","), Source: c.Source("candidate_extensions")},
		{Name: "allowed_dotfiles", Value: strings.Join(c.AllowedDotfiles, ","), Source: c.Source("allowed_dotfiles")},
		{Name: "ignore_file", Value: c.IgnoreFile, Source: c.Source("ignore_file")},
	}
}

var urlPasswordRgx = regexp.MustCompile(`://([^:/@]+):[^@]*@`)

func redactURL(u string) string {
	return urlPasswordRgx.ReplaceAllString(u, "://$1:****@")
}

// FormatText returns a text representation of the configuration
func (c *Config) FormatText() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Config file: %s\n\n", c.configFilePath))
	sb.WriteString(fmt.Sprintf("%-24s %-40s %s\n", "NAME", "VALUE", "SOURCE"))
	sb.WriteString(fmt.Sprintf("%-24s %-40s %s\n", "----", "-----", "------"))

	for _, attr := range c.Attributes() {
		value := attr.Value
		if value == "" {
			value = "(not set)"
		}
		sb.WriteString(fmt.Sprintf("%-24s %-40s %s\n", attr.Name, value, attr.Source))
	}
	return sb.String()
}

// FormatJSON returns a JSON representation of the configuration
func (c *Config) FormatJSON() (string, error) {
	result := map[string]interface{}{
		"config_file":     c.configFilePath,
		"attributes":      c.Attributes(),
		"secret_patterns": c.SecretPatterns,
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
