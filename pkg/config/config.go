package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Merge rules understood by the composer.
const (
	MergeUnique   = "unique"
	MergeConcat   = "concat"
	MergeCoalesce = "coalesce"
	MergeSum      = "sum"
)

// Table kinds with built-in rules.
const (
	KindDefault      = "default"
	KindDataFusion   = "data_fusion"
	KindDataStandard = "data_standard"
)

type DBConfig struct {
	Type         string `yaml:"type" json:"type"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	DatabaseName string `yaml:"database_name" json:"database_name"`
	DSN          string `yaml:"dsn" json:"dsn"` // optional explicit DSN
}

type ServerConfig struct {
	Port int `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
}

type StoreConfig struct {
	Path string `yaml:"path" json:"path"` // sqlite file holding layouts and target fields
}

type LogConfig struct {
	Level string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
}

// KindRules are the mutation rules of one table kind.
type KindRules struct {
	Convergent       bool     `yaml:"convergent" json:"convergent"`
	DefaultMergeRule string   `yaml:"default_merge_rule" json:"default_merge_rule"`
	MergeRules       []string `yaml:"merge_rules" json:"merge_rules"`
	CopyPrimaryKey   bool     `yaml:"copy_primary_key" json:"copy_primary_key"`
}

// AllowsMergeRule reports whether rule may be set on a field of this kind.
func (k KindRules) AllowsMergeRule(rule string) bool {
	for _, r := range k.MergeRules {
		if r == rule {
			return true
		}
	}
	return false
}

type CanvasConfig struct {
	PageSize   int                  `yaml:"page_size" json:"page_size" validate:"gte=1,lte=500"`
	FieldLimit int                  `yaml:"field_limit" json:"field_limit" validate:"gte=0"`
	TableKinds map[string]KindRules `yaml:"table_kinds" json:"table_kinds"`
}

// HasKind reports whether kind has rules. Without configured kinds the
// built-in ones apply.
func (c CanvasConfig) HasKind(kind string) bool {
	kinds := c.TableKinds
	if len(kinds) == 0 {
		kinds = DefaultKindRules()
	}
	_, ok := kinds[kind]
	return ok
}

// Rules returns the rules for kind, falling back to the default kind.
func (c CanvasConfig) Rules(kind string) KindRules {
	if r, ok := c.TableKinds[kind]; ok {
		return r
	}
	if r, ok := c.TableKinds[KindDefault]; ok {
		return r
	}
	return DefaultKindRules()[KindDefault]
}

type AppConfig struct {
	Database DBConfig     `yaml:"database" json:"database"`
	Server   ServerConfig `yaml:"server" json:"server"`
	Store    StoreConfig  `yaml:"store" json:"store"`
	Log      LogConfig    `yaml:"log" json:"log"`
	Canvas   CanvasConfig `yaml:"canvas" json:"canvas"`
}

// DefaultKindRules returns the built-in table kind rules.
func DefaultKindRules() map[string]KindRules {
	all := []string{MergeUnique, MergeConcat, MergeCoalesce, MergeSum}
	return map[string]KindRules{
		KindDefault:      {DefaultMergeRule: MergeUnique, MergeRules: []string{MergeUnique}},
		KindDataFusion:   {Convergent: true, DefaultMergeRule: MergeUnique, MergeRules: all},
		KindDataStandard: {DefaultMergeRule: MergeUnique, MergeRules: []string{MergeUnique}, CopyPrimaryKey: true},
	}
}

// DefaultCanvas returns the canvas settings used when the file leaves them out.
func DefaultCanvas() CanvasConfig {
	return CanvasConfig{PageSize: 10, FieldLimit: 1000, TableKinds: DefaultKindRules()}
}

// ApplyDefaults fills zero values with defaults. Kinds present in the file
// replace the built-in rules of the same name; missing kinds are added.
func (c *AppConfig) ApplyDefaults() {
	def := DefaultCanvas()
	if c.Canvas.PageSize == 0 {
		c.Canvas.PageSize = def.PageSize
	}
	if c.Canvas.FieldLimit == 0 {
		c.Canvas.FieldLimit = def.FieldLimit
	}
	if c.Canvas.TableKinds == nil {
		c.Canvas.TableKinds = map[string]KindRules{}
	}
	for name, rules := range def.TableKinds {
		if _, ok := c.Canvas.TableKinds[name]; !ok {
			c.Canvas.TableKinds[name] = rules
		}
	}
	for name, rules := range c.Canvas.TableKinds {
		if rules.DefaultMergeRule == "" {
			rules.DefaultMergeRule = MergeUnique
		}
		if !rules.AllowsMergeRule(rules.DefaultMergeRule) {
			rules.MergeRules = append(rules.MergeRules, rules.DefaultMergeRule)
		}
		c.Canvas.TableKinds[name] = rules
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadFile loads YAML config from path.
func LoadFile(path string) (AppConfig, error) {
	var cfg AppConfig
	f, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(f, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// NormalizeDriver maps common aliases to canonical keys (keeps backwards compat).
func NormalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "postgresql", "pg", "postgres":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "mssql", "sqlserver":
		return "sqlserver"
	case "godror", "oracle":
		return "godror"
	default:
		return strings.ToLower(d)
	}
}

// BuildDriverAndDSN produces a driver name and DSN string for supported DB types.
func BuildDriverAndDSN(db DBConfig) (driver string, dsn string, err error) {
	t := NormalizeDriver(db.Type)

	if db.DSN != "" {
		return t, db.DSN, nil
	}

	switch t {
	case "postgres":
		driver = "postgres"
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "mysql":
		driver = "mysql"
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "sqlite":
		driver = "sqlite"
		if db.DatabaseName == "" {
			return "", "", fmt.Errorf("sqlite needs a file path in database_name")
		}
		dsn = fmt.Sprintf("file:%s?mode=ro", db.DatabaseName)
	case "sqlserver":
		driver = "sqlserver"
		dsn = fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "godror":
		driver = "godror"
		// simple EZCONNECT style; may need adjustments per environment
		dsn = fmt.Sprintf("%s/%s@%s:%d/%s",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	default:
		err = fmt.Errorf("unsupported database type: %s", db.Type)
	}
	return
}
