// Package config loads the pipeline configuration: a YAML file whose
// sensitive values may be stored as ENC(...) envelopes, with environment
// variables taking precedence for the file path and the decryption key.
package config

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/afterdata/bodacc/pkg/crypto"
)

// Environment variables honored by Resolve and Load.
const (
	EnvConfigPath = "BODACC_CONFIG"
	EnvKey        = "BODACC_KEY"
)

const defaultConfigPath = "config/config.yaml"

// Config mirrors the sections of the configuration file.
type Config struct {
	Directories Directories `yaml:"directories"`
	General     General     `yaml:"general"`
	Proxy       Proxy       `yaml:"proxy"`
	MasterData  MasterData  `yaml:"master_data"`
	Files       Files       `yaml:"bodacc_files"`
	Keywords    Keywords    `yaml:"keywords"`
	Encryption  Encryption  `yaml:"encryption"`
}

// Directories locates the working tree of the pipeline. All other
// directories live under MainDir.
type Directories struct {
	MainDir     string `yaml:"main_dir"`
	TmpDir      string `yaml:"tmp_dir"`
	OutputDir   string `yaml:"output_dir"`
	LogDir      string `yaml:"log_dir"`
	DailyDir    string `yaml:"daily_output_dir"`
	FilteredDir string `yaml:"filtered_output_dir"`
}

// General holds the BODACC API parameters.
type General struct {
	APIURL              string  `yaml:"api_url"`
	PerPage             int     `yaml:"per_page"`
	MaxRetries          int     `yaml:"max_retries"`
	BackoffBaseSec      float64 `yaml:"backoff_base_sec"`
	TooManyRequestsWait int     `yaml:"too_many_requests_timeout_sec"`
	DefaultDaysDepth    int     `yaml:"default_days_depth"`
	CertFile            string  `yaml:"cert_file"`
}

// Proxy configures an optional outbound HTTP proxy.
type Proxy struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// MasterData configures the PostgreSQL master-data connection.
type MasterData struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DBName   string `yaml:"dbname"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Files names the exchange files shared between stages.
type Files struct {
	SirenFilename string `yaml:"siren_filename"`
	TmpJSON       string `yaml:"tmp_json"`
	TmpCSV        string `yaml:"tmp_csv"`
}

// Keywords holds the distress keyword list used by the filtering stage.
type Keywords struct {
	Topage []string `yaml:"topage"`
}

// Encryption configures ENC(...) handling.
type Encryption struct {
	// DefaultKey is a non-production fallback decryption key.
	DefaultKey string `yaml:"default_key"`
	// Keywords selects which key names get encrypted by the encrypt command.
	Keywords []string `yaml:"keywords"`
}

// Resolve picks the configuration file path: explicit flag first, then the
// BODACC_CONFIG environment variable, then ./config/config.yaml.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env, nil
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath, nil
	}
	return "", errors.Errorf("no configuration file: pass --config, set %s, or provide %s", EnvConfigPath, defaultConfigPath)
}

// Load reads and decrypts the configuration file. The decryption key is
// resolved in priority: the key argument, the BODACC_KEY environment
// variable, encryption.default_key from the file itself. An ENC(...) value
// with no key available is an error.
func Load(path, key string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read configuration")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse configuration")
	}

	var cfg Config
	if err := doc.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode configuration")
	}

	cipher, err := resolveCipher(key, &cfg)
	if err != nil {
		return nil, err
	}
	if err := decryptNode(&doc, cipher); err != nil {
		return nil, err
	}
	if err := doc.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode configuration")
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func resolveCipher(key string, cfg *Config) (*crypto.Cipher, error) {
	switch {
	case key != "":
	case os.Getenv(EnvKey) != "":
		key = os.Getenv(EnvKey)
	case cfg.Encryption.DefaultKey != "":
		key = cfg.Encryption.DefaultKey
		log.Warn("using encryption.default_key from the configuration file")
	default:
		return nil, nil
	}

	cipher, err := crypto.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid decryption key")
	}
	return cipher, nil
}

func decryptNode(node *yaml.Node, cipher *crypto.Cipher) error {
	if node.Kind == yaml.ScalarNode {
		if !crypto.IsEncrypted(node.Value) {
			return nil
		}
		if cipher == nil {
			return errors.New("configuration holds ENC(...) values but no decryption key is available")
		}
		plain, err := cipher.DecryptValue(node.Value)
		if err != nil {
			return errors.Wrap(err, "decrypt configuration value")
		}
		node.SetString(plain)
		return nil
	}
	for _, child := range node.Content {
		if err := decryptNode(child, cipher); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.General.PerPage <= 0 {
		c.General.PerPage = 100
	}
	if c.General.MaxRetries <= 0 {
		c.General.MaxRetries = 5
	}
	if c.General.BackoffBaseSec <= 0 {
		c.General.BackoffBaseSec = 1
	}
	if c.General.TooManyRequestsWait <= 0 {
		c.General.TooManyRequestsWait = 300
	}
	if c.General.DefaultDaysDepth <= 0 {
		c.General.DefaultDaysDepth = 7
	}
	if c.Directories.DailyDir == "" {
		c.Directories.DailyDir = "bodacc_by_day"
	}
	if c.Directories.FilteredDir == "" {
		c.Directories.FilteredDir = "bodacc_filtered_by_day"
	}
	if c.Files.SirenFilename == "" {
		c.Files.SirenFilename = "siren_registry"
	}
	if c.Files.TmpJSON == "" {
		c.Files.TmpJSON = "TMP_resultats_bodacc"
	}
	if c.Files.TmpCSV == "" {
		c.Files.TmpCSV = "TMP_resume_bodacc"
	}
	if c.MasterData.SSLMode == "" {
		c.MasterData.SSLMode = "require"
	}
}
