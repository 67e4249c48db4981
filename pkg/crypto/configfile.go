package crypto

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EncryptConfigFile rewrites a YAML configuration file in place, sealing
// every scalar whose key name contains one of the substrings listed under
// encryption.keywords. Already-encrypted values are left alone.
func EncryptConfigFile(key, path string) (int, error) {
	c, err := NewCipher(key)
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "read config")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, errors.Wrap(err, "parse config")
	}

	keywords, err := encryptionKeywords(&doc)
	if err != nil {
		return 0, err
	}

	sealed := 0
	if err := encryptNode(&doc, "", keywords, c, &sealed); err != nil {
		return 0, err
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return 0, errors.Wrap(err, "render config")
	}

	return sealed, errors.Wrap(os.WriteFile(path, out, 0o600), "write config")
}

func encryptionKeywords(doc *yaml.Node) ([]string, error) {
	var cfg struct {
		Encryption struct {
			Keywords []string `yaml:"keywords"`
		} `yaml:"encryption"`
	}
	if err := doc.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "read encryption section")
	}

	var keywords []string
	for _, kw := range cfg.Encryption.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, strings.ToUpper(kw))
		}
	}
	if len(keywords) == 0 {
		return nil, errors.New("encryption.keywords must list at least one key-name pattern")
	}
	return keywords, nil
}

func keyMatches(name string, keywords []string) bool {
	upper := strings.ToUpper(name)
	for _, kw := range keywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

func encryptNode(node *yaml.Node, key string, keywords []string, c *Cipher, sealed *int) error {
	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			if err := encryptNode(child, "", keywords, c, sealed); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if k.Value == "encryption" {
				continue
			}
			if err := encryptNode(v, k.Value, keywords, c, sealed); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for _, child := range node.Content {
			if err := encryptNode(child, key, keywords, c, sealed); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		if node.Value == "" || IsEncrypted(node.Value) || !keyMatches(key, keywords) {
			return nil
		}
		enc, err := c.EncryptValue(node.Value)
		if err != nil {
			return errors.Wrapf(err, "encrypt %s", key)
		}
		node.SetString(enc)
		*sealed++
	}
	return nil
}
