// Package credentials loads provider API keys from credentials.toml and the
// environment.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/vinayprograms/textcall/errors"
)

// FileName is the credentials file name searched in StandardPaths.
const FileName = "credentials.toml"

// EnvFileName is the dotenv file read from the working directory.
const EnvFileName = ".env"

// ErrInsecurePermissions is the cause attached when a credentials file is
// readable or writable by anyone but its owner.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials holds API keys by provider section. A [llm] section applies
// to providers without their own section.
type Credentials struct {
	llm       string
	providers map[string]string
}

// StandardPaths returns the credential file locations in order of priority.
func StandardPaths() []string {
	paths := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "textcall", FileName),
			filepath.Join(home, ".textcall", FileName),
		)
	}
	return paths
}

// Load loads credentials from the first standard location that exists. No
// file at all is not an error; keys then come from the environment.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			return creds, path, err
		}
	}
	return nil, "", nil
}

// LoadEnvFile sets environment variables from a dotenv file. Variables that
// are already set keep their value. It reports whether the file existed.
func LoadEnvFile(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, errors.WrapWithCode(err, errors.ErrCodeConfig, fmt.Sprintf("failed to load %s", path))
	}
	return true, nil
}

// LoadFile loads credentials from a specific file. The file must be mode
// 0400 on Unix.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeConfig, "failed to read credentials")
		}
		if mode := info.Mode().Perm(); mode != 0400 {
			return nil, errors.WrapWithCode(ErrInsecurePermissions, errors.ErrCodeConfig,
				fmt.Sprintf("%s has mode %04o (must be 0400)", path, mode))
		}
	}

	// Sections are arbitrary provider names, so decode generically.
	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConfig, fmt.Sprintf("failed to parse %s", path))
	}

	creds := &Credentials{providers: make(map[string]string)}
	for name, value := range raw {
		section, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		key, _ := section["api_key"].(string)
		if key == "" {
			continue
		}
		if name == "llm" {
			creds.llm = key
		} else {
			creds.providers[normalize(name)] = key
		}
	}
	return creds, nil
}

// GetAPIKey returns the API key for a provider, or "" if none is set.
func (c *Credentials) GetAPIKey(provider string) string {
	key, _ := c.Lookup(provider)
	return key
}

// Lookup returns the API key for a provider and where it came from.
// Priority: [provider] section, [llm] section, then the environment.
func (c *Credentials) Lookup(provider string) (key, source string) {
	if c != nil {
		if k := c.providers[normalize(provider)]; k != "" {
			return k, "[" + provider + "]"
		}
		if c.llm != "" {
			return c.llm, "[llm]"
		}
	}
	env := EnvVar(provider)
	if k := os.Getenv(env); k != "" {
		return k, env
	}
	return "", ""
}

// EnvVar returns the environment variable holding a provider's key.
func EnvVar(provider string) string {
	switch normalize(provider) {
	case "openai", "openaicompat", "litellm":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "ollama", "ollamalocal":
		return "OLLAMA_API_KEY"
	default:
		return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
	}
}

// normalize lowercases and drops dashes and underscores, so [openai-compat]
// and [openai_compat] name the same section.
func normalize(provider string) string {
	p := strings.ToLower(provider)
	p = strings.ReplaceAll(p, "-", "")
	return strings.ReplaceAll(p, "_", "")
}
