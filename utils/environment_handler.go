package utils

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	ENV                     = "ENV"
	PORT                    = "PORT"
	FUNNEL_CONFIG           = "FUNNEL_CONFIG"
	STORE_BACKEND           = "STORE_BACKEND"
	STORE_TIMEOUT           = "STORE_TIMEOUT"
	GOOGLE_CREDENTIALS      = "GOOGLE_CREDENTIALS"
	GOOGLE_CREDENTIALS_FILE = "GOOGLE_CREDENTIALS_FILE"
	MONGODB_URI             = "MONGODB_URI"
	MYSQL_URI               = "MYSQL_URI"
	SQLITE_PATH             = "SQLITE_PATH"
	REDIS_URI               = "REDIS_URI"
	ALLOWED_ORIGINS         = "ALLOWED_ORIGINS"
	OTEL_EXPORTER_ENDPOINT  = "OTEL_EXPORTER_ENDPOINT"

	ENV_DEVELOPMENT = "development"
	ENV_HOMOLOG     = "homolog"
	ENV_RELEASE     = "production"

	BACKEND_SHEETS  = "sheets"
	BACKEND_MONGODB = "mongodb"
	BACKEND_MYSQL   = "mysql"
	BACKEND_SQLITE  = "sqlite"
	BACKEND_MEMORY  = "memory"
)

var allowedKeys = []string{
	ENV, PORT, FUNNEL_CONFIG, STORE_BACKEND, STORE_TIMEOUT,
	GOOGLE_CREDENTIALS, GOOGLE_CREDENTIALS_FILE, MONGODB_URI, MYSQL_URI,
	SQLITE_PATH, REDIS_URI, ALLOWED_ORIGINS, OTEL_EXPORTER_ENDPOINT,
}

var requiredKeys = []string{ENV, PORT, FUNNEL_CONFIG}

var allowedEnvValues = []string{ENV_DEVELOPMENT, ENV_HOMOLOG, ENV_RELEASE}

var allowedBackends = []string{BACKEND_SHEETS, BACKEND_MONGODB, BACKEND_MYSQL, BACKEND_SQLITE, BACKEND_MEMORY}

// ServerConfig is the process configuration read from the environment.
type ServerConfig struct {
	Env                   string        `env:"ENV" envDefault:"development"`
	Port                  string        `env:"PORT" envDefault:"8080"`
	FunnelConfig          string        `env:"FUNNEL_CONFIG,required"`
	StoreBackend          string        `env:"STORE_BACKEND" envDefault:"sheets"`
	StoreTimeout          time.Duration `env:"STORE_TIMEOUT" envDefault:"15s"`
	GoogleCredentials     string        `env:"GOOGLE_CREDENTIALS"`
	GoogleCredentialsFile string        `env:"GOOGLE_CREDENTIALS_FILE"`
	MongoURI              string        `env:"MONGODB_URI"`
	MySQLURI              string        `env:"MYSQL_URI"`
	SQLitePath            string        `env:"SQLITE_PATH" envDefault:"leads.db"`
	RedisURI              string        `env:"REDIS_URI"`
	AllowedOrigins        []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	OtelEndpoint          string        `env:"OTEL_EXPORTER_ENDPOINT"`
}

// LoadEnvVariables reads .env from the working directory when present.
// Deployments that inject the environment directly ship no .env file.
func LoadEnvVariables() {
	workDir, err := os.Getwd()
	if err != nil {
		panic("[ENV] Erro ao obter o diretório de trabalho: " + err.Error())
	}

	filePath := filepath.Join(workDir, ".env")
	if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
		return
	}
	LoadEnvFile(filePath)
}

// LoadEnvFile exports every KEY=value line of filePath. Unknown keys, an
// invalid ENV value or a missing required key panic.
func LoadEnvFile(filePath string) {
	file, err := os.Open(filePath)
	if err != nil {
		panic("[ENV] Erro ao abrir o arquivo .env: " + err.Error())
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		panic("[ENV] Erro ao obter informações do arquivo .env: " + err.Error())
	}

	if fileInfo.Size() == 0 {
		panic("[ENV] O arquivo .env está vazio")
	}

	foundKeys := make(map[string]bool)
	for _, key := range requiredKeys {
		foundKeys[key] = false
	}

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			panic(fmt.Sprintf("[ENV] Formato inválido na linha %d: %s", lineNum, line))
		}

		key := strings.TrimSpace(parts[0])
		value := unquote(strings.TrimSpace(parts[1]))

		if key == ENV && !slices.Contains(allowedEnvValues, value) {
			panic(fmt.Sprintf("[ENV] Valor inválido para ENV: %s. Valores permitidos: %s",
				value, strings.Join(allowedEnvValues, ", ")))
		}

		if !slices.Contains(allowedKeys, key) {
			panic(fmt.Sprintf("[ENV] Chave '%s' não é permitida. Chaves permitidas: %s",
				key, strings.Join(allowedKeys, ", ")))
		}

		if err := os.Setenv(key, value); err != nil {
			panic("[ENV] Erro ao definir variável de ambiente " + key + ": " + err.Error())
		}

		if _, exists := foundKeys[key]; exists {
			foundKeys[key] = true
		}
	}

	if err := scanner.Err(); err != nil {
		panic("[ENV] Erro ao ler o arquivo .env: " + err.Error())
	}

	var missingKeys []string
	for _, key := range requiredKeys {
		if !foundKeys[key] {
			missingKeys = append(missingKeys, key)
		}
	}

	if len(missingKeys) > 0 {
		panic(fmt.Sprintf("[ENV] Variáveis de ambiente obrigatórias ausentes: %s",
			strings.Join(missingKeys, ", ")))
	}
}

func unquote(value string) string {
	if len(value) < 2 {
		return value
	}
	if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
		(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
		return value[1 : len(value)-1]
	}
	return value
}

// ParseServerConfig reads ServerConfig from the environment and checks the
// settings each store backend depends on.
func ParseServerConfig() (ServerConfig, error) {
	cfg := ServerConfig{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if !slices.Contains(allowedEnvValues, cfg.Env) {
		return cfg, fmt.Errorf("invalid %s %q, allowed: %s", ENV, cfg.Env, strings.Join(allowedEnvValues, ", "))
	}
	if !slices.Contains(allowedBackends, cfg.StoreBackend) {
		return cfg, fmt.Errorf("invalid %s %q, allowed: %s", STORE_BACKEND, cfg.StoreBackend, strings.Join(allowedBackends, ", "))
	}

	switch cfg.StoreBackend {
	case BACKEND_SHEETS:
		if cfg.GoogleCredentials == "" && cfg.GoogleCredentialsFile == "" {
			return cfg, fmt.Errorf("%s requires %s or %s", BACKEND_SHEETS, GOOGLE_CREDENTIALS, GOOGLE_CREDENTIALS_FILE)
		}
	case BACKEND_MONGODB:
		if cfg.MongoURI == "" {
			return cfg, fmt.Errorf("%s requires %s", BACKEND_MONGODB, MONGODB_URI)
		}
	case BACKEND_MYSQL:
		if cfg.MySQLURI == "" {
			return cfg, fmt.Errorf("%s requires %s", BACKEND_MYSQL, MYSQL_URI)
		}
	}
	return cfg, nil
}

// GoogleCredentialsJSON returns the service-account key from the inline
// variable or the file it points to.
func (c ServerConfig) GoogleCredentialsJSON() ([]byte, error) {
	if c.GoogleCredentials != "" {
		return []byte(c.GoogleCredentials), nil
	}
	data, err := os.ReadFile(c.GoogleCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	return data, nil
}

func (c ServerConfig) IsRelease() bool {
	return c.Env == ENV_RELEASE
}
