package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// BackendType - тег варианта StorageConfig
type BackendType string

const (
	BackendFile   BackendType = "file"
	BackendMongo  BackendType = "mongo"
	BackendSQL    BackendType = "sql"
	BackendAPI    BackendType = "api"
	BackendRedis  BackendType = "redis"
	BackendBadger BackendType = "badger"
)

// SQL диалекты
const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite"
)

// StorageConfig - размеченное объединение: Type выбирает вариант,
// заполнен должен быть только соответствующий ему блок.
type StorageConfig struct {
	Type BackendType `yaml:"type" env:"SLIME_STORAGE_TYPE"`

	File   FileConfig   `yaml:"file"`
	Mongo  MongoConfig  `yaml:"mongo"`
	SQL    SQLConfig    `yaml:"sql"`
	API    APIConfig    `yaml:"api"`
	Redis  RedisConfig  `yaml:"redis"`
	Badger BadgerConfig `yaml:"badger"`
}

type FileConfig struct {
	Path string `yaml:"path" env:"SLIME_FILE_PATH"`
}

type MongoConfig struct {
	Host       string `yaml:"host" env:"SLIME_MONGO_HOST"`
	Port       int    `yaml:"port" env:"SLIME_MONGO_PORT"`
	Database   string `yaml:"database" env:"SLIME_MONGO_DATABASE"`
	Collection string `yaml:"collection" env:"SLIME_MONGO_COLLECTION"`
	Username   string `yaml:"username" env:"SLIME_MONGO_USERNAME"`
	Password   string `yaml:"password" env:"SLIME_MONGO_PASSWORD"`
	AuthSource string `yaml:"auth_source" env:"SLIME_MONGO_AUTH_SOURCE"`
	// URI, если задан, заменяет host/port/credentials
	URI string `yaml:"uri" env:"SLIME_MONGO_URI"`
}

type SQLConfig struct {
	Dialect  string `yaml:"dialect" env:"SLIME_SQL_DIALECT"` // mysql (по умолчанию) или sqlite
	Host     string `yaml:"host" env:"SLIME_SQL_HOST"`
	Port     int    `yaml:"port" env:"SLIME_SQL_PORT"`
	Database string `yaml:"database" env:"SLIME_SQL_DATABASE"` // для sqlite - путь к файлу
	UseTLS   bool   `yaml:"use_tls" env:"SLIME_SQL_USE_TLS"`
	Username string `yaml:"username" env:"SLIME_SQL_USERNAME"`
	Password string `yaml:"password" env:"SLIME_SQL_PASSWORD"`
	// URI - готовый DSN драйвера, заменяет host/port/credentials
	URI   string `yaml:"uri" env:"SLIME_SQL_URI"`
	Table string `yaml:"table" env:"SLIME_SQL_TABLE"`
}

type APIConfig struct {
	BaseURI  string `yaml:"base_uri" env:"SLIME_API_BASE_URI"`
	Username string `yaml:"username" env:"SLIME_API_USERNAME"`
	Token    string `yaml:"token" env:"SLIME_API_TOKEN"`
	// SkipTLSVerify отключает проверку сертификата. Только для внутренних
	// развёртываний с самоподписанными сертификатами; по умолчанию выключено.
	SkipTLSVerify bool          `yaml:"skip_tls_verify" env:"SLIME_API_SKIP_TLS_VERIFY"`
	Timeout       time.Duration `yaml:"timeout" env:"SLIME_API_TIMEOUT"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" env:"SLIME_REDIS_ADDR"`
	Password  string `yaml:"password" env:"SLIME_REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"SLIME_REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"SLIME_REDIS_KEY_PREFIX"`
}

type BadgerConfig struct {
	Path     string `yaml:"path" env:"SLIME_BADGER_PATH"`
	InMemory bool   `yaml:"in_memory" env:"SLIME_BADGER_IN_MEMORY"`
}

// ValidationError - в конфигурации отсутствует или неверно задано поле
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func required(field string) error {
	return &ValidationError{Field: field, Reason: "required field is missing"}
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Validate проверяет обязательные поля выбранного варианта и то,
// что остальные варианты не заполнены. Неизвестный тег здесь не ошибка:
// его отклоняет селектор бэкендов с UnsupportedBackendError.
func (s StorageConfig) Validate() error {
	if s.Type == "" {
		return required("storage.type")
	}

	var err error
	switch s.Type {
	case BackendFile:
		if s.File.Path == "" {
			err = required("storage.file.path")
		}
	case BackendMongo:
		err = s.Mongo.validate()
	case BackendSQL:
		err = s.SQL.validate()
	case BackendAPI:
		err = s.API.validate()
	case BackendRedis:
		if s.Redis.Addr == "" {
			err = required("storage.redis.addr")
		}
	case BackendBadger:
		if s.Badger.Path == "" && !s.Badger.InMemory {
			err = required("storage.badger.path")
		}
	default:
		return nil
	}
	if err != nil {
		return err
	}

	for _, name := range s.populated() {
		if BackendType(name) != s.Type {
			return &ValidationError{
				Field:  "storage." + name,
				Reason: fmt.Sprintf("must be empty when storage.type is %q", s.Type),
			}
		}
	}
	return nil
}

// populated возвращает имена заполненных вариантов
func (s StorageConfig) populated() []string {
	var names []string
	if s.File != (FileConfig{}) {
		names = append(names, string(BackendFile))
	}
	if s.Mongo != (MongoConfig{}) {
		names = append(names, string(BackendMongo))
	}
	if s.SQL != (SQLConfig{}) {
		names = append(names, string(BackendSQL))
	}
	if s.API != (APIConfig{}) {
		names = append(names, string(BackendAPI))
	}
	if s.Redis != (RedisConfig{}) {
		names = append(names, string(BackendRedis))
	}
	if s.Badger != (BadgerConfig{}) {
		names = append(names, string(BackendBadger))
	}
	return names
}

func (m MongoConfig) validate() error {
	if m.URI == "" && m.Host == "" {
		return required("storage.mongo.host")
	}
	if m.Database == "" {
		return required("storage.mongo.database")
	}
	if m.Collection == "" {
		return required("storage.mongo.collection")
	}
	if m.Password != "" && m.Username == "" {
		return required("storage.mongo.username")
	}
	return nil
}

func (c SQLConfig) validate() error {
	switch c.Dialect {
	case "", DialectMySQL:
		if c.URI == "" && c.Host == "" {
			return required("storage.sql.host")
		}
		if c.URI == "" && c.Database == "" {
			return required("storage.sql.database")
		}
	case DialectSQLite:
		if c.Database == "" && c.URI == "" {
			return required("storage.sql.database")
		}
	default:
		return &ValidationError{Field: "storage.sql.dialect", Reason: fmt.Sprintf("unknown dialect %q", c.Dialect)}
	}
	if c.Table != "" && !tableNameRe.MatchString(c.Table) {
		return &ValidationError{Field: "storage.sql.table", Reason: "must be a plain identifier"}
	}
	return nil
}

func (a APIConfig) validate() error {
	if a.BaseURI == "" {
		return required("storage.api.base_uri")
	}
	u, err := url.Parse(a.BaseURI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "storage.api.base_uri", Reason: "must be an absolute http(s) URL"}
	}
	if a.Token == "" {
		return required("storage.api.token")
	}
	return nil
}
