package utils

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"leader-elector/leaderelection/resourcelock"
)

// default values
const (
	DefaultReadTimeout        = 20
	DefaultWriteTimeout       = 20
	DefaultIdleTimeout        = 120
	DefaultHttpRequestTimeout = 25
	DefaultPort               = 8880
	DefaultHost               = "0.0.0.0"

	DefaultLeaseDuration     = 15 * time.Second
	DefaultRenewDeadline     = 10 * time.Second
	DefaultRetryPeriod       = 2 * time.Second
	DefaultHealthzTimeout    = 20 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultLockType          = resourcelock.LeasesResourceLock
	DefaultLockNamespace     = "default"
	DefaultLockName          = "leader-elector"
	DefaultBackend           = BackendMemory
	DefaultElasticIndex      = "leader-events"
	DefaultStoreDialTimeout  = 5 * time.Second
)

// store backends
const (
	BackendMemory = "memory"
	BackendEtcd   = "etcd"
	BackendRedis  = "redis"
	BackendNats   = "nats"
)

type Config struct {
	// Election Config
	Identity        string        `mapstructure:"identity"`
	LeaseDuration   time.Duration `mapstructure:"lease-duration"`
	RenewDeadline   time.Duration `mapstructure:"renew-deadline"`
	RetryPeriod     time.Duration `mapstructure:"retry-period"`
	ReleaseOnCancel bool          `mapstructure:"release-on-cancel"`
	HealthzTimeout  time.Duration `mapstructure:"healthz-timeout"`

	// interval of the leader's heartbeat log while it holds the lock
	HeartbeatInterval time.Duration `mapstructure:"heartbeat-interval"`

	Lock struct {
		Type      string `mapstructure:"type"`
		Namespace string `mapstructure:"namespace"`
		Name      string `mapstructure:"name"`
	} `mapstructure:"lock"`

	// HTTP server Config
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read-timeout"`
	WriteTimeout int    `mapstructure:"write-timeout"`
	IdleTimeout  int    `mapstructure:"idle-timeout"`

	// http client config
	HttpRequestTimeout int `mapstructure:"generic-http-request-timeout"`

	// event sink, disabled without endpoints
	ElasticConfig struct {
		Endpoints []string `mapstructure:"endpoints"`
		Username  string   `mapstructure:"username"`
		Password  string   `mapstructure:"password"`

		Index string `mapstructure:"index"`
	} `mapstructure:"elasticsearch-config"`

	Store StoreConfig `mapstructure:"store"`
}

// StoreConfig selects the backing store of the lock.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`

	Etcd struct {
		Endpoints   []string      `mapstructure:"endpoints"`
		Username    string        `mapstructure:"username"`
		Password    string        `mapstructure:"password"`
		DialTimeout time.Duration `mapstructure:"dial-timeout"`
		Prefix      string        `mapstructure:"prefix"`
	} `mapstructure:"etcd"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`

	Nats struct {
		URL      string `mapstructure:"url"`
		Bucket   string `mapstructure:"bucket"`
		Replicas int    `mapstructure:"replicas"`
	} `mapstructure:"nats"`
}

// LoadConfig loads config from the json file specified to filePath args.
func LoadConfig(filePath string) (*Config, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return ParseConfig(content)
}

// ParseConfig decodes a json document into a Config and fills in the defaults. Durations may be given
// as strings such as "15s" or as integer nanoseconds.
func ParseConfig(content []byte) (*Config, error) {
	raw := make(map[string]interface{})
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, errors.Wrap(err, "config is not valid json")
	}

	conf := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           conf,
	})
	if err != nil {
		return nil, err
	}
	if err = decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if err = conf.setDefaults(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (conf *Config) setDefaults() error {
	if conf.Identity == "" {
		id, err := DefaultIdentity()
		if err != nil {
			return err
		}
		conf.Identity = id
	}
	if conf.LeaseDuration == 0 {
		conf.LeaseDuration = DefaultLeaseDuration
	}
	if conf.RenewDeadline == 0 {
		conf.RenewDeadline = DefaultRenewDeadline
	}
	if conf.RetryPeriod == 0 {
		conf.RetryPeriod = DefaultRetryPeriod
	}
	if conf.HeartbeatInterval == 0 {
		conf.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if conf.HealthzTimeout == 0 {
		conf.HealthzTimeout = DefaultHealthzTimeout
	}
	if conf.Lock.Type == "" {
		conf.Lock.Type = DefaultLockType
	}
	if conf.Lock.Namespace == "" {
		conf.Lock.Namespace = DefaultLockNamespace
	}
	if conf.Lock.Name == "" {
		conf.Lock.Name = DefaultLockName
	}

	if conf.Host == "" {
		conf.Host = DefaultHost
	}
	if conf.Port == 0 {
		conf.Port = DefaultPort
	}
	if conf.ReadTimeout == 0 {
		conf.ReadTimeout = DefaultReadTimeout
	}
	if conf.WriteTimeout == 0 {
		conf.WriteTimeout = DefaultWriteTimeout
	}
	if conf.IdleTimeout == 0 {
		conf.IdleTimeout = DefaultIdleTimeout
	}
	if conf.HttpRequestTimeout == 0 {
		conf.HttpRequestTimeout = DefaultHttpRequestTimeout
	}
	if conf.ElasticConfig.Index == "" {
		conf.ElasticConfig.Index = DefaultElasticIndex
	}

	if conf.Store.Backend == "" {
		conf.Store.Backend = DefaultBackend
	}
	if conf.Store.Etcd.DialTimeout == 0 {
		conf.Store.Etcd.DialTimeout = DefaultStoreDialTimeout
	}

	for name, d := range map[string]time.Duration{
		"lease-duration":          conf.LeaseDuration,
		"renew-deadline":          conf.RenewDeadline,
		"retry-period":            conf.RetryPeriod,
		"heartbeat-interval":      conf.HeartbeatInterval,
		"healthz-timeout":         conf.HealthzTimeout,
		"store.etcd.dial-timeout": conf.Store.Etcd.DialTimeout,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %v", name, d)
		}
	}

	switch conf.Store.Backend {
	case BackendMemory, BackendEtcd, BackendRedis, BackendNats:
	default:
		return errors.Errorf("unknown store backend %q", conf.Store.Backend)
	}
	return nil
}

// DefaultIdentity is the hostname followed by a random suffix, so that two processes on one host still
// campaign as distinct candidates.
func DefaultIdentity() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve hostname for the default identity")
	}
	return hostname + "_" + uuid.NewString(), nil
}
