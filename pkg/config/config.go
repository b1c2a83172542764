// config is the package containing configuration for cutterd, shared
// so it can be used by cutterd itself as well as other programs that
// need to read or generate the daemon's config file.
package config

import (
	"fmt"
	"time"
)

const (
	ConfigPath          = "/etc/cutterd/conf"
	ConfigName          = "cutter-config.yaml"
	ConfigType          = "yaml"
	CutterConfigVersion = "v1"
)

type Config struct {
	// This is expected to be present in a config file (and will not
	// correspond to a flag). The value determines how the config file
	// is interpreted: for now, if it is not equal to
	// CutterConfigVersion above, it is considered an invalid
	// configuration.
	ConfigVersion string `mapstructure:"cutterConfigVersion"`

	LogFormat     string `mapstructure:"logFormat"`
	Listen        string `mapstructure:"listen"`
	ListenMetrics string `mapstructure:"listenMetrics"`

	GitURL          string        `mapstructure:"gitUrl"`
	GitBranch       []string      `mapstructure:"gitBranch"`
	GitUser         string        `mapstructure:"gitUser"`
	GitEmail        string        `mapstructure:"gitEmail"`
	GitPollInterval time.Duration `mapstructure:"gitPollInterval"`
	GitTimeout      time.Duration `mapstructure:"gitTimeout"`

	ScanInterval  time.Duration `mapstructure:"scanInterval"`
	DecideTimeout time.Duration `mapstructure:"decideTimeout"`
	DataDir       string        `mapstructure:"dataDir"`
	EventsRetain  int           `mapstructure:"eventsRetain"`
	RunHistory    int           `mapstructure:"runHistory"`

	GithubToken  string `mapstructure:"githubToken"`
	GithubAPIURL string `mapstructure:"githubApiUrl"`

	RegistryDisablePush bool    `mapstructure:"registryDisablePush"`
	RegistryRPS         float64 `mapstructure:"registryRps"`
	RegistryBurst       int     `mapstructure:"registryBurst"`
	RegistryInsecure    bool    `mapstructure:"registryInsecure"`
	DockerConfig        string  `mapstructure:"dockerConfig"`

	ArtifactCache     string        `mapstructure:"artifactCache"`
	MemcachedHostname string        `mapstructure:"memcachedHostname"`
	MemcachedPort     int           `mapstructure:"memcachedPort"`
	MemcachedService  string        `mapstructure:"memcachedService"`
	MemcachedTimeout  time.Duration `mapstructure:"memcachedTimeout"`
	RedisHostname     string        `mapstructure:"redisHostname"`
	RedisPort         int           `mapstructure:"redisPort"`
	RedisTimeout      time.Duration `mapstructure:"redisTimeout"`

	K8sMaster         string   `mapstructure:"k8sMaster"`
	Kubeconfig        string   `mapstructure:"kubeconfig"`
	K8sAllowNamespace []string `mapstructure:"k8sAllowNamespace"`
	K8sVerbosity      int      `mapstructure:"k8sVerbosity"`
}

func (c Config) IsValid() error {
	if c.ConfigVersion != CutterConfigVersion {
		return fmt.Errorf("config file is expected to include `cutterConfigVersion: %s` to mark it as a Cutter config", CutterConfigVersion)
	}
	return nil
}
