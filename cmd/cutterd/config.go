package main

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cuttercd/cutter/pkg/config"
)

// defineConfigFlags defines the flags that can also be set in
// a config file. These need special treatment, because some care must
// be taken to match them ("bind") with config file field names.
func defineConfigFlags(fs *pflag.FlagSet, bail func(error)) {

	bind := func(fieldName, flagName string) error {
		configStruct := reflect.TypeOf(config.Config{})
		field, ok := configStruct.FieldByName(fieldName)
		if !ok {
			return fmt.Errorf("attempt to bind a flag to a field not present in config.Config, %q", fieldName)
		}
		tag := field.Tag
		// this parallels the logic in
		// github.com/mitchellh/mapstructure, except that we want to
		// bail if a field is mentioned that is marked ignore, like
		// this: `mapstructure:"-"`
		mappedName := field.Name
		mapstructureTagParts := strings.Split(tag.Get("mapstructure"), ",")
		if namePart := mapstructureTagParts[0]; namePart != "" {
			if namePart == "-" { // means ignore this field
				return fmt.Errorf(`attempt to bind a flag to a config field tagged as ignored, %q`, field.Name)
			}
			mappedName = namePart
		}
		return viper.BindPFlag(mappedName, fs.Lookup(flagName))
	}

	bindOrBail := func(flagName, fieldName string) {
		if err := bind(flagName, fieldName); err != nil {
			bail(err)
		}
	}

	defineString := func(fieldName, flagName, def, desc string) {
		fs.String(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringP := func(fieldName, flagName, short, def, desc string) {
		fs.StringP(flagName, short, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringSlice := func(fieldName, flagName string, def []string, desc string) {
		fs.StringSlice(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineBool := func(fieldName, flagName string, def bool, desc string) {
		fs.Bool(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineDuration := func(fieldName, flagName string, def time.Duration, desc string) {
		fs.Duration(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineInt := func(fieldName, flagName string, def int, desc string) {
		fs.Int(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineFloat64 := func(fieldName, flagName string, def float64, desc string) {
		fs.Float64(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineString("LogFormat", "log-format", "fmt", "change the log format.")
	defineStringP("Listen", "listen", "l", ":3030", "listen address where /metrics and API will be served")
	defineString("ListenMetrics", "listen-metrics", "", "listen address for /metrics endpoint")

	// Watched git repo
	defineString("GitURL", "git-url", "", "URL of the git repo to release from; e.g., git@github.com:acme/rocket")
	defineStringSlice("GitBranch", "git-branch", []string{"master"}, "branches to watch for releases; each entry is a name, a glob, or `regexp:` followed by a regular expression")
	defineString("GitUser", "git-user", "Cutter", "username to use as git committer")
	defineString("GitEmail", "git-email", "cutterd@cluster.local", "email to use as git committer")
	defineDuration("GitPollInterval", "git-poll-interval", 5*time.Minute, "period at which to poll the git repo for new commits")
	defineDuration("GitTimeout", "git-timeout", 20*time.Second, "duration after which git operations time out")

	// scanning and deciding
	defineDuration("ScanInterval", "scan-interval", 5*time.Minute, "examine branch heads for release decisions at least this often, even if git reports no changes")
	defineDuration("DecideTimeout", "decide-timeout", 1*time.Minute, "duration after which a release decision, including cutting the release, times out")
	defineString("DataDir", "data-dir", "", "directory holding the release journal; when empty the ledger is kept in memory only")
	defineInt("EventsRetain", "events-retain", 256, "number of operator events to retain for the event feed")
	defineInt("RunHistory", "run-history", 100, "number of finished runs to keep available from the runs API")

	// GitHub releases
	defineString("GithubToken", "github-token", "", "token used to publish release metadata to GitHub, and to authenticate git over HTTPS; release publishing is disabled when empty")
	defineString("GithubAPIURL", "github-api-url", "", "base URL of the GitHub API, for GitHub Enterprise; when empty, github.com is used")

	// artifact registry
	defineBool("RegistryDisablePush", "registry-disable-push", false, "do not push packaged artifacts to the registry; packaging runs will fail if the pipeline config asks for an image")
	defineFloat64("RegistryRPS", "registry-rps", 50, "maximum registry requests per second per host")
	defineInt("RegistryBurst", "registry-burst", 10, "maximum burst of registry requests, and connections to memcache")
	defineBool("RegistryInsecure", "registry-insecure", false, "allow plain HTTP for the artifact registry; use only for registries not exposed beyond the cluster")
	defineString("DockerConfig", "docker-config", "", "path to a docker config directory to use for artifact registry credentials")

	// artifact digest cache
	defineString("ArtifactCache", "artifact-cache", "memory", "where to record digests of published artifacts (one of {memory,memcached,redis,none})")
	defineString("MemcachedHostname", "memcached-hostname", "", "hostname for memcached service; takes precedence over --memcached-service")
	defineInt("MemcachedPort", "memcached-port", 11211, "memcached service port")
	defineString("MemcachedService", "memcached-service", "memcached", "SRV service used to discover memcache servers")
	defineDuration("MemcachedTimeout", "memcached-timeout", time.Second, "maximum time to wait before giving up on memcached requests")
	defineString("RedisHostname", "redis-hostname", "redis", "hostname for redis service")
	defineInt("RedisPort", "redis-port", 6379, "redis service port")
	defineDuration("RedisTimeout", "redis-timeout", time.Second, "maximum time to wait before giving up on redis requests")

	// deploying
	defineString("K8sMaster", "master", "", "address of the Kubernetes API server; overrides any value in kubeconfig; required if out-of-cluster")
	defineString("Kubeconfig", "kubeconfig", "", "path to a kubeconfig; required if out-of-cluster")
	defineStringSlice("K8sAllowNamespace", "k8s-allow-namespace", []string{}, "restrict deploys to the provided namespaces; each entry may be a glob")
	defineInt("K8sVerbosity", "k8s-verbosity", 0, "klog verbosity level")
}
