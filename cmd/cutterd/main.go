package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	githttp "gopkg.in/src-d/go-git.v4/plumbing/transport/http"
	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog"

	"github.com/cuttercd/cutter/pkg/checkpoint"
	"github.com/cuttercd/cutter/pkg/cluster"
	kubecluster "github.com/cuttercd/cutter/pkg/cluster/kubernetes"
	"github.com/cuttercd/cutter/pkg/config"
	"github.com/cuttercd/cutter/pkg/daemon"
	"github.com/cuttercd/cutter/pkg/event"
	"github.com/cuttercd/cutter/pkg/github"
	daemonhttp "github.com/cuttercd/cutter/pkg/http/daemon"
	"github.com/cuttercd/cutter/pkg/job"
	"github.com/cuttercd/cutter/pkg/ledger"
	"github.com/cuttercd/cutter/pkg/ledger/journal"
	"github.com/cuttercd/cutter/pkg/pipeline"
	"github.com/cuttercd/cutter/pkg/policy"
	"github.com/cuttercd/cutter/pkg/registry"
	"github.com/cuttercd/cutter/pkg/registry/cache"
	"github.com/cuttercd/cutter/pkg/registry/cache/memcached"
	"github.com/cuttercd/cutter/pkg/registry/middleware"
	"github.com/cuttercd/cutter/pkg/registry/oci"
	"github.com/cuttercd/cutter/pkg/release"
	"github.com/cuttercd/cutter/pkg/vcs"
	"github.com/cuttercd/cutter/pkg/vcs/gogit"
)

const (
	product = "cutter"

	journalFilename = "releases.journal"
)

var version = "unversioned"

func main() {
	fs := pflag.NewFlagSet("default", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  cutterd watches a git repo, cuts releases when commits call for them,\n")
		fmt.Fprintf(os.Stderr, "  and sees each release through build, test, package and deploy.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}

	versionFlag := fs.Bool("version", false, "get version number")
	configFile := fs.String("config-file", "", "path to a config file; defaults to "+filepath.Join(config.ConfigPath, config.ConfigName))

	defineConfigFlags(fs, func(err error) {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	})

	// Explicitly initialize klog to enable stderr logging,
	// and parse our own flags.
	klog.InitFlags(nil)
	fs.Parse(os.Args)

	if *versionFlag {
		fmt.Println(version)
		os.Exit(0)
	}

	// Config file, when present. Values bound to flags follow the
	// usual precedence: explicit flag, then config file, then the
	// flag's default.
	var conf config.Config
	{
		path := *configFile
		explicit := path != ""
		if !explicit {
			path = filepath.Join(config.ConfigPath, config.ConfigName)
		}
		viper.SetConfigFile(path)
		viper.SetConfigType(config.ConfigType)

		haveConfigFile := true
		if err := viper.ReadInConfig(); err != nil {
			if explicit || !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "reading config file %s: %v\n", path, err)
				os.Exit(1)
			}
			haveConfigFile = false
		}
		if err := viper.Unmarshal(&conf); err != nil {
			fmt.Fprintf(os.Stderr, "unmarshalling configuration: %v\n", err)
			os.Exit(1)
		}
		if haveConfigFile {
			if err := conf.IsValid(); err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(1)
			}
		}
	}

	// Logger component.
	var logger log.Logger
	{
		switch conf.LogFormat {
		case "json":
			logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
		case "fmt":
			logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		default:
			logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		}
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	logger.Log("version", version)

	if conf.K8sVerbosity > 0 {
		flag.Set("v", strconv.Itoa(conf.K8sVerbosity))
	}

	if conf.GitURL == "" {
		logger.Log("err", "no git repo supplied; use --git-url or the config file")
		os.Exit(1)
	}

	branches := policy.NewSet(conf.GitBranch)
	if len(branches) == 0 || !branches.Valid() {
		logger.Log("err", fmt.Sprintf("invalid branch patterns %q", conf.GitBranch))
		os.Exit(1)
	}

	// Error channel; the first error or signal to arrive shuts the
	// daemon down.
	errc := make(chan error)

	// Shutdown trigger for goroutines
	shutdown := make(chan struct{})
	shutdownWg := &sync.WaitGroup{}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	// Git mirror component.
	var repo *gogit.Repo
	{
		opts := []gogit.Option{
			gogit.Committer(conf.GitUser, conf.GitEmail),
			gogit.PollInterval(conf.GitPollInterval),
			gogit.Timeout(conf.GitTimeout),
		}
		if conf.GithubToken != "" {
			// The token also authenticates git over HTTPS; SSH URLs
			// rely on the ambient agent or key files.
			opts = append(opts, gogit.Auth(&githttp.BasicAuth{Username: "cutterd", Password: conf.GithubToken}))
		}
		repo = gogit.NewRepo(vcs.Remote{URL: conf.GitURL}, opts...)
		logger.Log("url", repo.Origin().SafeURL(), "user", conf.GitUser, "email", conf.GitEmail)

		shutdownWg.Add(1)
		go func() {
			if err := repo.Start(shutdown, shutdownWg); err != nil {
				errc <- err
			}
		}()
	}

	// Release ledger.
	var store ledger.Store
	{
		if conf.DataDir == "" {
			logger.Log("warning", "no --data-dir; the release ledger is in memory and will not survive a restart")
			store = ledger.NewMem()
		} else {
			journalPath := filepath.Join(conf.DataDir, journalFilename)
			js, err := journal.Open(journalPath)
			if err != nil {
				logger.Log("err", fmt.Sprintf("opening release journal %s: %v", journalPath, err))
				os.Exit(1)
			}
			defer js.Close()
			store = js
			logger.Log("journal", journalPath)
		}
	}

	// Artifact digest cache.
	var digests cache.Digests
	{
		var client cache.Client
		switch conf.ArtifactCache {
		case "", "none":
		case "memory":
			client = cache.NewMem()
		case "memcached":
			memcacheConfig := memcached.MemcacheConfig{
				Host:           conf.MemcachedHostname,
				Service:        conf.MemcachedService,
				Timeout:        conf.MemcachedTimeout,
				UpdateInterval: conf.GitPollInterval,
				MaxIdleConns:   conf.RegistryBurst,
				Logger:         log.With(logger, "component", "memcached"),
			}
			if conf.MemcachedHostname != "" {
				client = memcached.NewFixedServerMemcacheClient(memcacheConfig,
					fmt.Sprintf("%s:%d", conf.MemcachedHostname, conf.MemcachedPort))
			} else {
				client = memcached.NewMemcacheClient(memcacheConfig)
			}
		case "redis":
			client = cache.NewRedisClient(cache.RedisConfig{
				Service:  conf.RedisHostname,
				Port:     conf.RedisPort,
				Timeout:  conf.RedisTimeout,
				MaxConns: conf.RegistryBurst,
				Logger:   log.With(logger, "component", "redis"),
			})
		default:
			logger.Log("err", fmt.Sprintf("unknown artifact cache %q; use one of {memory,memcached,redis,none}", conf.ArtifactCache))
			os.Exit(1)
		}
		if client != nil {
			digests = cache.Digests{Client: cache.InstrumentClient(client)}
		}
	}

	// Artifact registry component.
	var reg registry.Registry
	{
		if conf.RegistryDisablePush {
			reg = registry.PushDisabledRegistry{}
		} else {
			if conf.DockerConfig != "" {
				// go-containerregistry's default keychain honours
				// DOCKER_CONFIG.
				os.Setenv("DOCKER_CONFIG", conf.DockerConfig)
			}
			opts := []oci.Option{
				oci.WithRateLimiters(&middleware.RateLimiters{
					RPS:    conf.RegistryRPS,
					Burst:  conf.RegistryBurst,
					Logger: log.With(logger, "component", "ratelimiter"),
				}),
			}
			if conf.RegistryInsecure {
				opts = append(opts, oci.WithInsecure())
			}
			reg = oci.NewClient(log.With(logger, "component", "registry"), opts...)
		}
		reg = registry.NewInstrumentedRegistry(reg)
	}

	// Cluster component, for deploy phases. Absent cluster
	// configuration is tolerated; a pipeline config with a deploy
	// stage will then fail its runs.
	var clus cluster.Cluster
	{
		restConfig, err := clientcmd.BuildConfigFromFlags(conf.K8sMaster, conf.Kubeconfig)
		if err != nil {
			if conf.K8sMaster != "" || conf.Kubeconfig != "" {
				logger.Log("err", fmt.Sprintf("building kubeconfig: %v", err))
				os.Exit(1)
			}
			logger.Log("msg", "no cluster configuration; deploys are unavailable", "err", err)
		} else {
			client, err := k8sclient.NewForConfig(restConfig)
			if err != nil {
				logger.Log("err", fmt.Sprintf("building kubernetes clientset: %v", err))
				os.Exit(1)
			}
			var allowed cluster.Includer = cluster.AlwaysInclude
			if len(conf.K8sAllowNamespace) > 0 {
				allowed = cluster.ExcludeIncludeGlob{Include: conf.K8sAllowNamespace}
			}
			clus = kubecluster.NewCluster(client, allowed, log.With(logger, "component", "cluster"))
		}
	}

	// Metadata publishers.
	var publishers []release.MetadataPublisher
	if conf.GithubToken != "" {
		publisher, err := github.NewPublisher(context.Background(), vcs.Remote{URL: conf.GitURL}, conf.GithubToken, conf.GithubAPIURL, log.With(logger, "component", "github"))
		if err != nil {
			logger.Log("err", fmt.Sprintf("configuring GitHub release publishing: %v", err))
			os.Exit(1)
		}
		publishers = append(publishers, publisher)
	}

	// Operator event feed: everything is logged, and retained for the
	// events websocket.
	bus := event.NewBroadcaster(conf.EventsRetain)
	events := event.MultiWriter{
		event.LogWriter{Logger: log.With(logger, "component", "events")},
		bus,
	}

	cutter := &release.Cutter{
		Source:     repo,
		Store:      store,
		Publishers: publishers,
		Logger:     log.With(logger, "component", "release"),
	}

	executor := &pipeline.Executor{
		Source:   repo,
		Runner:   pipeline.ShellRunner{},
		Registry: reg,
		Cache:    digests,
		Cluster:  clus,
		Logger:   log.With(logger, "component", "pipeline"),
	}

	d := &daemon.Daemon{
		V:              version,
		Source:         repo,
		Origin:         vcs.Remote{URL: conf.GitURL},
		Ledger:         store,
		Cutter:         cutter,
		Executor:       executor,
		Cluster:        clus,
		Branches:       branches,
		JobStatusCache: &job.StatusCache{Size: conf.RunHistory},
		EventWriter:    events,
		Logger:         log.With(logger, "component", "daemon"),
		LoopVars: &daemon.LoopVars{
			ScanInterval:  conf.ScanInterval,
			VCSTimeout:    conf.GitTimeout,
			DecideTimeout: conf.DecideTimeout,
		},
	}

	shutdownWg.Add(1)
	go d.Loop(shutdown, shutdownWg, log.With(logger, "component", "daemon"))

	// HTTP server: API and event feed, plus /metrics unless it has a
	// listener of its own.
	go func() {
		mux := http.NewServeMux()
		if conf.ListenMetrics == "" {
			mux.Handle("/metrics", promhttp.Handler())
		}
		handler := daemonhttp.NewHandler(d, daemonhttp.NewRouter(), bus, log.With(logger, "component", "http"))
		mux.Handle("/", handler)
		daemonhttp.ListenAndServe(conf.Listen, mux, log.With(logger, "component", "http"), shutdown)
	}()

	if conf.ListenMetrics != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Log("metrics-addr", conf.ListenMetrics)
			errc <- http.ListenAndServe(conf.ListenMetrics, mux)
		}()
	}

	checkpoint.CheckForUpdates(product, version, map[string]string{
		"git-configured": strconv.FormatBool(conf.GitURL != ""),
	}, log.With(logger, "component", "checkpoint"))

	shutdownErr := <-errc
	logger.Log("exiting...", shutdownErr)
	close(shutdown)
	shutdownWg.Wait()
}
