// +build integration

package memcached

import (
	"flag"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/cuttercd/cutter/pkg/registry/cache"
)

var (
	memcachedIPs = flag.String("memcached-ips", "127.0.0.1:11211", "space-separated host:port values for memcached to connect to")
)

var val = []byte("sha256:0f00ba11")

var key = testKey("test")

type testKey string

func (t testKey) Key() string {
	return string(t)
}

func TestMemcache_ReadWrite(t *testing.T) {
	// Memcache client
	mc := NewFixedServerMemcacheClient(MemcacheConfig{
		Timeout:        time.Second,
		UpdateInterval: 1 * time.Minute,
		Logger:         log.With(log.NewLogfmtLogger(os.Stderr), "component", "memcached"),
	}, strings.Fields(*memcachedIPs)...)
	defer mc.Stop()

	// Set some dummy data
	err := mc.SetKey(key, val)
	if err != nil {
		t.Fatal(err)
	}

	cached, err := mc.GetKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if string(cached) != string(val) {
		t.Fatalf("Should have returned %q, but got %q", string(val), string(cached))
	}
}

func TestMemcache_Miss(t *testing.T) {
	mc := NewFixedServerMemcacheClient(MemcacheConfig{
		Timeout:        time.Second,
		UpdateInterval: 1 * time.Minute,
		Logger:         log.With(log.NewLogfmtLogger(os.Stderr), "component", "memcached"),
	}, strings.Fields(*memcachedIPs)...)
	defer mc.Stop()

	_, err := mc.GetKey(testKey(time.Now().String()))
	if err != cache.ErrNotCached {
		t.Fatalf("expected cache miss, got %v", err)
	}
}
