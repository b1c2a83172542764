package main

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestDefineEverything(t *testing.T) {
	flags := pflag.NewFlagSet("testflags", pflag.ContinueOnError)
	defineConfigFlags(flags, func(err error) {
		t.Error(err)
	})
}

func TestFlagDefaults(t *testing.T) {
	flags := pflag.NewFlagSet("testflags", pflag.ContinueOnError)
	defineConfigFlags(flags, func(err error) {
		t.Fatal(err)
	})

	for flagName, def := range map[string]string{
		"listen":         ":3030",
		"git-branch":     "[master]",
		"git-user":       "Cutter",
		"scan-interval":  "5m0s",
		"decide-timeout": "1m0s",
		"artifact-cache": "memory",
		"registry-rps":   "50",
	} {
		f := flags.Lookup(flagName)
		if f == nil {
			t.Errorf("flag %q is not defined", flagName)
			continue
		}
		if f.DefValue != def {
			t.Errorf("flag %q: default is %q, want %q", flagName, f.DefValue, def)
		}
	}
}
