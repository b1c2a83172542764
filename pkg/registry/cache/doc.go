/*
This package implements an artifact digest cache given a backing k-v
store.

The interface `Client` stands in for the k-v store (memcached and
redis in subpackages, or the in-process `Mem`); `Digests` is the typed
view the pipeline uses to remember which digest was published for the
artifact packaged from a commit.
*/
package cache
