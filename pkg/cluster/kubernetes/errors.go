package kubernetes

import (
	"fmt"

	cuttererr "github.com/cuttercd/cutter/pkg/errors"
)

func namespaceNotAllowedError(namespace string) *cuttererr.Error {
	return &cuttererr.Error{
		Type: cuttererr.User,
		Err:  fmt.Errorf("namespace %q is not in the allowed set", namespace),
		Help: fmt.Sprintf(`The deploy target namespace %q is excluded by configuration.

The daemon was started with a restriction on the namespaces it may
deploy into (--k8s-allow-namespace), and this branch's configuration
names a namespace outside that set.

Either adjust the restriction, or change the deploy target in the
repository's .cutter.yaml.
`, namespace)}
}
