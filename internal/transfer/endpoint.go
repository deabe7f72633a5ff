package transfer

import (
	"fmt"
	"strings"

	"github.com/openmined/mirrorctl/internal/exclude"
)

// Endpoint is one side of a transfer, either a local path or a path on a
// remote host.
type Endpoint struct {
	host string
	path string
}

func Local(path string) Endpoint {
	return Endpoint{path: path}
}

func Remote(host, path string) Endpoint {
	return Endpoint{host: host, path: path}
}

func (e Endpoint) IsRemote() bool { return e.host != "" }
func (e Endpoint) Host() string   { return e.host }
func (e Endpoint) Path() string   { return e.path }

// Operand renders the endpoint as an rsync operand. The trailing slash makes
// rsync sync the directory contents rather than the directory itself.
func (e Endpoint) Operand() string {
	p := strings.TrimRight(e.path, "/") + "/"
	if e.IsRemote() {
		return e.host + ":" + p
	}
	return p
}

func (e Endpoint) String() string {
	if e.IsRemote() {
		return fmt.Sprintf("%s:%s", e.host, e.path)
	}
	return e.path
}

// Direction of a directive relative to the local machine.
type Direction string

const (
	Push Direction = "push"
	Pull Direction = "pull"
)

// Directive is one fully specified source → destination transfer request.
type Directive struct {
	Label       string
	Source      Endpoint
	Destination Endpoint
	Exclusions  exclude.Set
	// AutoDelete applies deletions without asking. Only unattended watch
	// syncs set it.
	AutoDelete bool
}

func (d Directive) Direction() Direction {
	if d.Destination.IsRemote() {
		return Push
	}
	return Pull
}

func (d Directive) String() string {
	return fmt.Sprintf("%s (%s → %s)", d.Label, d.Source, d.Destination)
}
