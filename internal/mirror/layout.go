package mirror

import (
	"path"
	"path/filepath"

	"github.com/openmined/mirrorctl/internal/config"
	"github.com/openmined/mirrorctl/internal/exclude"
	"github.com/openmined/mirrorctl/internal/transfer"
)

const (
	LabelCode     = "code"
	LabelFullPush = "full push"
	LabelFullPull = "full pull"
)

// Layout maps the configured project onto the named sync operations.
type Layout struct {
	LocalRoot  string
	RemoteHost string
	RemoteRoot string
	SyncDirs   []string
	Exclusions exclude.Resolved
}

func NewLayout(cfg *config.Config) Layout {
	return Layout{
		LocalRoot:  cfg.LocalRoot,
		RemoteHost: cfg.Shell().Target(),
		RemoteRoot: cfg.RemoteRoot,
		SyncDirs:   cfg.SyncDirs,
		Exclusions: cfg.Exclusions(),
	}
}

// CodePush mirrors the project to the remote, leaving the sync dirs alone.
func (l Layout) CodePush(autoDelete bool) transfer.Directive {
	return transfer.Directive{
		Label:       LabelCode,
		Source:      transfer.Local(l.LocalRoot),
		Destination: transfer.Remote(l.RemoteHost, l.RemoteRoot),
		Exclusions:  l.Exclusions.Code,
		AutoDelete:  autoDelete,
	}
}

// DirPull mirrors one sync dir from the remote.
func (l Layout) DirPull(name string) transfer.Directive {
	return transfer.Directive{
		Label:       name,
		Source:      transfer.Remote(l.RemoteHost, path.Join(l.RemoteRoot, name)),
		Destination: transfer.Local(filepath.Join(l.LocalRoot, name)),
		Exclusions:  l.Exclusions.Base,
	}
}

func (l Layout) SyncDirPulls() []transfer.Directive {
	ds := make([]transfer.Directive, 0, len(l.SyncDirs))
	for _, name := range l.SyncDirs {
		ds = append(ds, l.DirPull(name))
	}
	return ds
}

// FullPush mirrors the whole project, sync dirs included, to the remote.
func (l Layout) FullPush() transfer.Directive {
	return transfer.Directive{
		Label:       LabelFullPush,
		Source:      transfer.Local(l.LocalRoot),
		Destination: transfer.Remote(l.RemoteHost, l.RemoteRoot),
		Exclusions:  l.Exclusions.Base,
	}
}

func (l Layout) FullPull() transfer.Directive {
	return transfer.Directive{
		Label:       LabelFullPull,
		Source:      transfer.Remote(l.RemoteHost, l.RemoteRoot),
		Destination: transfer.Local(l.LocalRoot),
		Exclusions:  l.Exclusions.Base,
	}
}
