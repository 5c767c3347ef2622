package app

import (
	"github.com/mckenziephagen/mindboggle/internal/refcache"
	"github.com/mckenziephagen/mindboggle/internal/registry"
	"github.com/mckenziephagen/mindboggle/internal/transforms"
)

// coreModules returns the transform handler modules behind the shipped
// manifests. The fetch module shares the process-wide reference cache.
func coreModules(cache *refcache.Cache) []registry.Module {
	return []registry.Module{
		&transforms.IdentityModule{},
		&transforms.FreeSurferModule{},
		&transforms.ANTsModule{},
		&transforms.TablesModule{},
		&transforms.FetchModule{Cache: cache},
	}
}
