package sysdict

import (
	"github.com/classreg/internal/modules"
	"github.com/classreg/internal/namespace"
	"github.com/classreg/pkg/model"
)

// Unload tears down every namespace that was released and is no longer
// reachable, then frees symbols nothing references any more. It returns
// the unloaded namespaces.
func (d *Dictionary) Unload() []*namespace.Namespace {
	dead := d.namespaces.DoUnloading()
	purged := d.symbols.Purge()
	if len(dead) > 0 || purged > 0 {
		d.logger.Info("unloaded %d namespaces, purged %d symbols", len(dead), purged)
	}
	return dead
}

// teardown runs while the dead namespaces' tables are still intact.
func (d *Dictionary) teardown(dead []*namespace.Namespace) {
	d.lock.Lock()
	constraints := d.constraints.Purge(d.isLoaderAlive)
	resolutionErrors := d.errors.Purge(d.isLoaderAlive)
	deadDomains := make(map[*model.ProtectionDomain]bool)
	for pd, owner := range d.domains {
		if !owner.IsAlive() {
			deadDomains[pd] = true
			delete(d.domains, pd)
		}
	}
	d.lock.Unlock()
	isLive := func(pd *model.ProtectionDomain) bool { return !deadDomains[pd] }

	reads, exports, domains := 0, 0, 0
	d.namespaces.Each(func(ns *namespace.Namespace) bool {
		if len(deadDomains) > 0 {
			domains += ns.Dictionary().PurgeProtectionDomains(isLive)
		}
		ns.Modules().Each(func(m *modules.Module) bool {
			reads += m.PurgeReads()
			return true
		})
		reads += ns.UnnamedModule().PurgeReads()
		ns.Packages().Each(func(p *modules.Package) bool {
			exports += p.PurgeQualifiedExports()
			return true
		})
		return true
	})
	arrays := d.purgeArrays()
	d.logger.Debug("teardown of %d namespaces: %d constraints, %d resolution errors, %d arrays, %d read edges, %d qualified exports, %d domain approvals purged",
		len(dead), constraints, resolutionErrors, arrays, reads, exports, domains)
}
