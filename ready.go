// ABOUTME: Readiness reporting for the radd plugin.
// ABOUTME: Satisfies the ready.Readiness interface; returns true once the store is loaded.

package radd

// Ready reports whether the plugin is ready to serve DNS queries.
// Once it returns true, CoreDNS will not check again.
func (d *Radd) Ready() bool {
	return d.Store != nil && d.Store.Ready()
}
