package ghapp

import (
	"sync"
)

// Repository identifies a repository an installation can access.
type Repository struct {
	ID       int64
	Name     string
	FullName string
}

// Installation is a GitHub App installation scoping credentials to a set of
// repositories. Repositories are populated separately from installation
// discovery and refreshed on (re)registration.
type Installation struct {
	ID           int64
	AppID        int64
	Account      string
	Repositories []Repository
}

// InstallationRegistry maps installations to the repositories they can
// access. It is safe for concurrent use.
type InstallationRegistry struct {
	store *CredentialStore

	mu            sync.RWMutex
	installations map[int64]Installation
}

// NewInstallationRegistry creates a registry that evicts cached tokens from
// store when installations are removed.
func NewInstallationRegistry(store *CredentialStore) *InstallationRegistry {
	return &InstallationRegistry{
		store:         store,
		installations: map[int64]Installation{},
	}
}

// Register stores or overwrites the installation's repository list.
// Idempotent by installation id.
func (r *InstallationRegistry) Register(inst Installation, repos []Repository) {
	inst.Repositories = repos
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installations[inst.ID] = inst
}

// Remove deletes the installation and evicts its cached token, so a removed
// installation cannot reuse credentials even before they expire.
func (r *InstallationRegistry) Remove(installationID int64) {
	r.mu.Lock()
	delete(r.installations, installationID)
	r.mu.Unlock()

	r.store.Evict(installationID)
}

// ResolveTenant returns the installation owning the given repository.
// Each repository belongs to at most one installation.
func (r *InstallationRegistry) ResolveTenant(fullRepoName string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, inst := range r.installations {
		for _, repo := range inst.Repositories {
			if repo.FullName == fullRepoName {
				return id, true
			}
		}
	}
	return 0, false
}

// Installations returns a snapshot of the registered installations.
func (r *InstallationRegistry) Installations() []Installation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Installation, 0, len(r.installations))
	for _, inst := range r.installations {
		out = append(out, inst)
	}
	return out
}
