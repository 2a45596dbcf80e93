package database

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/tevino/abool"

	"github.com/keeldb/keel/storage"
)

var nameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// A Registry owns the shared storage engines of a server, one per
// database name. Sessions get their own Database handle over the
// shared storage.
type Registry struct {
	root string

	lock     sync.Mutex
	storages map[string]storage.Interface

	shuttingDown *abool.AtomicBool
}

// NewRegistry returns a registry rooted at the given data directory.
func NewRegistry(root string) *Registry {
	return &Registry{
		root:         root,
		storages:     make(map[string]storage.Interface),
		shuttingDown: abool.New(),
	}
}

func (r *Registry) storageFor(name, storageType string) (storage.Interface, error) {
	if !nameRegex.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if st, ok := r.storages[name]; ok {
		return st, nil
	}
	st, err := storage.New(storageType, name, r.root)
	if err != nil {
		return nil, err
	}
	r.storages[name] = st
	return st, nil
}

// OpenDatabase opens a session handle on a database, creating the
// shared storage on first use.
func (r *Registry) OpenDatabase(name, storageType, user, password string, listeners ...Listener) (*Database, error) {
	if r.shuttingDown.IsSet() {
		return nil, ErrShuttingDown
	}
	st, err := r.storageFor(name, storageType)
	if err != nil {
		return nil, err
	}
	db := New(st)
	for _, l := range listeners {
		db.AddListener(l)
	}
	if err := db.Open(user, password); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateDatabase creates a database and returns an open admin handle.
func (r *Registry) CreateDatabase(name, storageType string) (*Database, error) {
	if r.shuttingDown.IsSet() {
		return nil, ErrShuttingDown
	}
	st, err := r.storageFor(name, storageType)
	if err != nil {
		return nil, err
	}
	db := New(st)
	if err := db.Create(); err != nil {
		return nil, err
	}
	return db, nil
}

// ExistsDatabase reports whether a database exists.
func (r *Registry) ExistsDatabase(name, storageType string) (bool, error) {
	st, err := r.storageFor(name, storageType)
	if err != nil {
		return false, err
	}
	return st.Exists(), nil
}

// DropDatabase removes a database and evicts its shared storage.
func (r *Registry) DropDatabase(name, storageType string) error {
	st, err := r.storageFor(name, storageType)
	if err != nil {
		return err
	}
	if !st.Exists() {
		return fmt.Errorf("database with name %q does not exist", name)
	}
	err = st.Delete()

	r.lock.Lock()
	delete(r.storages, name)
	r.lock.Unlock()
	return err
}

// FreezeDatabase blocks writes on a database.
func (r *Registry) FreezeDatabase(name, storageType string) error {
	st, err := r.existingStorage(name, storageType)
	if err != nil {
		return err
	}
	return st.Freeze()
}

// ReleaseDatabase lifts a database freeze.
func (r *Registry) ReleaseDatabase(name, storageType string) error {
	st, err := r.existingStorage(name, storageType)
	if err != nil {
		return err
	}
	return st.Release()
}

// FreezeCluster blocks writes on one cluster of a database.
func (r *Registry) FreezeCluster(name, storageType string, clusterID int16) error {
	st, err := r.existingStorage(name, storageType)
	if err != nil {
		return err
	}
	return st.FreezeCluster(clusterID)
}

// ReleaseCluster lifts a cluster freeze.
func (r *Registry) ReleaseCluster(name, storageType string, clusterID int16) error {
	st, err := r.existingStorage(name, storageType)
	if err != nil {
		return err
	}
	return st.ReleaseCluster(clusterID)
}

func (r *Registry) existingStorage(name, storageType string) (storage.Interface, error) {
	st, err := r.storageFor(name, storageType)
	if err != nil {
		return nil, err
	}
	if !st.Exists() {
		return nil, fmt.Errorf("database with name %q does not exist", name)
	}
	return st, nil
}

// ListDatabases returns the names of the registered databases.
func (r *Registry) ListDatabases() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	names := make([]string, 0, len(r.storages))
	for name := range r.storages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown closes every shared storage. New opens fail from the moment
// it is called.
func (r *Registry) Shutdown() error {
	r.shuttingDown.Set()

	r.lock.Lock()
	defer r.lock.Unlock()

	var errs *multierror.Error
	for name, st := range r.storages {
		if err := st.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing %q: %w", name, err))
		}
		delete(r.storages, name)
	}
	return errs.ErrorOrNil()
}
