package ctrfs

import (
	"log"
	"sync"
)

// ContainerRegistry multiplexes several named Containers in one process.
// Names are opaque identifiers chosen by the caller; this package does not
// derive them from host paths, so the same host file could in principle be
// registered under several names (the caller's responsibility to avoid).
type ContainerRegistry struct {
	mu         sync.RWMutex
	containers map[string]*Container
}

// NewContainerRegistry returns an empty registry.
func NewContainerRegistry() *ContainerRegistry {
	return &ContainerRegistry{containers: map[string]*Container{}}
}

// Create makes a brand new container at hostPath, registers it under name,
// and returns it. name must not already be registered.
func (r *ContainerRegistry) Create(name, hostPath string, totalBlocks, blockSize uint32, opts ...Option) (*Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.containers[name]; exists {
		return nil, fErr(KindAlreadyExists, "%w: %s", ErrContainerExists, name)
	}
	c, err := createContainer(hostPath, totalBlocks, blockSize, opts...)
	if err != nil {
		return nil, err
	}
	c.name = name
	r.containers[name] = c
	log.Printf("ctrfs: registry: created %q at %s", name, hostPath)
	return c, nil
}

// Open opens an existing container at hostPath and registers it under name.
func (r *ContainerRegistry) Open(name, hostPath string, opts ...Option) (*Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.containers[name]; exists {
		return nil, fErr(KindAlreadyExists, "%w: %s", ErrContainerExists, name)
	}
	c, err := openContainer(hostPath, opts...)
	if err != nil {
		return nil, err
	}
	c.name = name
	r.containers[name] = c
	log.Printf("ctrfs: registry: opened %q from %s", name, hostPath)
	return c, nil
}

// Get returns the container registered under name.
func (r *ContainerRegistry) Get(name string) (*Container, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.containers[name]
	if !ok {
		return nil, fErr(KindNotFound, "%w: %s", ErrContainerNotFound, name)
	}
	return c, nil
}

// Delete closes and unregisters the container under name. The host file is
// left on disk; this only forgets the in-process handle.
func (r *ContainerRegistry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	if !ok {
		return fErr(KindNotFound, "%w: %s", ErrContainerNotFound, name)
	}
	delete(r.containers, name)
	if err := c.Close(); err != nil {
		return err
	}
	log.Printf("ctrfs: registry: closed and unregistered %q", name)
	return nil
}

// List returns the names of all currently registered containers, unordered.
func (r *ContainerRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.containers))
	for name := range r.containers {
		out = append(out, name)
	}
	return out
}
