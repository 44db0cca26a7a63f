package labmodular

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Catalog maps class names to resolved classes so configuration can refer to
// classes by name. Classes are added explicitly by the composition root.
type Catalog struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewCatalog creates a catalog holding classes.
func NewCatalog(classes ...*Class) (*Catalog, error) {
	c := &Catalog{classes: make(map[string]*Class, len(classes))}
	for _, class := range classes {
		if err := c.Add(class); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers class under its name.
func (c *Catalog) Add(class *Class) error {
	if class == nil {
		return ErrClassNil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.classes[class.name]; exists {
		return fmt.Errorf("%w: %s", ErrClassAlreadyInCatalog, class.name)
	}
	c.classes[class.name] = class
	return nil
}

// Lookup returns the class registered under name.
func (c *Catalog) Lookup(name string) (*Class, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	class, ok := c.classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return class, nil
}

// Names lists the catalog's class names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.classes))
}
