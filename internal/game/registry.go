package game

import "fmt"

// Kind is a registered game kind.
type Kind struct {
	// Name is the game_type clients use in create_room.
	Name string
	// Capacity is the default room size for this kind; 0 defers to the
	// relay-wide game capacity.
	Capacity int
	Handler  Handler
}

// Registry maps game kind names to their handlers.
// Registration happens during startup; lookups are safe for concurrent use
// once registration is complete.
type Registry struct {
	kinds map[string]Kind
}

// NewRegistry returns an empty Registry.
//
// Postcondition: Returns a non-nil *Registry ready to accept registrations.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds a kind to the registry.
//
// Precondition: k.Name must be non-empty and k.Handler non-nil.
// Postcondition: Returns an error if a kind with the same name already exists.
func (r *Registry) Register(k Kind) error {
	if k.Name == "" {
		panic("game.Registry.Register: precondition violated: kind name must be non-empty")
	}
	if k.Handler == nil {
		panic("game.Registry.Register: precondition violated: handler must be non-nil")
	}
	if _, exists := r.kinds[k.Name]; exists {
		return fmt.Errorf("game kind %q already registered", k.Name)
	}
	r.kinds[k.Name] = k
	return nil
}

// Kind returns the registered kind for name.
//
// Postcondition: Returns an error wrapping ErrUnknownKind when name is not registered.
func (r *Registry) Kind(name string) (Kind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

// Handler returns the handler for name, if registered.
func (r *Registry) Handler(name string) (Handler, bool) {
	k, ok := r.kinds[name]
	if !ok {
		return nil, false
	}
	return k.Handler, true
}

// Names returns every registered kind name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	return names
}
