package device

// registry issues handles for driver-side objects and detects use of
// released handles.
type registry[T any] struct {
	next uint64
	objs map[uint64]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{objs: make(map[uint64]T)}
}

func (r *registry[T]) add(obj T) uint64 {
	r.next++
	r.objs[r.next] = obj
	return r.next
}

func (r *registry[T]) get(id uint64) (T, bool) {
	obj, ok := r.objs[id]
	return obj, ok
}

// remove drops id and returns its object; ok is false for unknown ids.
func (r *registry[T]) remove(id uint64) (T, bool) {
	obj, ok := r.objs[id]
	if ok {
		delete(r.objs, id)
	}
	return obj, ok
}

func (r *registry[T]) len() int {
	return len(r.objs)
}
