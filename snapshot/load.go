// ABOUTME: Materializes a snapshot Description into a heap, class linker and roots
// ABOUTME: Defines classes supers-first, allocates every object, then fills in fields

package snapshot

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/mirror"
)

var (
	// ErrDuplicateID is returned when two objects share an ID
	ErrDuplicateID = errors.New("duplicate object id")

	// ErrUnknownObject is returned for references to undeclared IDs
	ErrUnknownObject = errors.New("unknown object id")

	// ErrUnknownField is returned for fields the class does not declare
	ErrUnknownField = errors.New("unknown field")

	// ErrClassCycle is returned when classes inherit from each other
	ErrClassCycle = errors.New("class hierarchy cycle")

	// ErrShapeMismatch is returned when an object's length or elements do
	// not fit its class
	ErrShapeMismatch = errors.New("object contents do not match its class")
)

// Validate checks the description for problems that need no heap.
func (d *Description) Validate() error {
	seen := make(map[ID]bool, len(d.Objects))
	for i, obj := range d.Objects {
		if obj.ID <= 0 {
			return fmt.Errorf("object at index %d has invalid id %d", i, obj.ID)
		}
		if seen[obj.ID] {
			return fmt.Errorf("%w: %d", ErrDuplicateID, obj.ID)
		}
		seen[obj.ID] = true
		if obj.String == nil && obj.Class == "" {
			return fmt.Errorf("object %d has no class", obj.ID)
		}
		if obj.String != nil && (obj.Length != 0 || len(obj.Elements) > 0) {
			return fmt.Errorf("%w: string %d has a length or elements", ErrShapeMismatch, obj.ID)
		}
	}
	for i, c := range d.Classes {
		if c.Name == "" {
			return fmt.Errorf("class at index %d missing name", i)
		}
	}
	return nil
}

// Image is a loaded snapshot.
type Image struct {
	Heap    *heap.Heap
	Linker  *mirror.Linker
	Roots   []*mirror.Object
	Objects map[ID]*mirror.Object
}

// Object returns the object loaded for id, or nil.
func (img *Image) Object(id ID) *mirror.Object { return img.Objects[id] }

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	linkerOpts []mirror.LinkerOption
	logger     *slog.Logger
}

// WithLinkerOptions passes options to the class linker.
func WithLinkerOptions(opts ...mirror.LinkerOption) Option {
	return func(o *loadOptions) { o.linkerOpts = append(o.linkerOpts, opts...) }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *loadOptions) { o.logger = l }
}

type loader struct {
	desc    *Description
	img     *Image
	classes map[string]ClassDesc
	linking map[string]bool
}

// Load builds a fresh heap from desc.
func Load(desc *Description, cfg heap.Config, opts ...Option) (*Image, error) {
	o := loadOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	h, err := heap.New(cfg)
	if err != nil {
		return nil, err
	}
	linker, err := mirror.NewLinker(h, o.linkerOpts...)
	if err != nil {
		return nil, err
	}
	l := &loader{
		desc: desc,
		img: &Image{
			Heap:    h,
			Linker:  linker,
			Objects: make(map[ID]*mirror.Object, len(desc.Objects)),
		},
		classes: make(map[string]ClassDesc, len(desc.Classes)),
		linking: make(map[string]bool),
	}
	for _, c := range desc.Classes {
		l.classes[c.Name] = c
	}
	for _, c := range desc.Classes {
		if _, err := l.defineClass(c.Name); err != nil {
			return nil, err
		}
	}
	for _, obj := range desc.Objects {
		if err := l.allocate(obj); err != nil {
			return nil, fmt.Errorf("object %d: %w", obj.ID, err)
		}
	}
	for _, obj := range desc.Objects {
		if err := l.fill(obj); err != nil {
			return nil, fmt.Errorf("object %d: %w", obj.ID, err)
		}
	}
	if err := l.fillStatics(); err != nil {
		return nil, err
	}
	for _, id := range desc.Roots {
		root, err := l.resolve(id)
		if err != nil {
			return nil, fmt.Errorf("root: %w", err)
		}
		if root != nil {
			l.img.Roots = append(l.img.Roots, root)
		}
	}
	o.logger.Debug("snapshot loaded",
		"classes", len(desc.Classes),
		"objects", len(desc.Objects),
		"roots", len(l.img.Roots),
		"heap_objects", h.NumObjects())
	return l.img, nil
}

// defineClass defines name and, first, any superclass declared in the
// snapshot.
func (l *loader) defineClass(name string) (*mirror.Class, error) {
	if c, err := l.img.Linker.FindClass(name); err == nil {
		return c, nil
	}
	cd, ok := l.classes[name]
	if !ok {
		return l.img.Linker.FindClass(name)
	}
	if l.linking[name] {
		return nil, fmt.Errorf("%w: %s", ErrClassCycle, name)
	}
	l.linking[name] = true
	defer delete(l.linking, name)

	if cd.Super != "" {
		if _, err := l.defineClass(cd.Super); err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
	}
	def := mirror.ClassDef{Descriptor: cd.Name, Super: cd.Super}
	for _, f := range cd.Fields {
		def.Fields = append(def.Fields, mirror.FieldDef{Name: f.Name, Type: f.Type, Static: f.Static})
	}
	c, err := l.img.Linker.DefineClass(def)
	if err != nil {
		return nil, fmt.Errorf("class %s: %w", name, err)
	}
	return c, nil
}

func (l *loader) allocate(od ObjectDesc) error {
	linker := l.img.Linker
	var (
		obj *mirror.Object
		err error
	)
	switch {
	case od.String != nil:
		obj, err = linker.NewString(*od.String)
	default:
		var klass *mirror.Class
		klass, err = l.defineClass(od.Class)
		if err != nil {
			return err
		}
		if err := checkShape(od, klass); err != nil {
			return err
		}
		switch {
		case klass.IsObjectArrayClass():
			var arr *mirror.ObjectArray
			arr, err = linker.AllocObjectArray(klass, int32(len(od.Elements)))
			if arr != nil {
				obj = arr.AsObject()
			}
		case klass.IsArrayClass():
			obj, err = linker.AllocArray(klass, od.Length)
		default:
			obj, err = linker.AllocObject(klass)
		}
	}
	if err != nil {
		return err
	}
	l.img.Objects[od.ID] = obj
	return nil
}

// checkShape rejects contents the collector would never see: elements in a
// primitive array or an instance, and a length outside a primitive array.
func checkShape(od ObjectDesc, klass *mirror.Class) error {
	switch {
	case klass.IsObjectArrayClass():
		if od.Length != 0 {
			return fmt.Errorf("%w: object %d: %s takes elements, not a length", ErrShapeMismatch, od.ID, klass.PrettyName())
		}
	case klass.IsArrayClass():
		if len(od.Elements) > 0 {
			return fmt.Errorf("%w: object %d: %s cannot hold references", ErrShapeMismatch, od.ID, klass.PrettyName())
		}
	default:
		if od.Length != 0 || len(od.Elements) > 0 {
			return fmt.Errorf("%w: object %d: %s is not an array", ErrShapeMismatch, od.ID, klass.PrettyName())
		}
	}
	return nil
}

func (l *loader) resolve(id ID) (*mirror.Object, error) {
	if id == 0 {
		return nil, nil
	}
	obj, ok := l.img.Objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownObject, id)
	}
	return obj, nil
}

func (l *loader) fill(od ObjectDesc) error {
	obj := l.img.Objects[od.ID]
	klass := obj.GetClass()
	for name, v := range od.Fields {
		f := klass.FindInstanceField(name)
		if f == nil {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, klass.PrettyName(), name)
		}
		if err := l.store(obj, f, v); err != nil {
			return err
		}
	}
	if len(od.Elements) > 0 {
		arr := obj.AsObjectArray()
		for i, id := range od.Elements {
			ref, err := l.resolve(id)
			if err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
			if err := arr.Set(int32(i), ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *loader) store(holder *mirror.Object, f *mirror.Field, v int64) error {
	switch {
	case f.IsReference():
		ref, err := l.resolve(ID(v))
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name(), err)
		}
		holder.SetFieldObject(f.GetOffset(), ref)
	case f.Size() == 8:
		holder.SetField64(f.GetOffset(), uint64(v))
	default:
		holder.SetField32(f.GetOffset(), uint32(v))
	}
	return nil
}

func (l *loader) fillStatics() error {
	for name, fields := range l.desc.Statics {
		klass, err := l.img.Linker.FindClass(name)
		if err != nil {
			return fmt.Errorf("statics: %w", err)
		}
		for fname, v := range fields {
			f := klass.FindStaticField(fname)
			if f == nil {
				return fmt.Errorf("%w: static %s.%s", ErrUnknownField, klass.PrettyName(), fname)
			}
			if err := l.store(klass.AsObject(), f, v); err != nil {
				return err
			}
		}
	}
	return nil
}
