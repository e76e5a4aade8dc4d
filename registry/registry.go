// Package registry decides which methods of a service value are externally
// callable and invokes them by name. It is consulted by a dispatcher only
// when no explicit whitelist was configured.
package registry

import (
	"context"
	"encoding/json"
	"reflect"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// reserved names are lifecycle and formatting members, never part of the
// remote surface even though their signatures would qualify.
var reserved = map[string]struct{}{
	"OnConnect": {},
	"Close":     {},
	"String":    {},
	"Error":     {},
	"GoString":  {},
}

// CallableMethods returns the ordered set of method names svc exposes
// remotely. The predicate is explicit: exported, declared on the service
// itself rather than promoted from an embedded type, not reserved, not
// variadic, at most two results with an error last. Unexported methods are
// invisible to reflection and therefore never callable.
func CallableMethods(svc interface{}) []string {
	typ := reflect.TypeOf(svc)
	promoted := promotedMethods(typ)
	names := make([]string, 0, typ.NumMethod())
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if _, ok := promoted[m.Name]; ok {
			continue
		}
		if !Callable(m) {
			continue
		}
		names = append(names, m.Name)
	}
	return names
}

// promotedMethods collects the method names a struct gains from embedded
// fields. Embedding sync.Mutex must not put Lock on the remote surface.
// A declared method shadowing a promoted name is indistinguishable by
// reflection and is excluded as well.
func promotedMethods(typ reflect.Type) map[string]struct{} {
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil
	}
	out := map[string]struct{}{}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		switch ft.Kind() {
		case reflect.Interface, reflect.Ptr:
		default:
			// The pointer method set contains both value and pointer
			// receiver methods.
			ft = reflect.PtrTo(ft)
		}
		for j := 0; j < ft.NumMethod(); j++ {
			out[ft.Method(j).Name] = struct{}{}
		}
	}
	return out
}

// Callable reports whether a single method belongs to the remote surface.
func Callable(m reflect.Method) bool {
	if _, ok := reserved[m.Name]; ok {
		return false
	}
	mt := m.Type
	if mt.IsVariadic() {
		return false
	}
	switch mt.NumOut() {
	case 0, 1:
	case 2:
		if mt.Out(1) != errorType {
			return false
		}
	default:
		return false
	}
	return true
}

// Invoke calls svc's method name with JSON-encoded positional arguments.
// A leading context.Context parameter is filled with ctx. Results map as
// (T, error), (error), (T) or () onto the returned value and error.
func Invoke(ctx context.Context, svc interface{}, name string, args []json.RawMessage) (interface{}, error) {
	method := reflect.ValueOf(svc).MethodByName(name)
	if !method.IsValid() {
		return nil, status.Errorf(codes.Unimplemented, "no such method %q", name)
	}
	mt := method.Type()

	in := make([]reflect.Value, 0, mt.NumIn())
	first := 0
	if mt.NumIn() > 0 && mt.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		first = 1
	}
	if want := mt.NumIn() - first; want != len(args) {
		return nil, status.Errorf(codes.InvalidArgument, "%s expects %d arguments, got %d", name, want, len(args))
	}
	for i, arg := range args {
		pv := reflect.New(mt.In(first + i))
		if err := json.Unmarshal(arg, pv.Interface()); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode argument %d of %s: %v", i, name, err)
		}
		in = append(in, pv.Elem())
	}

	out := method.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if mt.Out(0) == errorType {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		return out[0].Interface(), asError(out[1])
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
