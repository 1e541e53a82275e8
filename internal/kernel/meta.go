package kernel

import (
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// MetaField locates one named entry of a meta buffer. Scalars have Len 1.
type MetaField struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Len    int    `json:"len"`
}

// MetaBuffer collects the per-invocation integer parameters of a kernel and
// rewrites template placeholders into loads from the packed buffer.
//
// Placeholders:
//
//	%%META_NAME%%        the backend's meta buffer variable
//	%%META_LOAD(name)%%  <meta>[offset of name]
type MetaBuffer struct {
	fields []MetaField
	values []int32
	index  map[string]int
}

// NewMetaBuffer creates an empty buffer.
func NewMetaBuffer() *MetaBuffer {
	return &MetaBuffer{index: make(map[string]int)}
}

// Register appends a scalar (int) or array ([]int) entry. Names are unique
// and registration order fixes the buffer layout.
func (m *MetaBuffer) Register(name string, value any) error {
	if _, dup := m.index[name]; dup {
		return fmt.Errorf("meta field %s registered twice", name)
	}
	field := MetaField{Name: name, Offset: len(m.values)}
	switch v := value.(type) {
	case int:
		field.Len = 1
		if err := m.push(name, v); err != nil {
			return err
		}
	case []int:
		field.Len = len(v)
		for _, x := range v {
			if err := m.push(name, x); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("meta field %s: unsupported value type %T", name, value)
	}
	m.index[name] = len(m.fields)
	m.fields = append(m.fields, field)
	return nil
}

func (m *MetaBuffer) push(name string, v int) error {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return fmt.Errorf("meta field %s: value %d does not fit in int32", name, v)
	}
	m.values = append(m.values, int32(v))
	return nil
}

// MustRegister is like Register but panics on error.
func (m *MetaBuffer) MustRegister(name string, value any) {
	if err := m.Register(name, value); err != nil {
		panic(err)
	}
}

var (
	metaLoadRe    = regexp.MustCompile(`%%META_LOAD\(\s*([A-Za-z_][A-Za-z0-9_]*)\s*\)%%`)
	placeholderRe = regexp.MustCompile(`%%[A-Z_]+(\([^)]*\))?%%`)
)

// Inject replaces meta placeholders in src. Every referenced name must be
// registered and every registered name must be referenced. Placeholders
// other than %%FUNC_NAME%% may not survive injection.
func (m *MetaBuffer) Inject(src, metaName string) (string, error) {
	used := make(map[string]bool, len(m.fields))
	var missing []string
	out := metaLoadRe.ReplaceAllStringFunc(src, func(match string) string {
		name := metaLoadRe.FindStringSubmatch(match)[1]
		i, ok := m.index[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		used[name] = true
		return metaName + "[" + strconv.Itoa(m.fields[i].Offset) + "]"
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("template loads unregistered meta fields %v", missing)
	}
	var unused []string
	for _, f := range m.fields {
		if !used[f.Name] {
			unused = append(unused, f.Name)
		}
	}
	if len(unused) > 0 {
		return "", fmt.Errorf("meta fields %v are never loaded", unused)
	}
	out = strings.ReplaceAll(out, "%%META_NAME%%", metaName)
	for _, p := range placeholderRe.FindAllString(out, -1) {
		if p != funcNamePlaceholder {
			return "", fmt.Errorf("unresolved placeholder %s", p)
		}
	}
	return out, nil
}

// Buffer returns the packed values.
func (m *MetaBuffer) Buffer() []int32 { return slices.Clone(m.values) }

// Bytes returns the packed values as little-endian int32.
func (m *MetaBuffer) Bytes() []byte {
	buf := make([]byte, 4*len(m.values))
	for i, v := range m.values {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}

// Schema returns the field table in registration order.
func (m *MetaBuffer) Schema() []MetaField { return slices.Clone(m.fields) }

// MetaReader reads named fields back out of a packed buffer by schema.
type MetaReader struct {
	fields map[string]MetaField
	values []int32
}

// NewMetaReader pairs a schema with the values of one invocation.
func NewMetaReader(schema []MetaField, values []int32) (*MetaReader, error) {
	r := &MetaReader{fields: make(map[string]MetaField, len(schema)), values: values}
	for _, f := range schema {
		if end := f.Offset + f.Len; f.Offset < 0 || f.Len < 0 || end > len(values) {
			return nil, fmt.Errorf("meta field %s [%d,%d) exceeds buffer of %d", f.Name, f.Offset, end, len(values))
		}
		r.fields[f.Name] = f
	}
	return r, nil
}

// Int returns a scalar field.
func (r *MetaReader) Int(name string) (int, error) {
	f, ok := r.fields[name]
	if !ok || f.Len != 1 {
		return 0, fmt.Errorf("meta field %s is not a scalar in the schema", name)
	}
	return int(r.values[f.Offset]), nil
}

// Ints returns an array field.
func (r *MetaReader) Ints(name string) ([]int, error) {
	f, ok := r.fields[name]
	if !ok {
		return nil, fmt.Errorf("meta field %s is not in the schema", name)
	}
	out := make([]int, f.Len)
	for i := range out {
		out[i] = int(r.values[f.Offset+i])
	}
	return out, nil
}
