package interp

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/roach88/tensorc/internal/descriptor"
	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/kernel"
)

// Option configures Run.
type Option func(*runner)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) {
		r.logger = l
	}
}

type runner struct {
	logger *slog.Logger
	mem    []float32
}

// Run executes a descriptor on one flat memory the way a runtime would:
// the weight blob is loaded at element 0, inputs are written at their
// addresses, and every invocation runs in order using only its function's
// kind, activations and meta buffer. Inputs and outputs are laid out in
// each variable's own order.
func Run(ctx context.Context, desc *descriptor.Descriptor, weights []byte, inputs map[string][]float32, opts ...Option) (map[string][]float32, error) {
	r := &runner{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	static, err := descriptor.DecodeWeights(weights, desc.WeightEncoding)
	if err != nil {
		return nil, err
	}
	if want := desc.Layout.StaticSize / 4; len(static) != want {
		return nil, fmt.Errorf("weight blob holds %d elements, layout expects %d", len(static), want)
	}
	r.mem = make([]float32, desc.MemoryElements())
	copy(r.mem, static)

	for _, name := range desc.Inputs {
		data, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input %s", name)
		}
		a, _ := desc.Allocation(name)
		if len(data) != a.Size {
			return nil, fmt.Errorf("input %s has %d values, expected %d", name, len(data), a.Size)
		}
		addr, err := desc.Address(name)
		if err != nil {
			return nil, err
		}
		copy(r.mem[addr:], data)
	}

	funcs := make(map[string]kernel.Function, len(desc.Functions))
	for _, fn := range desc.Functions {
		funcs[fn.Name] = fn
	}
	for _, inv := range desc.Exec {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fn, ok := funcs[inv.Function]
		if !ok {
			return nil, fmt.Errorf("%s: unknown function %s", inv.Op, inv.Function)
		}
		m, err := kernel.NewMetaReader(fn.Schema, inv.Meta)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", inv.Op, err)
		}
		if err := r.exec(fn, m); err != nil {
			return nil, fmt.Errorf("%s (%s): %w", inv.Op, fn.Name, err)
		}
		r.logger.Debug("invocation executed", "op", inv.Op, "function", fn.Name)
	}

	out := make(map[string][]float32, len(desc.Outputs))
	for _, name := range desc.Outputs {
		a, _ := desc.Allocation(name)
		addr, err := desc.Address(name)
		if err != nil {
			return nil, err
		}
		out[name] = append([]float32(nil), r.mem[addr:addr+a.Size]...)
	}
	return out, nil
}

// fields reads meta entries, keeping the first error.
type fields struct {
	m   *kernel.MetaReader
	err error
}

func (f *fields) int(name string) int {
	v, err := f.m.Int(name)
	if f.err == nil {
		f.err = err
	}
	return v
}

func (f *fields) ints(name string) []int {
	v, err := f.m.Ints(name)
	if f.err == nil {
		f.err = err
	}
	return v
}

// walk decodes i over shape innermost axis first and accumulates
// coordinate × stride.
func walk(i int, shape, strides []int) int {
	o := 0
	for d := len(shape) - 1; d >= 0; d-- {
		o += strides[d] * (i % shape[d])
		i /= shape[d]
	}
	return o
}

func (r *runner) exec(fn kernel.Function, m *kernel.MetaReader) (err error) {
	defer func() {
		// Meta values that do not match the memory surface as errors, not
		// crashes.
		if p := recover(); p != nil {
			err = fmt.Errorf("out of range access: %v", p)
		}
	}()
	f := &fields{m: m}
	mem := r.mem

	switch fn.Kind {
	case ir.KindReLU, ir.KindSigmoid, ir.KindTanh, ir.KindElementwiseChain, ir.KindTranspose:
		y, x, n := f.int("y_offset"), f.int("x_offset"), f.int("N")
		_ = f.int("D")
		shape, strides := f.ints("y_shape"), f.ints("x_strides")
		if f.err != nil {
			return f.err
		}
		for i := range n {
			v := mem[x+walk(i, shape, strides)]
			for _, k := range fn.Activations {
				v = activation(k)(v)
			}
			mem[y+i] = v
		}

	case ir.KindElementwiseSum:
		y, n, d, k := f.int("y_offset"), f.int("N"), f.int("D"), f.int("K")
		shape, offsets, strides := f.ints("y_shape"), f.ints("x_offsets"), f.ints("x_strides")
		if f.err != nil {
			return f.err
		}
		for i := range n {
			var sum float32
			for j := range k {
				sum += mem[offsets[j]+walk(i, shape, strides[j*d:(j+1)*d])]
			}
			mem[y+i] = sum
		}

	case ir.KindAxiswiseBias, ir.KindAxiswiseScale:
		y, x, b, n := f.int("y_offset"), f.int("x_offset"), f.int("b_offset"), f.int("N")
		_ = f.int("D")
		axis := f.int("axis")
		shape, strides := f.ints("y_shape"), f.ints("x_strides")
		if f.err != nil {
			return f.err
		}
		for i := range n {
			s, xi, c := i, 0, 0
			for d := len(shape) - 1; d >= 0; d-- {
				coord := s % shape[d]
				if d == axis {
					c = coord
				}
				xi += strides[d] * coord
				s /= shape[d]
			}
			if fn.Kind == ir.KindAxiswiseBias {
				mem[y+i] = mem[x+xi] + mem[b+c]
			} else {
				mem[y+i] = mem[x+xi] * mem[b+c]
			}
		}

	case ir.KindLinear:
		y, x, w := f.int("y_offset"), f.int("x_offset"), f.int("w_offset")
		bm, bk, bc := f.int("M"), f.int("K"), f.int("C")
		xn, xc := f.int("x_stride_n"), f.int("x_stride_c")
		wn, wc := f.int("w_stride_n"), f.int("w_stride_c")
		yn, yc := f.int("y_stride_n"), f.int("y_stride_c")
		if f.err != nil {
			return f.err
		}
		for m := range bm {
			for c := range bc {
				var sum float32
				for k := range bk {
					sum += mem[x+m*xn+k*xc] * mem[w+c*wn+k*wc]
				}
				mem[y+m*yn+c*yc] = sum
			}
		}

	case ir.KindConvolution2D:
		y, x, w := f.int("y_offset"), f.int("x_offset"), f.int("w_offset")
		bn, c1, h1, w1 := f.int("N"), f.int("C1"), f.int("H1"), f.int("W1")
		c2, h2, w2 := f.int("C2"), f.int("H2"), f.int("W2")
		kh, kw := f.int("KH"), f.int("KW")
		sh, sw, ph, pw := f.int("SH"), f.int("SW"), f.int("PH"), f.int("PW")
		xs, ws, ys := f.ints("x_strides"), f.ints("w_strides"), f.ints("y_strides")
		if f.err != nil {
			return f.err
		}
		for n := range bn {
			for oc := range c2 {
				for oh := range h2 {
					for ow := range w2 {
						var sum float32
						for ic := range c1 {
							for ky := range kh {
								ih := oh*sh - ph + ky
								if ih < 0 || ih >= h1 {
									continue
								}
								for kx := range kw {
									iw := ow*sw - pw + kx
									if iw < 0 || iw >= w1 {
										continue
									}
									sum += mem[x+n*xs[0]+ic*xs[1]+ih*xs[2]+iw*xs[3]] *
										mem[w+oc*ws[0]+ic*ws[1]+ky*ws[2]+kx*ws[3]]
								}
							}
						}
						mem[y+n*ys[0]+oc*ys[1]+oh*ys[2]+ow*ys[3]] = sum
					}
				}
			}
		}

	case ir.KindMaxPooling2D, ir.KindAveragePooling2D:
		y, x := f.int("y_offset"), f.int("x_offset")
		bn, bc, h1, w1, h2, w2 := f.int("N"), f.int("C"), f.int("H1"), f.int("W1"), f.int("H2"), f.int("W2")
		kh, kw := f.int("KH"), f.int("KW")
		sh, sw, ph, pw := f.int("SH"), f.int("SW"), f.int("PH"), f.int("PW")
		xs, ys := f.ints("x_strides"), f.ints("y_strides")
		if f.err != nil {
			return f.err
		}
		avg := fn.Kind == ir.KindAveragePooling2D
		for n := range bn {
			for c := range bc {
				for oh := range h2 {
					for ow := range w2 {
						v := float32(math.Inf(-1))
						if avg {
							v = 0
						}
						for ky := range kh {
							ih := oh*sh - ph + ky
							if ih < 0 || ih >= h1 {
								continue
							}
							for kx := range kw {
								iw := ow*sw - pw + kx
								if iw < 0 || iw >= w1 {
									continue
								}
								t := mem[x+n*xs[0]+c*xs[1]+ih*xs[2]+iw*xs[3]]
								if avg {
									v += t
								} else {
									v = max(v, t)
								}
							}
						}
						if avg {
							v /= float32(kh * kw)
						}
						mem[y+n*ys[0]+c*ys[1]+oh*ys[2]+ow*ys[3]] = v
					}
				}
			}
		}

	case ir.KindConcat:
		y, n, d := f.int("y_offset"), f.int("N"), f.int("D")
		xOffsets, yOffsets := f.ints("x_offsets"), f.ints("y_offsets")
		shapes, stridesInY := f.ints("x_shapes"), f.ints("x_strides_in_y")
		if f.err != nil {
			return f.err
		}
		for j := range n {
			shape, strides := shapes[j*d:(j+1)*d], stridesInY[j*d:(j+1)*d]
			size := 1
			for _, s := range shape {
				size *= s
			}
			for xi := range size {
				mem[y+yOffsets[j]+walk(xi, shape, strides)] = mem[xOffsets[j]+xi]
			}
		}

	case ir.KindReshape:
		y, x, n := f.int("y_offset"), f.int("x_offset"), f.int("N")
		_ = f.int("D")
		shape, strides := f.ints("in_shape"), f.ints("in_strides")
		if f.err != nil {
			return f.err
		}
		for i := range n {
			mem[y+i] = mem[x+walk(i, shape, strides)]
		}

	case ir.KindSoftmax:
		y, x, n := f.int("y_offset"), f.int("x_offset"), f.int("N")
		_ = f.int("D")
		axis := f.int("axis")
		shape, strides := f.ints("y_shape"), f.ints("x_strides")
		if f.err != nil {
			return f.err
		}
		length, xStep, yStep := shape[axis], strides[axis], 1
		for d := len(shape) - 1; d > axis; d-- {
			yStep *= shape[d]
		}
		for i := range n {
			s, xi, at := i, 0, 0
			for d := len(shape) - 1; d >= 0; d-- {
				coord := s % shape[d]
				if d == axis {
					at = coord
				}
				xi += strides[d] * coord
				s /= shape[d]
			}
			if at != 0 {
				continue
			}
			maxV := float32(math.Inf(-1))
			for k := range length {
				maxV = max(maxV, mem[x+xi+k*xStep])
			}
			var sum float64
			for k := range length {
				e := math.Exp(float64(mem[x+xi+k*xStep] - maxV))
				mem[y+i+k*yStep] = float32(e)
				sum += e
			}
			for k := range length {
				mem[y+i+k*yStep] = float32(float64(mem[y+i+k*yStep]) / sum)
			}
		}

	default:
		return ir.NewUnsupportedOperatorError("interpreter", fn.Kind, "")
	}
	return nil
}
