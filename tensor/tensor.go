package tensor

import (
	"fmt"
	"math"
)

// Tensor represents a multi-dimensional array of float32 values stored in
// row-major order.
type Tensor struct {
	Data  []float32
	Shape []int
}

// New creates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Tensor{
		Data:  make([]float32, size),
		Shape: shape,
	}
}

// FromSlice wraps an existing data slice with the given shape.
func FromSlice(data []float32, shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	if size != len(data) {
		panic(fmt.Sprintf("data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{Data: data, Shape: shape}
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	out := New(t.Shape...)
	copy(out.Data, t.Data)
	return out
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float32 {
	return t.Data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
func (t *Tensor) Set(val float32, indices ...int) {
	t.Data[t.flatIndex(indices)] = val
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("wrong number of indices: got %d, want %d", len(indices), len(t.Shape)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}

// Reshape returns a tensor with a different shape sharing the same data.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	newSize := 1
	for _, dim := range shape {
		newSize *= dim
	}
	if newSize != t.Size() {
		panic(fmt.Sprintf("cannot reshape: size mismatch %d vs %d", newSize, t.Size()))
	}
	return &Tensor{Data: t.Data, Shape: shape}
}

// MatMul performs matrix multiplication: [m,k] x [k,n] -> [m,n].
func MatMul(a, b *Tensor) *Tensor {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		panic("MatMul requires 2D tensors")
	}
	if a.Shape[1] != b.Shape[0] {
		panic(fmt.Sprintf("incompatible shapes: [%d,%d] x [%d,%d]", a.Shape[0], a.Shape[1], b.Shape[0], b.Shape[1]))
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	result := New(m, n)

	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			av := a.Data[i*k+p]
			if av == 0 {
				continue
			}
			row := b.Data[p*n : (p+1)*n]
			out := result.Data[i*n : (i+1)*n]
			for j, bv := range row {
				out[j] += av * bv
			}
		}
	}

	return result
}

// MatMulT multiplies a by the transpose of b: [m,k] x [n,k]^T -> [m,n].
// Used for the tied output projection, where the embedding table is stored
// as [vocab, dim] but projects hidden states [tokens, dim] to [tokens, vocab].
func MatMulT(a, b *Tensor) *Tensor {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		panic("MatMulT requires 2D tensors")
	}
	if a.Shape[1] != b.Shape[1] {
		panic(fmt.Sprintf("incompatible shapes: [%d,%d] x [%d,%d]^T", a.Shape[0], a.Shape[1], b.Shape[0], b.Shape[1]))
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[0]
	result := New(m, n)

	for i := 0; i < m; i++ {
		arow := a.Data[i*k : (i+1)*k]
		for j := 0; j < n; j++ {
			brow := b.Data[j*k : (j+1)*k]
			sum := float32(0)
			for p, av := range arow {
				sum += av * brow[p]
			}
			result.Data[i*n+j] = sum
		}
	}

	return result
}

// Add performs element-wise addition.
func Add(a, b *Tensor) *Tensor {
	if len(a.Data) != len(b.Data) {
		panic("tensors must have same size")
	}
	result := New(a.Shape...)
	for i := range a.Data {
		result.Data[i] = a.Data[i] + b.Data[i]
	}
	return result
}

// Mul performs element-wise multiplication.
func Mul(a, b *Tensor) *Tensor {
	if len(a.Data) != len(b.Data) {
		panic("tensors must have same size")
	}
	result := New(a.Shape...)
	for i := range a.Data {
		result.Data[i] = a.Data[i] * b.Data[i]
	}
	return result
}

// SiLU applies the sigmoid-weighted linear unit x * sigmoid(x) element-wise.
func SiLU(t *Tensor) *Tensor {
	result := New(t.Shape...)
	for i, x := range t.Data {
		result.Data[i] = x / (1.0 + float32(math.Exp(float64(-x))))
	}
	return result
}

// SoftmaxRows applies softmax along the last dimension of a 2D tensor,
// in place.
func SoftmaxRows(t *Tensor) {
	if len(t.Shape) != 2 {
		panic("SoftmaxRows requires a 2D tensor")
	}
	rows, cols := t.Shape[0], t.Shape[1]
	for i := 0; i < rows; i++ {
		row := t.Data[i*cols : (i+1)*cols]
		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		sum := float32(0)
		for j, v := range row {
			e := float32(math.Exp(float64(v - maxVal)))
			row[j] = e
			sum += e
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

// ConcatSeq concatenates two 4D tensors [batch, heads, seq, head_dim] along
// the sequence axis.
func ConcatSeq(t1, t2 *Tensor) *Tensor {
	if len(t1.Shape) != 4 || len(t2.Shape) != 4 {
		panic("ConcatSeq requires 4D tensors")
	}
	batch, heads, headDim := t1.Shape[0], t1.Shape[1], t1.Shape[3]
	if t2.Shape[0] != batch || t2.Shape[1] != heads || t2.Shape[3] != headDim {
		panic(fmt.Sprintf("incompatible shapes for ConcatSeq: %v and %v", t1.Shape, t2.Shape))
	}
	seq1, seq2 := t1.Shape[2], t2.Shape[2]

	result := New(batch, heads, seq1+seq2, headDim)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			dst := ((b*heads + h) * (seq1 + seq2)) * headDim
			src1 := ((b*heads + h) * seq1) * headDim
			src2 := ((b*heads + h) * seq2) * headDim
			copy(result.Data[dst:dst+seq1*headDim], t1.Data[src1:src1+seq1*headDim])
			copy(result.Data[dst+seq1*headDim:dst+(seq1+seq2)*headDim], t2.Data[src2:src2+seq2*headDim])
		}
	}
	return result
}
