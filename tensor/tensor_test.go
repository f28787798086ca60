package tensor

import (
	"math"
	"testing"
)

func TestMatMul(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := FromSlice([]float32{7, 8, 9, 10, 11, 12}, 3, 2)

	c := MatMul(a, b)

	want := []float32{58, 64, 139, 154}
	for i, v := range want {
		if c.Data[i] != v {
			t.Errorf("MatMul result[%d] = %f, want %f", i, c.Data[i], v)
		}
	}
}

func TestMatMulT(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	b := FromSlice([]float32{5, 6, 7, 8}, 2, 2)

	got := MatMulT(a, b)

	// a @ b^T
	want := []float32{17, 23, 39, 53}
	for i, v := range want {
		if got.Data[i] != v {
			t.Errorf("MatMulT result[%d] = %f, want %f", i, got.Data[i], v)
		}
	}
}

func TestSoftmaxRows(t *testing.T) {
	x := FromSlice([]float32{1, 1, 1, 0, 0, float32(math.Inf(-1))}, 2, 3)
	SoftmaxRows(x)

	for j := 0; j < 3; j++ {
		if diff := math.Abs(float64(x.Data[j]) - 1.0/3.0); diff > 1e-6 {
			t.Errorf("uniform row softmax[%d] = %f, want 1/3", j, x.Data[j])
		}
	}
	if x.Data[5] != 0 {
		t.Errorf("masked position has probability %f, want 0", x.Data[5])
	}
	if diff := math.Abs(float64(x.Data[3]) - 0.5); diff > 1e-6 {
		t.Errorf("softmax over masked row = %f, want 0.5", x.Data[3])
	}
}

func TestConcatSeq(t *testing.T) {
	// [1, 1, 2, 2] and [1, 1, 1, 2]
	t1 := FromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	t2 := FromSlice([]float32{5, 6}, 1, 1, 1, 2)

	got := ConcatSeq(t1, t2)

	if got.Shape[2] != 3 {
		t.Fatalf("concatenated seq length = %d, want 3", got.Shape[2])
	}
	want := []float32{1, 2, 3, 4, 5, 6}
	for i, v := range want {
		if got.Data[i] != v {
			t.Errorf("ConcatSeq result[%d] = %f, want %f", i, got.Data[i], v)
		}
	}
}

func TestReshapeSizeMismatchPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected panic for bad reshape")
		}
	}()
	New(2, 3).Reshape(4, 2)
}

func TestSiLU(t *testing.T) {
	x := FromSlice([]float32{0, 1}, 2)
	got := SiLU(x)
	if got.Data[0] != 0 {
		t.Errorf("SiLU(0) = %f, want 0", got.Data[0])
	}
	want := 1.0 / (1.0 + math.Exp(-1))
	if diff := math.Abs(float64(got.Data[1]) - want); diff > 1e-6 {
		t.Errorf("SiLU(1) = %f, want %f", got.Data[1], want)
	}
}
