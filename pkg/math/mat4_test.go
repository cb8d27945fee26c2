package math

import (
	"math"
	"testing"
)

func TestIdentity(t *testing.T) {
	m := Identity()
	// Diagonal should be 1
	if m[0] != 1 || m[5] != 1 || m[10] != 1 || m[15] != 1 {
		t.Error("Identity diagonal should be 1")
	}
	// Off-diagonal should be 0
	if m[1] != 0 || m[4] != 0 {
		t.Error("Identity off-diagonal should be 0")
	}
}

func TestMulIdentity(t *testing.T) {
	m := Translate(1, 2, 3)
	result := m.Mul(Identity())

	for i := 0; i < 16; i++ {
		if result[i] != m[i] {
			t.Errorf("M * I should equal M, element %d: got %f, want %f", i, result[i], m[i])
		}
	}
}

func TestTransformPoint(t *testing.T) {
	m := Translate(10, 20, 30)
	got := m.TransformPoint(Vec3{1, 2, 3})

	want := Vec3{11, 22, 33}
	if got != want {
		t.Errorf("TransformPoint: got %v, want %v", got, want)
	}
}

func TestTransformDirectionIgnoresTranslation(t *testing.T) {
	m := Translate(10, 20, 30).Mul(Scale(2, 2, 2))
	got := m.TransformDirection(Vec3{1, 2, 3})

	want := Vec3{2, 4, 6}
	if got != want {
		t.Errorf("TransformDirection: got %v, want %v", got, want)
	}
}

func TestInverseRoundTrip(t *testing.T) {
	m := TRS(Vec3{1, -2, 3}, QuatFromAxisAngle(Vec3{0, 1, 0}, float32(math.Pi/3)), Vec3{2, 2, 2})
	got := m.Mul(m.Inverse())

	if !got.IsIdentity(1e-5) {
		t.Errorf("M * M^-1 should be identity, got %v", got)
	}
}

func TestApproxEqual(t *testing.T) {
	tests := []struct {
		name  string
		delta float32
		want  bool
	}{
		{"exact", 0, true},
		{"below tolerance", 0.0005, true},
		{"above tolerance", 0.002, false},
		{"gross", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Translate(1, 2, 3)
			b := a
			b[13] += tt.delta
			if got := a.ApproxEqual(b, DefaultTolerance); got != tt.want {
				t.Errorf("ApproxEqual(delta=%v) = %v, want %v", tt.delta, got, tt.want)
			}
		})
	}
}

func TestLossyScale(t *testing.T) {
	m := TRS(Vec3{5, 0, 0}, QuatFromAxisAngle(Vec3{0, 0, 1}, 1), Vec3{2, 3, 0})
	s := m.LossyScale()

	if abs(s.X-2) > 1e-5 || abs(s.Y-3) > 1e-5 || s.Z != 0 {
		t.Errorf("LossyScale: got %v, want (2, 3, 0)", s)
	}
}

func TestNormalMatrixNonUniformScale(t *testing.T) {
	m := Scale(2, 1, 1)
	n := m.NormalMatrix().TransformDirection(Vec3{1, 1, 0}).Normalize()

	// The surface x = y stretched along X has a normal leaning toward +Y.
	if n.Y <= n.X {
		t.Errorf("NormalMatrix: got %v, expected Y > X", n)
	}
}

func TestTranspose(t *testing.T) {
	m := Translate(1, 2, 3).Transpose()
	if m[3] != 1 || m[7] != 2 || m[11] != 3 {
		t.Errorf("Transpose: got %v", m)
	}
}

func abs(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func TestDecomposeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		axis  Vec3
		angle float64
	}{
		{"identity", Vec3{Y: 1}, 0},
		{"yaw", Vec3{Y: 1}, math.Pi / 3},
		{"roll half turn", Vec3{X: 1}, math.Pi},
		{"tilted", Vec3{X: 1, Y: 1}.Normalize(), 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := TRS(Vec3{1, 2, 3}, QuatFromAxisAngle(tt.axis, float32(tt.angle)), Vec3{2, 0.5, 1})
			pos, rot, scale := want.Decompose()
			got := TRS(pos, rot, scale)
			if !got.ApproxEqual(want, 1e-4) {
				t.Errorf("TRS(Decompose(m)) = %v, want %v", got, want)
			}
		})
	}
}
