package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNorm(t *testing.T) {
	assert.InDelta(t, 5.0, NewVec3(3, 4, 0).Norm(), 1e-12)
	assert.InDelta(t, 1.0, NewVec3(0, 0, -7).Normalize().Norm(), 1e-12)
	assert.Equal(t, Vec3{}, Vec3{}.Normalize())
}

func TestWithin(t *testing.T) {
	origin := Vec3{}
	tests := []struct {
		name string
		p    Vec3
		want bool
	}{
		{"same point", Vec3{}, true},
		{"inside on every axis", NewVec3(0.09, -0.09, 0.05), true},
		{"x outside", NewVec3(0.11, 0, 0), false},
		{"y outside", NewVec3(0, -0.11, 0), false},
		{"z outside", NewVec3(0, 0, 0.11), false},
		{"corner of box inside", NewVec3(0.099, 0.099, 0.099), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Within(origin, 0.1))
			assert.Equal(t, tt.want, origin.Within(tt.p, 0.1))
		})
	}
}

func TestArithmetic(t *testing.T) {
	a := NewVec3(1, 2, 3)
	b := NewVec3(0.5, -1, 2)
	assert.Equal(t, NewVec3(1.5, 1, 5), a.Add(b))
	assert.Equal(t, NewVec3(0.5, 3, 1), a.Sub(b))
	assert.Equal(t, NewVec3(2, 4, 6), a.Mul(2))
	assert.InDelta(t, 4.5, a.Dot(b), 1e-12)
	assert.Equal(t, "(1.000, 2.000, 3.000)", a.String())
}
