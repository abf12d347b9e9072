package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRATSchemaVariants(t *testing.T) {
	base := RATBlueTopo.Columns()
	hsd := RATHSD.Columns()
	s102 := RATS102.Columns()

	assert.Len(t, hsd, len(base)+5)
	assert.Equal(t, base, hsd[:len(base)])
	assert.Equal(t, "catzoc", hsd[len(base)].Name)

	// S102 is its own layout, not a superset.
	assert.NotEqual(t, base[:5], s102[:5])
	assert.Equal(t, "value", s102[0].Name)
}

func TestRATSchemaString(t *testing.T) {
	assert.Equal(t, "bluetopo", RATBlueTopo.String())
	assert.Equal(t, "hsd", RATHSD.String())
	assert.Equal(t, "s102", RATS102.String())
}

func TestColumnsReturnsCopies(t *testing.T) {
	a := RATBlueTopo.Columns()
	a[0].Name = "mutated"
	assert.Equal(t, "value", RATBlueTopo.Columns()[0].Name)
}
