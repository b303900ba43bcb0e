package attrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestSchemaRegisterAndBagGetSet(t *testing.T) {
	s := NewSchema()
	s.Register(Field{Scope: SampleScope, Name: "priority", Type: cty.Number, Default: cty.NumberIntVal(0)})

	bag := s.NewBag(SampleScope)
	assert.Equal(t, cty.NumberIntVal(0), bag.Get("priority"))

	require.NoError(t, bag.Set("priority", cty.NumberIntVal(5)))
	assert.Equal(t, cty.NumberIntVal(5), bag.Get("priority"))
}

func TestBagGetUnregisteredPanics(t *testing.T) {
	s := NewSchema()
	bag := s.NewBag(SampleScope)
	assert.Panics(t, func() { bag.Get("nope") })
}

func TestSchemaRegisterDuplicatePanics(t *testing.T) {
	s := NewSchema()
	s.Register(Field{Scope: SampleScope, Name: "x", Type: cty.String})
	assert.Panics(t, func() {
		s.Register(Field{Scope: SampleScope, Name: "x", Type: cty.String})
	})
}

func TestBagRoundTripsThroughMap(t *testing.T) {
	s := NewSchema()
	s.Register(Field{Scope: CollectionScope, Name: "tag", Type: cty.String, Default: cty.StringVal("")})
	bag := s.NewBag(CollectionScope)
	require.NoError(t, bag.Set("tag", cty.StringVal("DUMMY")))

	m := bag.AsMap()
	restored := s.NewBag(CollectionScope)
	require.NoError(t, restored.LoadMap(m))
	assert.Equal(t, bag.Get("tag"), restored.Get("tag"))
}

func TestBagCloneIsIndependent(t *testing.T) {
	s := NewSchema()
	s.Register(Field{Scope: SampleScope, Name: "n", Type: cty.Number, Default: cty.NumberIntVal(1)})
	bag := s.NewBag(SampleScope)
	clone := bag.Clone()
	require.NoError(t, clone.Set("n", cty.NumberIntVal(2)))
	assert.Equal(t, cty.NumberIntVal(1), bag.Get("n"))
	assert.Equal(t, cty.NumberIntVal(2), clone.Get("n"))
}
