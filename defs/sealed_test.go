package defs_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/propdb/defs"
)

func TestSeal(t *testing.T) {
	spec := parseOne(t, baseCase)
	d := spec.Seal()

	t.Run("is a snapshot", func(t *testing.T) {
		spec.Fields[0].LabelID = "changed"
		spec.Fields = spec.Fields[:1]
		*spec.Regions[0].Order = 99

		title, ok := d.Field("title")
		require.True(t, ok)
		assert.Equal(t, "title.label", title.LabelID())
		assert.Len(t, d.Fields(), 4)
		order, _ := d.Regions()[0].Order()
		assert.Equal(t, 10, order)
	})

	t.Run("accessors return copies", func(t *testing.T) {
		fields := d.Fields()
		fields[0] = nil
		assert.NotNil(t, d.Fields()[0])
	})

	t.Run("is idempotent", func(t *testing.T) {
		assert.Same(t, d, d.Seal())
		f := d.Fields()[0]
		assert.Same(t, f, f.Seal())
	})

	t.Run("spec is a fresh copy", func(t *testing.T) {
		s := d.Spec()
		s.Fields[0].LabelID = "mine"
		s.Regions[0].Fields = nil
		title, _ := d.Field("title")
		assert.Equal(t, "title.label", title.LabelID())
		r, _ := d.Region("details")
		assert.Len(t, r.Fields(), 2)
	})
}

func TestBlobRoundTrip(t *testing.T) {
	spec := parseOne(t, baseCase)
	spec.Fields[0].PrototypeID = 42
	d := spec.Seal()

	blob, err := defs.EncodeBlob(d)
	require.NoError(t, err)
	back, err := defs.DecodeBlob(blob)
	require.NoError(t, err)

	assert.Equal(t, d.Hash(), back.Hash())
	assert.Equal(t, fieldIDs(d.AllFields()), fieldIDs(back.AllFields()))
	title, ok := back.Field("title")
	require.True(t, ok)
	assert.Equal(t, int64(42), title.PrototypeID())

	_, err = defs.DecodeBlob([]byte("garbage"))
	assert.Error(t, err)
}

func TestHashIgnoresRevisionAndLinks(t *testing.T) {
	a := parseOne(t, baseCase)
	b := parseOne(t, baseCase)
	b.Revision = 7
	b.Fields[1].PrototypeID = 3
	assert.Equal(t, a.Hash(), b.Hash())

	b.Fields[1].LabelID = "other"
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestParse(t *testing.T) {
	specs := parse(t, `
- id: one
  fields: [{id: a}]
- id: two
---
id: three
`)
	require.Len(t, specs, 3)
	assert.Equal(t, "three", specs[2].ID)
	assert.Contains(t, string(specs[0].Source), "id: one")

	_, err := defs.Parse(strings.NewReader("fields: []"))
	assert.ErrorContains(t, err, "without id")
}
