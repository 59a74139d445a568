package defs

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Parse reads definition specs from a YAML stream. Each document holds
// either one definition or a list of them.
func Parse(r io.Reader) ([]*DefinitionSpec, error) {
	dec := yaml.NewDecoder(r)
	var result []*DefinitionSpec
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("defs: parse: %w", err)
		}
		if len(doc.Content) == 0 {
			continue
		}
		root := doc.Content[0]
		nodes := []*yaml.Node{root}
		if root.Kind == yaml.SequenceNode {
			nodes = root.Content
		}
		for _, n := range nodes {
			spec, err := parseOne(n)
			if err != nil {
				return nil, err
			}
			result = append(result, spec)
		}
	}
	return result, nil
}

func parseOne(n *yaml.Node) (*DefinitionSpec, error) {
	spec := new(DefinitionSpec)
	if err := n.Decode(spec); err != nil {
		return nil, fmt.Errorf("defs: line %d: %w", n.Line, err)
	}
	if spec.ID == "" {
		return nil, fmt.Errorf("defs: line %d: definition without id", n.Line)
	}
	src, err := yaml.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("defs: %s: %w", spec.ID, err)
	}
	spec.Source = src
	return spec, nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash is a content hash of the definition. Revision, source text and
// prototype links do not contribute to it.
func (d *DefinitionSpec) Hash() uint64 {
	c := d.Clone()
	c.Revision = 0
	c.Source = nil
	unlink(c)
	data, err := marshal(c)
	if err != nil {
		panic(fmt.Errorf("defs: hashing %s: %w", d.ID, err))
	}
	return xxhash.Sum64(data)
}

func unlink(d *DefinitionSpec) {
	reset := func(fields []*FieldSpec) {
		for _, f := range fields {
			f.PrototypeID = 0
		}
	}
	reset(d.Fields)
	reset(d.Configurations)
	for _, r := range d.Regions {
		reset(r.Fields)
	}
	for _, t := range d.Transitions {
		reset(t.Fields)
	}
}

func (d *Definition) Hash() uint64 {
	return d.spec.Hash()
}

func (d *Definition) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(d.spec)
}

func (d *Definition) DecodeMsgpack(dec *msgpack.Decoder) error {
	spec := new(DefinitionSpec)
	if err := dec.Decode(spec); err != nil {
		return err
	}
	*d = *sealDefinition(spec)
	return nil
}

// EncodeBlob serializes a sealed definition for storage.
func EncodeBlob(d *Definition) ([]byte, error) {
	data, err := marshal(d)
	if err != nil {
		return nil, fmt.Errorf("defs: encode %s: %w", d.ID(), err)
	}
	return snappy.Encode(nil, data), nil
}

func DecodeBlob(b []byte) (*Definition, error) {
	data, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, fmt.Errorf("defs: decompress: %w", err)
	}
	d := new(Definition)
	if err := msgpack.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("defs: decode: %w", err)
	}
	return d, nil
}
