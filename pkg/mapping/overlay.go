package mapping

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Overlay adjusts registered mappings from a YAML document:
//
//	documents:
//	  trees:
//	    idStrategy: auto
//	    idField: _id
//	    references:
//	      apples:
//	        storeAs: ref
//	        cascade: [all]
//
// Fields and factories stay declared in code.
type Overlay struct {
	Documents map[string]DocumentOverlay `yaml:"documents"`
}

type DocumentOverlay struct {
	IDStrategy string                      `yaml:"idStrategy"`
	IDField    string                      `yaml:"idField"`
	References map[string]ReferenceOverlay `yaml:"references"`
}

type ReferenceOverlay struct {
	StoreAs string   `yaml:"storeAs"`
	Cascade []string `yaml:"cascade"`
}

func ParseOverlay(r io.Reader) (*Overlay, error) {
	var o Overlay
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil {
		if err == io.EOF {
			return &o, nil
		}
		return nil, fmt.Errorf("mapping overlay: %w", err)
	}
	return &o, nil
}

// ApplyOverlay reads an overlay from r and applies it.
func (r *Registry) ApplyOverlay(src io.Reader) error {
	o, err := ParseOverlay(src)
	if err != nil {
		return err
	}
	return r.Apply(o)
}

// Apply validates the whole overlay first and only then changes the registry.
func (r *Registry) Apply(o *Overlay) error {
	type change func()
	var changes []change

	for table, doc := range o.Documents {
		m, err := r.MetadataForTable(table)
		if err != nil {
			return err
		}
		if doc.IDStrategy != "" {
			s, err := ParseIDStrategy(doc.IDStrategy)
			if err != nil {
				return fmt.Errorf("%s: %w", table, err)
			}
			changes = append(changes, func() { m.IDStrategy = s })
		}
		if doc.IDField != "" {
			name := doc.IDField
			changes = append(changes, func() { m.IDField = name })
		}
		for field, ro := range doc.References {
			ref, ok := m.Reference(field)
			if !ok {
				return fmt.Errorf("%s: no reference field %s", table, field)
			}
			if ro.StoreAs != "" {
				s, err := ParseStoreAs(ro.StoreAs)
				if err != nil {
					return fmt.Errorf("%s.%s: %w", table, field, err)
				}
				changes = append(changes, func() { ref.StoreAs = s })
			}
			if ro.Cascade != nil {
				c, err := ParseCascade(ro.Cascade...)
				if err != nil {
					return fmt.Errorf("%s.%s: %w", table, field, err)
				}
				changes = append(changes, func() { ref.Cascade = c })
			}
		}
	}

	for _, apply := range changes {
		apply()
	}
	return nil
}
