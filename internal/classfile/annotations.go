package classfile

import "fmt"

// annotationTypes returns the type descriptor of every top-level annotation
// in a Runtime{Visible,Invisible}Annotations attribute body. Element values
// are walked (JVMS 4.7.16.1) only to find where the next annotation starts.
func annotationTypes(body []byte, pool constantPool) ([]string, error) {
	r := &reader{data: body}
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		typeIdx, err := r.u2()
		if err != nil {
			return nil, fmt.Errorf("annotation #%d: %w", i, err)
		}
		desc, err := pool.utf8(typeIdx)
		if err != nil {
			return nil, fmt.Errorf("annotation #%d: type: %w", i, err)
		}
		if err := skipElementPairs(r); err != nil {
			return nil, fmt.Errorf("annotation %s: %w", desc, err)
		}
		types = append(types, desc)
	}
	if r.off != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes after annotations", ErrMalformed, len(body)-r.off)
	}
	return types, nil
}

func skipElementPairs(r *reader) error {
	pairs, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(pairs); i++ {
		// element_name_index
		if err := r.skip(2); err != nil {
			return err
		}
		if err := skipElementValue(r); err != nil {
			return err
		}
	}
	return nil
}

func skipElementValue(r *reader) error {
	tag, err := r.u1()
	if err != nil {
		return err
	}
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		return r.skip(2)
	case 'e':
		return r.skip(4)
	case '@':
		if err := r.skip(2); err != nil {
			return err
		}
		return skipElementPairs(r)
	case '[':
		n, err := r.u2()
		if err != nil {
			return err
		}
		for i := 0; i < int(n); i++ {
			if err := skipElementValue(r); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown element_value tag %q", ErrMalformed, tag)
	}
}
