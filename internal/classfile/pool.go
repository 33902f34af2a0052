package classfile

import "fmt"

// Constant pool tags (JVMS 4.4).
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// constant is one pool slot. Only the payloads this package resolves are
// kept: raw bytes for Utf8 and the name index for Class.
type constant struct {
	tag uint8
	raw []byte
	ref uint16
}

// constantPool is indexed exactly like the classfile; slot 0 and the upper
// half of Long/Double entries stay zero.
type constantPool []constant

// readConstantPool walks the pool structurally. Utf8 payloads are not
// decoded and references are not checked until something resolves them.
func readConstantPool(r *reader) (constantPool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("constant pool count: %w", err)
	}
	pool := make(constantPool, count)
	for i := 1; i < int(count); i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, fmt.Errorf("constant #%d: %w", i, err)
		}
		c := constant{tag: tag}
		switch tag {
		case tagUtf8:
			n, err := r.u2()
			if err != nil {
				return nil, fmt.Errorf("constant #%d: %w", i, err)
			}
			if c.raw, err = r.bytes(int(n)); err != nil {
				return nil, fmt.Errorf("constant #%d: %w", i, err)
			}
		case tagClass:
			if c.ref, err = r.u2(); err != nil {
				return nil, fmt.Errorf("constant #%d: %w", i, err)
			}
		case tagString, tagMethodType, tagModule, tagPackage:
			err = r.skip(2)
		case tagMethodHandle:
			err = r.skip(3)
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			err = r.skip(4)
		case tagLong, tagDouble:
			err = r.skip(8)
		default:
			return nil, fmt.Errorf("%w: constant #%d has unknown tag %d", ErrBadConstant, i, tag)
		}
		if err != nil {
			return nil, fmt.Errorf("constant #%d: %w", i, err)
		}
		pool[i] = c
		if tag == tagLong || tag == tagDouble {
			i++
		}
	}
	return pool, nil
}

func (p constantPool) entry(idx uint16, want uint8) (constant, error) {
	if idx == 0 || int(idx) >= len(p) {
		return constant{}, fmt.Errorf("%w: index %d out of range (pool size %d)", ErrBadConstant, idx, len(p))
	}
	c := p[idx]
	if c.tag != want {
		return constant{}, fmt.Errorf("%w: index %d has tag %d, want %d", ErrBadConstant, idx, c.tag, want)
	}
	return c, nil
}

// utf8 resolves and decodes a CONSTANT_Utf8 entry.
func (p constantPool) utf8(idx uint16) (string, error) {
	c, err := p.entry(idx, tagUtf8)
	if err != nil {
		return "", err
	}
	s, err := decodeModifiedUTF8(c.raw)
	if err != nil {
		return "", fmt.Errorf("constant #%d: %w", idx, err)
	}
	return s, nil
}

// className resolves a CONSTANT_Class entry to its internal name.
func (p constantPool) className(idx uint16) (string, error) {
	c, err := p.entry(idx, tagClass)
	if err != nil {
		return "", err
	}
	return p.utf8(c.ref)
}
