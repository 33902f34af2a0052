// Package classfile reads just enough of a JVM classfile to decide whether it
// declares an enum, and if so which constants and marker annotations it has.
package classfile

import (
	"errors"
	"fmt"
)

// Magic is the classfile signature.
const Magic uint32 = 0xCAFEBABE

// AvroGenerated is the descriptor of the annotation Avro's compiler puts on
// generated types.
const AvroGenerated = "Lorg/apache/avro/specific/AvroGenerated;"

const (
	attrVisibleAnnotations   = "RuntimeVisibleAnnotations"
	attrInvisibleAnnotations = "RuntimeInvisibleAnnotations"
)

var (
	ErrBadMagic    = errors.New("not a classfile")
	ErrTruncated   = errors.New("classfile truncated")
	ErrBadConstant = errors.New("invalid constant pool reference")
	ErrBadUTF8     = errors.New("invalid modified UTF-8")
	ErrMalformed   = errors.New("malformed classfile")
)

// AccessFlags is the access_flags bitset of a class or field.
type AccessFlags uint16

const (
	AccPublic    AccessFlags = 0x0001
	AccPrivate   AccessFlags = 0x0002
	AccProtected AccessFlags = 0x0004
	AccStatic    AccessFlags = 0x0008
	AccFinal     AccessFlags = 0x0010
	AccSuper     AccessFlags = 0x0020
	AccInterface AccessFlags = 0x0200
	AccAbstract  AccessFlags = 0x0400
	AccSynthetic AccessFlags = 0x1000
	AccEnum      AccessFlags = 0x4000
)

// enumConstantFlags must all be present on a field for it to count as an
// enum constant.
const enumConstantFlags = AccPublic | AccStatic | AccFinal

// Has reports whether every bit of want is set.
func (f AccessFlags) Has(want AccessFlags) bool {
	return f&want == want
}

// EnumInfo is what ExtractEnum learns about one enum class.
type EnumInfo struct {
	ClassName     string
	Members       []string
	MarkerPresent bool
}

// ExtractEnum parses data as a classfile. It returns nil, nil for anything
// that is not an enum; in that case nothing after the class access flags is
// read. marker is the annotation type descriptor reported in
// EnumInfo.MarkerPresent.
func ExtractEnum(data []byte, marker string) (*EnumInfo, error) {
	r := &reader{data: data}

	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: magic %#08x", ErrBadMagic, magic)
	}
	if err := r.skip(4); err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}

	pool, err := readConstantPool(r)
	if err != nil {
		return nil, err
	}

	flags, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("access flags: %w", err)
	}
	if !AccessFlags(flags).Has(AccEnum) {
		return nil, nil
	}

	thisClass, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	name, err := pool.className(thisClass)
	if err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}

	info, err := readEnumBody(r, pool, name, marker)
	if err != nil {
		return nil, fmt.Errorf("class %s: %w", name, err)
	}
	return info, nil
}

func readEnumBody(r *reader, pool constantPool, name, marker string) (*EnumInfo, error) {
	// super_class
	if err := r.skip(2); err != nil {
		return nil, fmt.Errorf("super_class: %w", err)
	}
	ifaces, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("interfaces: %w", err)
	}
	if err := r.skip(int(ifaces) * 2); err != nil {
		return nil, fmt.Errorf("interfaces: %w", err)
	}

	info := &EnumInfo{ClassName: name, Members: []string{}}
	selfDescriptor := "L" + name + ";"

	fieldCount, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	for i := 0; i < int(fieldCount); i++ {
		member, ok, err := readField(r, pool, selfDescriptor)
		if err != nil {
			return nil, fmt.Errorf("field #%d: %w", i, err)
		}
		if ok {
			info.Members = append(info.Members, member)
		}
	}

	methodCount, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("methods: %w", err)
	}
	for i := 0; i < int(methodCount); i++ {
		if err := r.skip(6); err != nil {
			return nil, fmt.Errorf("method #%d: %w", i, err)
		}
		if err := skipAttributes(r); err != nil {
			return nil, fmt.Errorf("method #%d: %w", i, err)
		}
	}

	attrCount, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	for i := 0; i < int(attrCount); i++ {
		attrName, body, err := readAttribute(r, pool)
		if err != nil {
			return nil, fmt.Errorf("attribute #%d: %w", i, err)
		}
		if attrName != attrVisibleAnnotations && attrName != attrInvisibleAnnotations {
			continue
		}
		types, err := annotationTypes(body, pool)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", attrName, err)
		}
		for _, t := range types {
			if t == marker {
				info.MarkerPresent = true
			}
		}
	}

	return info, nil
}

// readField consumes one field_info and reports its name when it is a
// constant of the enum described by selfDescriptor.
func readField(r *reader, pool constantPool, selfDescriptor string) (string, bool, error) {
	flags, err := r.u2()
	if err != nil {
		return "", false, err
	}
	nameIdx, err := r.u2()
	if err != nil {
		return "", false, err
	}
	descIdx, err := r.u2()
	if err != nil {
		return "", false, err
	}
	if err := skipAttributes(r); err != nil {
		return "", false, err
	}
	if !AccessFlags(flags).Has(enumConstantFlags) {
		return "", false, nil
	}

	name, err := pool.utf8(nameIdx)
	if err != nil {
		return "", false, fmt.Errorf("name: %w", err)
	}
	desc, err := pool.utf8(descIdx)
	if err != nil {
		return "", false, fmt.Errorf("%s: descriptor: %w", name, err)
	}
	return name, desc == selfDescriptor, nil
}

func readAttribute(r *reader, pool constantPool) (string, []byte, error) {
	nameIdx, err := r.u2()
	if err != nil {
		return "", nil, err
	}
	length, err := r.u4()
	if err != nil {
		return "", nil, err
	}
	body, err := r.bytes(int(length))
	if err != nil {
		return "", nil, err
	}
	name, err := pool.utf8(nameIdx)
	if err != nil {
		return "", nil, fmt.Errorf("name: %w", err)
	}
	return name, body, nil
}

func skipAttributes(r *reader) error {
	count, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if err := r.skip(2); err != nil {
			return err
		}
		length, err := r.u4()
		if err != nil {
			return err
		}
		if err := r.skip(int(length)); err != nil {
			return err
		}
	}
	return nil
}
