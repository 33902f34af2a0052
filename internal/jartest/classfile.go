// Package jartest builds classfiles and jar archives for tests.
package jartest

import (
	"bytes"
	"encoding/binary"
	"path"
)

// Access flags as javac writes them.
const (
	AccPublic    uint16 = 0x0001
	AccPrivate   uint16 = 0x0002
	AccStatic    uint16 = 0x0008
	AccFinal     uint16 = 0x0010
	AccSuper     uint16 = 0x0020
	AccSynthetic uint16 = 0x1000
	AccEnum      uint16 = 0x4000
)

// AvroGenerated is the marker annotation descriptor.
const AvroGenerated = "Lorg/apache/avro/specific/AvroGenerated;"

// Field describes a field_info or, in Class.Methods, a method_info.
type Field struct {
	Name       string
	Descriptor string
	Flags      uint16
}

// Annotation is one entry of an annotations attribute. Values is written as a
// `value` array of strings and Nested as a `nested` annotation element.
type Annotation struct {
	Type   string
	Values []string
	Nested string
}

// Class is a classfile layout. Bytes serializes it.
type Class struct {
	Name       string
	Super      string
	Flags      uint16
	Interfaces []string
	Fields     []Field
	Methods    []Field
	Visible    []Annotation
	Invisible  []Annotation
	SourceFile string
}

// Enum returns the layout javac produces for `enum Name { constants... }`,
// including the synthetic $VALUES array and the values/valueOf methods.
func Enum(name string, constants ...string) *Class {
	self := "L" + name + ";"
	c := &Class{
		Name:       name,
		Super:      "java/lang/Enum",
		Flags:      AccPublic | AccFinal | AccSuper | AccEnum,
		SourceFile: path.Base(name) + ".java",
	}
	for _, k := range constants {
		c.Fields = append(c.Fields, Field{Name: k, Descriptor: self, Flags: AccPublic | AccStatic | AccFinal | AccEnum})
	}
	c.Fields = append(c.Fields, Field{Name: "$VALUES", Descriptor: "[" + self, Flags: AccPrivate | AccStatic | AccFinal | AccSynthetic})
	c.Methods = []Field{
		{Name: "values", Descriptor: "()[" + self, Flags: AccPublic | AccStatic},
		{Name: "valueOf", Descriptor: "(Ljava/lang/String;)" + self, Flags: AccPublic | AccStatic},
		{Name: "<init>", Descriptor: "(Ljava/lang/String;I)V", Flags: AccPrivate},
		{Name: "<clinit>", Descriptor: "()V", Flags: AccStatic},
	}
	return c
}

// Plain returns a public class with one static field.
func Plain(name string) *Class {
	return &Class{
		Name:   name,
		Super:  "java/lang/Object",
		Flags:  AccPublic | AccSuper,
		Fields: []Field{{Name: "INSTANCE", Descriptor: "L" + name + ";", Flags: AccPublic | AccStatic | AccFinal}},
	}
}

// Bytes serializes the class as a version 52 (Java 8) classfile.
func (c *Class) Bytes() []byte {
	p := newPool()
	// A leading Long keeps the two-slot constant rule exercised.
	p.long(1)

	var body bytes.Buffer
	putU2(&body, c.Flags)
	putU2(&body, p.class(c.Name))
	super := c.Super
	if super == "" {
		super = "java/lang/Object"
	}
	putU2(&body, p.class(super))
	putU2(&body, uint16(len(c.Interfaces)))
	for _, iface := range c.Interfaces {
		putU2(&body, p.class(iface))
	}

	putU2(&body, uint16(len(c.Fields)))
	for _, f := range c.Fields {
		putU2(&body, f.Flags)
		putU2(&body, p.utf8(f.Name))
		putU2(&body, p.utf8(f.Descriptor))
		if f.Flags&AccSynthetic != 0 {
			putU2(&body, 1)
			putU2(&body, p.utf8("Synthetic"))
			putU4(&body, 0)
		} else {
			putU2(&body, 0)
		}
	}

	putU2(&body, uint16(len(c.Methods)))
	for _, m := range c.Methods {
		putU2(&body, m.Flags)
		putU2(&body, p.utf8(m.Name))
		putU2(&body, p.utf8(m.Descriptor))
		putU2(&body, 1)
		putU2(&body, p.utf8("Code"))
		// max_stack, max_locals, code_length, return, no handlers, no attributes
		code := []byte{0, 1, 0, 1, 0, 0, 0, 1, 0xb1, 0, 0, 0, 0}
		putU4(&body, uint32(len(code)))
		body.Write(code)
	}

	var attrs [][]byte
	if c.SourceFile != "" {
		var a bytes.Buffer
		putU2(&a, p.utf8("SourceFile"))
		putU4(&a, 2)
		putU2(&a, p.utf8(c.SourceFile))
		attrs = append(attrs, a.Bytes())
	}
	if len(c.Visible) > 0 {
		attrs = append(attrs, annotationsAttr(p, "RuntimeVisibleAnnotations", c.Visible))
	}
	if len(c.Invisible) > 0 {
		attrs = append(attrs, annotationsAttr(p, "RuntimeInvisibleAnnotations", c.Invisible))
	}
	putU2(&body, uint16(len(attrs)))
	for _, a := range attrs {
		body.Write(a)
	}

	var out bytes.Buffer
	putU4(&out, 0xCAFEBABE)
	putU2(&out, 0)
	putU2(&out, 52)
	putU2(&out, p.next)
	out.Write(p.buf.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

func annotationsAttr(p *pool, name string, anns []Annotation) []byte {
	var b bytes.Buffer
	putU2(&b, uint16(len(anns)))
	for _, a := range anns {
		putU2(&b, p.utf8(a.Type))
		pairs := 0
		if len(a.Values) > 0 {
			pairs++
		}
		if a.Nested != "" {
			pairs++
		}
		putU2(&b, uint16(pairs))
		if len(a.Values) > 0 {
			putU2(&b, p.utf8("value"))
			b.WriteByte('[')
			putU2(&b, uint16(len(a.Values)))
			for _, v := range a.Values {
				b.WriteByte('s')
				putU2(&b, p.utf8(v))
			}
		}
		if a.Nested != "" {
			putU2(&b, p.utf8("nested"))
			b.WriteByte('@')
			putU2(&b, p.utf8(a.Nested))
			putU2(&b, 0)
		}
	}

	var attr bytes.Buffer
	putU2(&attr, p.utf8(name))
	putU4(&attr, uint32(b.Len()))
	attr.Write(b.Bytes())
	return attr.Bytes()
}

type pool struct {
	buf     bytes.Buffer
	next    uint16
	utf8s   map[string]uint16
	classes map[string]uint16
}

func newPool() *pool {
	return &pool{next: 1, utf8s: map[string]uint16{}, classes: map[string]uint16{}}
}

func (p *pool) utf8(s string) uint16 {
	if idx, ok := p.utf8s[s]; ok {
		return idx
	}
	p.buf.WriteByte(1)
	putU2(&p.buf, uint16(len(s)))
	p.buf.WriteString(s)
	idx := p.next
	p.next++
	p.utf8s[s] = idx
	return idx
}

func (p *pool) class(name string) uint16 {
	if idx, ok := p.classes[name]; ok {
		return idx
	}
	nameIdx := p.utf8(name)
	p.buf.WriteByte(7)
	putU2(&p.buf, nameIdx)
	idx := p.next
	p.next++
	p.classes[name] = idx
	return idx
}

func (p *pool) long(v int64) uint16 {
	p.buf.WriteByte(5)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	p.buf.Write(b[:])
	idx := p.next
	p.next += 2
	return idx
}

func putU2(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func putU4(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}
