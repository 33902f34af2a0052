package jartest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Entry is one archive member. Names ending in "/" are written as
// directories and Data is ignored.
type Entry struct {
	Name  string
	Data  []byte
	Store bool
}

// Dir returns a directory entry.
func Dir(name string) Entry {
	return Entry{Name: strings.TrimSuffix(name, "/") + "/"}
}

// File returns a deflated entry.
func File(name string, data []byte) Entry {
	return Entry{Name: name, Data: data}
}

// ClassEntry returns a deflated entry holding c.
func ClassEntry(name string, c *Class) Entry {
	return Entry{Name: name, Data: c.Bytes()}
}

// Jar writes entries, in the given order, into a zip archive.
func Jar(entries ...Entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		if e.Store || strings.HasSuffix(e.Name, "/") {
			hdr.Method = zip.Store
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(e.Name, "/") {
			continue
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustJar is Jar for tests.
func MustJar(tb testing.TB, entries ...Entry) []byte {
	tb.Helper()
	data, err := Jar(entries...)
	if err != nil {
		tb.Fatalf("building jar: %v", err)
	}
	return data
}

// ClasspathIndex renders a Spring Boot classpath.idx listing names.
func ClasspathIndex(names ...string) []byte {
	var b strings.Builder
	for _, n := range names {
		b.WriteString(`- "`)
		b.WriteString(n)
		b.WriteString("\"\n")
	}
	return []byte(b.String())
}
