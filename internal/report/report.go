// Package report collects enum findings into a deduplicated, ordered report.
package report

import (
	"encoding/json"
	"log/slog"

	"github.com/BadgerOps/jarenums/internal/classfile"
)

const rootName = "root"

// Source is where a classfile was physically found: the root archive, or a
// nested archive named by its entry name in the immediate parent.
type Source struct {
	nested string
}

// Root is the top-level archive.
var Root = Source{}

// Nested returns the source for a nested archive entry.
func Nested(entryName string) Source {
	return Source{nested: entryName}
}

// ParseSource is the inverse of Source.String.
func ParseSource(s string) Source {
	if s == rootName || s == "" {
		return Root
	}
	return Nested(s)
}

func (s Source) IsRoot() bool { return s.nested == "" }

func (s Source) String() string {
	if s.IsRoot() {
		return rootName
	}
	return s.nested
}

func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Source) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseSource(str)
	return nil
}

func (s Source) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// Record is one enum in the report.
type Record struct {
	ClassName     string   `json:"class_name" yaml:"class_name"`
	Members       []string `json:"members" yaml:"members"`
	AvroGenerated bool     `json:"avro_generated" yaml:"avro_generated"`
	Source        Source   `json:"source" yaml:"source"`
}

// Report is the finished scan result in discovery order.
type Report struct {
	Enums []Record `json:"enums" yaml:"enums"`
}

// Aggregator accumulates records for one scan. It is not safe for
// concurrent use.
type Aggregator struct {
	logger  *slog.Logger
	seen    map[string]Source
	records []Record
}

func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		logger: logger,
		seen:   make(map[string]Source),
	}
}

// Record appends info unless its class was already recorded, in which case
// the first record is kept and a warning is logged.
func (a *Aggregator) Record(info classfile.EnumInfo, src Source) {
	if first, ok := a.seen[info.ClassName]; ok {
		a.logger.Warn("duplicate enum class, keeping first occurrence",
			"class", info.ClassName,
			"kept_source", first.String(),
			"dropped_source", src.String(),
		)
		return
	}

	members := make([]string, len(info.Members))
	copy(members, info.Members)

	a.seen[info.ClassName] = src
	a.records = append(a.records, Record{
		ClassName:     info.ClassName,
		Members:       members,
		AvroGenerated: info.MarkerPresent,
		Source:        src,
	})
	a.logger.Debug("enum recorded", "class", info.ClassName, "members", len(members), "source", src.String())
}

// Len returns the number of distinct enums recorded so far.
func (a *Aggregator) Len() int {
	return len(a.records)
}

// Report returns a snapshot of the records in discovery order.
func (a *Aggregator) Report() *Report {
	out := make([]Record, len(a.records))
	copy(out, a.records)
	return &Report{Enums: out}
}
