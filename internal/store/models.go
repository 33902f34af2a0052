package store

import "time"

// Scan statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ScanRun records one inspection of an archive
type ScanRun struct {
	ID              string // uuid
	Archive         string // local path or URL as given
	SHA256          string
	Size            int64
	Filter          string // evaluator description, e.g. "pattern(Status\.class$)"
	Marker          string
	StartTime       time.Time
	EndTime         time.Time
	ArchivesVisited int
	ClassesParsed   int
	EnumCount       int
	Status          string // "running", "completed", "failed"
	ErrorMessage    string
}

// EnumRow is one stored enum record of a scan, in report order
type EnumRow struct {
	ScanID        string
	Position      int
	ClassName     string
	Members       []string
	AvroGenerated bool
	Source        string
}
