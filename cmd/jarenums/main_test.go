package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BadgerOps/jarenums/internal/download"
	"github.com/BadgerOps/jarenums/internal/jartest"
	"github.com/BadgerOps/jarenums/internal/store"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

type testEnv struct {
	dir    string
	config string
	dbPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:    dir,
		config: filepath.Join(dir, "jarenums.yaml"),
		dbPath: filepath.Join(dir, "data", "jarenums.db"),
	}
	content := fmt.Sprintf("store:\n  db_path: %q\nfetch:\n  cache_dir: %q\n  retry_attempts: 1\n",
		env.dbPath, filepath.Join(dir, "cache"))
	if err := os.WriteFile(env.config, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return env
}

// run executes the root command with the test config and returns stdout
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var runErr error
	out := captureStdout(t, func() {
		cmd := NewRootCmd()
		cmd.SetArgs(append([]string{"--config", e.config, "--log-level", "error"}, args...))
		runErr = cmd.Execute()
		closeStore()
	})
	return out, runErr
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("jarenums %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func (e *testEnv) writeJar(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing jar: %v", err)
	}
	return path
}

func (e *testEnv) openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(e.dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleJar(t *testing.T) []byte {
	t.Helper()
	shape := jartest.Enum("com/bar/Shape", "CIRCLE", "SQUARE")
	shape.Visible = []jartest.Annotation{{Type: jartest.AvroGenerated}}
	lib := jartest.MustJar(t, jartest.ClassEntry("com/bar/Shape.class", shape))
	return jartest.MustJar(t,
		jartest.ClassEntry("com/foo/Color.class", jartest.Enum("com/foo/Color", "RED", "GREEN", "BLUE")),
		jartest.ClassEntry("com/foo/Status.class", jartest.Enum("com/foo/Status", "OK", "FAILED")),
		jartest.ClassEntry("com/foo/App.class", jartest.Plain("com/foo/App")),
		jartest.File("lib/shapes.jar", lib),
	)
}

type jsonReport struct {
	Enums []struct {
		ClassName     string   `json:"class_name" yaml:"class_name"`
		Members       []string `json:"members" yaml:"members"`
		AvroGenerated bool     `json:"avro_generated" yaml:"avro_generated"`
		Source        string   `json:"source" yaml:"source"`
	} `json:"enums" yaml:"enums"`
}

func decodeReport(t *testing.T, out string) jsonReport {
	t.Helper()
	var r jsonReport
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("decoding report: %v\n%s", err, out)
	}
	return r
}

func TestScanWritesJSONReport(t *testing.T) {
	env := newTestEnv(t)
	jar := env.writeJar(t, "app.jar", sampleJar(t))

	r := decodeReport(t, env.mustRun(t, "scan", jar))

	if len(r.Enums) != 3 {
		t.Fatalf("got %d enums, want 3: %+v", len(r.Enums), r.Enums)
	}
	color, shape := r.Enums[0], r.Enums[2]
	if color.ClassName != "com/foo/Color" || color.Source != "root" || color.AvroGenerated {
		t.Errorf("Color record = %+v", color)
	}
	if strings.Join(color.Members, ",") != "RED,GREEN,BLUE" {
		t.Errorf("Color members = %v", color.Members)
	}
	if shape.ClassName != "com/bar/Shape" || shape.Source != "lib/shapes.jar" || !shape.AvroGenerated {
		t.Errorf("Shape record = %+v", shape)
	}
}

func TestScanPatternFlag(t *testing.T) {
	env := newTestEnv(t)
	jar := env.writeJar(t, "app.jar", sampleJar(t))

	r := decodeReport(t, env.mustRun(t, "scan", jar, "--pattern", `Status\.class$`))
	if len(r.Enums) != 1 || r.Enums[0].ClassName != "com/foo/Status" {
		t.Errorf("Enums = %+v", r.Enums)
	}
}

func TestScanScriptFlag(t *testing.T) {
	env := newTestEnv(t)
	jar := env.writeJar(t, "app.jar", sampleJar(t))

	r := decodeReport(t, env.mustRun(t, "scan", jar, "--script", `name startsWith "com/bar/"`))
	if len(r.Enums) != 1 || r.Enums[0].ClassName != "com/bar/Shape" {
		t.Errorf("Enums = %+v", r.Enums)
	}
}

func TestScanConflictingFilters(t *testing.T) {
	env := newTestEnv(t)
	jar := env.writeJar(t, "app.jar", sampleJar(t))

	_, err := env.run(t, "scan", jar, "--pattern", "x", "--script", "true")
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("expected mutually exclusive error, got %v", err)
	}
}

func TestScanOutputFile(t *testing.T) {
	env := newTestEnv(t)
	jar := env.writeJar(t, "app.jar", sampleJar(t))
	outPath := filepath.Join(env.dir, "out", "enums.yaml.zst")

	if out := env.mustRun(t, "scan", jar, "--output", outPath); out != "" {
		t.Errorf("stdout = %q, want nothing when --output is set", out)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("opening output: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	var r jsonReport
	if err := yaml.NewDecoder(dec).Decode(&r); err != nil {
		t.Fatalf("decoding yaml: %v", err)
	}
	if len(r.Enums) != 3 {
		t.Errorf("got %d enums, want 3", len(r.Enums))
	}
}

func TestScanFormatFlagOverridesExtension(t *testing.T) {
	env := newTestEnv(t)
	jar := env.writeJar(t, "app.jar", sampleJar(t))
	outPath := filepath.Join(env.dir, "enums.json")

	env.mustRun(t, "scan", jar, "--output", outPath, "--format", "yaml")
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.HasPrefix(string(data), "enums:") {
		t.Errorf("output is not yaml:\n%s", data)
	}
}

func TestScanSaveHistoryShow(t *testing.T) {
	env := newTestEnv(t)
	jar := env.writeJar(t, "app.jar", sampleJar(t))

	scanned := env.mustRun(t, "scan", jar, "--save")

	st := env.openStore(t)
	runs, err := st.ListScans(0)
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("recorded %d scans, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != store.StatusCompleted || run.EnumCount != 3 || run.ClassesParsed != 4 || run.ArchivesVisited != 2 {
		t.Errorf("run = %+v", run)
	}
	want, _ := download.HashFile(jar)
	if run.SHA256 != want || run.Filter != "accept-all" {
		t.Errorf("run SHA256 = %s filter = %s", run.SHA256, run.Filter)
	}
	_ = st.Close()

	history := env.mustRun(t, "history")
	if !strings.Contains(history, run.ID[:8]) || !strings.Contains(history, "completed") || !strings.Contains(history, jar) {
		t.Errorf("history output missing run:\n%s", history)
	}

	shown := env.mustRun(t, "show", run.ID[:8])
	if shown != scanned {
		t.Errorf("show output differs from scan output:\n%s\nvs\n%s", shown, scanned)
	}
}

func TestScanReuse(t *testing.T) {
	env := newTestEnv(t)
	jar := env.writeJar(t, "app.jar", sampleJar(t))

	first := env.mustRun(t, "scan", jar, "--save")
	second := env.mustRun(t, "scan", jar, "--reuse")
	if first != second {
		t.Errorf("reused report differs:\n%s\nvs\n%s", second, first)
	}

	// A different filter is a different scan.
	filtered := decodeReport(t, env.mustRun(t, "scan", jar, "--reuse", "--save", "--pattern", "Color"))
	if len(filtered.Enums) != 1 {
		t.Errorf("filtered reuse returned %d enums", len(filtered.Enums))
	}

	runs, err := env.openStore(t).ListScans(0)
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("recorded %d scans, want 2", len(runs))
	}
}

func TestScanFailureRecorded(t *testing.T) {
	env := newTestEnv(t)
	jar := env.writeJar(t, "broken.jar", jartest.MustJar(t,
		jartest.File("com/foo/Broken.class", []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00}),
	))

	out, err := env.run(t, "scan", jar, "--save")
	if err == nil {
		t.Fatal("scan of broken jar succeeded")
	}
	if out != "" {
		t.Errorf("partial report written: %s", out)
	}
	if !strings.Contains(err.Error(), "com/foo/Broken.class") {
		t.Errorf("error does not name the entry: %v", err)
	}

	history := env.mustRun(t, "history")
	if !strings.Contains(history, "failed") || !strings.Contains(history, "error:") {
		t.Errorf("history does not show the failure:\n%s", history)
	}

	runs, _ := env.openStore(t).ListScans(0)
	if len(runs) != 1 {
		t.Fatalf("recorded %d scans", len(runs))
	}
	if _, err := env.run(t, "show", runs[0].ID); err == nil {
		t.Error("show of a failed run succeeded")
	}
}

func TestScanSHA256Mismatch(t *testing.T) {
	env := newTestEnv(t)
	jar := env.writeJar(t, "app.jar", sampleJar(t))

	_, err := env.run(t, "scan", jar, "--sha256", strings.Repeat("0", 64))
	var sumErr *download.ChecksumError
	if !errors.As(err, &sumErr) {
		t.Fatalf("error = %v, want ChecksumError", err)
	}

	want, _ := download.HashFile(jar)
	env.mustRun(t, "scan", jar, "--sha256", strings.ToUpper(want))
}

func TestScanRemoteArchive(t *testing.T) {
	data := sampleJar(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer server.Close()

	env := newTestEnv(t)
	r := decodeReport(t, env.mustRun(t, "scan", server.URL+"/repo/app.jar"))
	if len(r.Enums) != 3 {
		t.Errorf("got %d enums, want 3", len(r.Enums))
	}
}

func TestScanMissingArchive(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.run(t, "scan", filepath.Join(env.dir, "nope.jar")); err == nil {
		t.Error("scan of missing file succeeded")
	}
}

func TestFetchCmd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jar" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	env := newTestEnv(t)
	out := env.mustRun(t, "fetch", server.URL+"/a.jar", server.URL+"/b.jar")
	if strings.Count(out, "OK") != 2 {
		t.Errorf("fetch output:\n%s", out)
	}

	out, err := env.run(t, "fetch", server.URL+"/a.jar", server.URL+"/missing.jar")
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("expected one failure, got %v", err)
	}
	if !strings.Contains(out, "FAIL") {
		t.Errorf("fetch output:\n%s", out)
	}
}

func TestHistoryEmpty(t *testing.T) {
	env := newTestEnv(t)
	if out := env.mustRun(t, "history"); !strings.Contains(out, "No scans recorded.") {
		t.Errorf("history output = %q", out)
	}
}

func TestHistoryDelete(t *testing.T) {
	env := newTestEnv(t)
	jar := env.writeJar(t, "app.jar", sampleJar(t))
	env.mustRun(t, "scan", jar, "--save")

	st := env.openStore(t)
	runs, _ := st.ListScans(0)
	_ = st.Close()

	out := env.mustRun(t, "history", "delete", runs[0].ID[:8])
	if !strings.Contains(out, runs[0].ID) {
		t.Errorf("delete output = %q", out)
	}
	if _, err := env.run(t, "show", runs[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("show after delete error = %v, want ErrNotFound", err)
	}
}

func TestConfigShow(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustRun(t, "config", "show")
	for _, want := range []string{"classes_root: BOOT-INF/classes/", "retry_attempts: 1", env.dbPath} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}

	if out := env.mustRun(t, "config", "path"); strings.TrimSpace(out) != env.config {
		t.Errorf("config path = %q, want %q", out, env.config)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(env.config, []byte("output:\n  format: xml\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := env.run(t, "config", "show"); err == nil || !strings.Contains(err.Error(), "output.format") {
		t.Errorf("expected invalid config error, got %v", err)
	}
}

func TestInvalidLogFlags(t *testing.T) {
	env := newTestEnv(t)
	for _, args := range [][]string{
		{"--log-level", "loud", "history"},
		{"--log-format", "xml", "history"},
	} {
		if _, err := env.run(t, args...); err == nil {
			t.Errorf("jarenums %s succeeded, want flag error", strings.Join(args, " "))
		}
	}
}

func TestServeBadListenAddress(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "serve", "--quiet", "--listen", "127.0.0.1:notaport")
	if err == nil || !strings.Contains(err.Error(), "server error") {
		t.Fatalf("serve error = %v, want listen failure", err)
	}
}

func TestVersionCmd(t *testing.T) {
	out := captureStdout(t, func() {
		cmd := NewRootCmd()
		cmd.SetArgs([]string{"version"})
		if err := cmd.Execute(); err != nil {
			t.Errorf("version: %v", err)
		}
	})
	if !strings.HasPrefix(out, "jarenums ") {
		t.Errorf("version output = %q", out)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.Bytes()
	}()

	fn()

	_ = w.Close()
	data := <-done
	_ = r.Close()
	return string(data)
}
