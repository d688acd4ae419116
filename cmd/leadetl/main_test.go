package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"leadetl/internal/config"
	"leadetl/internal/queue"
	"leadetl/internal/storage"
	"leadetl/internal/storage/memory"
)

const sheet = "First Name,Email,Phone,State,Lead Cost\n" +
	"Ann,ann@example.com,555-123-4567,Texas,\n" +
	"Bob,bob@example.com,555-765-4321,CA,120\n"

type fakePublisher struct {
	tasks  []queue.Task
	closed bool
}

func (f *fakePublisher) Publish(_ context.Context, t queue.Task) (queue.Task, error) {
	t.ID = "task-" + t.FileName
	f.tasks = append(f.tasks, t)
	return t, nil
}

func (f *fakePublisher) Close() error { f.closed = true; return nil }

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testDeps(store *memory.Store, pub *fakePublisher, out *bytes.Buffer) Deps {
	return Deps{
		OpenStore: func(context.Context, config.Pipeline) (storage.Store, error) { return store, nil },
		Dial:      func(queue.Config) (publisher, error) { return pub, nil },
		Stdout:    out,
	}
}

func noEnv(string) string { return "" }

type report struct {
	File  string `json:"file"`
	Stats struct {
		Total      int    `json:"total"`
		Inserted   int    `json:"inserted"`
		DNCMatches int    `json:"dncMatches"`
		Status     string `json:"status"`
	} `json:"stats"`
}

func TestRun_Files(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := write(t, dir, "acme.csv", sheet)
	store := memory.New()
	var out bytes.Buffer

	err := run(context.Background(), []string{"-supplier", "acme", "-cost", "10", "-tags", "spring,promo", path}, noEnv, testDeps(store, nil, &out))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var rep report
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode report %q: %v", out.String(), err)
	}
	if rep.File != path || rep.Stats.Total != 2 || rep.Stats.Inserted != 2 || rep.Stats.Status != storage.StatusCompleted {
		t.Fatalf("report = %+v", rep)
	}
	leads := store.Leads()
	if len(leads) != 2 {
		t.Fatalf("stored %d leads", len(leads))
	}
	for _, l := range leads {
		tags := l.TagList()
		if !strings.Contains(strings.Join(tags, ","), "spring") {
			t.Fatalf("tags = %v", tags)
		}
	}
}

func TestRun_DNCList(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := write(t, dir, "pipeline.json", `{"job":"cli","dnc":{"enabled":true}}`)
	list := write(t, dir, "dnc.txt", "bob@example.com\n")
	path := write(t, dir, "acme.csv", sheet)
	store := memory.New()
	var out bytes.Buffer

	args := []string{"-config", cfgPath, "-supplier", "acme", "-dnc-list", list, path}
	if err := run(context.Background(), args, noEnv, testDeps(store, nil, &out)); err != nil {
		t.Fatalf("run: %v", err)
	}
	var rep report
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Stats.DNCMatches != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRun_Enqueue(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := write(t, dir, "acme.csv", sheet)
	pub := &fakePublisher{}
	var out bytes.Buffer

	args := []string{"-enqueue", "-amqp-url", "amqp://localhost:5672/", "-supplier", "acme", "-cost", "7", path}
	if err := run(context.Background(), args, noEnv, testDeps(memory.New(), pub, &out)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(pub.tasks) != 1 || !pub.closed {
		t.Fatalf("tasks=%v closed=%v", pub.tasks, pub.closed)
	}
	task := pub.tasks[0]
	if !filepath.IsAbs(task.FilePath) || task.FileName != "acme.csv" || task.SupplierID != "acme" || task.LeadCost != 7 {
		t.Fatalf("task = %+v", task)
	}

	if err := run(context.Background(), []string{"-enqueue", path}, noEnv, testDeps(memory.New(), pub, &out)); err == nil {
		t.Fatalf("expected error for -enqueue without a queue url")
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	empty := write(t, dir, "empty.csv", "")
	good := write(t, dir, "good.csv", sheet)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no files", args: []string{"-supplier", "acme"}, want: "no input files"},
		{name: "bad mapping flag", args: []string{"-mapping", "{", good}, want: "-mapping"},
		{name: "one bad file", args: []string{"-supplier", "acme", empty, good}, want: "1 of 2 files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			err := run(context.Background(), tt.args, noEnv, testDeps(memory.New(), nil, &out))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}
