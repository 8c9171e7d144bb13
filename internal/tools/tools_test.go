package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/callsheet/config"
	"github.com/mohammad-safakhou/callsheet/internal/llm"
)

func TestResultWireShape(t *testing.T) {
	b, err := json.Marshal(Ok(map[string]interface{}{"url": "/renders/final.mp4"}))
	if err != nil {
		t.Fatal(err)
	}
	var flat map[string]interface{}
	if err := json.Unmarshal(b, &flat); err != nil {
		t.Fatal(err)
	}
	if flat["success"] != true || flat["url"] != "/renders/final.mp4" {
		t.Fatalf("flattened shape = %v", flat)
	}
	if _, nested := flat["data"]; nested {
		t.Fatal("data must flatten into the top level")
	}

	var back Result
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Success || back.Data["url"] != "/renders/final.mp4" {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestFailCarriesError(t *testing.T) {
	b, _ := json.Marshal(Fail("yt-dlp exited with %d", 1))
	var back Result
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Success || back.Error != "yt-dlp exited with 1" {
		t.Fatalf("failure = %+v", back)
	}
}

func TestExecutorUnknownToolIsStructuredFailure(t *testing.T) {
	reg := NewRegistry()
	exec := reg.Executor(context.Background())
	payload, err := exec(llm.ToolCall{ID: "c1", Name: "teleport"})
	if err != nil {
		t.Fatalf("unknown tool must not be a Go error: %v", err)
	}
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		t.Fatal(err)
	}
	if res.Success || !strings.Contains(res.Error, "teleport") {
		t.Fatalf("result = %+v", res)
	}
}

func TestRegistrySchemasKeepOrder(t *testing.T) {
	cfg := config.ToolsConfig{WorkDir: t.TempDir(), RendersDir: t.TempDir()}
	reg := NewRegistry(
		NewClipTool(cfg),
		NewVoiceoverTool(cfg, "key"),
		NewImageTool(cfg),
		NewRenderTool(cfg),
	)
	schemas := reg.Schemas()
	want := []string{"search_clip", "voiceover", "download_image", "render"}
	if len(schemas) != len(want) {
		t.Fatalf("schemas = %d", len(schemas))
	}
	for i, name := range want {
		if schemas[i].Name != name {
			t.Fatalf("schema %d = %s, want %s", i, schemas[i].Name, name)
		}
		if len(schemas[i].Parameters) == 0 {
			t.Fatalf("schema %s has no parameters", name)
		}
	}
}

func TestAddSeconds(t *testing.T) {
	cases := []struct {
		in   string
		add  float64
		want string
	}{
		{"00:00:30", 10, "00:00:40"},
		{"00:00:55", 10, "00:01:05"},
		{"01:59:59", 2, "02:00:01"},
	}
	for _, tc := range cases {
		got, err := addSeconds(tc.in, tc.add)
		if err != nil {
			t.Fatalf("addSeconds(%s): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("addSeconds(%s, %v) = %s, want %s", tc.in, tc.add, got, tc.want)
		}
	}
	if _, err := addSeconds("not-a-time", 5); err == nil {
		t.Fatal("malformed timestamp must error")
	}
}
