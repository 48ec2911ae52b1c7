// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/morganforge/hackchat/internal/model"
)

func testChat() *model.Chat {
	chat := model.NewChat("Trip Planning")
	base := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	user := model.NewMessage(chat.ID, model.RoleUser, "Where should I go in Lisbon?")
	user.Timestamp = base
	assistant := model.NewMessage(chat.ID, model.RoleAssistant, "Start with Alfama.")
	assistant.Timestamp = base.Add(5 * time.Second)
	chat.Messages = append(chat.Messages, user, assistant)
	return chat
}

func TestMarkdownExporter(t *testing.T) {
	out, err := NewMarkdownExporter(nil).Export(testChat())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	md := string(out)

	for _, want := range []string{
		"title: Trip Planning",
		"# Trip Planning",
		"**You**",
		"**Assistant**",
		"Where should I go in Lisbon?",
		"Start with Alfama.",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestMarkdownExporter_EmptyChat(t *testing.T) {
	chat := model.NewChat("Empty")
	if _, err := NewMarkdownExporter(nil).Export(chat); err == nil {
		t.Error("Export(empty chat) error = nil, want error")
	}
}

func TestMarkdownExporter_YAMLEscaping(t *testing.T) {
	chat := testChat()
	chat.Name = "Notes: a \"tricky\"\ntitle"

	out, err := NewMarkdownExporter(nil).Export(chat)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	// The raw newline must not survive into the frontmatter value.
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "title:") {
			if !strings.Contains(line, `\n`) {
				t.Errorf("frontmatter title not escaped: %q", line)
			}
			return
		}
	}
	t.Fatal("no title line in frontmatter")
}

func TestJSONExporter(t *testing.T) {
	out, err := NewJSONExporter(nil).Export(testChat())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var doc struct {
		Title    string `json:"title"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("exported JSON does not parse: %v", err)
	}
	if doc.Title != "Trip Planning" {
		t.Errorf("title = %q", doc.Title)
	}
	if len(doc.Messages) != 2 || doc.Messages[0].Role != "user" || doc.Messages[1].Role != "assistant" {
		t.Errorf("messages = %+v", doc.Messages)
	}
	if strings.Contains(string(out), "is_responding") {
		t.Error("internal persistence fields leaked into export")
	}
}

func TestExportToFile(t *testing.T) {
	dir := t.TempDir()
	path, err := ExportToFile(testChat(), NewMarkdownExporter(nil), &Options{
		OutputDir:         dir,
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	})
	if err != nil {
		t.Fatalf("ExportToFile() error = %v", err)
	}
	if !strings.HasSuffix(path, ".md") {
		t.Errorf("path = %q, want .md suffix", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading exported file: %v", err)
	}
	if !strings.Contains(string(data), "Alfama") {
		t.Error("exported file missing transcript content")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"spaces", "Trip Planning", "Trip_Planning"},
		{"slashes", "a/b\\c", "a-b-c"},
		{"empty", "", "chat"},
		{"control chars", "a\x01b", "a-b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeFilename(tt.in); got != tt.want {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
