package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapFinder struct {
	words   map[string][]string
	queries []string
}

func (m *mapFinder) FindWord(_ context.Context, word string) ([]string, error) {
	m.queries = append(m.queries, word)
	if word == "broken" {
		return nil, errors.New("index unavailable")
	}
	if paths, ok := m.words[word]; ok {
		return paths, nil
	}
	return []string{}, nil
}

func runPrompt(t *testing.T, finder WordFinder, input string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, NewPrompt(finder, strings.NewReader(input), &out).Run(context.Background()))
	return out.String()
}

func TestPromptSearchPrintsPaths(t *testing.T) {
	finder := &mapFinder{words: map[string][]string{"Hydra": {"/w/a.txt", "/w/b.txt"}}}
	out := runPrompt(t, finder, "search\nHydra\nquit\n")

	assert.Contains(t, out, "In menu:")
	assert.Contains(t, out, "Result:\n/w/a.txt\n/w/b.txt\n")
	assert.Equal(t, []string{"Hydra", "quit"}, finder.queries, "quit is a search term in query mode")
}

func TestPromptMenuReturnsAndQuits(t *testing.T) {
	finder := &mapFinder{}
	out := runPrompt(t, finder, "search Hail menu quit never")

	assert.Equal(t, []string{"Hail"}, finder.queries)
	assert.True(t, strings.HasSuffix(out, "Exiting...\n"))
}

func TestPromptUnknownCommand(t *testing.T) {
	out := runPrompt(t, &mapFinder{}, "find\nquit\n")
	assert.Contains(t, out, `Unknown command "find"`)
	assert.Equal(t, 2, strings.Count(out, "Available commands"))
}

func TestPromptEmptyResultAndError(t *testing.T) {
	out := runPrompt(t, &mapFinder{}, "search absent broken")
	assert.Contains(t, out, "Result:\n")
	assert.Contains(t, out, "Search failed: index unavailable")
}

func TestPromptEndOfInput(t *testing.T) {
	out := runPrompt(t, &mapFinder{}, "")
	assert.Contains(t, out, "Available commands")
}

func TestPromptStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- NewPrompt(&mapFinder{}, pr, io.Discard).Run(ctx)
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("prompt ignored cancellation")
	}
}
