package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// WordFinder answers word queries. *search.Service satisfies it.
type WordFinder interface {
	FindWord(ctx context.Context, word string) ([]string, error)
}

type mode int

const (
	modeMenu mode = iota
	modeQuery
)

const (
	cmdSearch = "search"
	cmdMenu   = "menu"
	cmdQuit   = "quit"
)

// Prompt is the line-oriented interactive surface. In the menu it accepts
// search, menu and quit. In query mode every word read is looked up and its
// containing files printed one per line, until menu returns to the menu.
type Prompt struct {
	finder WordFinder
	in     io.Reader
	out    io.Writer
}

func NewPrompt(finder WordFinder, in io.Reader, out io.Writer) *Prompt {
	return &Prompt{finder: finder, in: in, out: out}
}

// Run reads whitespace-separated words from the input until quit, end of
// input or ctx is cancelled.
func (p *Prompt) Run(ctx context.Context) error {
	words := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(words)
		sc := bufio.NewScanner(p.in)
		sc.Split(bufio.ScanWords)
		for sc.Scan() {
			select {
			case words <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	current := modeMenu
	fmt.Fprintln(p.out, "In menu:")
	p.printMenu()
	for {
		var word string
		select {
		case <-ctx.Done():
			return nil
		case w, ok := <-words:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			word = w
		}

		switch current {
		case modeMenu:
			switch word {
			case cmdSearch:
				current = modeQuery
				fmt.Fprintln(p.out, "Enter words to search, or menu to go back:")
			case cmdMenu:
				p.printMenu()
			case cmdQuit:
				fmt.Fprintln(p.out, "Exiting...")
				return nil
			default:
				fmt.Fprintf(p.out, "Unknown command %q\n", word)
				p.printMenu()
			}
		case modeQuery:
			if word == cmdMenu {
				current = modeMenu
				p.printMenu()
				continue
			}
			p.query(ctx, word)
		}
	}
}

func (p *Prompt) printMenu() {
	fmt.Fprintf(p.out, "Available commands: %s, %s, %s (menu goes back from search)\n", cmdSearch, cmdMenu, cmdQuit)
}

func (p *Prompt) query(ctx context.Context, word string) {
	paths, err := p.finder.FindWord(ctx, word)
	if err != nil {
		fmt.Fprintf(p.out, "Search failed: %v\n", err)
		return
	}
	fmt.Fprintln(p.out, "Result:")
	for _, path := range paths {
		fmt.Fprintln(p.out, path)
	}
}
