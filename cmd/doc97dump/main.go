// Command doc97dump prints the plain text of a Word 97-2003 document to
// standard output.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/hexworks/doc97"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("doc97dump: ")

	noNewline := flag.Bool("no-newline", false, "do not print a trailing newline after the text")
	meta := flag.Bool("meta", false, "also print document metadata")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: doc97dump [-no-newline] [-meta] <file.doc>")
		os.Exit(1)
	}

	doc, err := doc97.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("failed to open document: %v", err)
	}
	defer doc.Close()

	text, err := doc.Text()
	if err != nil {
		log.Fatalf("failed to extract text: %v", err)
	}
	if *noNewline {
		fmt.Print(text)
	} else {
		fmt.Println(text)
	}

	if *meta {
		m, err := doc.Metadata()
		if err != nil {
			log.Fatalf("failed to read metadata: %v", err)
		}
		fmt.Println("=== Metadata ===")
		fmt.Printf("Title: %s\n", m.Title)
		fmt.Printf("Subject: %s\n", m.Subject)
		fmt.Printf("Author: %s\n", m.Author)
		fmt.Printf("Keywords: %s\n", m.Keywords)
		fmt.Printf("Comments: %s\n", m.Comments)
		fmt.Printf("Last Author: %s\n", m.LastAuthor)
		fmt.Printf("Application: %s\n", m.ApplicationName)
		fmt.Printf("Company: %s\n", m.Company)
		fmt.Printf("Created: %s\n", m.Created)
		fmt.Printf("Last Saved: %s\n", m.LastSaved)
		fmt.Printf("Pages: %d  Words: %d  Chars: %d\n", m.PageCount, m.WordCount, m.CharCount)
	}
}
