package polish_test

import (
	"fmt"
	"log"

	"github.com/simp-lee/polish"
)

func ExampleOpen() {
	c, err := polish.Open("testdata/book.epub", polish.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	md, err := c.Metadata()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(c.BookTypeForDisplay(), md.Titles)
}

func ExampleContainer_RenameFiles() {
	c, err := polish.Open("testdata/book.epub", polish.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	// Every document linking to the stylesheet is rewritten, as are the
	// manifest and the table of contents.
	err = c.RenameFiles(map[string]string{
		"OEBPS/styles/main.css": "OEBPS/css/book.css",
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := c.Commit("testdata/renamed.epub", false); err != nil {
		log.Fatal(err)
	}
}

func ExampleContainer_IterLinks() {
	c, err := polish.Open("testdata/book.epub", polish.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	for _, name := range c.SpineNames() {
		links, err := c.IterLinks(name, true)
		if err != nil {
			log.Fatal(err)
		}
		for l := range links {
			fmt.Printf("%s:%d:%d %s\n", name, l.Line, l.Column, l.URL)
		}
	}
}

func ExampleContainer_CoverName() {
	c, err := polish.Open("testdata/book.epub", polish.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	name, err := c.CoverName()
	if err != nil {
		fmt.Println("no cover found")
		return
	}
	fmt.Println("cover:", name)
}
