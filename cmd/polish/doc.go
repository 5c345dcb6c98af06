// Command polish inspects and edits EPUB, KEPUB and AZW3 books in place.
//
// Every editing command opens the book, applies the change and commits it
// back to the same path unless --output names another one. AZW3 books are
// exploded and rebuilt by an external codec configured under [worker] in
// the configuration file.
package main
