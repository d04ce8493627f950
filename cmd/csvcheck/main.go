// Command csvcheck parses a local feed file with the same code the
// server uses and dumps what it would commit, as indented JSON. Useful
// for validating a fresh Euronext or ECB download before uploading it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marketref/internal/csvsource"
)

func main() {
	var name string
	var limit int
	flag.StringVar(&name, "as", "", "parse as this canonical file name (default: the file's base name)")
	flag.IntVar(&limit, "limit", 10, "max stock records to print (0 = all)")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("usage: csvcheck [-as name] [-limit n] <file> (known names: %s)", strings.Join(csvsource.Names(), ", "))
	}
	path := flag.Arg(0)
	if name == "" {
		name = filepath.Base(path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read: %v", err)
	}
	format, ok := csvsource.Lookup(name)
	if !ok {
		log.Fatalf("unrecognized file name %q (known: %s)", name, strings.Join(csvsource.Names(), ", "))
	}

	switch format.Kind {
	case csvsource.KindRates:
		snap, err := csvsource.ParseRates(name, content, time.Now().UTC())
		if err != nil {
			log.Fatalf("parse rates: %v", err)
		}
		log.Printf("%s: %d currencies", name, len(snap.Rates))
		printJSON(snap)
	default:
		records, err := csvsource.ParseStocks(name, content, time.Now().UTC())
		if err != nil {
			log.Fatalf("parse stocks: %v", err)
		}
		log.Printf("%s: %d records", name, len(records))
		if limit > 0 && len(records) > limit {
			records = records[:limit]
		}
		printJSON(records)
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
