package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quokkadb/quokkadb/server/collection"
	"github.com/quokkadb/quokkadb/server/document"
	"github.com/quokkadb/quokkadb/server/storage/engine"
)

func main() {
	fmt.Println("=== QuokkaDB storage engine walkthrough ===")

	dir, err := os.MkdirTemp("", "quokka-demo-*")
	if err != nil {
		fmt.Printf("ERROR: temp dir: %v\n", err)
		return
	}
	defer os.RemoveAll(dir)

	opts := engine.DefaultOptions(filepath.Join(dir, "quokka.db"))
	eng, err := engine.Open(opts)
	if err != nil {
		fmt.Printf("ERROR: open engine: %v\n", err)
		return
	}
	fmt.Printf("opened %s, state=%s\n", opts.Path, eng.State())

	users := collection.NewManager(eng).Collection("users")

	fmt.Println("\n1. Inserting documents...")
	for _, u := range []struct {
		name string
		age  int64
	}{{"ada", 36}, {"grace", 45}, {"edsger", 40}} {
		id, err := users.Insert(document.FromPairs(
			"name", document.String(u.name),
			"age", document.Int64(u.age),
		))
		if err != nil {
			fmt.Printf("ERROR: insert %s: %v\n", u.name, err)
			return
		}
		fmt.Printf("  inserted %s with id %s\n", u.name, id)
	}

	fmt.Println("\n2. Building an index over age...")
	if err := users.CreateIndex("users.age", "age", false); err != nil {
		fmt.Printf("ERROR: create index: %v\n", err)
		return
	}
	err = users.FindByIndex("users.age", document.Int64(45), func(doc *document.Document) (bool, error) {
		fmt.Printf("  age 45 -> %s\n", doc)
		return true, nil
	})
	if err != nil {
		fmt.Printf("ERROR: index lookup: %v\n", err)
		return
	}

	fmt.Println("\n3. Scanning the collection...")
	err = users.Scan(func(doc *document.Document) (bool, error) {
		fmt.Printf("  %s\n", doc)
		return true, nil
	})
	if err != nil {
		fmt.Printf("ERROR: scan: %v\n", err)
		return
	}

	fmt.Println("\n4. Reopening after close (crash recovery path)...")
	if err := eng.Close(); err != nil {
		fmt.Printf("ERROR: close: %v\n", err)
		return
	}
	eng, err = engine.Open(opts)
	if err != nil {
		fmt.Printf("ERROR: reopen: %v\n", err)
		return
	}
	defer eng.Close()

	count := 0
	err = collection.NewManager(eng).Collection("users").Scan(func(*document.Document) (bool, error) {
		count++
		return true, nil
	})
	if err != nil {
		fmt.Printf("ERROR: scan after reopen: %v\n", err)
		return
	}
	fmt.Printf("  %d documents survived the reopen\n", count)

	fmt.Println("\n=== Done ===")
}
