package main

import (
	"fmt"
	"time"

	"github.com/quokkadb/quokkadb/server/document"
)

const iterations = 200000

func main() {
	fmt.Println("=== Document codec throughput ===")

	doc := document.FromPairs(
		"name", document.String("ada lovelace"),
		"age", document.Int64(36),
		"score", document.Float64(99.5),
		"tags", document.Array(document.String("math"), document.String("engines")),
		"address", document.Embedded(document.FromPairs(
			"street", document.String("Main St 7"),
			"zip", document.Int64(1234),
		)),
	)
	encoded := document.Encode(doc)
	fmt.Printf("sample document encodes to %d bytes\n\n", len(encoded))

	start := time.Now()
	for i := 0; i < iterations; i++ {
		encoded = document.Encode(doc)
	}
	report("encode", start, len(encoded))

	start = time.Now()
	for i := 0; i < iterations; i++ {
		if _, err := document.Decode(encoded); err != nil {
			fmt.Printf("ERROR: decode: %v\n", err)
			return
		}
	}
	report("decode", start, len(encoded))

	start = time.Now()
	for i := 0; i < iterations; i++ {
		document.NewObjectId()
	}
	elapsed := time.Since(start)
	fmt.Printf("objectid: %d ids in %v (%.0f ids/s)\n",
		iterations, elapsed, float64(iterations)/elapsed.Seconds())

	start = time.Now()
	for i := 0; i < iterations; i++ {
		document.EncodeKey(document.Int64(int64(i)))
	}
	elapsed = time.Since(start)
	fmt.Printf("key encode: %d keys in %v (%.0f keys/s)\n",
		iterations, elapsed, float64(iterations)/elapsed.Seconds())
}

func report(op string, start time.Time, size int) {
	elapsed := time.Since(start)
	perSec := float64(iterations) / elapsed.Seconds()
	mbPerSec := perSec * float64(size) / (1 << 20)
	fmt.Printf("%s: %d ops in %v (%.0f ops/s, %.1f MiB/s)\n", op, iterations, elapsed, perSec, mbPerSec)
}
