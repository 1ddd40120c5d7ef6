// Generates a patterned test file for transfer runs. Each line carries
// its own offset, so a corrupted or misordered delivery shows exactly
// where the stream went wrong.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
)

func main() {
	out := flag.String("out", "testdata.txt", "output file path")
	size := flag.Int("size", 1<<20, "file size in bytes")
	flag.Parse()

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalln("create:", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	written := 0
	for written < *size {
		line := fmt.Sprintf("%010d The quick brown fox jumps over the lazy dog 0123456789\n", written)
		if remaining := *size - written; remaining < len(line) {
			line = line[:remaining]
		}
		n, err := w.WriteString(line)
		if err != nil {
			log.Fatalln("write:", err)
		}
		written += n
	}
	if err := w.Flush(); err != nil {
		log.Fatalln("flush:", err)
	}
	log.Printf("wrote %d bytes to %s", written, *out)
}
