// Package main prints the bcrypt hash of an admin token for admin.token_hash.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cory-johannsen/simverse/internal/gameserver"
)

func main() {
	start := time.Now()

	token := flag.String("token", "", "admin token to hash; read from stdin when empty")
	flag.Parse()

	value := *token
	if value == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			log.Fatalf("reading token from stdin: %v", err)
		}
		value = strings.TrimSpace(line)
	}
	if value == "" {
		flag.Usage()
		os.Exit(1)
	}

	hash, err := gameserver.HashToken(value)
	if err != nil {
		log.Fatalf("hashing token: %v", err)
	}
	fmt.Fprintln(os.Stdout, hash)
	fmt.Fprintf(os.Stderr, "set admin.token_hash (or SIMVERSE_ADMIN_TOKEN_HASH) to the line above [%s]\n", time.Since(start))
}
