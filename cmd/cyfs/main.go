// Package main implements the cyfs CLI as specified in §6.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyfs-dev/cyfs-core/pkg/chunkstore"
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
	"github.com/cyfs-dev/cyfs-core/pkg/stack"
)

// Exit codes per spec §6.
const (
	exitOK      = 0
	exitUsage   = 1
	exitRuntime = 2
)

// Build-time variables set by ldflags.
var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	var err error
	switch os.Args[1] {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "desc":
		err = descCommand(os.Args[2:])
	case "ndn":
		err = ndnCommand(os.Args[2:])
	case "root_state":
		err = rootStateCommand(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(exitUsage)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if msg := err.Error(); strings.HasPrefix(msg, "usage: ") || strings.HasPrefix(msg, "unknown ") {
			os.Exit(exitUsage)
		}
		os.Exit(exitRuntime)
	}
}

func printVersion() {
	fmt.Printf("cyfs %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`cyfs v%s - CYFS object-delivery core CLI

Usage:
  cyfs <command> [options]

Commands:
  desc create <outfile>         Generate a device descriptor and private key
  desc show <descfile>          Print a descriptor's fields
  desc sign <descfile> <keyfile> Sign a descriptor (desc and body) with a private key
  ndn put <data-root> <file>    Store a file as a chunk, print its chunk id
  ndn get <data-root> <id> <out> Fetch a chunk by id and write it to out
  root_state dump <data-root>   Dump the root-state object-map entries
  version                       Show version information

`, version)
}

func descCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: cyfs desc <create|show|sign> ...")
	}
	switch args[0] {
	case "create":
		return descCreate(args[1])
	case "show":
		return descShow(args[1])
	case "sign":
		if len(args) < 3 {
			return fmt.Errorf("usage: cyfs desc sign <descfile> <keyfile>")
		}
		return descSign(args[1], args[2])
	default:
		return fmt.Errorf("unknown desc subcommand: %s", args[0])
	}
}

func descCreate(outFile string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	desc := objcodec.Desc{ObjType: 1, PublicKey: pub}
	obj, err := objcodec.NewObject(desc, &objcodec.Body{UpdateTime: 0})
	if err != nil {
		return fmt.Errorf("build descriptor: %w", err)
	}

	encoded, err := objcodec.EncodeDesc(desc)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	if err := os.WriteFile(outFile, encoded, 0600); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	keyFile := outFile + ".key"
	if err := os.WriteFile(keyFile, priv, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	fmt.Printf("created descriptor %s (id %s), private key %s\n", outFile, obj.Id.String(), keyFile)
	return nil
}

func descShow(descFile string) error {
	encoded, err := os.ReadFile(descFile)
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}
	desc, err := objcodec.DecodeDesc(encoded)
	if err != nil {
		return fmt.Errorf("decode descriptor: %w", err)
	}
	id, err := objcodec.CalculateObjectId(desc)
	if err != nil {
		return fmt.Errorf("compute id: %w", err)
	}

	out, _ := json.MarshalIndent(map[string]interface{}{
		"id":         id.String(),
		"obj_type":   desc.ObjType,
		"public_key": desc.PublicKey,
	}, "", "  ")
	fmt.Println(string(out))
	return nil
}

func descSign(descFile, keyFile string) error {
	encoded, err := os.ReadFile(descFile)
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}
	desc, err := objcodec.DecodeDesc(encoded)
	if err != nil {
		return fmt.Errorf("decode descriptor: %w", err)
	}
	keyBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return fmt.Errorf("invalid private key size: %d", len(keyBytes))
	}

	id, err := objcodec.CalculateObjectId(desc)
	if err != nil {
		return fmt.Errorf("compute id: %w", err)
	}
	body := &objcodec.Body{UpdateTime: 1}
	if err := objcodec.Sign(desc, body, objcodec.SignBoth, id, ed25519.PrivateKey(keyBytes)); err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	fmt.Printf("signed descriptor %s, %d signature(s) on body\n", descFile, len(body.Signatures))
	return nil
}

func ndnCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: cyfs ndn <put|get> <data-root> ...")
	}
	switch args[0] {
	case "put":
		if len(args) < 3 {
			return fmt.Errorf("usage: cyfs ndn put <data-root> <file>")
		}
		return ndnPut(args[1], args[2])
	case "get":
		if len(args) < 4 {
			return fmt.Errorf("usage: cyfs ndn get <data-root> <id> <out>")
		}
		return ndnGet(args[1], args[2], args[3])
	default:
		return fmt.Errorf("unknown ndn subcommand: %s", args[0])
	}
}

func ndnPut(dataRoot, file string) error {
	store, err := chunkstore.Open(filepath.Join(dataRoot, "data", "chunks"))
	if err != nil {
		return fmt.Errorf("open chunk store: %w", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	id := objcodec.NewChunkId(data)
	if err := store.Put(id, data); err != nil {
		return fmt.Errorf("put chunk: %w", err)
	}
	fmt.Println(id.String())
	return nil
}

func ndnGet(dataRoot, idStr, outFile string) error {
	store, err := chunkstore.Open(filepath.Join(dataRoot, "data", "chunks"))
	if err != nil {
		return fmt.Errorf("open chunk store: %w", err)
	}
	id, err := objcodec.ParseChunkId(idStr)
	if err != nil {
		return fmt.Errorf("invalid chunk id: %w", err)
	}
	rc, err := store.Get(id)
	if err != nil {
		return fmt.Errorf("get chunk: %w", err)
	}
	defer rc.Close()

	out, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

func rootStateCommand(args []string) error {
	if len(args) < 2 || args[0] != "dump" {
		return fmt.Errorf("usage: cyfs root_state dump <data-root>")
	}
	return rootStateDump(args[1])
}

func rootStateDump(dataRoot string) error {
	var self objcodec.ObjectId
	st, err := stack.New(stack.Config{DataRoot: dataRoot, Self: self})
	if err != nil {
		return fmt.Errorf("open stack: %w", err)
	}

	root := st.Global.Head()
	cursor, err := st.Objects.CreateIterator(root)
	if err != nil {
		return fmt.Errorf("iterate root_state: %w", err)
	}

	remaining := cursor.Remaining()
	for remaining > 0 {
		batch := cursor.Next(64)
		if len(batch) == 0 {
			break
		}
		for _, entry := range batch {
			if entry.Key != "" {
				fmt.Printf("%s -> %s\n", entry.Key, entry.Value.String())
			} else {
				fmt.Println(entry.Value.String())
			}
		}
		remaining = cursor.Remaining()
	}
	return nil
}
