// Command kronroe-mcp is an MCP server giving an MCP client durable,
// searchable bi-temporal memory backed by a kronroe.Graph.
//
// Usage:
//
//	kronroe-mcp [flags]
//
// Flags:
//
//	--db        Path to the store (default: ~/.local/share/kronroe/kronroe.db)
//	--ollama    Ollama base URL, used to embed query text for the vector channel
//	--model     Embedding model name
//
// The server communicates over stdio using newline-delimited JSON-RPC (the
// MCP stdio transport). Register it with an MCP client via:
//
//	claude mcp add kronroe -s user -- /path/to/kronroe-mcp [flags]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kronroe/kronroe"
	"github.com/kronroe/kronroe/embedder"
	"github.com/kronroe/kronroe/mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

func main() {
	dbPath := flag.String("db", defaultDBPath(), "path to the kronroe store")
	ollamaURL := flag.String("ollama", "http://localhost:11434", "Ollama base URL")
	model := flag.String("model", "embeddinggemma", "embedding model name")
	flag.Parse()

	// Log to stderr to keep stdout clean for MCP JSON-RPC.
	log.SetOutput(os.Stderr)

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0700); err != nil {
		log.Fatalf("creating db directory: %v", err)
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	graph, err := kronroe.Open(*dbPath, kronroe.Options{Logger: logger})
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer graph.Close()

	emb := embedder.NewOllama(*ollamaURL, *model)
	memorySrv := mcpserver.NewMemoryServer(graph, emb)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "kronroe",
		Version: "0.1.0",
	}, nil)
	memorySrv.Register(server)

	log.Printf("kronroe-mcp starting (db=%s, model=%s)", *dbPath, *model)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// defaultDBPath returns ~/.local/share/kronroe/kronroe.db, following the
// XDG Base Directory Specification for user data.
func defaultDBPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "kronroe", "kronroe.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot determine home directory: %v\n", err)
		return "kronroe.db"
	}
	return filepath.Join(home, ".local", "share", "kronroe", "kronroe.db")
}
